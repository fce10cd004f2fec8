// Package agentmemory gives AI agents durable, queryable memory: vector facts
// stored at multiple time resolutions and a relational knowledge graph of
// subject-predicate-object facts, both distilled from conversations.
package agentmemory

import (
	"context"
	"log/slog"
	"time"

	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/credit"
	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/graph"
	"github.com/habiliai/agentmemory/internal/mylog"
	"github.com/habiliai/agentmemory/llm"
	"github.com/habiliai/agentmemory/memory"
	"github.com/habiliai/agentmemory/storage"
	"gorm.io/gorm"
)

type (
	AgentMemory struct {
		conf   *config.Config
		logger *slog.Logger

		connCache   *memory.ConnCache
		vectorStore *memory.VectorStore
		search      *memory.SearchService
		retention   *memory.RetentionPolicy
		consumer    *memory.WriteConsumer
		queueClient *memory.WriteQueueClient

		snapshots   storage.SnapshotStore
		extraction  *graph.ExtractionService
		applier     *graph.ApplyService
		graphSearch *graph.SearchService

		publisher memory.TopicPublisher
		completer llm.Completer
		creds     llm.CredentialResolver
	}

	Option func(*AgentMemory)
)

func WithConfig(conf *config.Config) Option {
	return func(m *AgentMemory) { m.conf = conf }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *AgentMemory) { m.logger = logger }
}

func WithSnapshotStore(snapshots storage.SnapshotStore) Option {
	return func(m *AgentMemory) { m.snapshots = snapshots }
}

func WithPublisher(publisher memory.TopicPublisher) Option {
	return func(m *AgentMemory) { m.publisher = publisher }
}

func WithCompleter(completer llm.Completer) Option {
	return func(m *AgentMemory) { m.completer = completer }
}

func WithCredentialResolver(creds llm.CredentialResolver) Option {
	return func(m *AgentMemory) { m.creds = creds }
}

func NewAgentMemory(ctx context.Context, optionFuncs ...Option) (*AgentMemory, error) {
	m := &AgentMemory{}
	for _, f := range optionFuncs {
		f(m)
	}

	if m.conf == nil {
		m.conf = config.New()
	}
	if m.logger == nil {
		m.logger = mylog.NewLogger(m.conf.Log.LogLevel, m.conf.Log.LogHandler)
	}

	if m.snapshots == nil {
		if m.conf.Storage.LocalDir != "" {
			m.snapshots = storage.NewLocalSnapshotStore(m.conf.Storage.LocalDir)
		} else {
			snapshots, err := storage.NewSnapshotStore(ctx, m.conf.Storage)
			if err != nil {
				return nil, err
			}
			m.snapshots = snapshots
		}
	}

	if m.publisher == nil && m.conf.Queue.ProjectID != "" {
		publisher, err := memory.NewPubsubPublisher(ctx, m.conf.Queue)
		if err != nil {
			return nil, err
		}
		m.publisher = publisher
	}

	if m.completer == nil {
		completer, err := llm.ResolveCompleter(m.conf.Model)
		if err != nil {
			m.logger.Warn("knowledge extraction disabled", slog.Any("error", err))
		} else {
			m.completer = completer
		}
	}

	m.connCache = memory.NewConnCache()
	m.vectorStore = memory.NewVectorStore(m.conf.Memory, m.conf.Model, m.connCache, m.logger)
	m.search = memory.NewSearchService(m.vectorStore, m.creds, m.conf.Model, m.conf.Memory, m.logger)
	m.retention = memory.NewRetentionPolicy()
	m.consumer = memory.NewWriteConsumer(m.vectorStore, m.logger)
	if m.publisher != nil {
		m.queueClient = memory.NewWriteQueueClient(m.publisher, m.logger)
	}

	m.extraction = graph.NewExtractionService(m.completer, m.conf.Model, m.conf.Memory, m.logger)
	m.applier = graph.NewApplyService(m.snapshots, m.logger)
	m.graphSearch = graph.NewSearchService(m.snapshots, m.logger)

	return m, nil
}

// SearchMemory finds memory matching the query text inside a time window.
func (m *AgentMemory) SearchMemory(ctx context.Context, params memory.SearchMemoryParams) ([]memory.MemoryHit, error) {
	return m.search.SearchMemory(ctx, params)
}

// GetMemoryRecord is a point lookup; (nil, nil) when absent.
func (m *AgentMemory) GetMemoryRecord(ctx context.Context, agentID string, grain memory.TemporalGrain, recordID string) (*memory.MemoryHit, error) {
	return m.search.GetMemoryRecord(ctx, agentID, grain, recordID)
}

// SendWriteOperation publishes a vector write intent to the ordered topic.
func (m *AgentMemory) SendWriteOperation(ctx context.Context, msg *memory.WriteOperationMessage) error {
	if m.queueClient == nil {
		return errors.Wrapf(errors.ErrInvalidConfig, "no write topic configured")
	}
	return m.queueClient.SendWriteOperation(ctx, msg)
}

// ApplyWriteOperation applies a write operation directly. Used by the queue
// consumer and by local deployments without a broker.
func (m *AgentMemory) ApplyWriteOperation(ctx context.Context, msg *memory.WriteOperationMessage) error {
	return m.consumer.ApplyWriteOperation(ctx, msg)
}

// ExtractConversationMemory distills conversation text into graph operations
// plus a summary.
func (m *AgentMemory) ExtractConversationMemory(ctx context.Context, params graph.ExtractParams) (*graph.ExtractionResult, error) {
	return m.extraction.ExtractConversationMemory(ctx, params)
}

// ApplyMemoryOperations mutates the knowledge graph from extracted operations.
func (m *AgentMemory) ApplyMemoryOperations(ctx context.Context, params graph.ApplyParams) error {
	return m.applier.ApplyMemoryOperations(ctx, params)
}

// SearchGraphByEntities looks up facts by subject or object.
func (m *AgentMemory) SearchGraphByEntities(ctx context.Context, workspaceID, agentID string, entities []string) ([]graph.EntitySnippet, error) {
	return m.graphSearch.SearchGraphByEntities(ctx, workspaceID, agentID, entities)
}

// RetentionPeriods returns a plan's retention values per grain.
func (m *AgentMemory) RetentionPeriods(plan memory.Plan) (map[memory.TemporalGrain]int, error) {
	return m.retention.RetentionPeriods(plan)
}

// RetentionCutoff computes the oldest timestamp a plan retains for a grain.
func (m *AgentMemory) RetentionCutoff(grain memory.TemporalGrain, plan memory.Plan) (time.Time, error) {
	return m.retention.RetentionCutoff(grain, plan, time.Now())
}

// NewLedger opens a credit ledger on the given gorm database. Reservations
// from it gate the paid model calls made by search and extraction.
func (m *AgentMemory) NewLedger(db *gorm.DB) (credit.Ledger, error) {
	return credit.NewGormLedger(db)
}

func (m *AgentMemory) Close() {
	m.connCache.Reset()
	if m.publisher != nil {
		m.publisher.Stop()
	}
	if m.snapshots != nil {
		_ = m.snapshots.Close()
	}
}

package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/credit"
	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/llm"
	"github.com/samber/lo"
)

type (
	SearchMemoryParams struct {
		AgentID     string
		WorkspaceID string
		Grain       TemporalGrain

		// MinimumDaysAgo / MaximumDaysAgo bound the search window as offsets
		// from now. MaximumDaysAgo defaults to 365.
		MinimumDaysAgo int
		MaximumDaysAgo int

		// MaxResults defaults to the configured query limit.
		MaxResults int

		// QueryText enables semantic ranking. Blank means temporal-only.
		QueryText string

		// Credits enables credit accounting around the embedding call. Nil
		// skips accounting (e.g. internal maintenance traffic).
		Credits credit.Ledger
	}

	MemoryHit struct {
		ID        string         `json:"id"`
		Content   string         `json:"content"`
		Date      string         `json:"date"`
		Timestamp time.Time      `json:"timestamp"`
		Metadata  map[string]any `json:"metadata,omitempty"`
		// Similarity is 1/(1+distance), present only when the hit was ranked.
		Similarity *float64 `json:"similarity,omitempty"`
	}

	// EmbedderFactory builds an embedder for a resolved credential, so BYOK
	// workspaces embed under their own key.
	EmbedderFactory func(apiKey, model string) llm.Embedder

	SearchOption func(*SearchService)

	SearchService struct {
		store       *VectorStore
		creds       llm.CredentialResolver
		newEmbedder EmbedderFactory
		modelConf   *config.ModelConfig

		defaultMaxResults int
		embedTimeout      time.Duration

		logger *slog.Logger
		now    func() time.Time
	}
)

const defaultMaximumDaysAgo = 365

// WithEmbedderFactory overrides how query embedders are built.
func WithEmbedderFactory(f EmbedderFactory) SearchOption {
	return func(s *SearchService) { s.newEmbedder = f }
}

func NewSearchService(
	store *VectorStore,
	creds llm.CredentialResolver,
	modelConf *config.ModelConfig,
	memConf *config.MemoryConfig,
	logger *slog.Logger,
	opts ...SearchOption,
) *SearchService {
	s := &SearchService{
		store: store,
		creds: creds,
		newEmbedder: func(apiKey, model string) llm.Embedder {
			return llm.NewOpenAIEmbedder(apiKey, model)
		},
		modelConf:         modelConf,
		defaultMaxResults: memConf.DefaultQueryLimit,
		embedTimeout:      30 * time.Second,
		logger:            logger,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchMemory finds memory matching the query text (when given) inside the
// requested time window. Semantic ranking is best-effort: an embedding
// failure degrades to temporal-only search, never fails the call.
func (s *SearchService) SearchMemory(ctx context.Context, params SearchMemoryParams) ([]MemoryHit, error) {
	if params.Grain == GrainDocs {
		return nil, errors.WithStack(errors.ErrDocsGrainNotAllowed)
	}
	if !params.Grain.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown temporal grain %q", params.Grain)
	}
	if params.AgentID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "agentId must not be empty")
	}

	minDays := params.MinimumDaysAgo
	maxDays := params.MaximumDaysAgo
	if maxDays <= 0 {
		maxDays = defaultMaximumDaysAgo
	}
	if minDays < 0 || maxDays < minDays {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "invalid day window [%d, %d]", minDays, maxDays)
	}

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = s.defaultMaxResults
	}

	now := s.now()
	window := TimeRange{
		Start: now.AddDate(0, 0, -maxDays),
		End:   now.AddDate(0, 0, -minDays),
	}

	var vector []float32
	if queryText := strings.TrimSpace(params.QueryText); queryText != "" {
		vector = s.resolveQueryVector(ctx, params.WorkspaceID, queryText, params.Credits)
	}

	// The working grain has no backing sort order: without a semantic query
	// we pull a full candidate pool and rank by recency ourselves.
	if params.Grain == GrainWorking && vector == nil {
		rows, err := s.store.Query(ctx, params.AgentID, params.Grain, QueryOptions{
			Limit:    s.store.MaxQueryLimit(),
			Temporal: &window,
		})
		if err != nil {
			return nil, err
		}

		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Record.Timestamp.After(rows[j].Record.Timestamp)
		})
		if len(rows) > maxResults {
			rows = rows[:maxResults]
		}
		return lo.Map(rows, func(row QueryRow, _ int) MemoryHit { return toMemoryHit(row) }), nil
	}

	rows, err := s.store.Query(ctx, params.AgentID, params.Grain, QueryOptions{
		Vector:   vector,
		Limit:    maxResults,
		Temporal: &window,
	})
	if err != nil {
		return nil, err
	}

	return lo.Map(rows, func(row QueryRow, _ int) MemoryHit { return toMemoryHit(row) }), nil
}

// GetMemoryRecord is a point lookup. Absence is not an error: a missing
// record returns (nil, nil).
func (s *SearchService) GetMemoryRecord(ctx context.Context, agentID string, grain TemporalGrain, recordID string) (*MemoryHit, error) {
	if grain == GrainDocs {
		return nil, errors.WithStack(errors.ErrDocsGrainNotAllowed)
	}

	record, err := s.store.GetRecordByID(ctx, agentID, grain, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	hit := toMemoryHit(QueryRow{Record: *record})
	return &hit, nil
}

// resolveQueryVector embeds the query text under the workspace's credential,
// bracketing the paid call with a credit reservation when accounting is on.
// Every failure path returns nil so the caller degrades to temporal-only
// search.
func (s *SearchService) resolveQueryVector(ctx context.Context, workspaceID, queryText string, ledger credit.Ledger) []float32 {
	cred, err := llm.ResolveEmbeddingCredential(ctx, s.creds, workspaceID, s.modelConf)
	if err != nil {
		s.logger.Warn("falling back to temporal-only search: no embedding credential",
			slog.String("workspaceId", workspaceID),
			slog.Any("error", err),
		)
		return nil
	}

	var reservation credit.Reservation
	if ledger != nil && !cred.BYOK {
		reservation, err = ledger.Reserve(ctx, workspaceID, credit.KindEmbedding, credit.EstimateTextUnits(queryText))
		if err != nil {
			s.logger.Warn("falling back to temporal-only search: credit reservation failed",
				slog.String("workspaceId", workspaceID),
				slog.Any("error", err),
			)
			return nil
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	result, err := s.newEmbedder(cred.APIKey, s.modelConf.EmbeddingModel).Embed(embedCtx, queryText)
	if err != nil || len(result.Vectors) == 0 {
		if reservation != nil {
			if refundErr := reservation.Refund(ctx); refundErr != nil {
				s.logger.Warn("failed to refund embedding reservation", slog.Any("error", refundErr))
			}
		}
		s.logger.Warn("falling back to temporal-only search: embedding failed",
			slog.String("workspaceId", workspaceID),
			slog.Any("error", err),
		)
		return nil
	}

	if reservation != nil {
		if result.UsageKnown {
			if err := reservation.Settle(ctx, result.Usage.TotalTokens); err != nil {
				s.logger.Warn("failed to settle embedding reservation", slog.Any("error", err))
			}
		} else if err := reservation.EnqueueVerification(ctx); err != nil {
			s.logger.Warn("failed to enqueue cost verification", slog.Any("error", err))
		}
	}

	return result.Vectors[0]
}

func toMemoryHit(row QueryRow) MemoryHit {
	hit := MemoryHit{
		ID:        row.Record.ID,
		Content:   row.Record.Content,
		Date:      row.Record.Timestamp.Format("2006-01-02"),
		Timestamp: row.Record.Timestamp,
		Metadata:  row.Record.Metadata,
	}
	if row.Distance != nil {
		similarity := 1.0 / (1.0 + *row.Distance)
		hit.Similarity = &similarity
	}
	return hit
}

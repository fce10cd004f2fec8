package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/errors"
)

type (
	WriteOperation string

	// WritePayload is the per-operation payload of a WriteOperationMessage.
	// Exactly one concrete shape exists per operation tag.
	WritePayload interface {
		isWritePayload()
	}

	InsertPayload struct {
		Records []FactRecord `json:"records"`
	}
	UpdatePayload struct {
		Records []FactRecord `json:"records"`
	}
	DeletePayload struct {
		RecordIDs []string `json:"recordIds"`
	}
	PurgePayload struct{}

	// WriteOperationMessage is a write intent for one (agent, grain) vector
	// partition. It exists only on the wire: the broker orders messages per
	// (agent, grain) and an out-of-band consumer applies them.
	WriteOperationMessage struct {
		Operation   WriteOperation
		AgentID     string
		WorkspaceID string
		Grain       TemporalGrain
		Payload     WritePayload
	}

	// TopicPublisher publishes one message to the ordered write topic and
	// returns the broker-assigned id.
	TopicPublisher interface {
		Publish(ctx context.Context, data []byte, orderingKey string, attributes map[string]string) (string, error)
		Stop()
	}

	WriteQueueClient struct {
		publisher TopicPublisher
		logger    *slog.Logger

		now func() time.Time
	}

	pubsubPublisher struct {
		client *pubsub.Client
		topic  *pubsub.Topic
	}

	wireMessage struct {
		Operation     WriteOperation  `json:"operation"`
		AgentID       string          `json:"agentId"`
		TemporalGrain TemporalGrain   `json:"temporalGrain"`
		WorkspaceID   string          `json:"workspaceId,omitempty"`
		Data          json.RawMessage `json:"data"`
	}
)

const (
	WriteOperationInsert WriteOperation = "insert"
	WriteOperationUpdate WriteOperation = "update"
	WriteOperationDelete WriteOperation = "delete"
	WriteOperationPurge  WriteOperation = "purge"

	// DedupKeyMaxLength is the broker-imposed ceiling on the dedup key.
	DedupKeyMaxLength = 128

	attrDedupKey = "dedupKey"
)

func (InsertPayload) isWritePayload() {}
func (UpdatePayload) isWritePayload() {}
func (DeletePayload) isWritePayload() {}
func (PurgePayload) isWritePayload()  {}

func NewPubsubPublisher(ctx context.Context, conf *config.QueueConfig) (TopicPublisher, error) {
	client, err := pubsub.NewClient(ctx, conf.ProjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create pubsub client for project %s", conf.ProjectID)
	}

	topic := client.Topic(conf.Topic)
	topic.EnableMessageOrdering = true

	return &pubsubPublisher{client: client, topic: topic}, nil
}

func (p *pubsubPublisher) Publish(ctx context.Context, data []byte, orderingKey string, attributes map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
		Attributes:  attributes,
	})
	return result.Get(ctx)
}

func (p *pubsubPublisher) Stop() {
	p.topic.Stop()
	_ = p.client.Close()
}

func NewWriteQueueClient(publisher TopicPublisher, logger *slog.Logger) *WriteQueueClient {
	return &WriteQueueClient{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SendWriteOperation validates the message and publishes it once to the write
// topic. Validation failures are local and fatal: nothing is sent and the
// error lists every invalid field. Publish failures are wrapped and returned
// without retry; redelivery belongs to the caller or the platform.
func (c *WriteQueueClient) SendWriteOperation(ctx context.Context, msg *WriteOperationMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if msg.isNoOp() {
		c.logger.Debug("skipping empty write operation",
			slog.String("operation", string(msg.Operation)),
			slog.String("agentId", msg.AgentID),
			slog.String("grain", string(msg.Grain)),
		)
		return nil
	}

	data, err := msg.MarshalWire()
	if err != nil {
		return err
	}

	orderingKey := OrderingKey(msg.AgentID, msg.Grain)
	dedupKey := DedupKey(msg, c.now().UnixMilli())

	id, err := c.publisher.Publish(ctx, data, orderingKey, map[string]string{attrDedupKey: dedupKey})
	if err != nil {
		return errors.Wrapf(err, "failed to publish %s operation for %s", msg.Operation, orderingKey)
	}

	c.logger.Debug("published write operation",
		slog.String("operation", string(msg.Operation)),
		slog.String("orderingKey", orderingKey),
		slog.String("messageId", id),
	)
	return nil
}

// OrderingKey groups messages so the broker applies them in submission order
// per (agent, grain). Cross-group order is unspecified.
func OrderingKey(agentID string, grain TemporalGrain) string {
	return fmt.Sprintf("%s-%s", agentID, grain)
}

// DedupKey is a content hash over (operation, agent, grain, payload,
// submission millis), truncated to the broker ceiling. Including wall-clock
// millis means identical payloads >=1ms apart never dedupe; this preserves
// the established wire behavior.
func DedupKey(msg *WriteOperationMessage, submissionMillis int64) string {
	payload, _ := json.Marshal(msg.Payload)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d", msg.Operation, msg.AgentID, msg.Grain, payload, submissionMillis)

	key := hex.EncodeToString(h.Sum(nil))
	if len(key) > DedupKeyMaxLength {
		key = key[:DedupKeyMaxLength]
	}
	return key
}

// Validate checks the message against its tagged-union schema, collecting
// every invalid field into a single error.
func (m *WriteOperationMessage) Validate() error {
	var invalid []string

	switch m.Operation {
	case WriteOperationInsert, WriteOperationUpdate, WriteOperationDelete, WriteOperationPurge:
	default:
		invalid = append(invalid, fmt.Sprintf("operation: unknown value %q", m.Operation))
	}
	if strings.TrimSpace(m.AgentID) == "" {
		invalid = append(invalid, "agentId: must not be empty")
	}
	if !m.Grain.Valid() {
		invalid = append(invalid, fmt.Sprintf("temporalGrain: unknown value %q", m.Grain))
	}

	switch payload := m.Payload.(type) {
	case InsertPayload:
		if m.Operation != WriteOperationInsert {
			invalid = append(invalid, fmt.Sprintf("data: insert payload does not match operation %q", m.Operation))
		}
		invalid = append(invalid, validateRecords(payload.Records)...)
	case UpdatePayload:
		if m.Operation != WriteOperationUpdate {
			invalid = append(invalid, fmt.Sprintf("data: update payload does not match operation %q", m.Operation))
		}
		invalid = append(invalid, validateRecords(payload.Records)...)
	case DeletePayload:
		if m.Operation != WriteOperationDelete {
			invalid = append(invalid, fmt.Sprintf("data: delete payload does not match operation %q", m.Operation))
		}
	case PurgePayload:
		if m.Operation != WriteOperationPurge {
			invalid = append(invalid, fmt.Sprintf("data: purge payload does not match operation %q", m.Operation))
		}
	case nil:
		invalid = append(invalid, "data: payload is required")
	default:
		invalid = append(invalid, fmt.Sprintf("data: unknown payload type %T", payload))
	}

	if len(invalid) > 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "invalid write operation message: %s", strings.Join(invalid, "; "))
	}
	return nil
}

func validateRecords(records []FactRecord) []string {
	var invalid []string
	for i, record := range records {
		if record.ID == "" {
			invalid = append(invalid, fmt.Sprintf("records[%d].id: must not be empty", i))
		}
		if record.Content == "" {
			invalid = append(invalid, fmt.Sprintf("records[%d].content: must not be empty", i))
		}
		if record.Timestamp.IsZero() {
			invalid = append(invalid, fmt.Sprintf("records[%d].timestamp: must be set", i))
		}
	}
	return invalid
}

func (m *WriteOperationMessage) isNoOp() bool {
	switch payload := m.Payload.(type) {
	case InsertPayload:
		return len(payload.Records) == 0
	case UpdatePayload:
		return len(payload.Records) == 0
	case DeletePayload:
		return len(payload.RecordIDs) == 0
	}
	return false
}

// MarshalWire serializes the message to the queue wire format.
func (m *WriteOperationMessage) MarshalWire() ([]byte, error) {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s payload", m.Operation)
	}

	wire := wireMessage{
		Operation:     m.Operation,
		AgentID:       m.AgentID,
		TemporalGrain: m.Grain,
		WorkspaceID:   m.WorkspaceID,
		Data:          data,
	}
	out, err := json.Marshal(wire)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal write operation message")
	}
	return out, nil
}

// UnmarshalWireMessage decodes a queue message back into the sum type. Used by
// the consumer side.
func UnmarshalWireMessage(data []byte) (*WriteOperationMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal write operation message")
	}

	msg := &WriteOperationMessage{
		Operation:   wire.Operation,
		AgentID:     wire.AgentID,
		WorkspaceID: wire.WorkspaceID,
		Grain:       wire.TemporalGrain,
	}

	switch wire.Operation {
	case WriteOperationInsert:
		var payload InsertPayload
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal insert payload")
		}
		msg.Payload = payload
	case WriteOperationUpdate:
		var payload UpdatePayload
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal update payload")
		}
		msg.Payload = payload
	case WriteOperationDelete:
		var payload DeletePayload
		if err := json.Unmarshal(wire.Data, &payload); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal delete payload")
		}
		msg.Payload = payload
	case WriteOperationPurge:
		msg.Payload = PurgePayload{}
	default:
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown write operation %q", wire.Operation)
	}

	return msg, nil
}

package memory

import (
	"context"
	"log/slog"

	"github.com/habiliai/agentmemory/errors"
)

// WriteConsumer applies queued write operations to the vector partitions. The
// broker delivers messages for one (agent, grain) in submission order; this
// side only has to apply them one at a time.
type WriteConsumer struct {
	store  *VectorStore
	logger *slog.Logger
}

func NewWriteConsumer(store *VectorStore, logger *slog.Logger) *WriteConsumer {
	return &WriteConsumer{store: store, logger: logger}
}

func (c *WriteConsumer) ApplyWireMessage(ctx context.Context, data []byte) error {
	msg, err := UnmarshalWireMessage(data)
	if err != nil {
		return err
	}
	return c.ApplyWriteOperation(ctx, msg)
}

func (c *WriteConsumer) ApplyWriteOperation(ctx context.Context, msg *WriteOperationMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	c.logger.Debug("applying write operation",
		slog.String("operation", string(msg.Operation)),
		slog.String("agentId", msg.AgentID),
		slog.String("grain", string(msg.Grain)),
	)

	switch payload := msg.Payload.(type) {
	case InsertPayload:
		return c.store.UpsertRecords(ctx, msg.AgentID, msg.Grain, payload.Records)
	case UpdatePayload:
		return c.store.UpsertRecords(ctx, msg.AgentID, msg.Grain, payload.Records)
	case DeletePayload:
		return c.store.DeleteRecords(ctx, msg.AgentID, msg.Grain, payload.RecordIDs)
	case PurgePayload:
		return c.store.PurgePartition(ctx, msg.AgentID, msg.Grain)
	default:
		return errors.Wrapf(errors.ErrInvalidParams, "unknown payload type %T", payload)
	}
}

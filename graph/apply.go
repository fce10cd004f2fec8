package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/habiliai/agentmemory/errors"
	"github.com/habiliai/agentmemory/storage"
)

type (
	ApplyParams struct {
		WorkspaceID    string
		AgentID        string
		ConversationID string
		Operations     []MemoryOperation
	}

	// ApplyService mutates the (workspace, agent) graph from extracted
	// memory operations.
	ApplyService struct {
		snapshots storage.SnapshotStore
		logger    *slog.Logger
		now       func() time.Time
	}
)

func NewApplyService(snapshots storage.SnapshotStore, logger *slog.Logger) *ApplyService {
	return &ApplyService{
		snapshots: snapshots,
		logger:    logger,
		now:       time.Now,
	}
}

// ApplyMemoryOperations opens the graph once for the whole batch, applies
// every operation, then saves one snapshot. Per-operation semantics:
//
//   - DELETE removes every fact matching the exact triple.
//   - UPDATE removes every fact sharing (subject, predicate) regardless of
//     object, then inserts the new triple under its deterministic id.
//   - ADD refreshes properties in place when the exact triple exists,
//     otherwise inserts a new fact.
func (s *ApplyService) ApplyMemoryOperations(ctx context.Context, params ApplyParams) error {
	if len(params.Operations) == 0 {
		return nil
	}

	for i := range params.Operations {
		if err := params.Operations[i].Normalize(); err != nil {
			return errors.Wrapf(err, "operations[%d]", i)
		}
	}

	store, err := OpenFactStore(ctx, s.snapshots, params.WorkspaceID, params.AgentID, s.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	for i, op := range params.Operations {
		props := FactProperties{
			Confidence:     op.Confidence,
			WorkspaceID:    params.WorkspaceID,
			AgentID:        params.AgentID,
			ConversationID: params.ConversationID,
			UpdatedAt:      s.now().UTC(),
		}

		var err error
		switch op.Operation {
		case OpDelete:
			err = store.DeleteFacts(ctx, FactPredicate{
				SourceID: op.Subject,
				Label:    op.Predicate,
				TargetID: op.Object,
			})
		case OpUpdate:
			if err = store.DeleteFacts(ctx, FactPredicate{
				SourceID: op.Subject,
				Label:    op.Predicate,
			}); err == nil {
				err = store.InsertFacts(ctx, []GraphFact{NewFact(op.Subject, op.Predicate, op.Object, props)})
			}
		case OpAdd:
			err = s.applyAdd(ctx, store, op, props)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to apply operations[%d] (%s %s/%s/%s)", i, op.Operation, op.Subject, op.Predicate, op.Object)
		}
	}

	// One snapshot write for the whole batch.
	return store.Save(ctx)
}

func (s *ApplyService) applyAdd(ctx context.Context, store *FactStore, op MemoryOperation, props FactProperties) error {
	triple := FactPredicate{
		SourceID: op.Subject,
		Label:    op.Predicate,
		TargetID: op.Object,
	}

	existing, err := store.FindFacts(ctx, triple)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		raw, err := json.Marshal(props)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal fact properties")
		}
		return store.UpdateFacts(ctx, triple, map[string]any{"properties": json.RawMessage(raw)})
	}

	return store.InsertFacts(ctx, []GraphFact{NewFact(op.Subject, op.Predicate, op.Object, props)})
}

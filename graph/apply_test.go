package graph_test

import (
	"context"
	"testing"

	"github.com/habiliai/agentmemory/graph"
	"github.com/habiliai/agentmemory/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyOps(t *testing.T, snapshots storage.SnapshotStore, ops ...graph.MemoryOperation) {
	t.Helper()

	svc := graph.NewApplyService(snapshots, discardLogger())
	err := svc.ApplyMemoryOperations(t.Context(), graph.ApplyParams{
		WorkspaceID:    "ws-1",
		AgentID:        "agent-1",
		ConversationID: "conv-1",
		Operations:     ops,
	})
	require.NoError(t, err)
}

func findAll(t *testing.T, ctx context.Context, snapshots storage.SnapshotStore, where graph.FactPredicate) []graph.GraphFact {
	t.Helper()

	store, err := graph.OpenFactStore(ctx, snapshots, "ws-1", "agent-1", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	facts, err := store.FindFacts(ctx, where)
	require.NoError(t, err)
	return facts
}

func TestApplyService_AddCreatesFact(t *testing.T) {
	snapshots := newTestSnapshots(t)
	ctx := t.Context()

	applyOps(t, snapshots, graph.MemoryOperation{
		Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React", Confidence: 0.9,
	})

	facts := findAll(t, ctx, snapshots, graph.FactPredicate{SourceID: "User"})
	require.Len(t, facts, 1)
	assert.Equal(t, graph.FactID("User", "likes", "React"), facts[0].ID)
	assert.Equal(t, 0.9, facts[0].Properties.Confidence)
	assert.Equal(t, "conv-1", facts[0].Properties.ConversationID)
}

func TestApplyService_AddIsIdempotent(t *testing.T) {
	snapshots := newTestSnapshots(t)
	ctx := t.Context()

	op := graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React"}
	applyOps(t, snapshots, op)
	applyOps(t, snapshots, graph.MemoryOperation{
		Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React", Confidence: 0.7,
	})

	facts := findAll(t, ctx, snapshots, graph.FactPredicate{SourceID: "User", Label: "likes"})
	require.Len(t, facts, 1, "re-adding the same triple must not duplicate it")
	assert.Equal(t, 0.7, facts[0].Properties.Confidence, "re-add refreshes the properties")
}

func TestApplyService_UpdateReplacesAllObjects(t *testing.T) {
	snapshots := newTestSnapshots(t)
	ctx := t.Context()

	applyOps(t, snapshots,
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "works_at", Object: "Initech"},
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "works_at", Object: "Initrode"},
	)

	applyOps(t, snapshots, graph.MemoryOperation{
		Operation: "UPDATE", Subject: "User", Predicate: "works_at", Object: "Globex",
	})

	facts := findAll(t, ctx, snapshots, graph.FactPredicate{SourceID: "User", Label: "works_at"})
	require.Len(t, facts, 1, "update clears every prior object of the (subject, predicate)")
	assert.Equal(t, "Globex", facts[0].TargetID)
}

func TestApplyService_DeleteRemovesExactTriple(t *testing.T) {
	snapshots := newTestSnapshots(t)
	ctx := t.Context()

	applyOps(t, snapshots,
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React"},
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "likes", Object: "Go"},
	)

	applyOps(t, snapshots, graph.MemoryOperation{
		Operation: "DELETE", Subject: "User", Predicate: "likes", Object: "React",
	})

	facts := findAll(t, ctx, snapshots, graph.FactPredicate{SourceID: "User", Label: "likes"})
	require.Len(t, facts, 1, "only the exact triple is deleted")
	assert.Equal(t, "Go", facts[0].TargetID)
}

func TestApplyService_EmptyBatchIsNoOp(t *testing.T) {
	snapshots := newTestSnapshots(t)

	svc := graph.NewApplyService(snapshots, discardLogger())
	err := svc.ApplyMemoryOperations(t.Context(), graph.ApplyParams{
		WorkspaceID: "ws-1",
		AgentID:     "agent-1",
	})
	require.NoError(t, err)
}

func TestApplyService_InvalidOperationFailsBeforeOpening(t *testing.T) {
	snapshots := newTestSnapshots(t)

	svc := graph.NewApplyService(snapshots, discardLogger())
	err := svc.ApplyMemoryOperations(t.Context(), graph.ApplyParams{
		WorkspaceID: "ws-1",
		AgentID:     "agent-1",
		Operations: []graph.MemoryOperation{
			{Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React"},
			{Operation: "MERGE", Subject: "User", Predicate: "likes", Object: "Vue"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operations[1]")
}

package graph_test

import (
	"testing"

	"github.com/habiliai/agentmemory/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactID(t *testing.T) {
	id := graph.FactID("User", "likes", "React")

	// The id is a pure function of the triple.
	assert.Equal(t, id, graph.FactID("User", "likes", "React"))
	assert.Len(t, id, 64)

	assert.NotEqual(t, id, graph.FactID("User", "likes", "Vue"))
	assert.NotEqual(t, id, graph.FactID("User", "dislikes", "React"))

	// The separator keeps adjacent fields from colliding.
	assert.NotEqual(t, graph.FactID("ab", "c", "d"), graph.FactID("a", "bc", "d"))
}

func TestNewFact(t *testing.T) {
	props := graph.FactProperties{Confidence: 0.9, WorkspaceID: "ws-1", AgentID: "agent-1"}
	fact := graph.NewFact("User", "likes", "React", props)

	assert.Equal(t, graph.FactID("User", "likes", "React"), fact.ID)
	assert.Equal(t, "User", fact.SourceID)
	assert.Equal(t, "React", fact.TargetID)
	assert.Equal(t, "likes", fact.Label)
	assert.Equal(t, props, fact.Properties)
}

func TestMemoryOperation_Normalize(t *testing.T) {
	op := graph.MemoryOperation{
		Operation: " add ",
		Subject:   " User ",
		Predicate: " likes ",
		Object:    " React ",
	}
	require.NoError(t, op.Normalize())
	assert.Equal(t, graph.OpAdd, op.Operation)
	assert.Equal(t, "User", op.Subject)
	assert.Equal(t, "likes", op.Predicate)
	assert.Equal(t, "React", op.Object)
	assert.Equal(t, 1.0, op.Confidence, "confidence defaults to 1")

	op = graph.MemoryOperation{Operation: "DELETE", Subject: "a", Predicate: "b", Object: "c", Confidence: 0.5}
	require.NoError(t, op.Normalize())
	assert.Equal(t, 0.5, op.Confidence)
}

func TestMemoryOperation_NormalizeCollectsAllFields(t *testing.T) {
	op := graph.MemoryOperation{
		Operation:  "MERGE",
		Subject:    "  ",
		Predicate:  "",
		Object:     "",
		Confidence: 1.5,
	}

	err := op.Normalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `operation: unknown value "MERGE"`)
	assert.Contains(t, err.Error(), "subject: must not be empty")
	assert.Contains(t, err.Error(), "predicate: must not be empty")
	assert.Contains(t, err.Error(), "object: must not be empty")
	assert.Contains(t, err.Error(), "confidence: 1.5 is outside [0, 1]")
}

package graph_test

import (
	"testing"

	"github.com/habiliai/agentmemory/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchService_SearchGraphByEntities(t *testing.T) {
	snapshots := newTestSnapshots(t)

	applyOps(t, snapshots,
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "likes", Object: "React"},
		graph.MemoryOperation{Operation: "ADD", Subject: "User", Predicate: "works_at", Object: "Initech"},
		graph.MemoryOperation{Operation: "ADD", Subject: "Peter", Predicate: "knows", Object: "Samir"},
	)

	svc := graph.NewSearchService(snapshots, discardLogger())

	snippets, err := svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", []string{"React"})
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "Subject: User\nPredicate: likes\nObject: React", snippets[0].Content)
	assert.Equal(t, 1.0, snippets[0].Similarity)

	// Entities match on either side of the edge.
	snippets, err = svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", []string{"User"})
	require.NoError(t, err)
	assert.Len(t, snippets, 2)
}

func TestSearchService_BlankEntitiesAreDropped(t *testing.T) {
	snapshots := newTestSnapshots(t)
	svc := graph.NewSearchService(snapshots, discardLogger())

	// All-blank input returns empty without touching storage, so no snapshot
	// is needed.
	snippets, err := svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", []string{"", "  "})
	require.NoError(t, err)
	assert.Empty(t, snippets)

	snippets, err = svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", nil)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestSearchService_QuotedEntityNames(t *testing.T) {
	snapshots := newTestSnapshots(t)

	applyOps(t, snapshots, graph.MemoryOperation{
		Operation: "ADD", Subject: "User", Predicate: "likes", Object: "O'Reilly books",
	})

	svc := graph.NewSearchService(snapshots, discardLogger())

	snippets, err := svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", []string{"O'Reilly books"})
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Contains(t, snippets[0].Content, "O'Reilly books")
}

func TestSearchService_EmptyGraph(t *testing.T) {
	snapshots := newTestSnapshots(t)
	svc := graph.NewSearchService(snapshots, discardLogger())

	snippets, err := svc.SearchGraphByEntities(t.Context(), "ws-1", "agent-1", []string{"Nobody"})
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

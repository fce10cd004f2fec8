package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/habiliai/agentmemory/storage"
	"github.com/samber/lo"
)

type (
	// EntitySnippet is one graph hit formatted for retrieval-augmented
	// generation. Graph hits are exact matches, not ranked, so similarity is
	// always 1.
	EntitySnippet struct {
		Content    string  `json:"content"`
		Similarity float64 `json:"similarity"`
	}

	// SearchService answers entity-keyed lookups against the fact graph.
	SearchService struct {
		snapshots storage.SnapshotStore
		logger    *slog.Logger
	}
)

func NewSearchService(snapshots storage.SnapshotStore, logger *slog.Logger) *SearchService {
	return &SearchService{snapshots: snapshots, logger: logger}
}

// SearchGraphByEntities returns every fact whose subject or object is one of
// the given entities. Blank names are dropped; when none remain the search
// returns empty without opening a session. The session is read-only: it is
// closed without saving.
func (s *SearchService) SearchGraphByEntities(ctx context.Context, workspaceID, agentID string, entities []string) ([]EntitySnippet, error) {
	names := lo.FilterMap(entities, func(name string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(name)
		return trimmed, trimmed != ""
	})
	if len(names) == 0 {
		return []EntitySnippet{}, nil
	}

	store, err := OpenFactStore(ctx, s.snapshots, workspaceID, agentID, s.logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	inList := quoteStringList(names)
	rows, err := store.QueryGraph(ctx, fmt.Sprintf(
		"SELECT source_id, label, target_id FROM facts WHERE source_id IN %s OR target_id IN %s",
		inList, inList,
	))
	if err != nil {
		return nil, err
	}

	snippets := make([]EntitySnippet, 0, len(rows))
	for _, row := range rows {
		snippets = append(snippets, EntitySnippet{
			Content: fmt.Sprintf("Subject: %v\nPredicate: %v\nObject: %v",
				row["source_id"], row["label"], row["target_id"]),
			Similarity: 1,
		})
	}

	return snippets, nil
}

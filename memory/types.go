package memory

import (
	"time"

	"github.com/habiliai/agentmemory/errors"
	"github.com/mitchellh/mapstructure"
)

type (
	// TemporalGrain is the time resolution tier a fact is bucketed at.
	TemporalGrain string

	// FactRecord is one vector-embedded memory fact, owned by the vector
	// partition for its (agent, grain).
	FactRecord struct {
		ID        string         `json:"id"`
		Content   string         `json:"content"`
		Embedding []float32      `json:"embedding,omitempty"`
		Timestamp time.Time      `json:"timestamp"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// RecordMetadata is the well-known subset of FactRecord.Metadata.
	RecordMetadata struct {
		ConversationID string `mapstructure:"conversationId"`
		WorkspaceID    string `mapstructure:"workspaceId"`
		AgentID        string `mapstructure:"agentId"`
	}
)

const (
	GrainWorking   TemporalGrain = "working"
	GrainDaily     TemporalGrain = "daily"
	GrainWeekly    TemporalGrain = "weekly"
	GrainMonthly   TemporalGrain = "monthly"
	GrainQuarterly TemporalGrain = "quarterly"
	GrainYearly    TemporalGrain = "yearly"

	// GrainDocs is reserved for document search. Memory APIs reject it.
	GrainDocs TemporalGrain = "docs"
)

// MemoryGrains are the grains memory APIs accept, i.e. everything but docs.
var MemoryGrains = []TemporalGrain{
	GrainWorking, GrainDaily, GrainWeekly, GrainMonthly, GrainQuarterly, GrainYearly,
}

func (g TemporalGrain) Valid() bool {
	switch g {
	case GrainWorking, GrainDaily, GrainWeekly, GrainMonthly, GrainQuarterly, GrainYearly, GrainDocs:
		return true
	}
	return false
}

// DatePartitioned reports whether the grain's partition is organized by date.
// The working grain is unpartitioned, so temporal filters against it run as
// in-memory post-filters instead of storage-side predicates.
func (g TemporalGrain) DatePartitioned() bool {
	return g != GrainWorking
}

func ParseGrain(s string) (TemporalGrain, error) {
	g := TemporalGrain(s)
	if !g.Valid() {
		return "", errors.Wrapf(errors.ErrInvalidParams, "unknown temporal grain %q", s)
	}
	return g, nil
}

// DecodeMetadata extracts the well-known metadata fields of a record.
func DecodeMetadata(metadata map[string]any) (RecordMetadata, error) {
	var out RecordMetadata
	if err := mapstructure.Decode(metadata, &out); err != nil {
		return RecordMetadata{}, errors.Wrapf(err, "failed to decode record metadata")
	}
	return out, nil
}

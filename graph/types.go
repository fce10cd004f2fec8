// Package graph owns the relational knowledge graph: subject-predicate-object
// facts stored in an embedded session whose only durability is a snapshot in
// object storage, plus the LLM extraction loop that maintains it.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/habiliai/agentmemory/errors"
)

type (
	// FactProperties is the JSON payload attached to every graph edge.
	FactProperties struct {
		Confidence     float64   `json:"confidence"`
		WorkspaceID    string    `json:"workspaceId"`
		AgentID        string    `json:"agentId"`
		ConversationID string    `json:"conversationId,omitempty"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	// GraphFact is one directed, labeled edge: subject --predicate--> object.
	// Its id is a pure function of the triple, so re-inserting the same
	// triple never creates a duplicate row.
	GraphFact struct {
		ID         string         `json:"id"`
		SourceID   string         `json:"source_id"`
		TargetID   string         `json:"target_id"`
		Label      string         `json:"label"`
		Properties FactProperties `json:"properties"`
	}

	// MemoryOperation is one graph mutation extracted from conversation text.
	// It is never persisted; it is consumed once to mutate GraphFact rows.
	MemoryOperation struct {
		Operation  string  `json:"operation"`
		Subject    string  `json:"subject"`
		Predicate  string  `json:"predicate"`
		Object     string  `json:"object"`
		Confidence float64 `json:"confidence,omitempty"`
	}
)

const (
	OpAdd    = "ADD"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// FactID derives the deterministic edge id from the triple.
func FactID(subject, predicate, object string) string {
	sum := sha256.Sum256([]byte(subject + "|" + predicate + "|" + object))
	return hex.EncodeToString(sum[:])
}

// NewFact builds the edge for a triple with refreshed properties.
func NewFact(subject, predicate, object string, props FactProperties) GraphFact {
	return GraphFact{
		ID:         FactID(subject, predicate, object),
		SourceID:   subject,
		TargetID:   object,
		Label:      predicate,
		Properties: props,
	}
}

// Normalize trims the triple fields, uppercases the operation tag, and
// defaults confidence to 1. Returns an error naming every invalid field.
func (op *MemoryOperation) Normalize() error {
	var invalid []string

	op.Operation = strings.ToUpper(strings.TrimSpace(op.Operation))
	switch op.Operation {
	case OpAdd, OpUpdate, OpDelete:
	default:
		invalid = append(invalid, fmt.Sprintf("operation: unknown value %q", op.Operation))
	}

	op.Subject = strings.TrimSpace(op.Subject)
	op.Predicate = strings.TrimSpace(op.Predicate)
	op.Object = strings.TrimSpace(op.Object)
	if op.Subject == "" {
		invalid = append(invalid, "subject: must not be empty")
	}
	if op.Predicate == "" {
		invalid = append(invalid, "predicate: must not be empty")
	}
	if op.Object == "" {
		invalid = append(invalid, "object: must not be empty")
	}

	if op.Confidence == 0 {
		op.Confidence = 1
	}
	if op.Confidence < 0 || op.Confidence > 1 {
		invalid = append(invalid, fmt.Sprintf("confidence: %v is outside [0, 1]", op.Confidence))
	}

	if len(invalid) > 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "invalid memory operation: %s", strings.Join(invalid, "; "))
	}
	return nil
}

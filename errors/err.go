package errors

import (
	"fmt"
)

var (
	ErrInvalidConfig        = fmt.Errorf("agentmemory: invalid config")
	ErrNotFound             = fmt.Errorf("agentmemory: not found")
	ErrInvalidParams        = fmt.Errorf("agentmemory: invalid params")
	ErrInternal             = fmt.Errorf("agentmemory: internal error")
	ErrEmptyPredicate       = fmt.Errorf("agentmemory: empty predicate")
	ErrSnapshotNotFound     = fmt.Errorf("agentmemory: snapshot not found")
	ErrDocsGrainNotAllowed  = fmt.Errorf("agentmemory: docs grain is reserved for document search")
	ErrExtractionFailed     = fmt.Errorf("agentmemory: memory extraction failed")
	ErrInsufficientCredits  = fmt.Errorf("agentmemory: insufficient credits")
	ErrNoEmbeddingProvider  = fmt.Errorf("agentmemory: no embedding provider configured")
	ErrNoCompletionProvider = fmt.Errorf("agentmemory: no completion provider configured")
)

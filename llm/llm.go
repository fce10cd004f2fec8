// Package llm wraps the embedding and completion providers behind small
// interfaces that report token usage, so callers can settle credit
// reservations against what a call actually consumed.
package llm

import (
	"context"
)

type (
	Usage struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
		TotalTokens  int64 `json:"totalTokens"`
	}

	EmbedResult struct {
		Vectors [][]float32
		Usage   Usage
		// UsageKnown is false when the provider did not report token usage
		// synchronously; callers must verify cost out of band.
		UsageKnown bool
	}

	Embedder interface {
		Embed(ctx context.Context, texts ...string) (*EmbedResult, error)
	}

	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	CompletionRequest struct {
		Model    string
		System   string
		Messages []Message
	}

	CompletionResult struct {
		Text       string
		Usage      Usage
		UsageKnown bool
	}

	Completer interface {
		Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	}
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/habiliai/agentmemory/errors"
)

type AnthropicCompleter struct {
	client anthropic.Client

	maxTokens int64
}

var _ Completer = (*AnthropicCompleter)(nil)

func NewAnthropicCompleter(apiKey string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: 4096,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: c.maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to complete with model %s", req.Model)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.AsAny(); text != nil {
			if t, ok := text.(anthropic.TextBlock); ok {
				sb.WriteString(t.Text)
			}
		}
	}

	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	return &CompletionResult{
		Text:       sb.String(),
		Usage:      usage,
		UsageKnown: usage.TotalTokens > 0,
	}, nil
}

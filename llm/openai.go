package llm

import (
	"context"

	"github.com/habiliai/agentmemory/errors"
	goopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type (
	OpenAIEmbedder struct {
		client goopenai.Client
		model  string
	}

	OpenAICompleter struct {
		client goopenai.Client
	}
)

var (
	_ Embedder  = (*OpenAIEmbedder)(nil)
	_ Completer = (*OpenAICompleter)(nil)
)

func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: goopenai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts ...string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{UsageKnown: true}, nil
	}

	var input goopenai.EmbeddingNewParamsInputUnion
	input.OfArrayOfStrings = append(input.OfArrayOfStrings, texts...)

	resp, err := e.client.Embeddings.New(ctx, goopenai.EmbeddingNewParams{
		Input:          input,
		Model:          e.model,
		EncodingFormat: goopenai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to generate embeddings with model %s", e.model)
	}

	result := &EmbedResult{
		Vectors: make([][]float32, 0, len(resp.Data)),
		Usage: Usage{
			InputTokens: resp.Usage.PromptTokens,
			TotalTokens: resp.Usage.TotalTokens,
		},
		UsageKnown: resp.Usage.TotalTokens > 0,
	}
	for _, emb := range resp.Data {
		vector := make([]float32, len(emb.Embedding))
		for i, v := range emb.Embedding {
			vector[i] = float32(v)
		}
		result.Vectors = append(result.Vectors, vector)
	}

	return result, nil
}

func NewOpenAICompleter(apiKey string) *OpenAICompleter {
	return &OpenAICompleter{
		client: goopenai.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	messages := make([]goopenai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, goopenai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			messages = append(messages, goopenai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, goopenai.UserMessage(msg.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, goopenai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to complete with model %s", req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Errorf("model %s returned no choices", req.Model)
	}

	return &CompletionResult{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		UsageKnown: resp.Usage.TotalTokens > 0,
	}, nil
}

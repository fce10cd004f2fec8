package config

import "os"

type ModelConfig struct {
	// OpenAIAPIKey is the platform key for embeddings and completions.
	// Workspaces may override it with their own key (BYOK).
	OpenAIAPIKey    string `yaml:"openaiApiKey"`
	AnthropicAPIKey string `yaml:"anthropicApiKey"`

	// EmbeddingModel produces the vectors stored alongside memory records.
	EmbeddingModel     string `yaml:"embeddingModel"`
	EmbeddingDimension int    `yaml:"embeddingDimension"`

	// ExtractionModel drives the conversation -> graph-operations loop.
	ExtractionModel string `yaml:"extractionModel"`
}

func NewModelConfig() *ModelConfig {
	return &ModelConfig{
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDimension: 1536,
		ExtractionModel:    "gpt-4o-mini",
	}
}

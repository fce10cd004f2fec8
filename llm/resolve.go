package llm

import (
	"context"

	"github.com/habiliai/agentmemory/config"
	"github.com/habiliai/agentmemory/errors"
)

type (
	// Credential is a resolved provider key for one workspace. BYOK is true
	// when the workspace supplied its own key rather than the platform's.
	Credential struct {
		Provider string
		APIKey   string
		BYOK     bool
	}

	// CredentialResolver looks up workspace-supplied provider keys. The
	// billing subsystem owns the real implementation; StaticCredentialResolver
	// covers tests and single-tenant deployments.
	CredentialResolver interface {
		EmbeddingAPIKey(ctx context.Context, workspaceID string) (string, error)
	}

	StaticCredentialResolver map[string]string
)

var _ CredentialResolver = (StaticCredentialResolver)(nil)

func (r StaticCredentialResolver) EmbeddingAPIKey(_ context.Context, workspaceID string) (string, error) {
	return r[workspaceID], nil
}

// ResolveEmbeddingCredential prefers the workspace's own key and falls back to
// the platform key. BYOK calls are not charged against platform credits.
func ResolveEmbeddingCredential(ctx context.Context, resolver CredentialResolver, workspaceID string, conf *config.ModelConfig) (Credential, error) {
	if resolver != nil {
		key, err := resolver.EmbeddingAPIKey(ctx, workspaceID)
		if err != nil {
			return Credential{}, errors.Wrapf(err, "failed to resolve embedding credential for workspace %s", workspaceID)
		}
		if key != "" {
			return Credential{Provider: "openai", APIKey: key, BYOK: true}, nil
		}
	}

	if conf.OpenAIAPIKey == "" {
		return Credential{}, errors.WithStack(errors.ErrNoEmbeddingProvider)
	}
	return Credential{Provider: "openai", APIKey: conf.OpenAIAPIKey}, nil
}

// ResolveCompleter picks the configured completion provider, preferring
// OpenAI and falling back to Anthropic, mirroring the extraction model
// defaults.
func ResolveCompleter(conf *config.ModelConfig) (Completer, error) {
	if conf.OpenAIAPIKey != "" {
		return NewOpenAICompleter(conf.OpenAIAPIKey), nil
	}
	if conf.AnthropicAPIKey != "" {
		return NewAnthropicCompleter(conf.AnthropicAPIKey), nil
	}
	return nil, errors.WithStack(errors.ErrNoCompletionProvider)
}

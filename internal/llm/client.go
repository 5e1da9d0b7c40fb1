package llm

import (
	"context"
	"errors"
)

// ErrNoAPIKey is returned when a provider needs a key that is not configured.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// Request is a single non-streaming text generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
}

// Generator is the opaque generateText capability.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Name implements Generator.
func (f GeneratorFunc) Name() string {
	return "func"
}

// Factory builds a Generator for a model.
type Factory interface {
	New(ctx context.Context, ref ModelRef, cfg ProviderConfig) (Generator, error)
}

// DefaultFactory builds the real clients.
type DefaultFactory struct{}

// New implements Factory. Keyed providers without a key return ErrNoAPIKey
// before any client is constructed.
func (DefaultFactory) New(ctx context.Context, ref ModelRef, cfg ProviderConfig) (Generator, error) {
	switch ref.Provider {
	case ProviderOllama:
		return NewOllamaClient(cfg.OllamaEndpoint, ref.Model), nil
	case ProviderGemini:
		key := cfg.APIKey(ProviderGemini)
		if key == "" {
			return nil, ErrNoAPIKey
		}
		return NewGeminiClient(ctx, key, ref.Model)
	default:
		return nil, errors.New("unsupported provider: " + string(ref.Provider))
	}
}

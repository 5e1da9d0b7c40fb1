// Package llm provides the model invocation capability used by the patch
// adapters: a local Ollama client for fast apply and a Gemini client for the
// cloud rewrite. Provider selection is a closed set resolved once when
// configuration is loaded.
package llm

import (
	"fmt"
	"strings"
)

// Provider identifies a supported model backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderOllama, ProviderGemini}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q (valid: %v)", name, Providers)
}

// modelTable maps model-name prefixes to their provider. Checked in order.
var modelTable = []struct {
	prefix   string
	provider Provider
}{
	{"gemini-", ProviderGemini},
	{"models/gemini", ProviderGemini},
	{"qwen", ProviderOllama},
	{"llama", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek-coder", ProviderOllama},
	{"codegemma", ProviderOllama},
	{"starcoder", ProviderOllama},
	{"morph", ProviderOllama},
}

// ModelRef is a model bound to its provider.
type ModelRef struct {
	Provider Provider `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
}

func (r ModelRef) String() string {
	return string(r.Provider) + ":" + r.Model
}

// IsZero reports whether no model is configured.
func (r ModelRef) IsZero() bool {
	return r.Model == ""
}

// ResolveModel maps a model name to a ModelRef. An explicit "provider:model"
// form wins over the prefix table.
func ResolveModel(name string) (ModelRef, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ModelRef{}, fmt.Errorf("empty model name")
	}
	if prov, model, ok := strings.Cut(name, ":"); ok {
		if p, err := ParseProvider(prov); err == nil {
			if model == "" {
				return ModelRef{}, fmt.Errorf("empty model name for provider %s", p)
			}
			return ModelRef{Provider: p, Model: model}, nil
		}
	}
	lower := strings.ToLower(name)
	for _, row := range modelTable {
		if strings.HasPrefix(lower, row.prefix) {
			return ModelRef{Provider: row.provider, Model: name}, nil
		}
	}
	return ModelRef{}, fmt.Errorf("cannot determine provider for model %q; use provider:model", name)
}

// ProviderConfig is the resolved model configuration handed to patch
// generation. It is built once from configuration and passed by value.
type ProviderConfig struct {
	Local          ModelRef
	Cloud          ModelRef
	APIKeys        map[Provider]string
	OllamaEndpoint string
}

// APIKey returns the key for a provider, or "".
func (c ProviderConfig) APIKey(p Provider) string {
	if c.APIKeys == nil {
		return ""
	}
	return c.APIKeys[p]
}

// RequiresKey reports whether calls to p need an API key.
func RequiresKey(p Provider) bool {
	return p != ProviderOllama
}

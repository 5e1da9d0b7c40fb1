package config

import (
	"sync"

	"livepatch/internal/llm"
)

// Settings is the live settings capability read at approval-ready time.
// The HTTP surface may flip FastPathAutoApply while the server runs.
type Settings struct {
	mu        sync.RWMutex
	autoApply bool
	providers llm.ProviderConfig
}

// NewSettings snapshots the resolved provider configuration.
func NewSettings(cfg *Config) (*Settings, error) {
	pc, err := cfg.ProviderConfig()
	if err != nil {
		return nil, err
	}
	return &Settings{autoApply: cfg.Patch.FastPathAutoApply, providers: pc}, nil
}

// FastPathAutoApply reports whether fast-path patches skip confirmation.
func (s *Settings) FastPathAutoApply() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoApply
}

// SetFastPathAutoApply toggles auto-apply.
func (s *Settings) SetFastPathAutoApply(v bool) {
	s.mu.Lock()
	s.autoApply = v
	s.mu.Unlock()
}

// ProviderConfig returns the resolved provider configuration.
func (s *Settings) ProviderConfig() llm.ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers
}

// APIKey looks up a provider key.
func (s *Settings) APIKey(p llm.Provider) string {
	return s.ProviderConfig().APIKey(p)
}

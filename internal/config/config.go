// Package config loads livepatch configuration from .livepatch/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"livepatch/internal/llm"
	"livepatch/internal/logging"
)

// DirName is the per-project state directory.
const DirName = ".livepatch"

// Config holds all livepatch configuration.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Patch     PatchConfig     `yaml:"patch"`
	Models    ModelsConfig    `yaml:"models"`
	Providers ProvidersConfig `yaml:"providers"`
	Browser   BrowserConfig   `yaml:"browser"`
	History   HistoryConfig   `yaml:"history"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProjectConfig locates the project whose sources are patched.
type ProjectConfig struct {
	Path string `yaml:"path"`
}

// PatchConfig tunes patch generation and approval.
type PatchConfig struct {
	// Timeout bounds one patch generation attempt.
	Timeout string `yaml:"timeout"`

	// FastPathAutoApply skips manual confirmation for fast-path patches.
	FastPathAutoApply bool `yaml:"fast_path_auto_apply"`

	// Window radii in lines around the reported source line.
	SrcWindow   int `yaml:"src_window"`
	CSSWindow   int `yaml:"css_window"`
	LocalWindow int `yaml:"local_window"`
	CloudWindow int `yaml:"cloud_window"`

	// SelfGuardDirs are install-directory markers that must never be patched.
	SelfGuardDirs []string `yaml:"self_guard_dirs"`

	// AbsolutePrefixes extend the absolute-path heuristics of the resolver.
	AbsolutePrefixes []string `yaml:"absolute_prefixes"`
}

// ModelsConfig names the local and cloud models.
type ModelsConfig struct {
	Local          string `yaml:"local"`
	Cloud          string `yaml:"cloud"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
}

// ProvidersConfig holds provider API keys.
type ProvidersConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
}

// BrowserConfig configures the live page browser.
type BrowserConfig struct {
	DebuggerURL         string `yaml:"debugger_url"`
	Headless            bool   `yaml:"headless"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// HistoryConfig selects the undo/redo store.
type HistoryConfig struct {
	Backend      string `yaml:"backend"` // sqlite, memory
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Patch: PatchConfig{
			Timeout:       "30s",
			SrcWindow:     15,
			CSSWindow:     30,
			LocalWindow:   30,
			CloudWindow:   100,
			SelfGuardDirs: []string{"ai-cluso"},
		},
		Models: ModelsConfig{
			Local:          "ollama:qwen2.5-coder:7b",
			Cloud:          "gemini-2.5-flash",
			OllamaEndpoint: "http://localhost:11434",
		},
		Browser: BrowserConfig{
			Headless:            false,
			ViewportWidth:       1440,
			ViewportHeight:      900,
			NavigationTimeoutMs: 30000,
		},
		History: HistoryConfig{
			Backend:      "sqlite",
			DatabasePath: filepath.Join(DirName, "history.db"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7317",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location for a project.
func Path(project string) string {
	return filepath.Join(project, DirName, "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Providers.GeminiAPIKey = key
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Models.OllamaEndpoint = host
	}
	if v := os.Getenv("LIVEPATCH_FAST_PATH_AUTO_APPLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Patch.FastPathAutoApply = b
		}
	}
	if p := os.Getenv("LIVEPATCH_PROJECT"); p != "" {
		c.Project.Path = p
	}
}

// GetPatchTimeout returns the generation timeout as a duration.
func (c *Config) GetPatchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Patch.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	if c.Browser.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Browser.NavigationTimeoutMs) * time.Millisecond
}

// ProviderConfig resolves model names to providers. Called once at startup;
// the result is passed by value to patch generation.
func (c *Config) ProviderConfig() (llm.ProviderConfig, error) {
	pc := llm.ProviderConfig{
		OllamaEndpoint: c.Models.OllamaEndpoint,
		APIKeys:        map[llm.Provider]string{},
	}
	if c.Providers.GeminiAPIKey != "" {
		pc.APIKeys[llm.ProviderGemini] = c.Providers.GeminiAPIKey
	}
	if c.Models.Local != "" {
		ref, err := llm.ResolveModel(c.Models.Local)
		if err != nil {
			return pc, fmt.Errorf("models.local: %w", err)
		}
		pc.Local = ref
	}
	if c.Models.Cloud != "" {
		ref, err := llm.ResolveModel(c.Models.Cloud)
		if err != nil {
			return pc, fmt.Errorf("models.cloud: %w", err)
		}
		pc.Cloud = ref
	}
	return pc, nil
}

// LoggingOptions converts the logging section for the logging package.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
		Categories: c.Logging.Categories,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.ProviderConfig(); err != nil {
		return err
	}
	switch c.History.Backend {
	case "", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid history backend: %s (valid: sqlite, memory)", c.History.Backend)
	}
	if c.Patch.SrcWindow < 0 || c.Patch.CSSWindow < 0 || c.Patch.LocalWindow < 0 || c.Patch.CloudWindow < 0 {
		return fmt.Errorf("patch windows must not be negative")
	}
	return nil
}

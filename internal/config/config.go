// Package config loads and persists SEA configuration from .sea/config.json.
// Missing files yield defaults; environment variables fill in API keys.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all SEA configuration.
type Config struct {
	// Core settings
	Name    string `json:"name"`
	Version string `json:"version"`

	// Workspace-relative data directory (stores, prompts, generated tools)
	DataDir string `json:"data_dir"`

	// LLM configuration
	LLM LLMConfig `json:"llm"`

	// Critic-Tuner evolution loop
	Evolution EvolutionConfig `json:"evolution"`

	// Automatic tool creation
	Codegen CodegenConfig `json:"codegen"`

	// Trace store
	Traces TracesConfig `json:"traces"`

	// Embedding-based spec dedup
	Embedding EmbeddingConfig `json:"embedding"`

	// Logging
	Logging LoggingConfig `json:"logging"`
}

// LLMConfig configures the completion client.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIKeyEnv   string  `json:"api_key_env"`
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url"`
	Timeout     string  `json:"timeout"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// EvolutionConfig configures the critic-tuner cycle.
type EvolutionConfig struct {
	ScoreThreshold float64 `json:"score_threshold"`
	NumProblems    int     `json:"num_problems"`
	MaxSuggestions int     `json:"max_suggestions"`
	RubricPath     string  `json:"rubric_path"`
	Concurrency    int     `json:"concurrency"`
}

// CodegenConfig configures tool generation and sandbox testing.
type CodegenConfig struct {
	MaxTestAttempts   int    `json:"max_test_attempts"`
	SandboxTimeout    string `json:"sandbox_timeout"`
	DeterminismPolicy string `json:"determinism_policy"` // warn or block
	ToolsDir          string `json:"tools_dir"`
}

// TracesConfig configures the trace store.
type TracesConfig struct {
	DatabasePath  string `json:"database_path"`
	RetentionDays int    `json:"retention_days"`
	MinFrequency  int    `json:"min_frequency"`
	FetchLimit    int    `json:"fetch_limit"`
}

// EmbeddingConfig configures spec similarity dedup.
type EmbeddingConfig struct {
	Enabled             bool    `json:"enabled"`
	Model               string  `json:"model"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Level      string          `json:"level"` // debug, info, warn, error
	Categories map[string]bool `json:"categories,omitempty"`
	JSONFormat bool            `json:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sea",
		Version: "1.0.0",
		DataDir: ".sea",

		LLM: LLMConfig{
			APIKeyEnv:   "GEMINI_API_KEY",
			Model:       "gemini-3-flash-preview",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Timeout:     "10m",
			MaxTokens:   65536,
			Temperature: 0.7,
		},

		Evolution: EvolutionConfig{
			ScoreThreshold: 0.85,
			NumProblems:    5,
			MaxSuggestions: 3,
			Concurrency:    4,
		},

		Codegen: CodegenConfig{
			MaxTestAttempts:   3,
			SandboxTimeout:    "30s",
			DeterminismPolicy: "warn",
			ToolsDir:          ".sea/tools/generated",
		},

		Traces: TracesConfig{
			DatabasePath:  ".sea/sea.db",
			RetentionDays: 30,
			MinFrequency:  2,
			FetchLimit:    50,
		},

		Embedding: EmbeddingConfig{
			Enabled:             false,
			Model:               "gemini-embedding-001",
			SimilarityThreshold: 0.92,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// ConfigDir returns the directory where config is stored.
// Prefers a project-local .sea directory, falls back to the home dir.
func ConfigDir() (string, error) {
	if cwd, err := os.Getwd(); err == nil {
		localDir := filepath.Join(cwd, ".sea")
		if stat, err := os.Stat(localDir); (err == nil && stat.IsDir()) || os.IsNotExist(err) {
			return localDir, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sea"), nil
}

// ConfigFile returns the full path to the config file
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from the given path, applying defaults for
// anything unset. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorkspace loads config from <workspace>/.sea/config.json.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".sea", "config.json"))
}

// Save writes the configuration to the given path, creating directories
// as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnv fills the API key from the configured environment variable
// when it is not set explicitly.
func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" && c.LLM.APIKeyEnv != "" {
		c.LLM.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Evolution.ScoreThreshold < 0 || c.Evolution.ScoreThreshold > 1 {
		return fmt.Errorf("evolution.score_threshold must be in [0,1], got %v", c.Evolution.ScoreThreshold)
	}
	if c.Evolution.NumProblems < 0 {
		return fmt.Errorf("evolution.num_problems must be non-negative")
	}
	if c.Codegen.MaxTestAttempts < 1 {
		return fmt.Errorf("codegen.max_test_attempts must be at least 1")
	}
	switch c.Codegen.DeterminismPolicy {
	case "warn", "block":
	default:
		return fmt.Errorf("codegen.determinism_policy must be %q or %q, got %q", "warn", "block", c.Codegen.DeterminismPolicy)
	}
	if c.Traces.MinFrequency < 1 {
		return fmt.Errorf("traces.min_frequency must be at least 1")
	}
	if _, err := c.SandboxTimeout(); err != nil {
		return fmt.Errorf("codegen.sandbox_timeout: %w", err)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	return nil
}

// SandboxTimeout parses the configured sandbox timeout.
func (c *Config) SandboxTimeout() (time.Duration, error) {
	if c.Codegen.SandboxTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.Codegen.SandboxTimeout)
}

// LLMTimeout parses the configured LLM request timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(c.LLM.Timeout)
}

// Package config defines the runtime configuration loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dylanbstorey/arawn/internal/subagent"
	"github.com/dylanbstorey/arawn/internal/workstream"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig              `yaml:"server"`
	LLM           LLMConfig                 `yaml:"llm"`
	Session       SessionConfig             `yaml:"session"`
	Recall        RecallConfig              `yaml:"recall"`
	Compaction    subagent.CompactionConfig `yaml:"compaction"`
	Workstream    WorkstreamConfig          `yaml:"workstream"`
	Memory        MemoryConfig              `yaml:"memory"`
	Indexing      IndexingConfig            `yaml:"indexing"`
	Tools         ToolsConfig               `yaml:"tools"`
	Subscriptions []SubscriptionConfig      `yaml:"subscriptions"`
	Logging       LoggingConfig             `yaml:"logging"`
}

// ServerConfig configures the WebSocket server.
type ServerConfig struct {
	// Bind is the listen address, e.g. "127.0.0.1:7700".
	Bind string `yaml:"bind"`
	// Token, when set, overrides both loopback detection and the persisted
	// server-token file.
	Token string `yaml:"token"`
	// WSConnectionsPerMinute caps connection attempts per source IP.
	WSConnectionsPerMinute int `yaml:"ws_connections_per_minute"`
	// ReconnectGraceSecs is how long a dropped owner's reservation survives.
	ReconnectGraceSecs int `yaml:"reconnect_grace_secs"`
}

// ModelConfig describes one model the runtime may use.
type ModelConfig struct {
	ID string `yaml:"id"`
	// MaxContextTokens is required: the engine compares its running token
	// estimate against it.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// LLMConfig configures the backend and model profiles.
type LLMConfig struct {
	// Backend selects the provider implementation ("anthropic").
	Backend string `yaml:"backend"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`
	// Models lists the known models.
	Models []ModelConfig `yaml:"models"`
	// Profiles maps roles to model ids. "chat" drives conversation;
	// "indexing" drives extraction and is typically cheaper.
	Profiles map[string]string `yaml:"profiles"`
}

// ModelByID looks up a model's configuration.
func (c *LLMConfig) ModelByID(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// SessionConfig configures the cache and the turn loop.
type SessionConfig struct {
	MaxSessions         int `yaml:"max_sessions"`
	CleanupIntervalSecs int `yaml:"cleanup_interval_secs"`
	MaxIterations       int `yaml:"max_iterations"`
	MaxTokens           int `yaml:"max_tokens"`
}

// RecallConfig configures active recall.
type RecallConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Limit     int     `yaml:"limit"`
	Threshold float32 `yaml:"threshold"`
}

// WorkstreamConfig configures the directory layout and disk accounting.
type WorkstreamConfig struct {
	BasePath string                 `yaml:"base_path"`
	Usage    workstream.UsageConfig `yaml:"usage"`
}

// MemoryConfig configures the vector memory store.
type MemoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	GraphPath string `yaml:"graph_path"`
	Dimension int    `yaml:"dimension"`
}

// IndexingConfig configures the session indexer.
type IndexingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Profile names the LLM profile used for extraction. Default: "indexing",
	// falling back to "chat".
	Profile string `yaml:"profile"`
	// NERConfidenceThreshold filters span-based entities.
	NERConfidenceThreshold float32 `yaml:"ner_confidence_threshold"`
}

// ToolOutputConfig overrides one tool's output budget.
type ToolOutputConfig struct {
	MaxSizeBytes int `yaml:"max_size_bytes"`
}

// ToolsConfig configures the tool framework.
type ToolsConfig struct {
	// Output maps tool names to output-budget overrides.
	Output map[string]ToolOutputConfig `yaml:"output"`
	// ShellTimeoutSecs is the default shell timeout.
	ShellTimeoutSecs int `yaml:"shell_timeout_secs"`
}

// SubscriptionConfig is one plugin/subagent-config source.
type SubscriptionConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	Ref string `yaml:"ref"`
	// TimeoutSecs bounds git operations for this source. Default: 30.
	TimeoutSecs int `yaml:"timeout_secs"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`
	// Format is text or json. Default: text.
	Format string `yaml:"format"`
	// InteractionLog, when set, records every LLM exchange to this JSONL file.
	InteractionLog string `yaml:"interaction_log"`
}

// Default returns a runnable local configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:                   "127.0.0.1:7700",
			WSConnectionsPerMinute: 30,
			ReconnectGraceSecs:     60,
		},
		Session: SessionConfig{
			MaxSessions:         128,
			CleanupIntervalSecs: 300,
			MaxIterations:       10,
			MaxTokens:           4096,
		},
		Recall: RecallConfig{
			Enabled:   true,
			Limit:     5,
			Threshold: 0.3,
		},
		Compaction: subagent.DefaultCompactionConfig(),
		Workstream: WorkstreamConfig{
			Usage: workstream.DefaultUsageConfig(),
		},
		Indexing: IndexingConfig{
			Enabled: true,
			Profile: "indexing",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates a YAML config file. An empty path yields the
// defaults; a path that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the startup-fatal rules: a backend must be configured,
// every model needs max_context_tokens, and every profile must resolve to a
// known model.
func (c *Config) Validate() error {
	if c.LLM.Backend == "" {
		return fmt.Errorf("config: llm.backend is required")
	}
	for _, m := range c.LLM.Models {
		if m.ID == "" {
			return fmt.Errorf("config: model entry missing id")
		}
		if m.MaxContextTokens <= 0 {
			return fmt.Errorf("config: model %s missing max_context_tokens", m.ID)
		}
	}
	for profile, modelID := range c.LLM.Profiles {
		if _, ok := c.LLM.ModelByID(modelID); !ok {
			return fmt.Errorf("config: profile %q references unknown model %q", profile, modelID)
		}
	}
	return nil
}

// ProfileModel resolves a profile to its model config, falling back to "chat".
func (c *Config) ProfileModel(profile string) (ModelConfig, error) {
	id, ok := c.LLM.Profiles[profile]
	if !ok {
		id, ok = c.LLM.Profiles["chat"]
		if !ok {
			return ModelConfig{}, fmt.Errorf("config: no model profile %q and no chat fallback", profile)
		}
	}
	model, ok := c.LLM.ModelByID(id)
	if !ok {
		return ModelConfig{}, fmt.Errorf("config: profile %q references unknown model %q", profile, id)
	}
	return model, nil
}

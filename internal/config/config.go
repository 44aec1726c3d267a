// Package config provides configuration types and defaults for agentflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AgentCoreConfig holds connection settings for the AgentCore backend.
type AgentCoreConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkflowConfig holds the polling behavior shared by all workflow kinds.
type WorkflowConfig struct {
	// Backoff is the fixed increasing poll-delay sequence.
	Backoff []time.Duration `mapstructure:"backoff"`
	// Ceiling is the maximum wall-clock polling duration per run.
	Ceiling time.Duration `mapstructure:"ceiling"`
	// HistoryCapacity bounds the per-unit history list.
	HistoryCapacity int `mapstructure:"history_capacity"`
}

// StoreConfig holds local persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database location. When the database cannot be
	// opened, agentflow degrades to a memory-only store.
	DBPath string `mapstructure:"db_path"`
}

// WatchConfig holds drop-directory import watcher settings.
type WatchConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter string `mapstructure:"exporter"`
	// Endpoint is the OTLP gRPC endpoint, e.g. "localhost:4317".
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config holds all configuration options for agentflow.
type Config struct {
	AgentCore AgentCoreConfig `mapstructure:"agentcore"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Store     StoreConfig     `mapstructure:"store"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".agentflow")
	return Config{
		AgentCore: AgentCoreConfig{
			BaseURL:        "http://localhost:8787",
			RequestTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			Backoff: []time.Duration{
				10 * time.Second, 15 * time.Second, 20 * time.Second,
				30 * time.Second, 60 * time.Second,
			},
			Ceiling:         45 * time.Minute,
			HistoryCapacity: 4,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(base, "agentflow.db"),
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter: "stdout",
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(base, "agentflow.log"),
		},
	}
}

// Validate checks the configuration for errors and clamps soft limits.
func (c *Config) Validate() error {
	if c.AgentCore.BaseURL == "" {
		return fmt.Errorf("agentcore.base_url is required")
	}
	if c.AgentCore.RequestTimeout <= 0 {
		return fmt.Errorf("agentcore.request_timeout must be positive: %v", c.AgentCore.RequestTimeout)
	}
	if c.Workflow.Ceiling <= 0 {
		return fmt.Errorf("workflow.ceiling must be positive: %v", c.Workflow.Ceiling)
	}
	if len(c.Workflow.Backoff) == 0 {
		return fmt.Errorf("workflow.backoff must not be empty")
	}
	var prev time.Duration
	for i, d := range c.Workflow.Backoff {
		if d <= 0 {
			return fmt.Errorf("workflow.backoff[%d] must be positive: %v", i, d)
		}
		if d < prev {
			return fmt.Errorf("workflow.backoff[%d] decreases: %v < %v", i, d, prev)
		}
		prev = d
	}
	if c.Workflow.HistoryCapacity < 1 {
		c.Workflow.HistoryCapacity = 1
	}
	if c.Workflow.HistoryCapacity > 16 {
		c.Workflow.HistoryCapacity = 16
	}
	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter must be \"stdout\" or \"otlp\": %q", c.Telemetry.Exporter)
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# agentflow configuration

# AgentCore backend connection
agentcore:
  base_url: http://localhost:8787
  # token: <bearer token>
  request_timeout: 30s

# Polling behavior for long-running operations
workflow:
  # Fixed increasing delays between status checks; the last value holds.
  backoff: [10s, 15s, 20s, 30s, 60s]
  # Maximum total wall-clock time to keep polling one operation.
  ceiling: 45m
  # How many past results to keep per course/episode (1-16).
  history_capacity: 4

# Local persistence (falls back to memory-only if unavailable)
store:
  # db_path: ~/.agentflow/agentflow.db

# Drop-directory watcher for 'agentflow watch'
watch:
  # dir: /path/to/inbox
  debounce: 2s

# Tracing
telemetry:
  enabled: false
  exporter: stdout   # stdout | otlp
  # endpoint: localhost:4317

# Logging (file-based; never written to the terminal)
log:
  level: info
  # file: ~/.agentflow/agentflow.log
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

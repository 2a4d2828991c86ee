// Package config handles ralphd configuration loading and validation.
// Configuration lives at .ralph/config.yaml inside the target workspace.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ralphd/internal/fsutil"
)

// Config holds all ralphd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Plan execution settings
	Plan PlanConfig `yaml:"plan"`

	// Worker (LLM coding agent) configuration
	Worker WorkerConfig `yaml:"worker"`

	// Prompt/context assembly
	Context ContextConfig `yaml:"context"`

	// Knowledge catalog compaction
	Compaction CompactionConfig `yaml:"compaction"`

	// Operator control plane
	Control ControlConfig `yaml:"control"`

	// Dashboard HTTP server
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Telemetry event log
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PlanConfig configures plan execution.
type PlanConfig struct {
	Path              string `yaml:"path"`               // Plan YAML file, relative to workspace
	MaxIterations     int    `yaml:"max_iterations"`     // Hard cap on loop iterations (0 = unlimited)
	DefaultMaxRetries int    `yaml:"default_max_retries"` // Attempt budget for tasks that don't set one
	ValidationCommand string `yaml:"validation_command"` // Shell command run after each worker pass
	ValidationTimeout string `yaml:"validation_timeout"`
}

// WorkerConfig configures the worker invocation.
type WorkerConfig struct {
	Provider string `yaml:"provider"` // claude-cli, gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"` // Only used by the gemini provider
	Timeout  string `yaml:"timeout"`
}

// ContextConfig configures the context assembler.
type ContextConfig struct {
	Mode                string `yaml:"mode"`                  // minimal or rich
	MinimalBudgetTokens int    `yaml:"minimal_budget_tokens"` // Budget for minimal mode
	RichBudgetTokens    int    `yaml:"rich_budget_tokens"`    // Budget for rich mode (fits the inlined catalog)
	SkillsDir           string `yaml:"skills_dir"`            // Directory of skill/convention markdown files
}

// CompactionConfig configures catalog refresh triggers.
type CompactionConfig struct {
	NoveltyThreshold float64 `yaml:"novelty_threshold"` // Term-overlap ratio below which a refresh fires
	NoveltyWindow    int     `yaml:"novelty_window"`    // How many recent handoffs the overlap is computed against
	ByteThreshold    int     `yaml:"byte_threshold"`    // Accumulated handoff bytes that force a refresh
	PeriodicInterval int     `yaml:"periodic_interval"` // Iterations between forced refreshes
}

// ControlConfig configures the operator control plane.
type ControlConfig struct {
	PollInterval string `yaml:"poll_interval"` // Fallback poll cadence when fsnotify is unavailable
}

// DashboardConfig configures the dashboard HTTP server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// TelemetryConfig configures the event log.
type TelemetryConfig struct {
	DatabasePath string `yaml:"database_path"` // SQLite file, relative to workspace
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ralphd",
		Version: "1.0.0",

		Plan: PlanConfig{
			Path:              ".ralph/plan.yaml",
			MaxIterations:     100,
			DefaultMaxRetries: 3,
			ValidationCommand: "",
			ValidationTimeout: "600s",
		},

		Worker: WorkerConfig{
			Provider: "claude-cli",
			Model:    "sonnet",
			Timeout:  "1800s",
		},

		Context: ContextConfig{
			Mode:                "rich",
			MinimalBudgetTokens: 12000,
			RichBudgetTokens:    24000,
			SkillsDir:           ".ralph/skills",
		},

		Compaction: CompactionConfig{
			NoveltyThreshold: 0.25,
			NoveltyWindow:    3,
			ByteThreshold:    65536,
			PeriodicInterval: 10,
		},

		Control: ControlConfig{
			PollInterval: "2s",
		},

		Dashboard: DashboardConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8734,
		},

		Telemetry: TelemetryConfig{
			DatabasePath: ".ralph/telemetry.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file with atomic replace; the
// dashboard rewrites it while other commands may be reading.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies RALPHD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RALPHD_WORKER_PROVIDER"); v != "" {
		c.Worker.Provider = v
	}
	if v := os.Getenv("RALPHD_WORKER_MODEL"); v != "" {
		c.Worker.Model = v
	}
	if v := os.Getenv("RALPHD_WORKER_API_KEY"); v != "" {
		c.Worker.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Worker.APIKey == "" {
		c.Worker.APIKey = v
	}
	if v := os.Getenv("RALPHD_CONTEXT_MODE"); v != "" {
		c.Context.Mode = v
	}
	if v := os.Getenv("RALPHD_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Plan.MaxIterations = n
		}
	}
	if v := os.Getenv("RALPHD_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetWorkerTimeout parses the worker timeout duration.
func (c *Config) GetWorkerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Worker.Timeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetValidationTimeout parses the validation timeout duration.
func (c *Config) GetValidationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Plan.ValidationTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetControlPollInterval parses the control poll interval.
func (c *Config) GetControlPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Control.PollInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ContextBudget returns the token budget for the configured context mode.
func (c *Config) ContextBudget() int {
	if c.Context.Mode == "minimal" {
		return c.Context.MinimalBudgetTokens
	}
	return c.Context.RichBudgetTokens
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Worker.Provider {
	case "claude-cli", "gemini":
	default:
		return fmt.Errorf("unknown worker provider: %q", c.Worker.Provider)
	}

	switch c.Context.Mode {
	case "minimal", "rich":
	default:
		return fmt.Errorf("unknown context mode: %q (want minimal or rich)", c.Context.Mode)
	}

	if c.Context.MinimalBudgetTokens <= 0 || c.Context.RichBudgetTokens <= 0 {
		return fmt.Errorf("context budgets must be positive")
	}

	if c.Compaction.NoveltyThreshold < 0 || c.Compaction.NoveltyThreshold > 1 {
		return fmt.Errorf("novelty threshold must be in [0,1], got %v", c.Compaction.NoveltyThreshold)
	}

	if c.Plan.DefaultMaxRetries < 1 {
		return fmt.Errorf("default_max_retries must be at least 1")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port < 1 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard port out of range: %d", c.Dashboard.Port)
	}

	return nil
}

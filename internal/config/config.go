package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidModel is returned when a model file is malformed.
	ErrInvalidModel = errors.New("invalid model")
)

// Config holds porchlight runtime settings.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Step execution
	Engine EngineConfig `yaml:"engine"`

	// Step history recording
	Store StoreConfig `yaml:"store"`

	// File watching for `porch run --watch`
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures adapters and steps.
type EngineConfig struct {
	DefaultSteps    int      `yaml:"default_steps"`
	StepTimeout     string   `yaml:"step_timeout"` // "" or "0s" means no timeout
	StrictTypes     bool     `yaml:"strict_types"`
	AllowedPackages []string `yaml:"allowed_packages"` // imports model source may use
}

// StoreConfig configures the SQLite step recorder.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig configures model file watching.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "porchlight",
		Version: "0.3.0",

		Engine: EngineConfig{
			DefaultSteps: 1,
			AllowedPackages: []string{
				"context", "errors", "fmt", "math", "math/rand",
				"sort", "strconv", "strings", "time",
			},
		},

		Store: StoreConfig{
			DatabasePath: ".porchlight/history.db",
		},

		Watch: WatchConfig{
			Debounce: "300ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
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

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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
	if level := os.Getenv("PORCHLIGHT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if debug := os.Getenv("PORCHLIGHT_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = on
		}
	}

	// Database path from environment turns recording on
	if path := os.Getenv("PORCHLIGHT_DB"); path != "" {
		c.Store.DatabasePath = path
		c.Store.Enabled = true
	}
}

// GetStepTimeout returns the per-step timeout, or 0 for none.
func (c *Config) GetStepTimeout() time.Duration {
	if c.Engine.StepTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Engine.StepTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetDebounce returns the watch debounce interval.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return 300 * time.Millisecond
	}
	return d
}

// ValidLogLevels lists accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.DefaultSteps < 0 {
		return fmt.Errorf("%w: engine.default_steps must not be negative (got %d)", ErrInvalidConfig, c.Engine.DefaultSteps)
	}
	if c.Engine.StepTimeout != "" {
		if d, err := time.ParseDuration(c.Engine.StepTimeout); err != nil || d < 0 {
			return fmt.Errorf("%w: engine.step_timeout %q", ErrInvalidConfig, c.Engine.StepTimeout)
		}
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("%w: watch.debounce %q", ErrInvalidConfig, c.Watch.Debounce)
		}
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("%w: store enabled without database_path", ErrInvalidConfig)
	}

	validLevel := false
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("%w: invalid log level: %s (valid: %v)", ErrInvalidConfig, c.Logging.Level, ValidLogLevels)
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Engine.DefaultSteps)
	assert.Equal(t, 300*time.Millisecond, cfg.GetDebounce())
	assert.Zero(t, cfg.GetStepTimeout())
	assert.False(t, cfg.Store.Enabled)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Name, cfg.Name)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "porchlight.yaml")
	cfg := DefaultConfig()
	cfg.Engine.DefaultSteps = 25
	cfg.Engine.StepTimeout = "2s"
	cfg.Logging.Categories = map[string]bool{"mediator": true, "cell": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Engine.DefaultSteps)
	assert.Equal(t, 2*time.Second, loaded.GetStepTimeout())
	assert.Equal(t, cfg.Logging.Categories, loaded.Logging.Categories)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("log level", func(t *testing.T) {
		t.Setenv("PORCHLIGHT_LOG_LEVEL", "debug")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("debug toggle", func(t *testing.T) {
		t.Setenv("PORCHLIGHT_DEBUG", "true")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Logging.DebugMode)
	})

	t.Run("unparsable debug is ignored", func(t *testing.T) {
		t.Setenv("PORCHLIGHT_DEBUG", "sometimes")
		cfg := DefaultConfig()
		cfg.Logging.DebugMode = true
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Logging.DebugMode)
	})

	t.Run("database path enables store", func(t *testing.T) {
		t.Setenv("PORCHLIGHT_DB", "/tmp/runs.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/runs.db", cfg.Store.DatabasePath)
		assert.True(t, cfg.Store.Enabled)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative steps", func(c *Config) { c.Engine.DefaultSteps = -1 }},
		{"bad timeout", func(c *Config) { c.Engine.StepTimeout = "soon" }},
		{"negative timeout", func(c *Config) { c.Engine.StepTimeout = "-1s" }},
		{"bad debounce", func(c *Config) { c.Watch.Debounce = "often" }},
		{"store without path", func(c *Config) { c.Store.Enabled = true; c.Store.DatabasePath = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoggingOptions(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Format: "json", DebugMode: true, Categories: map[string]bool{"cell": false}}
	opts := lc.Options()
	assert.True(t, opts.JSONFormat)
	assert.True(t, opts.DebugMode)
	assert.Equal(t, "debug", opts.Level)

	assert.False(t, lc.IsCategoryEnabled("cell"))
	assert.True(t, lc.IsCategoryEnabled("mediator"))

	lc.DebugMode = false
	assert.False(t, lc.IsCategoryEnabled("mediator"))
}

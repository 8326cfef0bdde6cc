package fieldform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig tests that the default configuration is valid and carries
// sensible values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "fieldform.sqlite", cfg.Storage.Path)
	assert.Equal(t, 1, cfg.Storage.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, 1, cfg.Sync.SchemaVersion)
	assert.Equal(t, 30*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, DefaultAutoSaveInterval, cfg.Autosave.DefaultInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

// TestConfigValidate tests that each misconfigured field is reported by name.
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"zero open conns", func(c *Config) { c.Storage.MaxOpenConns = 0 }, "storage.maxOpenConns"},
		{"zero request timeout", func(c *Config) { c.Sync.RequestTimeout = 0 }, "sync.requestTimeout"},
		{"zero autosave interval", func(c *Config) { c.Autosave.DefaultInterval = 0 }, "autosave.defaultInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

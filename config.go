package fieldform

import (
	"time"
)

// Config consolidates engine settings across storage, sync and autosave.
type Config struct {
	Storage  StorageConfig  `json:"storage"`
	Sync     SyncConfig     `json:"sync"`
	Autosave AutosaveConfig `json:"autosave"`
	Assets   AssetConfig    `json:"assets"`
	Logging  LoggingConfig  `json:"logging"`
}

// StorageConfig contains local database settings
type StorageConfig struct {
	Path            string        `json:"path"`
	BusyTimeout     time.Duration `json:"busyTimeout"`
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
}

// SyncConfig contains remote reconciliation settings
type SyncConfig struct {
	BaseURL        string        `json:"baseUrl"`
	SchemaVersion  int           `json:"schemaVersion"`
	RequestTimeout time.Duration `json:"requestTimeout"`
	// Interval between scheduled sync passes; 0 disables scheduling and
	// leaves sync manual-only.
	Interval time.Duration `json:"interval"`
}

// AutosaveConfig contains draft autosave settings
type AutosaveConfig struct {
	// DefaultInterval applies when a form enables autosave without naming
	// its own interval.
	DefaultInterval time.Duration `json:"defaultInterval"`
}

// AssetConfig contains media upload settings
type AssetConfig struct {
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"` // S3-compatible endpoint override
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:            "fieldform.sqlite",
			BusyTimeout:     5 * time.Second,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Sync: SyncConfig{
			SchemaVersion:  1,
			RequestTimeout: 30 * time.Second,
		},
		Autosave: AutosaveConfig{
			DefaultInterval: DefaultAutoSaveInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return &ConfigError{Field: "storage.path", Message: "must not be empty"}
	}
	if c.Storage.MaxOpenConns <= 0 {
		return &ConfigError{Field: "storage.maxOpenConns", Message: "must be greater than 0"}
	}
	if c.Sync.RequestTimeout <= 0 {
		return &ConfigError{Field: "sync.requestTimeout", Message: "must be greater than 0"}
	}
	if c.Autosave.DefaultInterval <= 0 {
		return &ConfigError{Field: "autosave.defaultInterval", Message: "must be greater than 0"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}

// Package config implements TOML configuration loading and validation for
// daybook-sync. Defaults are filled for anything the file leaves unset, so an
// empty file (or no file at all) yields a runnable configuration pointed at
// the default data directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Load when the file leaves a field unset.
const (
	DefaultCollection    = "journal_entries"
	DefaultBatchSize     = 5
	DefaultConcurrency   = 3
	DefaultRetentionDays = 7

	defaultSyncInterval       = 5 * time.Minute
	defaultStabilizationDelay = 1 * time.Second
	defaultErrorRetryDelay    = 5 * time.Second
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	// DBPath is the SQLite database location. Defaults to
	// $XDG_DATA_HOME/daybook/sync.db (or ~/.local/share/daybook/sync.db).
	DBPath string `toml:"db_path"`

	// RemoteBaseURL is the document store endpoint.
	RemoteBaseURL string `toml:"remote_base_url"`

	// Collection is the remote collection holding journal entries.
	Collection string `toml:"collection"`

	// OwnerID identifies the authenticated user whose entries sync.
	OwnerID string `toml:"owner_id"`

	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Exports ExportsConfig `toml:"exports"`
}

// SyncConfig controls scheduler behavior: timers, batch sizing, and how long
// synced rows are retained before garbage collection.
type SyncConfig struct {
	Interval           string `toml:"interval"`
	StabilizationDelay string `toml:"stabilization_delay"`
	ErrorRetryDelay    string `toml:"error_retry_delay"`
	BatchSize          int    `toml:"batch_size"`
	Concurrency        int    `toml:"concurrency"`
	RetentionDays      int    `toml:"retention_days"`
	ProbeURL           string `toml:"probe_url"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "text", "json", or "" for auto
}

// ExportsConfig holds the optional third-party integrations. An integration
// with an empty container ID is disconnected.
type ExportsConfig struct {
	Notion   NotionConfig `toml:"notion"`
	Calendar GcalConfig   `toml:"google_calendar"`
}

// NotionConfig links a Notion workspace database.
type NotionConfig struct {
	DatabaseID string `toml:"database_id"`
	TokenPath  string `toml:"token_path"`
}

// GcalConfig links a Google Calendar.
type GcalConfig struct {
	CalendarID string `toml:"calendar_id"`
	TokenPath  string `toml:"token_path"`
}

// Load reads the config file at path, or defaults when path is empty and the
// default location does not exist. Unknown keys are rejected to catch typos.
func Load(path string) (*Config, error) {
	explicit := path != ""

	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := &Config{}

	meta, err := toml.DecodeFile(path, cfg)
	switch {
	case err == nil:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file is fine; run on defaults.
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/daybook/config.toml, falling
// back to ~/.config/daybook/config.toml.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}

		base = filepath.Join(home, ".config")
	}

	return filepath.Join(base, "daybook", "config.toml")
}

// DefaultDBPath returns $XDG_DATA_HOME/daybook/sync.db, falling back to
// ~/.local/share/daybook/sync.db.
func DefaultDBPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}

		base = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(base, "daybook", "sync.db")
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}

	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	if cfg.Sync.Interval == "" {
		cfg.Sync.Interval = defaultSyncInterval.String()
	}

	if cfg.Sync.StabilizationDelay == "" {
		cfg.Sync.StabilizationDelay = defaultStabilizationDelay.String()
	}

	if cfg.Sync.ErrorRetryDelay == "" {
		cfg.Sync.ErrorRetryDelay = defaultErrorRetryDelay.String()
	}

	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = DefaultBatchSize
	}

	if cfg.Sync.Concurrency <= 0 {
		cfg.Sync.Concurrency = DefaultConcurrency
	}

	if cfg.Sync.RetentionDays <= 0 {
		cfg.Sync.RetentionDays = DefaultRetentionDays
	}
}

func validate(cfg *Config) error {
	for _, field := range []struct {
		name, value string
	}{
		{"sync.interval", cfg.Sync.Interval},
		{"sync.stabilization_delay", cfg.Sync.StabilizationDelay},
		{"sync.error_retry_delay", cfg.Sync.ErrorRetryDelay},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}

	return nil
}

// SyncInterval returns the parsed scheduler interval. Validation in Load
// guarantees the parse succeeds.
func (c *Config) SyncInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.Interval)
	return d
}

// StabilizationDelay returns the parsed reconnect-stabilization delay.
func (c *Config) StabilizationDelay() time.Duration {
	d, _ := time.ParseDuration(c.Sync.StabilizationDelay)
	return d
}

// ErrorRetryDelay returns the parsed post-error retry delay.
func (c *Config) ErrorRetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Sync.ErrorRetryDelay)
	return d
}

// Retention returns the synced-row retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

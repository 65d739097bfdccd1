package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	// Point the default path at an empty directory.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultCollection, cfg.Collection)
	assert.Equal(t, DefaultBatchSize, cfg.Sync.BatchSize)
	assert.Equal(t, DefaultConcurrency, cfg.Sync.Concurrency)
	assert.Equal(t, 7, cfg.Sync.RetentionDays)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.Equal(t, time.Second, cfg.StabilizationDelay())
	assert.Equal(t, 5*time.Second, cfg.ErrorRetryDelay())
	assert.Contains(t, cfg.DBPath, "daybook")
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load("/nonexistent/config.toml")
	assert.Error(t, err)
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
db_path = "/tmp/test.db"
remote_base_url = "https://api.example.com/v1"
collection = "entries"
owner_id = "u1"

[sync]
interval = "10m"
stabilization_delay = "2s"
error_retry_delay = "15s"
batch_size = 10
concurrency = 4
retention_days = 14

[logging]
log_level = "debug"
log_format = "json"

[exports.notion]
database_id = "db-1"

[exports.google_calendar]
calendar_id = "cal-1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "https://api.example.com/v1", cfg.RemoteBaseURL)
	assert.Equal(t, "entries", cfg.Collection)
	assert.Equal(t, "u1", cfg.OwnerID)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 2*time.Second, cfg.StabilizationDelay())
	assert.Equal(t, 15*time.Second, cfg.ErrorRetryDelay())
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 14*24*time.Hour, cfg.Retention())
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "db-1", cfg.Exports.Notion.DatabaseID)
	assert.Equal(t, "cal-1", cfg.Exports.Calendar.CalendarID)
}

func TestLoad_PartialConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
remote_base_url = "https://api.example.com/v1"
owner_id = "u1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultCollection, cfg.Collection)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.NotEmpty(t, cfg.DBPath)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `remote_base_uri = "typo"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoad_RejectsBadDurations(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[sync]
interval = "five minutes"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultPaths_RespectXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	assert.Equal(t, "/custom/config/daybook/config.toml", DefaultConfigPath())
	assert.Equal(t, "/custom/data/daybook/sync.db", DefaultDBPath())
}

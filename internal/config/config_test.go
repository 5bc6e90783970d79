package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"CONFIG_FILE", "APP_ENV", "LISTEN_ADDR", "DATABASE_URL", "MIGRATE_ON_START", "LOG_LEVEL",
		"LOG_FORMAT", "BULK_CONCURRENCY", "EXPORT_WORKERS", "EXPORT_SYNC_ROW_LIMIT",
		"EXPORT_REJECT_ROW_LIMIT", "EXPORT_SYNC_TIMEOUT", "EXPORT_POLL_INTERVAL", "EXPORT_STALE_AFTER",
		"EXPORT_RETENTION", "BLOB_DSN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaultsWithoutDatabase(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.ErrorIs(t, err, ErrNoDatabase)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1000, cfg.Export.SyncRowLimit)
	assert.Equal(t, 100000, cfg.Export.RejectRowLimit)
	assert.Equal(t, 10*time.Second, cfg.Export.SyncTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
database_url: postgres://file
log_format: json
export:
  sync_row_limit: 50
  reject_row_limit: 500
  sync_timeout: 3s
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("EXPORT_WORKERS", "6")
	t.Setenv("EXPORT_SYNC_TIMEOUT", "bogus")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 50, cfg.Export.SyncRowLimit)
	assert.Equal(t, 500, cfg.Export.RejectRowLimit)
	assert.Equal(t, 3*time.Second, cfg.Export.SyncTimeout)
	assert.Equal(t, 6, cfg.Export.Workers)
}

func TestRejectsInvertedExportLimits(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("EXPORT_SYNC_ROW_LIMIT", "10")
	t.Setenv("EXPORT_REJECT_ROW_LIMIT", "5")
	_, err := Load()
	require.Error(t, err)
}

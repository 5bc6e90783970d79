package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoDatabase is returned alongside an otherwise usable Config when
// DATABASE_URL is unset; callers fall back to the in-memory store.
var ErrNoDatabase = errors.New("DATABASE_URL not set")

type Config struct {
	Env         string `yaml:"env"`
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
	Migrate     bool   `yaml:"migrate_on_start"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	BulkConcurrency int `yaml:"bulk_concurrency"`

	Export ExportConfig `yaml:"export"`
}

type ExportConfig struct {
	Workers        int           `yaml:"workers"`
	SyncRowLimit   int           `yaml:"sync_row_limit"`
	RejectRowLimit int           `yaml:"reject_row_limit"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	BlobDSN        string        `yaml:"blob_dsn"`
	Retention      time.Duration `yaml:"retention"` // how long finished export files are kept
}

func defaults() Config {
	return Config{
		Env:             "development",
		ListenAddr:      ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		BulkConcurrency: 8,
		Export: ExportConfig{
			Workers:        2,
			SyncRowLimit:   1000,
			RejectRowLimit: 100000,
			SyncTimeout:    10 * time.Second,
			PollInterval:   500 * time.Millisecond,
			StaleAfter:     15 * time.Minute,
			BlobDSN:        "file:exports.db",
			Retention:      72 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if any, then environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.ListenAddr = getenv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Migrate = getenvBool("MIGRATE_ON_START", cfg.Migrate)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("LOG_FORMAT", cfg.LogFormat)
	cfg.BulkConcurrency = getenvInt("BULK_CONCURRENCY", cfg.BulkConcurrency)
	cfg.Export.Workers = getenvInt("EXPORT_WORKERS", cfg.Export.Workers)
	cfg.Export.SyncRowLimit = getenvInt("EXPORT_SYNC_ROW_LIMIT", cfg.Export.SyncRowLimit)
	cfg.Export.RejectRowLimit = getenvInt("EXPORT_REJECT_ROW_LIMIT", cfg.Export.RejectRowLimit)
	cfg.Export.SyncTimeout = getenvDuration("EXPORT_SYNC_TIMEOUT", cfg.Export.SyncTimeout)
	cfg.Export.PollInterval = getenvDuration("EXPORT_POLL_INTERVAL", cfg.Export.PollInterval)
	cfg.Export.StaleAfter = getenvDuration("EXPORT_STALE_AFTER", cfg.Export.StaleAfter)
	cfg.Export.BlobDSN = getenv("BLOB_DSN", cfg.Export.BlobDSN)
	cfg.Export.Retention = getenvDuration("EXPORT_RETENTION", cfg.Export.Retention)

	if cfg.Export.RejectRowLimit < cfg.Export.SyncRowLimit {
		return cfg, fmt.Errorf("export reject limit %d is below the sync limit %d", cfg.Export.RejectRowLimit, cfg.Export.SyncRowLimit)
	}
	if cfg.DatabaseURL == "" {
		return cfg, ErrNoDatabase
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.ParseBool(v); err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(v); err == nil {
			return out
		}
	}
	return def
}

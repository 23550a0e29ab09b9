// Package config handles application configuration and environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"dispatchd/internal/domain"
)

// Config holds the server configuration. Server-level settings come from
// environment variables; the database roster comes from a YAML file.
type Config struct {
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	MetaDBPath    string // path to the SQLite query-journal file; empty disables journaling
	DatabasesFile string // path to the YAML database roster (default "databases.yaml")

	HeartbeatInterval   time.Duration // connection health check cadence (default 30s)
	PollInterval        time.Duration // worker idle poll (default 1s)
	RetireAfter         time.Duration // worker idle grace before retirement; 0 keeps workers forever
	QueueDepth          int           // per-queue FIFO capacity (default 256)
	DefaultQueryTimeout time.Duration // pending-result lifetime (default 30s)
	CleanupInterval     time.Duration // expired-result sweep cadence (default 10s)
	JournalRetention    time.Duration // journal prune horizon (default 7 days)
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadFromEnv loads the server configuration from environment variables,
// applying defaults for anything unset.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		MetaDBPath:    os.Getenv("META_DB_PATH"),
		DatabasesFile: os.Getenv("DATABASES_FILE"),

		HeartbeatInterval:   parseDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		PollInterval:        parseDurationEnv("POLL_INTERVAL", time.Second),
		RetireAfter:         parseDurationEnv("WORKER_RETIRE_AFTER", 0),
		QueueDepth:          parseIntEnv("QUEUE_DEPTH", 256),
		DefaultQueryTimeout: parseDurationEnv("DEFAULT_QUERY_TIMEOUT", 30*time.Second),
		CleanupInterval:     parseDurationEnv("CLEANUP_INTERVAL", 10*time.Second),
		JournalRetention:    parseDurationEnv("JOURNAL_RETENTION", 7*24*time.Hour),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DatabasesFile == "" {
		cfg.DatabasesFile = "databases.yaml"
	}

	if cfg.QueueDepth <= 0 {
		return nil, domain.ErrConfiguration("QUEUE_DEPTH must be positive")
	}
	return cfg, nil
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func parseIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DatabaseConfig describes one dispatched database in the roster file.
type DatabaseConfig struct {
	Name               string   `yaml:"name"`
	Engine             string   `yaml:"engine"`
	DSN                string   `yaml:"dsn"`
	Workers            []string `yaml:"workers"`
	AutoMigrate        bool     `yaml:"auto_migrate"`
	MigrationsDir      string   `yaml:"migrations_dir"`
	MigrationThreshold int64    `yaml:"migration_threshold"`
}

// Validate checks that a database entry is internally consistent.
func (d *DatabaseConfig) Validate() error {
	if d.Name == "" {
		return domain.ErrConfiguration("database entry is missing a name")
	}
	if d.Engine == "" {
		return domain.ErrConfiguration("database %q is missing an engine", d.Name)
	}
	for _, w := range d.Workers {
		if !domain.ValidWorkerWorkload(w) {
			return domain.ErrConfiguration("database %q: unknown worker queue type %q", d.Name, w)
		}
	}
	if d.AutoMigrate && d.MigrationsDir == "" {
		return domain.ErrConfiguration("database %q enables auto_migrate without migrations_dir", d.Name)
	}
	return nil
}

type databasesFile struct {
	Databases []DatabaseConfig `yaml:"databases"`
}

// LoadDatabases reads and validates the YAML database roster.
func LoadDatabases(path string) ([]DatabaseConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read databases file: %w", err)
	}

	var parsed databasesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.ErrConfiguration("parse %s: %v", path, err)
	}
	if len(parsed.Databases) == 0 {
		return nil, domain.ErrConfiguration("%s declares no databases", path)
	}

	seen := make(map[string]bool, len(parsed.Databases))
	for i := range parsed.Databases {
		d := &parsed.Databases[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, domain.ErrConfiguration("database %q declared twice", d.Name)
		}
		seen[d.Name] = true
	}
	return parsed.Databases, nil
}

package config

import "time"

// Config is the root configuration structure for the Arbiter engine.
// It contains all configuration sections for the validation engine,
// rule sources, statistics, logging, and metrics.
type Config struct {
	// Engine contains configuration for the validation and enforcement
	// engine including default strategy and policy selection.
	Engine EngineConfig `yaml:"engine"`

	// Rules contains configuration for the rule source including the
	// definition file path and watch mode.
	Rules RulesConfig `yaml:"rules"`

	// Stats contains configuration for statistics aggregation and the
	// optional snapshot archive.
	Stats StatsConfig `yaml:"stats"`

	// Logging contains configuration for structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains configuration for Prometheus metrics exposure.
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig contains configuration for engine behavior.
type EngineConfig struct {
	// DefaultStrategy is the validation strategy used when callers do not
	// select one explicitly. One of "comprehensive", "strict",
	// "performance", "batch", "quick".
	// Default: "comprehensive"
	DefaultStrategy string `yaml:"default_strategy"`

	// EnforcementPolicy is the enforcement policy used when callers do not
	// select one explicitly. One of "standard", "force_execute", "dry_run",
	// "critical_only", "relaxed".
	// Default: "standard"
	EnforcementPolicy string `yaml:"enforcement_policy"`

	// ContinuousInterval is the tick interval for continuous validation
	// started by the CLI. Zero disables the continuous probe.
	// Default: 0
	ContinuousInterval time.Duration `yaml:"continuous_interval"`
}

// RulesConfig contains configuration for rule loading.
type RulesConfig struct {
	// Path is a rule definition file or a directory of definition files.
	Path string `yaml:"path"`

	// Watch enables hot reloading of rule definitions when files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce is the quiet period after a file change before the
	// definitions are reloaded.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// StatsConfig contains configuration for statistics handling.
type StatsConfig struct {
	// ArchiveEnabled controls whether statistics snapshots are persisted.
	// Default: false
	ArchiveEnabled bool `yaml:"archive_enabled"`

	// ArchivePath is the SQLite database file for snapshot storage.
	// Default: "./arbiter-stats.db"
	ArchivePath string `yaml:"archive_path"`

	// FlushSchedule is a cron expression controlling how often statistics
	// are flushed to the archive.
	// Default: "@every 1m"
	FlushSchedule string `yaml:"flush_schedule"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes source file and line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP server.
	// Default: "127.0.0.1:9097"
	ListenAddress string `yaml:"listen_address"`

	// Namespace is the Prometheus metric namespace.
	// Default: "arbiter"
	Namespace string `yaml:"namespace"`

	// Subsystem is the Prometheus metric subsystem. Empty by default.
	Subsystem string `yaml:"subsystem"`
}

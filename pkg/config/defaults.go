package config

import "time"

// Default values for engine configuration.
const (
	DefaultStrategy           = "comprehensive"
	DefaultEnforcementPolicy  = "standard"
	DefaultWatchDebounce      = 500 * time.Millisecond
	DefaultStatsArchivePath   = "./arbiter-stats.db"
	DefaultStatsFlushSchedule = "@every 1m"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsListen      = "127.0.0.1:9097"
	DefaultMetricsNamespace   = "arbiter"
)

// ApplyDefaults applies default values to a Config struct.
// Only zero values are replaced; explicit settings are preserved.
// Calling ApplyDefaults more than once is safe and has no further effect.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine.DefaultStrategy == "" {
		cfg.Engine.DefaultStrategy = DefaultStrategy
	}
	if cfg.Engine.EnforcementPolicy == "" {
		cfg.Engine.EnforcementPolicy = DefaultEnforcementPolicy
	}

	if cfg.Rules.WatchDebounce == 0 {
		cfg.Rules.WatchDebounce = DefaultWatchDebounce
	}

	if cfg.Stats.ArchivePath == "" {
		cfg.Stats.ArchivePath = DefaultStatsArchivePath
	}
	if cfg.Stats.FlushSchedule == "" {
		cfg.Stats.FlushSchedule = DefaultStatsFlushSchedule
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsListen
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention ARBITER_SECTION_FIELD (e.g., ARBITER_ENGINE_DEFAULT_STRATEGY).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format ARBITER_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("ARBITER_ENGINE_DEFAULT_STRATEGY"); val != "" {
		cfg.Engine.DefaultStrategy = val
	}
	if val := os.Getenv("ARBITER_ENGINE_ENFORCEMENT_POLICY"); val != "" {
		cfg.Engine.EnforcementPolicy = val
	}
	if val := os.Getenv("ARBITER_ENGINE_CONTINUOUS_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.ContinuousInterval = d
		}
	}

	if val := os.Getenv("ARBITER_RULES_PATH"); val != "" {
		cfg.Rules.Path = val
	}
	if val := os.Getenv("ARBITER_RULES_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Rules.Watch = b
		}
	}
	if val := os.Getenv("ARBITER_RULES_WATCH_DEBOUNCE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Rules.WatchDebounce = d
		}
	}

	if val := os.Getenv("ARBITER_STATS_ARCHIVE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Stats.ArchiveEnabled = b
		}
	}
	if val := os.Getenv("ARBITER_STATS_ARCHIVE_PATH"); val != "" {
		cfg.Stats.ArchivePath = val
	}
	if val := os.Getenv("ARBITER_STATS_FLUSH_SCHEDULE"); val != "" {
		cfg.Stats.FlushSchedule = val
	}

	if val := os.Getenv("ARBITER_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ARBITER_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("ARBITER_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("ARBITER_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Metrics.ListenAddress = val
	}
	if val := os.Getenv("ARBITER_METRICS_NAMESPACE"); val != "" {
		cfg.Metrics.Namespace = val
	}
}

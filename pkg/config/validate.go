package config

import (
	"fmt"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "engine.default_strategy").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var knownStrategies = map[string]bool{
	"comprehensive": true,
	"strict":        true,
	"performance":   true,
	"batch":         true,
	"quick":         true,
}

var knownPolicies = map[string]bool{
	"standard":      true,
	"force_execute": true,
	"dry_run":       true,
	"critical_only": true,
	"relaxed":       true,
}

var knownLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var knownLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	if !knownStrategies[cfg.Engine.DefaultStrategy] {
		errs = append(errs, FieldError{
			Field:   "engine.default_strategy",
			Message: fmt.Sprintf("unknown strategy %q", cfg.Engine.DefaultStrategy),
		})
	}
	if !knownPolicies[cfg.Engine.EnforcementPolicy] {
		errs = append(errs, FieldError{
			Field:   "engine.enforcement_policy",
			Message: fmt.Sprintf("unknown enforcement policy %q", cfg.Engine.EnforcementPolicy),
		})
	}
	if cfg.Engine.ContinuousInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "engine.continuous_interval",
			Message: "must not be negative",
		})
	}

	if cfg.Rules.Watch && cfg.Rules.Path == "" {
		errs = append(errs, FieldError{
			Field:   "rules.path",
			Message: "required when rules.watch is enabled",
		})
	}
	if cfg.Rules.WatchDebounce < 0 {
		errs = append(errs, FieldError{
			Field:   "rules.watch_debounce",
			Message: "must not be negative",
		})
	}

	if cfg.Stats.ArchiveEnabled && cfg.Stats.ArchivePath == "" {
		errs = append(errs, FieldError{
			Field:   "stats.archive_path",
			Message: "required when stats.archive_enabled is set",
		})
	}

	if !knownLogLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown log level %q", cfg.Logging.Level),
		})
	}
	if !knownLogFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "metrics.listen_address",
			Message: "required when metrics.enabled is set",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// Package storage persists statistics snapshots to SQLite so rule behavior
// can be inspected across process restarts.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"veridian-hq/arbiter/pkg/stats"
)

// Schema creates the snapshot table. Snapshots are append-only; each flush
// writes one row per rule stamped with the flush time.
const schema = `
CREATE TABLE IF NOT EXISTS rule_stats_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id TEXT NOT NULL,
	total_validations INTEGER NOT NULL,
	successful_validations INTEGER NOT NULL,
	failed_validations INTEGER NOT NULL,
	total_execution_ns INTEGER NOT NULL,
	average_latency_ns INTEGER NOT NULL,
	last_validation TIMESTAMP,
	captured_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_rule_id ON rule_stats_snapshots(rule_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON rule_stats_snapshots(captured_at);
`

// Config contains configuration for the SQLite archive.
type Config struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "./arbiter-stats.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// Archive is a SQLite-backed statistics snapshot store.
type Archive struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// Open opens or creates the archive database and initializes its schema.
func Open(config Config, logger *slog.Logger) (*Archive, error) {
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stats_archive")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats archive %q: %w", config.Path, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	a := &Archive{db: db, config: config, logger: logger}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("stats archive opened",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return a, nil
}

func (a *Archive) initialize() error {
	if a.config.WALMode {
		if _, err := a.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	busyTimeoutMs := a.config.BusyTimeout.Milliseconds()
	if _, err := a.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSnapshot writes one row per rule snapshot, all stamped with capturedAt.
// Writes happen in a single transaction so a flush is all-or-nothing.
func (a *Archive) SaveSnapshot(ctx context.Context, snapshots []stats.RuleStats, capturedAt time.Time) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_stats_snapshots (
			rule_id, total_validations, successful_validations,
			failed_validations, total_execution_ns, average_latency_ns,
			last_validation, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		var last any
		if !s.LastValidation.IsZero() {
			last = s.LastValidation
		}
		if _, err := stmt.ExecContext(ctx,
			s.RuleID,
			s.TotalValidations,
			s.SuccessfulValidations,
			s.FailedValidations,
			int64(s.TotalExecutionTime),
			int64(s.AverageLatency),
			last,
			capturedAt,
		); err != nil {
			return fmt.Errorf("failed to insert snapshot for rule %s: %w", s.RuleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	a.logger.Debug("stats snapshot saved",
		"rule_count", len(snapshots),
		"captured_at", capturedAt,
	)
	return nil
}

// Recent returns the most recent snapshot rows for the rule id, newest first.
func (a *Archive) Recent(ctx context.Context, ruleID string, limit int) ([]stats.RuleStats, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT rule_id, total_validations, successful_validations,
		       failed_validations, total_execution_ns, average_latency_ns,
		       last_validation
		FROM rule_stats_snapshots
		WHERE rule_id = ?
		ORDER BY captured_at DESC
		LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for rule %s: %w", ruleID, err)
	}
	defer rows.Close()

	var out []stats.RuleStats
	for rows.Next() {
		var (
			s      stats.RuleStats
			execNs int64
			avgNs  int64
			last   sql.NullTime
		)
		if err := rows.Scan(&s.RuleID, &s.TotalValidations, &s.SuccessfulValidations,
			&s.FailedValidations, &execNs, &avgNs, &last); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		s.TotalExecutionTime = time.Duration(execNs)
		s.AverageLatency = time.Duration(avgNs)
		if last.Valid {
			s.LastValidation = last.Time
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Package flush periodically persists aggregator snapshots to the archive.
package flush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"veridian-hq/arbiter/pkg/stats"
	"veridian-hq/arbiter/pkg/stats/storage"
)

// Flusher writes statistics snapshots to the archive on a cron schedule.
type Flusher struct {
	agg      *stats.Aggregator
	archive  *storage.Archive
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a flusher that snapshots agg into archive per schedule,
// a cron expression (standard five-field syntax or "@every 1m" descriptors).
func New(agg *stats.Aggregator, archive *storage.Archive, schedule string, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		agg:      agg,
		archive:  archive,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "stats_flusher"),
	}
}

// Start begins scheduled flushing. If the schedule is empty the flusher does
// nothing. The flusher stops when the context is cancelled.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schedule == "" {
		f.logger.Info("flush schedule not configured, skipping flusher")
		return nil
	}

	if _, err := cron.ParseStandard(f.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", f.schedule, err)
	}

	if _, err := f.cron.AddFunc(f.schedule, func() {
		f.runFlush(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule stats flush: %w", err)
	}

	f.cron.Start()
	f.running = true

	f.logger.Info("stats flusher started", "schedule", f.schedule)

	go func() {
		<-ctx.Done()
		f.Stop()
	}()

	return nil
}

// Flush writes one snapshot immediately.
func (f *Flusher) Flush(ctx context.Context) error {
	snapshots := f.agg.SnapshotAll()
	if len(snapshots) == 0 {
		return nil
	}
	return f.archive.SaveSnapshot(ctx, snapshots, time.Now())
}

func (f *Flusher) runFlush(ctx context.Context) {
	if err := f.Flush(ctx); err != nil {
		f.logger.Error("stats flush failed", "error", err)
		return
	}
	f.logger.Debug("stats flush completed")
}

// Stop stops the scheduler. Safe to call more than once.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false

	stopCtx := f.cron.Stop()
	<-stopCtx.Done()

	f.logger.Info("stats flusher stopped")
}

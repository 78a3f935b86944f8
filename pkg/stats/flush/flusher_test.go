package flush

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/stats"
	"veridian-hq/arbiter/pkg/stats/storage"
)

func testArchive(t *testing.T) *storage.Archive {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "stats.db")

	a, err := storage.Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFlushPersistsSnapshots(t *testing.T) {
	agg := stats.NewAggregator()
	agg.Record(rule.Result{RuleID: "age-gate", Allowed: true, ExecutionTime: time.Millisecond})
	agg.Record(rule.Result{RuleID: "age-gate", Allowed: false, ExecutionTime: time.Millisecond})

	archive := testArchive(t)
	f := New(agg, archive, "@every 1m", nil)

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := archive.Recent(context.Background(), "age-gate", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("row count = %d, want 1", len(rows))
	}
	if rows[0].TotalValidations != 2 || rows[0].FailedValidations != 1 {
		t.Errorf("persisted snapshot = %+v", rows[0])
	}
}

func TestFlushEmptyAggregatorIsNoOp(t *testing.T) {
	f := New(stats.NewAggregator(), testArchive(t), "@every 1m", nil)

	if err := f.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestStartEmptyScheduleDoesNothing(t *testing.T) {
	f := New(stats.NewAggregator(), testArchive(t), "", nil)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := New(stats.NewAggregator(), testArchive(t), "not a schedule", nil)

	if err := f.Start(context.Background()); err == nil {
		t.Error("expected error for invalid cron schedule")
	}
}

func TestStopIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := New(stats.NewAggregator(), testArchive(t), "@every 1m", nil)
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.Stop()
	f.Stop()
}

// Package stats accumulates per-rule and aggregate validation counters for
// observability. Counters are one logical set per rule id, updated with
// atomics so concurrent recorders never contend on a global lock.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

// RuleStats is a point-in-time snapshot of one rule's counters. Counters are
// monotonic except for explicit Reset.
type RuleStats struct {
	RuleID                string
	TotalValidations      int64
	SuccessfulValidations int64
	FailedValidations     int64
	TotalExecutionTime    time.Duration
	AverageLatency        time.Duration
	LastValidation        time.Time
}

// entry holds the live counters for a single rule id.
type entry struct {
	total    atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	execTime atomic.Int64 // cumulative nanoseconds

	mu   sync.Mutex
	last time.Time
}

// Aggregator accumulates counters keyed by rule id.
type Aggregator struct {
	entries sync.Map // map[string]*entry
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) entryFor(ruleID string) *entry {
	if v, ok := a.entries.Load(ruleID); ok {
		return v.(*entry)
	}
	v, _ := a.entries.LoadOrStore(ruleID, &entry{})
	return v.(*entry)
}

// Seed creates a zeroed counter set for the rule id if none exists.
// Registration seeds statistics through this.
func (a *Aggregator) Seed(ruleID string) {
	a.entryFor(ruleID)
}

// Record updates the counters for the rule that produced res.
func (a *Aggregator) Record(res rule.Result) {
	e := a.entryFor(res.RuleID)

	e.total.Add(1)
	if res.Allowed {
		e.success.Add(1)
	} else {
		e.failed.Add(1)
	}
	e.execTime.Add(int64(res.ExecutionTime))

	e.mu.Lock()
	e.last = time.Now()
	e.mu.Unlock()
}

// Snapshot returns the counters for one rule id.
func (a *Aggregator) Snapshot(ruleID string) (RuleStats, bool) {
	v, ok := a.entries.Load(ruleID)
	if !ok {
		return RuleStats{}, false
	}
	return v.(*entry).snapshot(ruleID), true
}

// SnapshotAll returns counters for every tracked rule.
func (a *Aggregator) SnapshotAll() []RuleStats {
	var out []RuleStats
	a.entries.Range(func(key, value any) bool {
		out = append(out, value.(*entry).snapshot(key.(string)))
		return true
	})
	return out
}

// Global returns all counters aggregated into a single set. The RuleID is
// left empty and LastValidation is the most recent across all rules.
func (a *Aggregator) Global() RuleStats {
	var g RuleStats
	a.entries.Range(func(_, value any) bool {
		s := value.(*entry).snapshot("")
		g.TotalValidations += s.TotalValidations
		g.SuccessfulValidations += s.SuccessfulValidations
		g.FailedValidations += s.FailedValidations
		g.TotalExecutionTime += s.TotalExecutionTime
		if s.LastValidation.After(g.LastValidation) {
			g.LastValidation = s.LastValidation
		}
		return true
	})
	if g.TotalValidations > 0 {
		g.AverageLatency = g.TotalExecutionTime / time.Duration(g.TotalValidations)
	}
	return g
}

// SuccessRate returns the global fraction of successful validations, or 1
// when nothing has been recorded yet.
func (a *Aggregator) SuccessRate() float64 {
	g := a.Global()
	if g.TotalValidations == 0 {
		return 1
	}
	return float64(g.SuccessfulValidations) / float64(g.TotalValidations)
}

// Reset zeroes all counters, keeping the tracked rule ids.
func (a *Aggregator) Reset() {
	a.entries.Range(func(_, value any) bool {
		e := value.(*entry)
		e.total.Store(0)
		e.success.Store(0)
		e.failed.Store(0)
		e.execTime.Store(0)
		e.mu.Lock()
		e.last = time.Time{}
		e.mu.Unlock()
		return true
	})
}

// Clear drops every counter set. Used by engine shutdown.
func (a *Aggregator) Clear() {
	a.entries.Range(func(key, _ any) bool {
		a.entries.Delete(key)
		return true
	})
}

func (e *entry) snapshot(ruleID string) RuleStats {
	total := e.total.Load()
	s := RuleStats{
		RuleID:                ruleID,
		TotalValidations:      total,
		SuccessfulValidations: e.success.Load(),
		FailedValidations:     e.failed.Load(),
		TotalExecutionTime:    time.Duration(e.execTime.Load()),
	}
	if total > 0 {
		s.AverageLatency = s.TotalExecutionTime / time.Duration(total)
	}
	e.mu.Lock()
	s.LastValidation = e.last
	e.mu.Unlock()
	return s
}

// Package enforce executes the follow-up actions a validation verdict
// produced, tier by tier in descending action priority, under a configurable
// enforcement policy. Failures are contained: an action that errors,
// panics, or overruns the policy's ActionTimeout becomes a FailedAction,
// optionally retried or rolled back per policy, and never aborts the pass
// unless the policy asks for stop-on-first-failure.
package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"veridian-hq/arbiter/pkg/metrics"
	"veridian-hq/arbiter/pkg/rule"
)

// Enforcer runs enforcement passes. It is stateless apart from its logger
// and metrics sink and safe for concurrent use.
type Enforcer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEnforcer creates an enforcer. metrics may be nil.
func NewEnforcer(logger *slog.Logger, m *metrics.Metrics) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		logger:  logger.With("component", "enforcer"),
		metrics: m,
	}
}

// executedRef pairs an executed action with its record, for rollback.
type executedRef struct {
	action rule.Action
	record ExecutedAction
}

// Enforce runs one enforcement pass over the verdict's candidate actions.
func (e *Enforcer) Enforce(ctx context.Context, vr rule.ValidationResult, ec rule.EnforcementContext, policy Policy) Result {
	start := time.Now()
	result := Result{
		ID:          uuid.New().String(),
		OperationID: vr.OperationID,
		Policy:      policy.Name,
		Timestamp:   start,
	}

	if !vr.Valid && !policy.ForceExecuteOnFailure {
		result.Successful = false
		result.Errors = append(result.Errors, "validation verdict is invalid; enforcement skipped")
		result.Duration = time.Since(start)
		return result
	}

	candidates := filterActions(vr.PassingActions(), policy)
	result.Summary.TotalActions = len(candidates)

	timeout := policy.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}

	if policy.DryRun {
		// Preview only: group and count, execute nothing.
		for _, a := range candidates {
			result.Skipped = append(result.Skipped, a.ID())
		}
		result.Summary.SkippedCount = len(candidates)
		result.Summary.ActionKinds = distinctKinds(candidates)
		result.Successful = true
		result.Duration = time.Since(start)
		return result
	}

	tiers := groupActionsByPriority(candidates)

	var executed []executedRef
	stopped := false

	for ti, actions := range tiers {
		if stopped {
			// Remaining tiers were abandoned; record their actions as
			// skipped failures so executed+failed still covers the
			// candidate set.
			for _, a := range actions {
				result.Failed = append(result.Failed, FailedAction{
					ActionID: a.ID(),
					Kind:     a.Kind(),
					Priority: a.Priority(),
					Reason:   "skipped: enforcement stopped after earlier failure",
				})
				result.Summary.SkippedCount++
			}
			continue
		}

		tierFailed := false
		for _, a := range actions {
			if ok, reason := e.checkExecutable(ctx, a, ec, timeout); !ok {
				result.Failed = append(result.Failed, FailedAction{
					ActionID: a.ID(),
					Kind:     a.Kind(),
					Priority: a.Priority(),
					Reason:   reason,
				})
				e.metrics.RecordAction(string(a.Kind()), false)
				tierFailed = true
				continue
			}

			rec, err := e.executeOne(ctx, a, ec, timeout)
			if err != nil {
				result.Failed = append(result.Failed, FailedAction{
					ActionID: a.ID(),
					Kind:     a.Kind(),
					Priority: a.Priority(),
					Reason:   err.Error(),
					CanRetry: policy.RetryFailedActions,
				})
				e.metrics.RecordAction(string(a.Kind()), false)
				tierFailed = true
				continue
			}

			executed = append(executed, executedRef{action: a, record: rec})
			result.Executed = append(result.Executed, rec)
			e.metrics.RecordAction(string(a.Kind()), true)
		}

		if policy.StopOnFirstFailure && tierFailed && ti < len(tiers)-1 {
			stopped = true
		}
	}

	hasFailures := len(result.Failed) > 0

	if hasFailures && policy.RollbackOnFailure {
		result.RolledBack = e.rollback(ctx, executed, ec)
		result.Summary.RollbackCount = len(result.RolledBack)
	}

	if hasFailures && policy.NotifyOnFailure {
		for _, f := range result.Failed {
			result.Notifications = append(result.Notifications, Notification{
				ID:       uuid.New().String(),
				ActionID: f.ActionID,
				Kind:     f.Kind,
				Message:  fmt.Sprintf("action %s (%s) failed: %s", f.ActionID, f.Kind, f.Reason),
				Metadata: map[string]any{"operation_id": vr.OperationID, "policy": policy.Name},
			})
		}
	}

	result.Summary.ExecutedCount = len(result.Executed)
	result.Summary.FailedCount = len(result.Failed)
	result.Summary.AverageLatency = averageLatency(result.Executed)
	result.Summary.ActionKinds = distinctKinds(candidates)

	for _, f := range result.Failed {
		result.Errors = append(result.Errors, f.Reason)
	}

	result.Successful = !hasFailures || policy.AllowPartialSuccess
	result.Duration = time.Since(start)

	e.logger.Debug("enforcement pass complete",
		"operation_id", vr.OperationID,
		"policy", policy.Name,
		"executed", len(result.Executed),
		"failed", len(result.Failed),
		"successful", result.Successful,
	)
	return result
}

// checkExecutable runs an action's CanExecute gate under the same timeout
// boundary as Execute, containing panics. A gate that panics or overruns
// reports not executable.
func (e *Enforcer) checkExecutable(ctx context.Context, a rule.Action, ec rule.EnforcementContext, timeout time.Duration) (bool, string) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type gate struct {
		ok  bool
		err error
	}
	done := make(chan gate, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- gate{err: fmt.Errorf("can-execute check panicked: %v", p)}
			}
		}()
		done <- gate{ok: a.CanExecute(actx, ec)}
	}()

	select {
	case g := <-done:
		if g.err != nil {
			return false, g.err.Error()
		}
		if !g.ok {
			return false, "action reported it cannot execute in this context"
		}
		return true, ""

	case <-actx.Done():
		if ctx.Err() != nil {
			return false, fmt.Sprintf("enforcement cancelled: %v", ctx.Err())
		}
		return false, (&ActionTimeoutError{ActionID: a.ID(), Timeout: timeout}).Error()
	}
}

// executeOne runs a single action under the per-action timeout boundary,
// containing panics. The Execute call runs on its own goroutine; if it
// overruns the deadline, the enforcer records the timeout and moves on
// without waiting (the goroutine's ctx is cancelled so well-behaved actions
// unwind).
func (e *Enforcer) executeOne(ctx context.Context, a rule.Action, ec rule.EnforcementContext, timeout time.Duration) (ExecutedAction, error) {
	start := time.Now()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("action panicked: %v", p)
			}
		}()
		done <- a.Execute(actx, ec)
	}()

	select {
	case err := <-done:
		if err != nil {
			return ExecutedAction{}, err
		}
		return ExecutedAction{
			ActionID:  a.ID(),
			Kind:      a.Kind(),
			Priority:  a.Priority(),
			Duration:  time.Since(start),
			Timestamp: start,
		}, nil

	case <-actx.Done():
		if ctx.Err() != nil {
			return ExecutedAction{}, fmt.Errorf("enforcement cancelled: %w", ctx.Err())
		}
		e.logger.Warn("action timed out", "action_id", a.ID(), "kind", a.Kind(), "timeout", timeout)
		return ExecutedAction{}, &ActionTimeoutError{ActionID: a.ID(), Timeout: timeout}
	}
}

// rollback undoes already-executed actions in reverse execution order.
// Actions without a rollback capability are skipped without error.
func (e *Enforcer) rollback(ctx context.Context, executed []executedRef, ec rule.EnforcementContext) []string {
	var rolledBack []string

	for i := len(executed) - 1; i >= 0; i-- {
		ref := executed[i]

		rb, ok := ref.action.(rule.Rollbacker)
		if !ok {
			continue
		}
		if capable, ok := ref.action.(interface{ CanRollback() bool }); ok && !capable.CanRollback() {
			continue
		}

		if err := rb.Rollback(ctx, ec); err != nil {
			e.logger.Warn("rollback failed",
				"action_id", ref.record.ActionID,
				"kind", ref.record.Kind,
				"error", err,
			)
			continue
		}
		rolledBack = append(rolledBack, ref.record.ActionID)
	}

	return rolledBack
}

// filterActions applies the policy's action filter to the candidate set.
// Unknown filter modes keep everything, matching the default branch
// convention for the closed action vocabulary.
func filterActions(actions []rule.Action, policy Policy) []rule.Action {
	var keep func(rule.Action) bool

	switch policy.FilterMode {
	case FilterImmediateOnly:
		keep = func(a rule.Action) bool { return a.Immediate() }
	case FilterHighPriority:
		keep = func(a rule.Action) bool { return a.Priority() >= policy.MinPriority }
	case FilterCustom:
		keep = policy.CustomFilter
		if keep == nil {
			keep = func(rule.Action) bool { return true }
		}
	case FilterAll:
		fallthrough
	default:
		keep = func(rule.Action) bool { return true }
	}

	var out []rule.Action
	for _, a := range actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// groupActionsByPriority buckets actions into descending-priority tiers,
// keeping candidate order within a tier.
func groupActionsByPriority(actions []rule.Action) [][]rule.Action {
	buckets := make(map[int][]rule.Action)
	var priorities []int
	for _, a := range actions {
		p := a.Priority()
		if _, seen := buckets[p]; !seen {
			priorities = append(priorities, p)
		}
		buckets[p] = append(buckets[p], a)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	tiers := make([][]rule.Action, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, buckets[p])
	}
	return tiers
}

func distinctKinds(actions []rule.Action) []rule.ActionKind {
	seen := make(map[rule.ActionKind]struct{})
	var kinds []rule.ActionKind
	for _, a := range actions {
		k := a.Kind()
		if !rule.KnownActionKind(k) {
			k = "unknown"
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds
}

func averageLatency(executed []ExecutedAction) time.Duration {
	if len(executed) == 0 {
		return 0
	}
	var sum time.Duration
	for _, x := range executed {
		sum += x.Duration
	}
	return sum / time.Duration(len(executed))
}

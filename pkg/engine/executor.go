package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

// Executor runs a set of rules grouped into descending-priority tiers.
// Tiers are always sequenced; within a tier, rules run concurrently when the
// config asks for parallelism. Each Evaluate call is bounded by the
// per-rule timeout, and a rule that errors, panics, or times out is recorded
// as a failed result rather than aborting the batch.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates a priority executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger.With("component", "executor")}
}

// tier is one priority level's rules, in deterministic sequential order.
type tier struct {
	priority int
	rules    []rule.Rule
}

// ExecuteWithPriority evaluates rules tier by tier. All results from a tier
// are collected before any lower tier begins. When StopOnFirstFailure is
// set and a tier produced a denying result, lower tiers are abandoned and
// only the results gathered so far are returned.
func (x *Executor) ExecuteWithPriority(ctx context.Context, rules []rule.Rule, vc rule.ValidationContext, cfg ExecutionConfig) []rule.Result {
	tiers := groupByPriority(rules)
	results := make([]rule.Result, 0, len(rules))

	for _, t := range tiers {
		var tierResults []rule.Result
		if cfg.Parallel {
			tierResults = x.runParallel(ctx, t.rules, vc, cfg.RuleTimeout)
		} else {
			tierResults = x.runSequential(ctx, t.rules, vc, cfg.RuleTimeout)
		}
		results = append(results, tierResults...)

		if cfg.StopOnFirstFailure && anyDenied(tierResults) {
			x.logger.Debug("abandoning lower tiers after failure",
				"tier_priority", t.priority,
				"results_so_far", len(results),
			)
			break
		}
	}

	return results
}

// runSequential evaluates a tier one rule at a time, in execution order.
func (x *Executor) runSequential(ctx context.Context, rules []rule.Rule, vc rule.ValidationContext, timeout time.Duration) []rule.Result {
	results := make([]rule.Result, 0, len(rules))
	for _, r := range rules {
		results = append(results, x.evaluateOne(ctx, r, vc, timeout))
	}
	return results
}

// runParallel evaluates a tier's rules concurrently. Completion order across
// rules is unspecified; results are slotted by index so output order stays
// deterministic.
func (x *Executor) runParallel(ctx context.Context, rules []rule.Rule, vc rule.ValidationContext, timeout time.Duration) []rule.Result {
	results := make([]rule.Result, len(rules))

	var wg sync.WaitGroup
	for i, r := range rules {
		wg.Add(1)
		go func(i int, r rule.Rule) {
			defer wg.Done()
			results[i] = x.evaluateOne(ctx, r, vc, timeout)
		}(i, r)
	}
	wg.Wait()

	return results
}

// evaluateOne runs a single rule under the per-rule timeout boundary. The
// Evaluate call itself runs on its own goroutine; if it overruns the
// deadline, the executor records a timeout result and moves on without
// waiting (the goroutine's ctx is cancelled so well-behaved rules unwind).
func (x *Executor) evaluateOne(ctx context.Context, r rule.Rule, vc rule.ValidationContext, timeout time.Duration) rule.Result {
	info := r.Info()
	start := time.Now()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res rule.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: &RuleEvaluationError{RuleID: info.ID, Cause: fmt.Errorf("panic: %v", p)}}
			}
		}()
		res, err := r.Evaluate(rctx, vc)
		if err != nil {
			err = &RuleEvaluationError{RuleID: info.ID, Cause: err}
		}
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			x.logger.Warn("rule evaluation failed", "rule_id", info.ID, "error", out.err)
			return failedResult(info, out.err.Error(), time.Since(start))
		}
		return normalizeResult(info, out.res, time.Since(start))

	case <-rctx.Done():
		if cause := ctx.Err(); cause != nil {
			// The caller's context ended, not the per-rule budget.
			err := &RuleEvaluationError{RuleID: info.ID, Cause: cause}
			x.logger.Debug("rule evaluation cancelled", "rule_id", info.ID, "cause", cause)
			return failedResult(info, err.Error(), time.Since(start))
		}
		err := &RuleTimeoutError{RuleID: info.ID, Timeout: timeout}
		x.logger.Warn("rule evaluation timed out", "rule_id", info.ID, "timeout", timeout)
		return failedResult(info, err.Error(), time.Since(start))
	}
}

// normalizeResult fills identity fields the rule left blank, clamps
// confidence, and stamps the measured execution time.
func normalizeResult(info rule.Info, res rule.Result, elapsed time.Duration) rule.Result {
	if res.RuleID == "" {
		res.RuleID = info.ID
	}
	if res.RuleType == "" {
		res.RuleType = info.Type
	}
	res.Confidence = rule.ClampConfidence(res.Confidence)
	res.ExecutionTime = elapsed
	if info.Critical && !res.Critical() {
		res = res.WithMetadata("critical", true)
	}
	res = res.WithMetadata("category", string(info.Category))
	return res
}

// failedResult converts a contained failure into a denying result.
func failedResult(info rule.Info, errMsg string, elapsed time.Duration) rule.Result {
	res := rule.Result{
		RuleID:        info.ID,
		RuleType:      info.Type,
		Allowed:       false,
		Confidence:    0,
		Reason:        errMsg,
		Errors:        []string{errMsg},
		ExecutionTime: elapsed,
	}
	if info.Critical {
		res = res.WithMetadata("critical", true)
	}
	res = res.WithMetadata("category", string(info.Category))
	return res
}

// groupByPriority buckets rules into tiers sorted by descending priority.
// Within a tier, rules are ordered by execution order then id so sequential
// runs are deterministic.
func groupByPriority(rules []rule.Rule) []tier {
	buckets := make(map[int][]rule.Rule)
	for _, r := range rules {
		p := r.Info().Priority
		buckets[p] = append(buckets[p], r)
	}

	tiers := make([]tier, 0, len(buckets))
	for p, rs := range buckets {
		sort.Slice(rs, func(i, j int) bool {
			a, b := rs[i].Info(), rs[j].Info()
			if a.ExecutionOrder != b.ExecutionOrder {
				return a.ExecutionOrder < b.ExecutionOrder
			}
			return a.ID < b.ID
		})
		tiers = append(tiers, tier{priority: p, rules: rs})
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].priority > tiers[j].priority })
	return tiers
}

func anyDenied(results []rule.Result) bool {
	for _, r := range results {
		if !r.Allowed {
			return true
		}
	}
	return false
}

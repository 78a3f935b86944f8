package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veridian-hq/arbiter/pkg/metrics"
	"veridian-hq/arbiter/pkg/registry"
	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/stats"
)

// Validator selects the rules applicable to an operation, drives the
// priority executor, and aggregates rule results into a verdict. It never
// lets an internal failure escape: any panic during a pass is converted into
// a failed ValidationResult carrying the failure text.
type Validator struct {
	registry *registry.Registry
	executor *Executor
	stats    *stats.Aggregator
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewValidator wires a validator over the given registry and aggregator.
// metrics may be nil when the embedding application does not export any.
func NewValidator(reg *registry.Registry, agg *stats.Aggregator, m *metrics.Metrics, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		registry: reg,
		executor: NewExecutor(logger),
		stats:    agg,
		metrics:  m,
		logger:   logger.With("component", "validator"),
	}
}

// Validate runs one validation pass for op under the given strategy.
func (v *Validator) Validate(ctx context.Context, op rule.Operation, vc rule.ValidationContext, strat Strategy) (result rule.ValidationResult) {
	start := time.Now()
	result = rule.ValidationResult{
		ID:          uuid.New().String(),
		OperationID: op.ID,
		Strategy:    strat.Name,
		Valid:       true,
		Timestamp:   start,
	}

	// Validation never propagates an unhandled failure to the caller.
	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("validation pass panicked", "operation_id", op.ID, "panic", p)
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("validation failed: %v", p))
			result.Duration = time.Since(start)
		}
	}()

	applicable := v.registry.Applicable(op)
	if len(applicable) == 0 {
		// No applicable rules: trivially valid with zero rule results.
		result.Duration = time.Since(start)
		v.record(result)
		return result
	}

	results := v.executor.ExecuteWithPriority(ctx, applicable, vc, strat.ExecutionConfig())

	result.RuleResults = results
	result.Summary = summarize(results)
	result.Valid = overallValidity(results, strat.Mode)
	result.Recommendations = recommendations(results)

	for _, r := range results {
		result.Errors = append(result.Errors, r.Errors...)
		result.Warnings = append(result.Warnings, r.Warnings...)
	}

	result.Duration = time.Since(start)
	v.record(result)

	v.logger.Debug("validation pass complete",
		"operation_id", op.ID,
		"strategy", strat.Name,
		"valid", result.Valid,
		"rules_evaluated", len(results),
		"duration", result.Duration,
	)
	return result
}

// record feeds statistics and metrics from a finished pass.
func (v *Validator) record(res rule.ValidationResult) {
	for _, r := range res.RuleResults {
		if v.stats != nil {
			v.stats.Record(r)
		}
		v.metrics.RecordEvaluation(r.RuleID, r.Allowed, r.ExecutionTime)
	}
	v.metrics.RecordValidation(res.Strategy, res.Valid)
}

// overallValidity applies the strategy's validity mode to the gathered
// results.
func overallValidity(results []rule.Result, mode ValidityMode) bool {
	if len(results) == 0 {
		return true
	}

	switch mode {
	case AllMustPass:
		for _, r := range results {
			if !r.Allowed {
				return false
			}
		}
		return true

	case MajorityMustPass:
		passed := 0
		for _, r := range results {
			if r.Allowed {
				passed++
			}
		}
		return float64(passed)/float64(len(results)) >= majorityThreshold

	case CriticalMustPass:
		for _, r := range results {
			if r.Critical() && !r.Allowed {
				return false
			}
		}
		return true

	case AtLeastOneMustPass:
		for _, r := range results {
			if r.Allowed {
				return true
			}
		}
		return false

	default:
		// Unknown modes deny rather than silently allow.
		return false
	}
}

// summarize builds aggregate counts over a pass's rule results.
func summarize(results []rule.Result) rule.ValidationSummary {
	s := rule.ValidationSummary{TotalRules: len(results)}
	if len(results) == 0 {
		return s
	}

	var confidenceSum float64
	var latencySum time.Duration
	categories := make(map[rule.RuleCategory]struct{})
	types := make(map[rule.RuleType]struct{})

	for _, r := range results {
		if r.Allowed {
			s.PassedRules++
		} else {
			s.FailedRules++
		}
		confidenceSum += r.Confidence
		latencySum += r.ExecutionTime
		types[r.RuleType] = struct{}{}
		if c, ok := r.Metadata["category"].(string); ok {
			categories[rule.RuleCategory(c)] = struct{}{}
		}
	}

	s.AverageConfidence = confidenceSum / float64(len(results))
	s.AverageLatency = latencySum / time.Duration(len(results))
	for c := range categories {
		s.Categories = append(s.Categories, c)
	}
	for t := range types {
		s.Types = append(s.Types, t)
	}
	return s
}

// recommendations derives remediation hints from failed rules' types.
func recommendations(results []rule.Result) []string {
	seen := make(map[rule.RuleType]struct{})
	var recs []string

	for _, r := range results {
		if r.Allowed {
			continue
		}
		if _, dup := seen[r.RuleType]; dup {
			continue
		}
		seen[r.RuleType] = struct{}{}

		switch r.RuleType {
		case rule.TypeAuthorization:
			recs = append(recs, "review actor permissions; one or more authorization rules denied the operation")
		case rule.TypeValidation:
			recs = append(recs, "correct the operation data; one or more validation rules denied the operation")
		case rule.TypeEnforcement:
			recs = append(recs, "review the enforcement process; one or more enforcement rules denied the operation")
		default:
			recs = append(recs, fmt.Sprintf("review rules of type %q that denied the operation", r.RuleType))
		}
	}
	return recs
}

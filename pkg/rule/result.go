package rule

import (
	"time"
)

// Result is the outcome of evaluating a single rule against a context.
// Results are immutable once produced; Merge builds a new value.
type Result struct {
	// RuleID identifies the rule that produced this result.
	RuleID string

	// RuleType is the producing rule's classification.
	RuleType RuleType

	// Allowed is the rule's verdict for the operation.
	Allowed bool

	// Confidence expresses how certain the rule is, clamped to [0,1].
	Confidence float64

	// Reason explains the verdict in human-readable form.
	Reason string

	// Actions are the follow-up actions the rule requests.
	Actions []Action

	// Warnings are non-blocking findings.
	Warnings []string

	// Errors are failures contained during evaluation.
	Errors []string

	// Metadata carries per-result flags; the "critical" key marks results
	// that block validity under critical-must-pass.
	Metadata map[string]any

	// ExecutionTime is how long the evaluation took.
	ExecutionTime time.Duration
}

// Allow builds a passing result.
func Allow(ruleID string, ruleType RuleType, confidence float64, reason string) Result {
	return Result{
		RuleID:     ruleID,
		RuleType:   ruleType,
		Allowed:    true,
		Confidence: ClampConfidence(confidence),
		Reason:     reason,
	}
}

// Deny builds a failing result.
func Deny(ruleID string, ruleType RuleType, confidence float64, reason string) Result {
	return Result{
		RuleID:     ruleID,
		RuleType:   ruleType,
		Allowed:    false,
		Confidence: ClampConfidence(confidence),
		Reason:     reason,
		Errors:     []string{reason},
	}
}

// WithActions returns a copy of the result carrying the given actions.
func (r Result) WithActions(actions ...Action) Result {
	r.Actions = append(append([]Action(nil), r.Actions...), actions...)
	return r
}

// WithMetadata returns a copy of the result with key set in its metadata.
func (r Result) WithMetadata(key string, value any) Result {
	md := copyMap(r.Metadata)
	md[key] = value
	r.Metadata = md
	return r
}

// Critical reports whether the result is flagged critical.
func (r Result) Critical() bool {
	v, ok := r.Metadata["critical"].(bool)
	return ok && v
}

// Merge combines two results: verdicts are ANDed, actions, warnings, and
// errors are concatenated, and the lower confidence wins. The receiver's
// identity fields are kept.
func (r Result) Merge(other Result) Result {
	merged := r
	merged.Allowed = r.Allowed && other.Allowed
	if other.Confidence < merged.Confidence {
		merged.Confidence = other.Confidence
	}
	merged.Actions = append(append([]Action(nil), r.Actions...), other.Actions...)
	merged.Warnings = append(append([]string(nil), r.Warnings...), other.Warnings...)
	merged.Errors = append(append([]string(nil), r.Errors...), other.Errors...)
	return merged
}

// ClampConfidence bounds a confidence value to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ValidationSummary aggregates counts over a validation pass.
type ValidationSummary struct {
	TotalRules        int
	PassedRules       int
	FailedRules       int
	AverageConfidence float64
	AverageLatency    time.Duration
	Categories        []RuleCategory
	Types             []RuleType
}

// ValidationResult is the top-level verdict for one validation pass.
// Callers always receive a structured result; evaluation failures surface
// here as errors, never as panics across the engine boundary.
type ValidationResult struct {
	// ID uniquely identifies this validation pass.
	ID string

	// OperationID is the judged operation's id.
	OperationID string

	// Strategy names the validation strategy that produced the verdict.
	Strategy string

	// Valid is the overall verdict per the strategy's validity mode.
	Valid bool

	// RuleResults holds every rule result gathered during the pass.
	RuleResults []Result

	// Errors and Warnings are flattened from the rule results plus any
	// pass-level failures.
	Errors   []string
	Warnings []string

	// Summary carries aggregate counts.
	Summary ValidationSummary

	// Recommendations are human-readable remediation hints derived from
	// failed rules.
	Recommendations []string

	// Timestamp is when the pass started; Duration how long it took.
	Timestamp time.Time
	Duration  time.Duration
}

// FailedResults returns the rule results that denied the operation.
func (v ValidationResult) FailedResults() []Result {
	var failed []Result
	for _, r := range v.RuleResults {
		if !r.Allowed {
			failed = append(failed, r)
		}
	}
	return failed
}

// PassingActions collects the actions requested by passing rule results, in
// result order. This is the enforcement candidate set.
func (v ValidationResult) PassingActions() []Action {
	var actions []Action
	for _, r := range v.RuleResults {
		if r.Allowed {
			actions = append(actions, r.Actions...)
		}
	}
	return actions
}

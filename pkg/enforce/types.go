package enforce

import (
	"fmt"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

// DefaultActionTimeout bounds action calls for policies that leave
// ActionTimeout unset.
const DefaultActionTimeout = 10 * time.Second

// FilterMode selects which candidate actions an enforcement pass considers.
type FilterMode string

const (
	// FilterAll keeps every candidate action.
	FilterAll FilterMode = "all"

	// FilterImmediateOnly keeps only actions flagged immediate.
	FilterImmediateOnly FilterMode = "immediate_only"

	// FilterHighPriority keeps actions at or above the policy's MinPriority.
	FilterHighPriority FilterMode = "high_priority_only"

	// FilterCustom delegates to the policy's CustomFilter predicate.
	FilterCustom FilterMode = "custom"
)

// Policy controls how an enforcement pass behaves.
type Policy struct {
	// Name identifies the policy in logs and results.
	Name string

	// ForceExecuteOnFailure enforces actions even when the validation
	// verdict was invalid.
	ForceExecuteOnFailure bool

	// FilterMode and MinPriority select candidate actions; CustomFilter is
	// consulted when FilterMode is FilterCustom.
	FilterMode   FilterMode
	MinPriority  int
	CustomFilter func(rule.Action) bool

	// StopOnFirstFailure abandons lower-priority tiers once a tier
	// produced a failure.
	StopOnFirstFailure bool

	// RollbackOnFailure rolls back already-executed actions when any
	// action in the pass failed.
	RollbackOnFailure bool

	// NotifyOnFailure synthesizes one notification descriptor per failed
	// action; delivery is an external collaborator's job.
	NotifyOnFailure bool

	// RetryFailedActions marks failures as retryable in the result.
	RetryFailedActions bool

	// ActionTimeout bounds each action's CanExecute and Execute call.
	// Zero falls back to DefaultActionTimeout.
	ActionTimeout time.Duration

	// AllowPartialSuccess reports the pass successful even with failures.
	AllowPartialSuccess bool

	// DryRun previews the pass: candidates are selected and grouped but no
	// action executes.
	DryRun bool
}

// The five built-in enforcement policies.
var (
	// PolicyStandard executes everything, rolls back on failure, and
	// notifies about failures.
	PolicyStandard = Policy{
		Name:              "standard",
		FilterMode:        FilterAll,
		RollbackOnFailure: true,
		NotifyOnFailure:   true,
		ActionTimeout:     10 * time.Second,
	}

	// PolicyForceExecute enforces even on an invalid verdict and tolerates
	// partial success.
	PolicyForceExecute = Policy{
		Name:                  "force_execute",
		ForceExecuteOnFailure: true,
		FilterMode:            FilterAll,
		NotifyOnFailure:       true,
		AllowPartialSuccess:   true,
		ActionTimeout:         10 * time.Second,
	}

	// PolicyDryRun previews enforcement without executing any action.
	PolicyDryRun = Policy{
		Name:          "dry_run",
		FilterMode:    FilterAll,
		DryRun:        true,
		ActionTimeout: 10 * time.Second,
	}

	// PolicyCriticalOnly runs only actions with priority >= 2.
	PolicyCriticalOnly = Policy{
		Name:              "critical_only",
		FilterMode:        FilterHighPriority,
		MinPriority:       2,
		RollbackOnFailure: true,
		NotifyOnFailure:   true,
		ActionTimeout:     10 * time.Second,
	}

	// PolicyRelaxed runs immediate actions only, without rollback or
	// notifications.
	PolicyRelaxed = Policy{
		Name:                "relaxed",
		FilterMode:          FilterImmediateOnly,
		AllowPartialSuccess: true,
		ActionTimeout:       10 * time.Second,
	}
)

// PolicyByName resolves a built-in policy from its name.
func PolicyByName(name string) (Policy, bool) {
	switch name {
	case PolicyStandard.Name:
		return PolicyStandard, true
	case PolicyForceExecute.Name:
		return PolicyForceExecute, true
	case PolicyDryRun.Name:
		return PolicyDryRun, true
	case PolicyCriticalOnly.Name:
		return PolicyCriticalOnly, true
	case PolicyRelaxed.Name:
		return PolicyRelaxed, true
	default:
		return Policy{}, false
	}
}

// ActionTimeoutError indicates an action call exceeded the policy's
// per-action timeout. It is recorded on the failed action, never propagated.
type ActionTimeoutError struct {
	ActionID string
	Timeout  time.Duration
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("action %s: timed out after %v", e.ActionID, e.Timeout)
}

// ExecutedAction records one successfully executed action.
type ExecutedAction struct {
	ActionID  string
	Kind      rule.ActionKind
	Priority  int
	Duration  time.Duration
	Timestamp time.Time
}

// FailedAction records one action that did not execute successfully,
// including actions skipped by a short-circuited pass.
type FailedAction struct {
	ActionID string
	Kind     rule.ActionKind
	Priority int
	Reason   string

	// CanRetry is set per the policy; skipped and non-executable actions
	// are never retryable.
	CanRetry bool
}

// Notification is the descriptor synthesized for a failed action when the
// policy asks for failure notifications. Delivery is external.
type Notification struct {
	ID       string
	ActionID string
	Kind     rule.ActionKind
	Message  string
	Metadata map[string]any
}

// Summary aggregates counts over an enforcement pass.
type Summary struct {
	TotalActions   int
	ExecutedCount  int
	FailedCount    int
	SkippedCount   int
	RollbackCount  int
	AverageLatency time.Duration
	ActionKinds    []rule.ActionKind
}

// Result is the top-level outcome of one enforcement pass. For a non-dry-run
// pass, Executed and Failed together cover exactly the candidate actions
// extracted for the pass.
type Result struct {
	// ID uniquely identifies this enforcement pass.
	ID string

	// OperationID ties the pass back to the judged operation.
	OperationID string

	// Policy names the enforcement policy applied.
	Policy string

	// Successful is the overall outcome per the policy's partial-success
	// setting.
	Successful bool

	Executed []ExecutedAction
	Failed   []FailedAction

	// RolledBack lists the action ids that were rolled back.
	RolledBack []string

	// Skipped lists action ids not executed under a dry run.
	Skipped []string

	Notifications []Notification
	Summary       Summary
	Errors        []string

	Timestamp time.Time
	Duration  time.Duration
}

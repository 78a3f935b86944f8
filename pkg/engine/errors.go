package engine

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned across the engine boundary.
var (
	// ErrEngineShutDown indicates the engine was shut down; all subsequent
	// calls fail fast with this error.
	ErrEngineShutDown = errors.New("engine shut down")

	// ErrNilContextProvider indicates StartContinuous was given no provider.
	ErrNilContextProvider = errors.New("context provider cannot be nil")
)

// RuleTimeoutError indicates a rule's Evaluate exceeded the strategy's
// per-rule timeout. It is recorded on the failed rule result, never
// propagated.
type RuleTimeoutError struct {
	RuleID  string
	Timeout time.Duration
}

func (e *RuleTimeoutError) Error() string {
	return fmt.Sprintf("rule %s: evaluation timed out after %v", e.RuleID, e.Timeout)
}

// RuleEvaluationError indicates a rule's Evaluate returned an error or
// panicked. Recovered locally as a failed rule result.
type RuleEvaluationError struct {
	RuleID string
	Cause  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: evaluation failed: %v", e.RuleID, e.Cause)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Cause }

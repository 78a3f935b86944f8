package engine

import (
	"fmt"
	"time"
)

// ValidityMode determines how per-rule verdicts combine into the overall
// validity of a pass.
type ValidityMode string

const (
	// AllMustPass: every rule result must allow.
	AllMustPass ValidityMode = "all_must_pass"

	// MajorityMustPass: at least 70% of rule results must allow. The
	// threshold is a design constant, not user-configurable.
	MajorityMustPass ValidityMode = "majority_must_pass"

	// CriticalMustPass: every result flagged critical must allow;
	// non-critical failures do not block validity.
	CriticalMustPass ValidityMode = "critical_must_pass"

	// AtLeastOneMustPass: a single allowing result is enough.
	AtLeastOneMustPass ValidityMode = "at_least_one_must_pass"
)

// majorityThreshold is the fixed pass fraction for MajorityMustPass.
// Candidate for per-deployment configuration; kept literal deliberately.
const majorityThreshold = 0.7

// ExecutionConfig is what the priority executor needs from a strategy.
type ExecutionConfig struct {
	// Parallel runs rules within a tier concurrently.
	Parallel bool

	// RuleTimeout bounds each rule's Evaluate call.
	RuleTimeout time.Duration

	// StopOnFirstFailure abandons lower-priority tiers once a tier
	// produced a denying result.
	StopOnFirstFailure bool
}

// Strategy is a named validation profile: execution shape plus validity mode.
type Strategy struct {
	Name               string
	Parallel           bool
	RuleTimeout        time.Duration
	StopOnFirstFailure bool
	Mode               ValidityMode
}

// ExecutionConfig derives the executor configuration from the strategy.
func (s Strategy) ExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Parallel:           s.Parallel,
		RuleTimeout:        s.RuleTimeout,
		StopOnFirstFailure: s.StopOnFirstFailure,
	}
}

// Validate checks that the strategy is usable.
func (s Strategy) Validate() error {
	if s.RuleTimeout <= 0 {
		return fmt.Errorf("strategy %s: rule timeout must be positive", s.Name)
	}
	switch s.Mode {
	case AllMustPass, MajorityMustPass, CriticalMustPass, AtLeastOneMustPass:
		return nil
	default:
		return fmt.Errorf("strategy %s: unknown validity mode %q", s.Name, s.Mode)
	}
}

// The five built-in strategies.
var (
	// StrategyComprehensive runs everything in parallel with a generous
	// timeout; only critical failures block.
	StrategyComprehensive = Strategy{
		Name:        "comprehensive",
		Parallel:    true,
		RuleTimeout: 10 * time.Second,
		Mode:        CriticalMustPass,
	}

	// StrategyStrict runs sequentially, stops at the first denial, and
	// requires every rule to pass.
	StrategyStrict = Strategy{
		Name:               "strict",
		RuleTimeout:        5 * time.Second,
		StopOnFirstFailure: true,
		Mode:               AllMustPass,
	}

	// StrategyPerformance trades completeness for latency.
	StrategyPerformance = Strategy{
		Name:        "performance",
		Parallel:    true,
		RuleTimeout: 2 * time.Second,
		Mode:        MajorityMustPass,
	}

	// StrategyBatch favors throughput over any individual verdict.
	StrategyBatch = Strategy{
		Name:        "batch",
		Parallel:    true,
		RuleTimeout: 15 * time.Second,
		Mode:        AtLeastOneMustPass,
	}

	// StrategyQuick is the low-latency gate for interactive paths.
	StrategyQuick = Strategy{
		Name:               "quick",
		RuleTimeout:        1 * time.Second,
		StopOnFirstFailure: true,
		Mode:               CriticalMustPass,
	}
)

// StrategyByName resolves a built-in strategy from its name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case StrategyComprehensive.Name:
		return StrategyComprehensive, nil
	case StrategyStrict.Name:
		return StrategyStrict, nil
	case StrategyPerformance.Name:
		return StrategyPerformance, nil
	case StrategyBatch.Name:
		return StrategyBatch, nil
	case StrategyQuick.Name:
		return StrategyQuick, nil
	default:
		return Strategy{}, fmt.Errorf("unknown strategy %q", name)
	}
}

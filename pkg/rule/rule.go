package rule

import (
	"context"
	"fmt"
	"sync"
)

// RuleCategory groups rules by the concern they guard.
type RuleCategory string

const (
	CategoryCompliance   RuleCategory = "compliance"
	CategorySecurity     RuleCategory = "security"
	CategoryGameplay     RuleCategory = "gameplay"
	CategoryMonetization RuleCategory = "monetization"
	CategoryCustom       RuleCategory = "custom"
)

// RuleType classifies what kind of check a rule performs. The validator
// uses it to phrase remediation recommendations for failed rules.
type RuleType string

const (
	TypeAuthorization RuleType = "authorization"
	TypeValidation    RuleType = "validation"
	TypeEnforcement   RuleType = "enforcement"
	TypeCustom        RuleType = "custom"
)

// Info carries a rule's identity, classification, and control flags.
// Identity fields are immutable after registration; Enabled and Priority
// may only change through the explicit setters on the rule implementations.
type Info struct {
	// ID uniquely identifies the rule within a registry.
	ID string

	// Name is the human-readable rule name.
	Name string

	// Version is the rule definition version.
	Version string

	Category RuleCategory
	Type     RuleType
	Tags     []string

	// Enabled gates whether the validator considers this rule.
	Enabled bool

	// Priority determines the rule's execution tier; higher runs first.
	Priority int

	// ExecutionOrder breaks ties within a tier for sequential execution.
	ExecutionOrder int

	// Critical marks results from this rule as blocking under
	// critical-must-pass validity.
	Critical bool
}

// Rule is the unit of policy the engine evaluates. Implementations must be
// safe for concurrent Evaluate calls; evaluation logic itself is never
// mutated in place.
type Rule interface {
	// Info returns the rule's current identity and control flags.
	Info() Info

	// Applies reports whether the rule should be evaluated for op.
	Applies(op Operation) bool

	// Evaluate judges the context and returns a result. Blocking work must
	// honor ctx; the executor bounds each call with the strategy's
	// per-rule timeout.
	Evaluate(ctx context.Context, vc ValidationContext) (Result, error)

	// Validate checks the rule's own definition. Registration is rejected
	// when it returns an error.
	Validate() error
}

// EvaluateFunc is the evaluation body of a FuncRule.
type EvaluateFunc func(ctx context.Context, vc ValidationContext) (Result, error)

// FuncRule adapts a Go function into a Rule. It is the building block for
// rules whose condition vocabulary lives in application code rather than in
// definition files.
type FuncRule struct {
	mu        sync.RWMutex
	info      Info
	appliesTo []OperationType
	evaluate  EvaluateFunc
}

// NewFuncRule builds a rule over fn. An empty appliesTo set means the rule
// applies to every operation type.
func NewFuncRule(info Info, appliesTo []OperationType, fn EvaluateFunc) *FuncRule {
	return &FuncRule{
		info:      info,
		appliesTo: append([]OperationType(nil), appliesTo...),
		evaluate:  fn,
	}
}

// Info returns the rule's identity and flags.
func (r *FuncRule) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// Applies reports whether the operation's type is in the rule's declared
// applicability set.
func (r *FuncRule) Applies(op Operation) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.appliesTo) == 0 {
		return true
	}
	for _, t := range r.appliesTo {
		if t == op.Type {
			return true
		}
	}
	return false
}

// AppliesToTypes returns the declared operation-type set; empty means all.
func (r *FuncRule) AppliesToTypes() []OperationType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]OperationType(nil), r.appliesTo...)
}

// Evaluate runs the rule body.
func (r *FuncRule) Evaluate(ctx context.Context, vc ValidationContext) (Result, error) {
	r.mu.RLock()
	fn := r.evaluate
	r.mu.RUnlock()
	return fn(ctx, vc)
}

// Validate checks the rule definition.
func (r *FuncRule) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.info.ID == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	if r.evaluate == nil {
		return fmt.Errorf("rule %s: evaluate function cannot be nil", r.info.ID)
	}
	return nil
}

// SetEnabled toggles the rule on or off.
func (r *FuncRule) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.info.Enabled = enabled
	r.mu.Unlock()
}

// SetPriority updates the rule's execution tier.
func (r *FuncRule) SetPriority(priority int) {
	r.mu.Lock()
	r.info.Priority = priority
	r.mu.Unlock()
}

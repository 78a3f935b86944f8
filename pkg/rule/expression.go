package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// expressionCostLimit bounds CEL evaluation cost so a pathological
// expression cannot exhaust the executor.
const expressionCostLimit = 1_000_000

// ExpressionRule is a Rule whose condition is a CEL expression evaluated
// against the validation context. It is how rule vocabulary is plugged in as
// data: definition files compile to ExpressionRules at load time.
//
// The expression must yield a boolean; true means the operation is allowed
// by this rule. An optional applicability expression refines the declared
// operation-type set.
type ExpressionRule struct {
	*FuncRule

	condition     string
	applicability string

	program     cel.Program
	appliesProg cel.Program
	confidence  float64
	denyReason  string
	ruleActions []Action
}

// ExpressionEnv builds the CEL environment shared by all expression rules.
// The context is exposed as four dynamic top-level variables.
func ExpressionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("operation", cel.DynType),
		cel.Variable("actor", cel.DynType),
		cel.Variable("state", cel.DynType),
		cel.Variable("env", cel.DynType),
	)
}

// ExpressionSpec describes an expression rule before compilation.
type ExpressionSpec struct {
	Info          Info
	AppliesTo     []OperationType
	Condition     string
	Applicability string

	// Confidence reported on every result; clamped to [0,1].
	Confidence float64

	// DenyReason is the reason attached to denying results.
	DenyReason string

	// Actions are attached to passing results.
	Actions []Action
}

// NewExpressionRule compiles spec against env. Compilation failures are
// returned eagerly so invalid definitions never reach the registry.
func NewExpressionRule(env *cel.Env, spec ExpressionSpec) (*ExpressionRule, error) {
	if spec.Condition == "" {
		return nil, fmt.Errorf("rule %s: condition expression cannot be empty", spec.Info.ID)
	}

	program, err := compileExpression(env, spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("rule %s: condition: %w", spec.Info.ID, err)
	}

	var appliesProg cel.Program
	if spec.Applicability != "" {
		appliesProg, err = compileExpression(env, spec.Applicability)
		if err != nil {
			return nil, fmt.Errorf("rule %s: applicability: %w", spec.Info.ID, err)
		}
	}

	r := &ExpressionRule{
		condition:     spec.Condition,
		applicability: spec.Applicability,
		program:       program,
		appliesProg:   appliesProg,
		confidence:    ClampConfidence(spec.Confidence),
		denyReason:    spec.DenyReason,
		ruleActions:   spec.Actions,
	}
	if r.denyReason == "" {
		r.denyReason = fmt.Sprintf("condition %q not satisfied", spec.Condition)
	}
	if r.confidence == 0 {
		r.confidence = 1
	}

	r.FuncRule = NewFuncRule(spec.Info, spec.AppliesTo, r.evaluate)
	return r, nil
}

// Condition returns the rule's CEL condition source, for export.
func (r *ExpressionRule) Condition() string { return r.condition }

// Applicability returns the optional applicability expression source.
func (r *ExpressionRule) Applicability() string { return r.applicability }

// Applies combines the declared operation-type set with the optional
// applicability expression.
func (r *ExpressionRule) Applies(op Operation) bool {
	if !r.FuncRule.Applies(op) {
		return false
	}
	if r.appliesProg == nil {
		return true
	}
	out, _, err := r.appliesProg.Eval(map[string]any{
		"operation": operationVars(op),
		"actor":     map[string]any{},
		"state":     map[string]any{},
		"env":       map[string]any{},
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (r *ExpressionRule) evaluate(ctx context.Context, vc ValidationContext) (Result, error) {
	out, _, err := r.program.Eval(ContextVars(vc))
	if err != nil {
		return Result{}, fmt.Errorf("expression evaluation: %w", err)
	}

	info := r.Info()
	allowed, ok := out.Value().(bool)
	if !ok {
		// Non-boolean expressions are treated as a deny with an error.
		res := Deny(info.ID, info.Type, r.confidence, "condition did not yield a boolean")
		return res, nil
	}

	var res Result
	if allowed {
		res = Allow(info.ID, info.Type, r.confidence, "condition satisfied").WithActions(r.ruleActions...)
	} else {
		res = Deny(info.ID, info.Type, r.confidence, r.denyReason)
	}
	if info.Critical {
		res = res.WithMetadata("critical", true)
	}
	return res, nil
}

// ContextVars flattens a validation context into the CEL activation map.
// Actor attributes merge under "actor" beside id and permissions so that
// expressions read naturally, e.g. actor.age < 13.
func ContextVars(vc ValidationContext) map[string]any {
	actor := copyMap(vc.Actor.Attributes)
	actor["id"] = vc.Actor.ID
	actor["permissions"] = vc.Actor.Permissions

	env := copyMap(vc.Env.Attributes)
	env["device"] = vc.Env.Device
	env["network"] = vc.Env.Network
	env["time"] = vc.Env.Time

	return map[string]any{
		"operation": operationVars(vc.Operation),
		"actor":     actor,
		"state":     vc.State,
		"env":       env,
	}
}

func operationVars(op Operation) map[string]any {
	return map[string]any{
		"type":     string(op.Type),
		"id":       op.ID,
		"actor_id": op.ActorID,
		"payload":  op.Payload,
	}
}

func compileExpression(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	program, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return program, nil
}

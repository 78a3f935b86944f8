package enforce

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

// verdict builds a valid validation result whose single passing rule carries
// the given actions.
func verdict(actions ...rule.Action) rule.ValidationResult {
	res := rule.Allow("r1", rule.TypeValidation, 1, "ok").WithActions(actions...)
	return rule.ValidationResult{
		ID:          "pass-1",
		OperationID: "op-1",
		Valid:       true,
		RuleResults: []rule.Result{res},
	}
}

func failingAction(priority int) *rule.FuncAction {
	return rule.NewAction(rule.ActionCustom, priority, func(ctx context.Context, ec rule.EnforcementContext) error {
		return errors.New("action broke")
	})
}

func okAction(priority int, ran *bool) *rule.FuncAction {
	return rule.NewAction(rule.ActionCustom, priority, func(ctx context.Context, ec rule.EnforcementContext) error {
		*ran = true
		return nil
	})
}

func TestEnforceInvalidVerdictSkipped(t *testing.T) {
	e := NewEnforcer(nil, nil)

	vr := rule.ValidationResult{OperationID: "op-1", Valid: false}
	res := e.Enforce(context.Background(), vr, rule.EnforcementContext{}, PolicyStandard)

	if res.Successful {
		t.Error("enforcement on an invalid verdict should fail")
	}
	if len(res.Executed) != 0 {
		t.Error("nothing should execute on an invalid verdict")
	}
}

func TestEnforceForceExecuteOnInvalidVerdict(t *testing.T) {
	e := NewEnforcer(nil, nil)

	ran := false
	vr := verdict(okAction(1, &ran))
	vr.Valid = false

	res := e.Enforce(context.Background(), vr, rule.EnforcementContext{}, PolicyForceExecute)
	if !res.Successful {
		t.Errorf("force execute should proceed, errors: %v", res.Errors)
	}
	if !ran {
		t.Error("force execute should run the actions despite the invalid verdict")
	}
}

func TestEnforceDryRunExecutesNothing(t *testing.T) {
	e := NewEnforcer(nil, nil)

	ran := false
	res := e.Enforce(context.Background(), verdict(okAction(1, &ran), failingAction(2)), rule.EnforcementContext{}, PolicyDryRun)

	if ran {
		t.Error("dry run executed an action")
	}
	if !res.Successful {
		t.Error("dry run should always report success")
	}
	if len(res.Executed) != 0 {
		t.Errorf("executed = %d, want 0", len(res.Executed))
	}
	if len(res.Skipped) != 2 || res.Summary.SkippedCount != 2 {
		t.Errorf("skipped = %d/%d, want 2/2", len(res.Skipped), res.Summary.SkippedCount)
	}
}

func TestEnforcePriorityOrderAndCoverage(t *testing.T) {
	e := NewEnforcer(nil, nil)

	var order []int
	tracked := func(priority int) *rule.FuncAction {
		return rule.NewAction(rule.ActionCustom, priority, func(ctx context.Context, ec rule.EnforcementContext) error {
			order = append(order, priority)
			return nil
		})
	}

	actions := []rule.Action{tracked(1), tracked(10), tracked(5)}
	res := e.Enforce(context.Background(), verdict(actions...), rule.EnforcementContext{}, PolicyStandard)

	if !res.Successful {
		t.Fatalf("enforcement failed: %v", res.Errors)
	}
	want := []int{10, 5, 1}
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}

	// Every candidate is accounted for.
	if len(res.Executed)+len(res.Failed) != len(actions) {
		t.Errorf("executed+failed = %d, want %d", len(res.Executed)+len(res.Failed), len(actions))
	}
}

func TestEnforceStopOnFirstFailureCoversSkippedTiers(t *testing.T) {
	e := NewEnforcer(nil, nil)

	policy := Policy{
		Name:               "stop",
		FilterMode:         FilterAll,
		StopOnFirstFailure: true,
	}

	lowRan := false
	actions := []rule.Action{failingAction(10), okAction(1, &lowRan)}
	res := e.Enforce(context.Background(), verdict(actions...), rule.EnforcementContext{}, policy)

	if lowRan {
		t.Error("lower tier ran despite stop-on-first-failure")
	}
	if len(res.Executed)+len(res.Failed) != 2 {
		t.Errorf("executed+failed = %d, want 2 (skipped tiers recorded as failures)", len(res.Executed)+len(res.Failed))
	}

	var sawSkip bool
	for _, f := range res.Failed {
		if strings.Contains(f.Reason, "skipped") {
			sawSkip = true
			if f.CanRetry {
				t.Error("skipped actions must not be marked retryable")
			}
		}
	}
	if !sawSkip {
		t.Error("abandoned tier should be recorded as skipped failures")
	}
}

func TestEnforceCanExecuteFalse(t *testing.T) {
	e := NewEnforcer(nil, nil)

	blocked := rule.NewAction(rule.ActionCustom, 1, nil, rule.WithCanExecute(
		func(ctx context.Context, ec rule.EnforcementContext) bool { return false },
	))

	res := e.Enforce(context.Background(), verdict(blocked), rule.EnforcementContext{}, PolicyStandard)

	if res.Successful {
		t.Error("unexecutable action should fail the pass under standard policy")
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(res.Failed))
	}
	if res.Failed[0].CanRetry {
		t.Error("can-execute refusals are not retryable")
	}
}

func TestEnforceRollbackOnFailure(t *testing.T) {
	e := NewEnforcer(nil, nil)

	rolledBack := false
	reversible := rule.NewAction(rule.ActionMutate, 10, func(ctx context.Context, ec rule.EnforcementContext) error {
		return nil
	}, rule.WithRollback(func(ctx context.Context, ec rule.EnforcementContext) error {
		rolledBack = true
		return nil
	}))

	irreversibleRan := false
	irreversible := okAction(5, &irreversibleRan)

	res := e.Enforce(context.Background(), verdict(reversible, irreversible, failingAction(1)), rule.EnforcementContext{}, PolicyStandard)

	if res.Successful {
		t.Error("standard policy without partial success should fail")
	}
	if !rolledBack {
		t.Error("rollback-capable executed action was not rolled back")
	}
	if len(res.RolledBack) != 1 {
		t.Errorf("rolled back = %d, want 1 (irreversible actions are skipped)", len(res.RolledBack))
	}
	if res.Summary.RollbackCount != 1 {
		t.Errorf("rollback count = %d, want 1", res.Summary.RollbackCount)
	}
	if len(res.Notifications) == 0 {
		t.Error("standard policy should notify on failure")
	}
}

func TestEnforcePanicContained(t *testing.T) {
	e := NewEnforcer(nil, nil)

	panicky := rule.NewAction(rule.ActionCustom, 1, func(ctx context.Context, ec rule.EnforcementContext) error {
		panic("action exploded")
	})

	res := e.Enforce(context.Background(), verdict(panicky), rule.EnforcementContext{}, PolicyRelaxed)

	if len(res.Failed) != 0 {
		// Relaxed filters to immediate-only; a plain action is filtered out.
		t.Fatalf("relaxed policy should have filtered the action, failed = %v", res.Failed)
	}

	res = e.Enforce(context.Background(), verdict(panicky), rule.EnforcementContext{}, PolicyForceExecute)
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(res.Failed))
	}
	if !strings.Contains(res.Failed[0].Reason, "exploded") {
		t.Errorf("reason = %q, want the panic text", res.Failed[0].Reason)
	}
	if !res.Successful {
		t.Error("force execute allows partial success")
	}
}

func TestEnforceActionTimeout(t *testing.T) {
	e := NewEnforcer(nil, nil)

	release := make(chan struct{})
	defer close(release)
	stuck := rule.NewAction(rule.ActionCustom, 1, func(ctx context.Context, ec rule.EnforcementContext) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})

	policy := Policy{
		Name:          "bounded",
		FilterMode:    FilterAll,
		ActionTimeout: 20 * time.Millisecond,
	}

	start := time.Now()
	res := e.Enforce(context.Background(), verdict(stuck), rule.EnforcementContext{}, policy)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("enforcement blocked %v on a stuck action", elapsed)
	}
	if res.Successful {
		t.Error("timed-out action should fail the pass")
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(res.Failed))
	}
	if !strings.Contains(res.Failed[0].Reason, "timed out") {
		t.Errorf("reason = %q, want a timeout explanation", res.Failed[0].Reason)
	}
}

func TestEnforceCanExecuteTimeout(t *testing.T) {
	e := NewEnforcer(nil, nil)

	executed := false
	stuckGate := rule.NewAction(rule.ActionCustom, 1, func(ctx context.Context, ec rule.EnforcementContext) error {
		executed = true
		return nil
	}, rule.WithCanExecute(func(ctx context.Context, ec rule.EnforcementContext) bool {
		<-ctx.Done()
		return false
	}))

	policy := Policy{
		Name:          "bounded",
		FilterMode:    FilterAll,
		ActionTimeout: 20 * time.Millisecond,
	}

	start := time.Now()
	res := e.Enforce(context.Background(), verdict(stuckGate), rule.EnforcementContext{}, policy)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("enforcement blocked %v on a stuck can-execute check", elapsed)
	}
	if executed {
		t.Error("action executed despite its gate timing out")
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(res.Failed))
	}
	if !strings.Contains(res.Failed[0].Reason, "timed out") {
		t.Errorf("reason = %q, want a timeout explanation", res.Failed[0].Reason)
	}
	if res.Failed[0].CanRetry {
		t.Error("gate timeouts must not be marked retryable")
	}
}

func TestFilterModes(t *testing.T) {
	immediate := rule.NewAction(rule.ActionNotify, 1, nil, rule.WithImmediate())
	high := rule.NewAction(rule.ActionAudit, 5, nil)
	low := rule.NewAction(rule.ActionAllow, 0, nil)
	all := []rule.Action{immediate, high, low}

	tests := []struct {
		name   string
		policy Policy
		want   int
	}{
		{"all keeps everything", Policy{FilterMode: FilterAll}, 3},
		{"immediate only", Policy{FilterMode: FilterImmediateOnly}, 1},
		{"high priority", Policy{FilterMode: FilterHighPriority, MinPriority: 2}, 1},
		{"custom filter", Policy{FilterMode: FilterCustom, CustomFilter: func(a rule.Action) bool {
			return a.Kind() == rule.ActionAudit
		}}, 1},
		{"custom without filter keeps everything", Policy{FilterMode: FilterCustom}, 3},
		{"unknown mode keeps everything", Policy{FilterMode: FilterMode("??")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(filterActions(all, tt.policy)); got != tt.want {
				t.Errorf("filtered = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnforceCriticalOnlyPolicy(t *testing.T) {
	e := NewEnforcer(nil, nil)

	lowRan := false
	highRan := false
	res := e.Enforce(context.Background(), verdict(okAction(1, &lowRan), okAction(3, &highRan)), rule.EnforcementContext{}, PolicyCriticalOnly)

	if !res.Successful {
		t.Fatalf("enforcement failed: %v", res.Errors)
	}
	if lowRan {
		t.Error("priority 1 action should be filtered by critical_only")
	}
	if !highRan {
		t.Error("priority 3 action should execute under critical_only")
	}
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"standard", "force_execute", "dry_run", "critical_only", "relaxed"} {
		p, ok := PolicyByName(name)
		if !ok {
			t.Errorf("PolicyByName(%q) not found", name)
			continue
		}
		if p.Name != name {
			t.Errorf("policy name = %q, want %q", p.Name, name)
		}
		if p.ActionTimeout <= 0 {
			t.Errorf("policy %q has no action timeout", name)
		}
	}
	if _, ok := PolicyByName("bogus"); ok {
		t.Error("unknown policy name should not resolve")
	}
}

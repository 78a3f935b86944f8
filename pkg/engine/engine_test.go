package engine

import (
	"context"
	"errors"
	"testing"

	"veridian-hq/arbiter/pkg/enforce"
	"veridian-hq/arbiter/pkg/rule"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("engine construction: %v", err)
	}
	return e
}

func TestEngineRegisterAndValidate(t *testing.T) {
	e := newTestEngine(t)

	if err := e.RegisterRule(mkRule("allow-all", 1, true)); err != nil {
		t.Fatalf("register: %v", err)
	}

	op, vc := testContext()
	res := e.ValidateOperation(context.Background(), op, vc)
	if !res.Valid {
		t.Errorf("validation failed: %v", res.Errors)
	}
	if !e.IsOperationAllowed(context.Background(), op, vc) {
		t.Error("IsOperationAllowed disagrees with ValidateOperation")
	}
}

func TestEngineDenialReason(t *testing.T) {
	e := newTestEngine(t, WithDefaultStrategy(StrategyStrict))
	e.RegisterRule(mkRule("denier", 1, false))

	op, vc := testContext()
	reason, denied := e.DenialReason(context.Background(), op, vc)
	if !denied {
		t.Fatal("expected the operation to be denied")
	}
	if reason != "denier denied" {
		t.Errorf("reason = %q, want the failing rule's reason", reason)
	}

	e2 := newTestEngine(t)
	e2.RegisterRule(mkRule("passer", 1, true))
	if _, denied := e2.DenialReason(context.Background(), op, vc); denied {
		t.Error("allowed operation should report no denial reason")
	}
}

func TestEngineEnforceRules(t *testing.T) {
	e := newTestEngine(t, WithDefaultStrategy(StrategyStrict))

	executed := false
	withAction := rule.NewFuncRule(rule.Info{ID: "acting", Enabled: true}, nil,
		func(ctx context.Context, vc rule.ValidationContext) (rule.Result, error) {
			act := rule.NewAction(rule.ActionAudit, 1, func(ctx context.Context, ec rule.EnforcementContext) error {
				executed = true
				return nil
			})
			return rule.Allow("acting", rule.TypeValidation, 1, "ok").WithActions(act), nil
		})
	e.RegisterRule(withAction)

	op, vc := testContext()
	res := e.EnforceRules(context.Background(), op, rule.EnforcementFrom(vc))

	if !res.Successful {
		t.Fatalf("enforcement failed: %v", res.Errors)
	}
	if !executed {
		t.Error("passing rule's action did not run")
	}
	if res.Summary.ExecutedCount != 1 {
		t.Errorf("executed count = %d, want 1", res.Summary.ExecutedCount)
	}
}

func TestEngineStatus(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("a", 1, true))
	disabled := mkRule("b", 1, true)
	disabled.SetEnabled(false)
	e.RegisterRule(disabled)

	st := e.EngineStatus()
	if !st.Running {
		t.Error("fresh engine should report running")
	}
	if st.RegisteredRuleCount != 2 || st.ActiveRuleCount != 1 {
		t.Errorf("counts = %d/%d, want 2 registered, 1 active", st.RegisteredRuleCount, st.ActiveRuleCount)
	}
	if st.ContinuousValidationRunning {
		t.Error("no continuous loop was started")
	}
}

func TestEngineShutdownFailsFast(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("r", 1, true))
	e.Shutdown()

	if err := e.RegisterRule(mkRule("late", 1, true)); !errors.Is(err, ErrEngineShutDown) {
		t.Errorf("register after shutdown: error = %v, want ErrEngineShutDown", err)
	}

	op, vc := testContext()
	res := e.ValidateOperation(context.Background(), op, vc)
	if res.Valid {
		t.Error("validation after shutdown should fail")
	}
	if len(res.Errors) == 0 || res.Errors[0] != ErrEngineShutDown.Error() {
		t.Errorf("errors = %v, want the shutdown error", res.Errors)
	}

	er := e.EnforceRules(context.Background(), op, rule.EnforcementFrom(vc))
	if er.Successful {
		t.Error("enforcement after shutdown should fail")
	}

	if st := e.EngineStatus(); st.Running {
		t.Error("status should report not running after shutdown")
	}

	// Idempotent.
	e.Shutdown()
}

func TestEngineShutdownGetters(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("r", 1, true, func(i *rule.Info) { i.Category = rule.CategoryCompliance }))
	e.Shutdown()

	// Lookups report not found on a shut-down engine; the error surfaces
	// through the mutating and validating calls instead.
	if _, ok := e.GetRule("r"); ok {
		t.Error("GetRule after shutdown should report not found")
	}
	if got := e.RulesByCategory(rule.CategoryCompliance); got != nil {
		t.Errorf("RulesByCategory after shutdown = %v, want nil", got)
	}
	if got := e.RulesByType(rule.TypeValidation); got != nil {
		t.Errorf("RulesByType after shutdown = %v, want nil", got)
	}
	if _, ok := e.Statistics("r"); ok {
		t.Error("Statistics after shutdown should report not found")
	}
}

func TestEngineExportImportRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	xr, err := rule.NewExpressionRule(e.ExpressionEnv(), rule.ExpressionSpec{
		Info: rule.Info{
			ID:       "spend-cap",
			Name:     "Spend cap",
			Category: rule.CategoryMonetization,
			Type:     rule.TypeValidation,
			Enabled:  true,
			Priority: 7,
			Critical: true,
		},
		AppliesTo: []rule.OperationType{rule.OpPurchaseInitiate},
		Condition: `operation.payload.amount <= 100.0`,
	})
	if err != nil {
		t.Fatalf("expression rule: %v", err)
	}
	e.RegisterRule(xr)

	cfg, err := e.ExportConfiguration()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// Import into a fresh engine and verify behavior carried over.
	e2 := newTestEngine(t, WithDefaultStrategy(StrategyStrict))
	if err := e2.ImportConfiguration(cfg); err != nil {
		t.Fatalf("import: %v", err)
	}

	got, ok := e2.GetRule("spend-cap")
	if !ok {
		t.Fatal("imported rule not found")
	}
	if got.Info().Priority != 7 || !got.Info().Critical {
		t.Errorf("imported info = %+v, want priority 7 and critical", got.Info())
	}

	op := rule.NewOperation(rule.OpPurchaseInitiate, "u1", map[string]any{"amount": 250.0})
	vc := rule.NewValidationContext(op, rule.Actor{ID: "u1"}, nil)
	if e2.IsOperationAllowed(context.Background(), op, vc) {
		t.Error("imported spend cap should deny a 250 purchase")
	}
}

func TestEngineImportUpdatesMetadata(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("tunable", 1, true))

	cfg := map[string]any{
		"version": 1,
		"rules": []any{
			map[string]any{"id": "tunable", "enabled": false, "priority": 42},
		},
	}
	if err := e.ImportConfiguration(cfg); err != nil {
		t.Fatalf("import: %v", err)
	}

	got, _ := e.GetRule("tunable")
	if got.Info().Enabled {
		t.Error("import should have disabled the rule")
	}
	if got.Info().Priority != 42 {
		t.Errorf("priority = %d, want 42", got.Info().Priority)
	}
}

func TestEngineImportBadEntryLeavesRegistryUntouched(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("tunable", 1, true))

	// The first entry is applicable, the second is not; neither may land.
	cfg := map[string]any{
		"version": 1,
		"rules": []any{
			map[string]any{"id": "tunable", "enabled": false, "priority": 42},
			map[string]any{"id": "broken", "condition": "this is not ((("},
		},
	}
	if err := e.ImportConfiguration(cfg); err == nil {
		t.Fatal("import with an uncompilable entry should fail")
	}

	got, ok := e.GetRule("tunable")
	if !ok {
		t.Fatal("existing rule disappeared")
	}
	if !got.Info().Enabled || got.Info().Priority != 1 {
		t.Errorf("info = %+v, failed import must not apply earlier entries", got.Info())
	}
	if _, ok := e.GetRule("broken"); ok {
		t.Error("uncompilable rule must not be registered")
	}
}

func TestEngineImportRejectsUnknownMetadataOnly(t *testing.T) {
	e := newTestEngine(t)

	cfg := map[string]any{
		"version": 1,
		"rules": []any{
			map[string]any{"id": "ghost", "enabled": true},
		},
	}
	if err := e.ImportConfiguration(cfg); err == nil {
		t.Error("metadata-only entry for an unknown rule should be rejected")
	}
}

func TestEngineStatisticsSurface(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("tracked", 1, true))

	// Registration alone seeds a zeroed entry.
	s, ok := e.Statistics("tracked")
	if !ok {
		t.Fatal("statistics should be seeded at registration")
	}
	if s.TotalValidations != 0 {
		t.Errorf("fresh entry total = %d, want 0", s.TotalValidations)
	}

	op, vc := testContext()
	e.ValidateOperation(context.Background(), op, vc)
	e.ValidateOperation(context.Background(), op, vc)

	s, _ = e.Statistics("tracked")
	if s.TotalValidations != 2 || s.SuccessfulValidations != 2 {
		t.Errorf("stats = %+v, want 2 successful validations", s)
	}

	g := e.GlobalStatistics()
	if g.TotalValidations != 2 {
		t.Errorf("global total = %d, want 2", g.TotalValidations)
	}

	if err := e.ResetStatistics(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s, _ = e.Statistics("tracked")
	if s.TotalValidations != 0 {
		t.Errorf("total after reset = %d, want 0", s.TotalValidations)
	}
}

func TestEnforceWithExplicitPolicy(t *testing.T) {
	e := newTestEngine(t, WithDefaultStrategy(StrategyStrict))

	executed := false
	acting := rule.NewFuncRule(rule.Info{ID: "acting", Enabled: true}, nil,
		func(ctx context.Context, vc rule.ValidationContext) (rule.Result, error) {
			act := rule.NewAction(rule.ActionAudit, 1, func(ctx context.Context, ec rule.EnforcementContext) error {
				executed = true
				return nil
			})
			return rule.Allow("acting", rule.TypeValidation, 1, "ok").WithActions(act), nil
		})
	e.RegisterRule(acting)

	op, vc := testContext()
	res := e.EnforceWithPolicy(context.Background(), op, rule.EnforcementFrom(vc), StrategyStrict, enforce.PolicyDryRun)

	if !res.Successful {
		t.Fatalf("dry run should report success, errors: %v", res.Errors)
	}
	if executed {
		t.Error("dry run must not execute actions")
	}
	if res.Summary.SkippedCount != 1 {
		t.Errorf("skipped = %d, want 1", res.Summary.SkippedCount)
	}
}

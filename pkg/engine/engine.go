package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"

	"veridian-hq/arbiter/pkg/enforce"
	"veridian-hq/arbiter/pkg/metrics"
	"veridian-hq/arbiter/pkg/registry"
	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/stats"
)

// Engine is the validation and enforcement facade. Construct one with New
// and inject it into callers; there is no process-wide instance.
type Engine struct {
	logger    *slog.Logger
	registry  *registry.Registry
	stats     *stats.Aggregator
	metrics   *metrics.Metrics
	validator *Validator
	enforcer  *enforce.Enforcer
	celEnv    *cel.Env

	defaultStrategy Strategy
	defaultPolicy   enforce.Policy

	startedAt  time.Time
	errorCount atomic.Int64
	down       atomic.Bool

	contMu sync.Mutex
	cont   *continuousRun
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaultStrategy sets the strategy used by ValidateOperation.
func WithDefaultStrategy(s Strategy) Option {
	return func(e *Engine) { e.defaultStrategy = s }
}

// WithEnforcementPolicy sets the policy used by EnforceRules.
func WithEnforcementPolicy(p enforce.Policy) Option {
	return func(e *Engine) { e.defaultPolicy = p }
}

// New constructs an engine with an empty registry and zeroed statistics.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		defaultStrategy: StrategyComprehensive,
		defaultPolicy:   enforce.PolicyStandard,
		startedAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if err := e.defaultStrategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default strategy: %w", err)
	}

	celEnv, err := rule.ExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("building expression environment: %w", err)
	}
	e.celEnv = celEnv

	e.stats = stats.NewAggregator()
	e.registry = registry.New(e.logger, registry.WithOnRegister(e.stats.Seed))
	e.validator = NewValidator(e.registry, e.stats, e.metrics, e.logger)
	e.enforcer = enforce.NewEnforcer(e.logger, e.metrics)

	return e, nil
}

// Registry exposes the engine's rule registry for advanced callers.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// ExpressionEnv exposes the shared CEL environment so callers can compile
// expression rules compatible with this engine.
func (e *Engine) ExpressionEnv() *cel.Env { return e.celEnv }

// Aggregator exposes the statistics aggregator, for persistence collaborators.
func (e *Engine) Aggregator() *stats.Aggregator { return e.stats }

// RegisterRule adds a rule to the registry and seeds its statistics.
func (e *Engine) RegisterRule(r rule.Rule) error {
	if e.down.Load() {
		return ErrEngineShutDown
	}
	return e.registry.Register(r)
}

// UnregisterRule removes a rule by id.
func (e *Engine) UnregisterRule(id string) error {
	if e.down.Load() {
		return ErrEngineShutDown
	}
	return e.registry.Unregister(id)
}

// GetRule retrieves a rule by id. Shutdown clears the registry, so lookups
// on a shut-down engine report not found; mutating and validating calls are
// the ones that surface ErrEngineShutDown.
func (e *Engine) GetRule(id string) (rule.Rule, bool) {
	if e.down.Load() {
		return nil, false
	}
	return e.registry.Get(id)
}

// RulesByCategory returns the registered rules in a category, nil after
// Shutdown.
func (e *Engine) RulesByCategory(c rule.RuleCategory) []rule.Rule {
	if e.down.Load() {
		return nil
	}
	return e.registry.ByCategory(c)
}

// RulesByType returns the registered rules of a type, nil after Shutdown.
func (e *Engine) RulesByType(t rule.RuleType) []rule.Rule {
	if e.down.Load() {
		return nil
	}
	return e.registry.ByType(t)
}

// ValidateOperation validates op under the engine's default strategy.
func (e *Engine) ValidateOperation(ctx context.Context, op rule.Operation, vc rule.ValidationContext) rule.ValidationResult {
	return e.ValidateWithStrategy(ctx, op, vc, e.defaultStrategy)
}

// ValidateWithStrategy validates op under an explicit strategy.
func (e *Engine) ValidateWithStrategy(ctx context.Context, op rule.Operation, vc rule.ValidationContext, strat Strategy) rule.ValidationResult {
	if e.down.Load() {
		return e.shutDownResult(op)
	}

	res := e.validator.Validate(ctx, op, vc, strat)
	if len(res.Errors) > 0 {
		e.errorCount.Add(int64(len(res.Errors)))
	}
	return res
}

// EnforceRules validates op against ec's value graph and executes the
// resulting actions under the engine's default enforcement policy.
func (e *Engine) EnforceRules(ctx context.Context, op rule.Operation, ec rule.EnforcementContext) enforce.Result {
	return e.EnforceWithPolicy(ctx, op, ec, e.defaultStrategy, e.defaultPolicy)
}

// EnforceWithPolicy runs a full validate-then-enforce pass with explicit
// strategy and policy.
func (e *Engine) EnforceWithPolicy(ctx context.Context, op rule.Operation, ec rule.EnforcementContext, strat Strategy, policy enforce.Policy) enforce.Result {
	if e.down.Load() {
		return enforce.Result{
			OperationID: op.ID,
			Policy:      policy.Name,
			Successful:  false,
			Errors:      []string{ErrEngineShutDown.Error()},
			Timestamp:   time.Now(),
		}
	}

	vr := e.ValidateWithStrategy(ctx, op, rule.ValidationFrom(ec), strat)
	res := e.enforcer.Enforce(ctx, vr, ec, policy)
	if len(res.Errors) > 0 {
		e.errorCount.Add(int64(len(res.Errors)))
	}
	return res
}

// IsOperationAllowed reports whether op passes validation under the default
// strategy.
func (e *Engine) IsOperationAllowed(ctx context.Context, op rule.Operation, vc rule.ValidationContext) bool {
	return e.ValidateOperation(ctx, op, vc).Valid
}

// DenialReason returns the first failing rule's reason for an invalid
// operation, or false when the operation is allowed.
func (e *Engine) DenialReason(ctx context.Context, op rule.Operation, vc rule.ValidationContext) (string, bool) {
	res := e.ValidateOperation(ctx, op, vc)
	if res.Valid {
		return "", false
	}
	for _, r := range res.FailedResults() {
		if r.Reason != "" {
			return r.Reason, true
		}
	}
	if len(res.Errors) > 0 {
		return res.Errors[0], true
	}
	return "operation denied", true
}

// StartContinuousValidation starts the background re-validation loop and
// returns a stream of verdicts. The last verdict is replayed to each new
// subscription. Starting a new loop cancels any prior one; only Stop or
// Shutdown ends a loop.
func (e *Engine) StartContinuousValidation(provider ContextProvider, interval time.Duration) (<-chan rule.ValidationResult, error) {
	if e.down.Load() {
		return nil, ErrEngineShutDown
	}
	if provider == nil {
		return nil, ErrNilContextProvider
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}

	e.contMu.Lock()
	defer e.contMu.Unlock()

	// Single active loop per engine instance.
	e.stopContinuousLocked()

	ctx, cancel := context.WithCancel(context.Background())
	run := &continuousRun{
		cancel: cancel,
		done:   make(chan struct{}),
		bcast:  newBroadcaster(),
	}
	e.cont = run

	stream := run.bcast.subscribe()
	go e.runContinuous(ctx, run, provider, interval, e.defaultStrategy)
	return stream, nil
}

// SubscribeContinuous adds a subscriber to the active loop's stream. The
// last published verdict is replayed immediately.
func (e *Engine) SubscribeContinuous() (<-chan rule.ValidationResult, bool) {
	e.contMu.Lock()
	defer e.contMu.Unlock()

	if e.cont == nil {
		return nil, false
	}
	return e.cont.bcast.subscribe(), true
}

// StopContinuousValidation cancels the active loop, if any, and waits for
// it to unwind.
func (e *Engine) StopContinuousValidation() {
	e.contMu.Lock()
	defer e.contMu.Unlock()
	e.stopContinuousLocked()
}

func (e *Engine) stopContinuousLocked() {
	if e.cont == nil {
		return
	}
	e.cont.cancel()
	<-e.cont.done
	e.cont = nil
}

// ContinuousValidationRunning reports whether the loop is active.
func (e *Engine) ContinuousValidationRunning() bool {
	e.contMu.Lock()
	defer e.contMu.Unlock()
	return e.cont != nil
}

// Statistics returns the counters for one rule id.
func (e *Engine) Statistics(ruleID string) (stats.RuleStats, bool) {
	if e.down.Load() {
		return stats.RuleStats{}, false
	}
	return e.stats.Snapshot(ruleID)
}

// GlobalStatistics returns the aggregate counters across all rules.
func (e *Engine) GlobalStatistics() stats.RuleStats {
	if e.down.Load() {
		return stats.RuleStats{}
	}
	return e.stats.Global()
}

// AllStatistics returns a snapshot per tracked rule.
func (e *Engine) AllStatistics() []stats.RuleStats {
	if e.down.Load() {
		return nil
	}
	return e.stats.SnapshotAll()
}

// ResetStatistics zeroes all counters.
func (e *Engine) ResetStatistics() error {
	if e.down.Load() {
		return ErrEngineShutDown
	}
	e.stats.Reset()
	return nil
}

// Status describes the engine's current state.
type Status struct {
	Running                     bool
	RegisteredRuleCount         int
	ActiveRuleCount             int
	ContinuousValidationRunning bool
	ErrorCount                  int64
	Uptime                      time.Duration
	ValidationSuccessRate       float64
}

// EngineStatus returns a snapshot of the engine's state.
func (e *Engine) EngineStatus() Status {
	if e.down.Load() {
		return Status{ErrorCount: e.errorCount.Load()}
	}
	return Status{
		Running:                     true,
		RegisteredRuleCount:         e.registry.Count(),
		ActiveRuleCount:             e.registry.ActiveCount(),
		ContinuousValidationRunning: e.ContinuousValidationRunning(),
		ErrorCount:                  e.errorCount.Load(),
		Uptime:                      time.Since(e.startedAt),
		ValidationSuccessRate:       e.stats.SuccessRate(),
	}
}

// Shutdown stops the continuous loop, clears the registry and statistics,
// and makes all subsequent calls fail fast with ErrEngineShutDown.
func (e *Engine) Shutdown() {
	if !e.down.CompareAndSwap(false, true) {
		return
	}

	e.StopContinuousValidation()
	e.registry.Clear()
	e.stats.Clear()
	e.logger.Info("engine shut down")
}

// shutDownResult is the fail-fast verdict returned after Shutdown.
func (e *Engine) shutDownResult(op rule.Operation) rule.ValidationResult {
	return rule.ValidationResult{
		OperationID: op.ID,
		Valid:       false,
		Errors:      []string{ErrEngineShutDown.Error()},
		Timestamp:   time.Now(),
	}
}

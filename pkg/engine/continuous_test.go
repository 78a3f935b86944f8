package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

func countingProvider(calls *atomic.Int64) ContextProvider {
	return func(ctx context.Context) (rule.Operation, rule.ValidationContext, error) {
		calls.Add(1)
		op := rule.NewOperation(rule.OpAccessRequest, "probe", nil)
		return op, rule.NewValidationContext(op, rule.Actor{ID: "probe"}, nil), nil
	}
}

func waitForResult(t *testing.T, ch <-chan rule.ValidationResult) rule.ValidationResult {
	t.Helper()
	select {
	case res, ok := <-ch:
		if !ok {
			t.Fatal("stream closed before delivering a result")
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a continuous result")
		return rule.ValidationResult{}
	}
}

func TestContinuousValidationLifecycle(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("always", 1, true))

	var calls atomic.Int64
	stream, err := e.StartContinuousValidation(countingProvider(&calls), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.ContinuousValidationRunning() {
		t.Error("loop should report running")
	}

	res := waitForResult(t, stream)
	if !res.Valid {
		t.Errorf("probe validation failed: %v", res.Errors)
	}

	e.StopContinuousValidation()
	if e.ContinuousValidationRunning() {
		t.Error("loop should report stopped")
	}
	if calls.Load() == 0 {
		t.Error("provider was never consulted")
	}

	// Stream drains and closes after stop.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream never closed after stop")
		}
	}
}

func TestContinuousValidationArgChecks(t *testing.T) {
	e := newTestEngine(t)
	var calls atomic.Int64

	if _, err := e.StartContinuousValidation(nil, time.Second); !errors.Is(err, ErrNilContextProvider) {
		t.Errorf("nil provider: error = %v, want ErrNilContextProvider", err)
	}
	if _, err := e.StartContinuousValidation(countingProvider(&calls), 0); err == nil {
		t.Error("zero interval should be rejected")
	}

	e.Shutdown()
	if _, err := e.StartContinuousValidation(countingProvider(&calls), time.Second); !errors.Is(err, ErrEngineShutDown) {
		t.Errorf("after shutdown: error = %v, want ErrEngineShutDown", err)
	}
}

func TestContinuousSubscribeReplaysLastResult(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("always", 1, true))

	var calls atomic.Int64
	stream, err := e.StartContinuousValidation(countingProvider(&calls), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.StopContinuousValidation()

	first := waitForResult(t, stream)

	// A late subscriber gets the last verdict immediately.
	late, ok := e.SubscribeContinuous()
	if !ok {
		t.Fatal("subscribe should succeed while the loop runs")
	}
	replay := waitForResult(t, late)
	if replay.OperationID == "" || first.OperationID == "" {
		t.Error("results should carry operation ids")
	}
}

func TestContinuousRestartCancelsPrior(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("always", 1, true))

	var first, second atomic.Int64
	s1, err := e.StartContinuousValidation(countingProvider(&first), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitForResult(t, s1)

	s2, err := e.StartContinuousValidation(countingProvider(&second), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitForResult(t, s2)

	// The first loop is cancelled; its stream closes.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s1:
			if !ok {
				e.StopContinuousValidation()
				return
			}
		case <-deadline:
			t.Fatal("first stream never closed after restart")
		}
	}
}

func TestSubscribeWithoutLoop(t *testing.T) {
	e := newTestEngine(t)
	if _, ok := e.SubscribeContinuous(); ok {
		t.Error("subscribe with no active loop should fail")
	}
}

func TestContinuousProviderErrorSkipsTick(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRule(mkRule("always", 1, true))

	var calls atomic.Int64
	provider := func(ctx context.Context) (rule.Operation, rule.ValidationContext, error) {
		n := calls.Add(1)
		if n == 1 {
			return rule.Operation{}, rule.ValidationContext{}, errors.New("state unavailable")
		}
		op := rule.NewOperation(rule.OpAccessRequest, "probe", nil)
		return op, rule.NewValidationContext(op, rule.Actor{ID: "probe"}, nil), nil
	}

	stream, err := e.StartContinuousValidation(provider, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.StopContinuousValidation()

	// The loop survives the failed tick and publishes on the next one.
	res := waitForResult(t, stream)
	if !res.Valid {
		t.Errorf("second tick should validate cleanly: %v", res.Errors)
	}
	if e.EngineStatus().ErrorCount == 0 {
		t.Error("failed tick should increment the error count")
	}
}

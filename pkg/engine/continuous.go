package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"veridian-hq/arbiter/pkg/rule"
)

// ContextProvider supplies a fresh operation and context for each tick of
// the continuous-validation loop. It is caller-supplied and may block; the
// loop passes it a context cancelled on Stop.
type ContextProvider func(ctx context.Context) (rule.Operation, rule.ValidationContext, error)

// broadcaster fans validation results out to subscribers, replaying the
// last published value to each new subscriber. Slow subscribers drop
// intermediate results rather than stalling the loop.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan rule.ValidationResult
	next int
	last *rule.ValidationResult
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan rule.ValidationResult)}
}

// subscribe returns a channel of results. The last published result, if
// any, is delivered immediately.
func (b *broadcaster) subscribe() <-chan rule.ValidationResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan rule.ValidationResult, 8)
	b.subs[b.next] = ch
	b.next++

	if b.last != nil {
		ch <- *b.last
	}
	return ch
}

// publish delivers a result to every subscriber, non-blocking.
func (b *broadcaster) publish(res rule.ValidationResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &res
	for _, ch := range b.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// close shuts every subscriber channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// continuousRun is the handle for one background validation loop. The loop
// is cooperatively cancellable between ticks; an in-flight tick is not
// force-killed, but its rule calls stay bounded by their timeouts.
type continuousRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	bcast  *broadcaster
}

// runContinuous drives the loop: fetch a fresh context, validate, publish,
// sleep. A failed tick is logged and swallowed; only cancellation ends the
// loop.
func (e *Engine) runContinuous(ctx context.Context, run *continuousRun, provider ContextProvider, interval time.Duration, strat Strategy) {
	defer close(run.done)
	defer run.bcast.close()

	logger := e.logger.With("component", "continuous")
	logger.Info("continuous validation started", "interval", interval, "strategy", strat.Name)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.tick(ctx, run, provider, strat, logger)

		select {
		case <-ctx.Done():
			logger.Info("continuous validation stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick runs a single validation cycle, containing any failure.
func (e *Engine) tick(ctx context.Context, run *continuousRun, provider ContextProvider, strat Strategy, logger *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("continuous tick panicked", "panic", p)
			e.errorCount.Add(1)
		}
	}()

	op, vc, err := provider(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("context provider failed, skipping tick", "error", err)
			e.errorCount.Add(1)
		}
		return
	}

	res := e.validator.Validate(ctx, op, vc, strat)
	run.bcast.publish(res)
}

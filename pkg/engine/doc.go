// Package engine implements Arbiter's validation core: the validator that
// selects applicable rules and aggregates a verdict, the priority executor
// that runs rules in descending-priority tiers under per-rule timeouts, the
// cancellable continuous-validation loop, and the engine facade that ties
// registry, statistics, metrics, and enforcement together.
//
// The engine is an explicitly constructed instance; callers inject it where
// needed. There is no package-level singleton and no hidden global state, so
// multiple engines can coexist in one process (useful in tests).
//
// Failure containment is the engine's central contract: a rule that panics,
// errors, or times out becomes a failed rule result, and a validation pass
// that fails internally becomes a failed ValidationResult. No unchecked
// failure crosses the engine boundary.
package engine

package rule

import "time"

// Actor describes the identity on whose behalf an operation runs.
type Actor struct {
	// ID is the actor's unique identifier.
	ID string

	// Permissions lists the actor's granted permission names.
	Permissions []string

	// Attributes carries arbitrary actor facts (age, request rate, tier).
	Attributes map[string]any
}

// HasPermission reports whether the actor holds the named permission.
func (a Actor) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// Environment is a snapshot of device, network, and time facts taken when
// the context was assembled.
type Environment struct {
	Device     string
	Network    string
	Time       time.Time
	Attributes map[string]any
}

// ValidationContext is the value graph a rule evaluates against. Contexts
// are passed by value and never shared mutable state: Child copies and
// extends metadata instead of mutating the parent.
type ValidationContext struct {
	// Operation is the operation under judgment.
	Operation Operation

	// Actor identifies who is performing the operation.
	Actor Actor

	// State is an application state snapshot.
	State map[string]any

	// Env is the environment snapshot.
	Env Environment

	// Metadata carries caller-supplied evaluation hints.
	Metadata map[string]any
}

// NewValidationContext assembles a context for a single validation pass.
// State and metadata maps are copied.
func NewValidationContext(op Operation, actor Actor, state map[string]any) ValidationContext {
	return ValidationContext{
		Operation: op,
		Actor:     actor,
		State:     copyMap(state),
		Env:       Environment{Time: time.Now()},
		Metadata:  make(map[string]any),
	}
}

// Child derives a context for nested validation. The parent's metadata is
// copied and extended with extra; the parent is left untouched.
func (c ValidationContext) Child(extra map[string]any) ValidationContext {
	child := c
	child.Metadata = copyMap(c.Metadata)
	for k, v := range extra {
		child.Metadata[k] = v
	}
	return child
}

// EnforcementContext carries everything an action needs at execution time.
// It mirrors ValidationContext; actions receive their own value graph per
// enforcement pass.
type EnforcementContext struct {
	Operation Operation
	Actor     Actor
	State     map[string]any
	Env       Environment
	Metadata  map[string]any
}

// EnforcementFrom derives an enforcement context from a validation context,
// copying the mutable maps so the two passes stay independent.
func EnforcementFrom(c ValidationContext) EnforcementContext {
	return EnforcementContext{
		Operation: c.Operation,
		Actor:     c.Actor,
		State:     copyMap(c.State),
		Env:       c.Env,
		Metadata:  copyMap(c.Metadata),
	}
}

// ValidationFrom derives a validation context from an enforcement context,
// for callers that enforce in one step and need the validation pass run
// against the same value graph.
func ValidationFrom(c EnforcementContext) ValidationContext {
	return ValidationContext{
		Operation: c.Operation,
		Actor:     c.Actor,
		State:     copyMap(c.State),
		Env:       c.Env,
		Metadata:  copyMap(c.Metadata),
	}
}

package rule

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ActionKind is the closed set of follow-up operation kinds. Dispatch sites
// switch over it and must keep a default branch so new kinds degrade to
// "unknown" instead of breaking existing callers.
type ActionKind string

const (
	// ActionBlock marks the operation as blocked downstream.
	ActionBlock ActionKind = "block"

	// ActionAllow explicitly marks the operation as allowed downstream.
	ActionAllow ActionKind = "allow"

	// ActionMutate applies a data change.
	ActionMutate ActionKind = "mutate"

	// ActionNotify requests a notification; delivery is an external
	// collaborator's job.
	ActionNotify ActionKind = "notify"

	// ActionAudit records an audit-log entry.
	ActionAudit ActionKind = "audit"

	// ActionCustom is the escape hatch for caller-defined behavior.
	ActionCustom ActionKind = "custom"
)

// KnownActionKind reports whether k is one of the built-in kinds.
func KnownActionKind(k ActionKind) bool {
	switch k {
	case ActionBlock, ActionAllow, ActionMutate, ActionNotify, ActionAudit, ActionCustom:
		return true
	default:
		return false
	}
}

// Action is a side effect requested by a passing rule. Implementations must
// be safe for concurrent use; the enforcer bounds Execute with the
// policy's timeout and never lets a failed action abort the whole pass.
type Action interface {
	// ID uniquely identifies the action instance.
	ID() string

	// Kind is the action's operation kind.
	Kind() ActionKind

	// Priority determines the action's enforcement tier; higher runs first.
	Priority() int

	// Immediate marks actions that must run even under immediate-only
	// filtering policies.
	Immediate() bool

	// Metadata carries action parameters.
	Metadata() map[string]any

	// CanExecute reports whether the action is executable in ec. A false
	// return is recorded as a non-retryable failure, not an error.
	CanExecute(ctx context.Context, ec EnforcementContext) bool

	// Execute performs the side effect.
	Execute(ctx context.Context, ec EnforcementContext) error
}

// Rollbacker is the optional rollback capability an action type may expose.
// Actions without it are skipped during rollback without error.
type Rollbacker interface {
	Rollback(ctx context.Context, ec EnforcementContext) error
}

// ExecuteFunc is the body of a FuncAction.
type ExecuteFunc func(ctx context.Context, ec EnforcementContext) error

// FuncAction is the standard Action implementation: a kind, control fields,
// and pluggable execute / can-execute / rollback bodies.
type FuncAction struct {
	id        string
	kind      ActionKind
	priority  int
	immediate bool
	metadata  map[string]any

	execute    ExecuteFunc
	canExecute func(ctx context.Context, ec EnforcementContext) bool
	rollback   ExecuteFunc
}

// ActionOption customizes a FuncAction at construction time.
type ActionOption func(*FuncAction)

// WithImmediate marks the action as immediate.
func WithImmediate() ActionOption {
	return func(a *FuncAction) { a.immediate = true }
}

// WithActionMetadata sets a metadata key on the action.
func WithActionMetadata(key string, value any) ActionOption {
	return func(a *FuncAction) { a.metadata[key] = value }
}

// WithCanExecute installs a custom executability check.
func WithCanExecute(fn func(ctx context.Context, ec EnforcementContext) bool) ActionOption {
	return func(a *FuncAction) { a.canExecute = fn }
}

// WithRollback installs a rollback body, making the action rollback-capable.
func WithRollback(fn ExecuteFunc) ActionOption {
	return func(a *FuncAction) { a.rollback = fn }
}

// NewAction builds an action of the given kind. A nil execute body yields a
// marker action whose Execute is a successful no-op; block/allow markers and
// notify descriptors are typically built this way.
func NewAction(kind ActionKind, priority int, execute ExecuteFunc, opts ...ActionOption) *FuncAction {
	a := &FuncAction{
		id:       uuid.New().String(),
		kind:     kind,
		priority: priority,
		metadata: make(map[string]any),
		execute:  execute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewBlockAction builds a marker action that blocks the operation downstream.
func NewBlockAction(priority int, reason string) *FuncAction {
	return NewAction(ActionBlock, priority, nil, WithActionMetadata("reason", reason), WithImmediate())
}

// NewAllowAction builds a marker action that allows the operation downstream.
func NewAllowAction(priority int) *FuncAction {
	return NewAction(ActionAllow, priority, nil)
}

// NewNotifyAction builds a notification descriptor action. The message is
// carried in metadata; delivery belongs to an external collaborator.
func NewNotifyAction(priority int, channel, message string) *FuncAction {
	return NewAction(ActionNotify, priority, nil,
		WithActionMetadata("channel", channel),
		WithActionMetadata("message", message),
	)
}

// NewAuditAction builds an audit-log action that invokes record on execute.
func NewAuditAction(priority int, record ExecuteFunc) *FuncAction {
	return NewAction(ActionAudit, priority, record)
}

// NewMutateAction builds a data-mutation action around apply.
func NewMutateAction(priority int, apply ExecuteFunc, opts ...ActionOption) *FuncAction {
	return NewAction(ActionMutate, priority, apply, opts...)
}

func (a *FuncAction) ID() string               { return a.id }
func (a *FuncAction) Kind() ActionKind         { return a.kind }
func (a *FuncAction) Priority() int            { return a.priority }
func (a *FuncAction) Immediate() bool          { return a.immediate }
func (a *FuncAction) Metadata() map[string]any { return a.metadata }

// CanExecute runs the installed check, defaulting to executable.
func (a *FuncAction) CanExecute(ctx context.Context, ec EnforcementContext) bool {
	if a.canExecute == nil {
		return true
	}
	return a.canExecute(ctx, ec)
}

// Execute runs the action body. Marker actions succeed without effect.
func (a *FuncAction) Execute(ctx context.Context, ec EnforcementContext) error {
	if a.execute == nil {
		return nil
	}
	return a.execute(ctx, ec)
}

// Rollback undoes the action if a rollback body was installed.
func (a *FuncAction) Rollback(ctx context.Context, ec EnforcementContext) error {
	if a.rollback == nil {
		return fmt.Errorf("action %s (%s) has no rollback handler", a.id, a.kind)
	}
	return a.rollback(ctx, ec)
}

// CanRollback reports whether a rollback body is installed. The enforcer
// uses this to skip rollback-incapable actions without error.
func (a *FuncAction) CanRollback() bool { return a.rollback != nil }

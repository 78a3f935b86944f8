// Package registry provides the concurrent-safe store of registered rules,
// indexed by id, category, and type. The map is striped across shards keyed
// by rule id so writers on unrelated rules never contend on a global lock.
package registry

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"veridian-hq/arbiter/pkg/rule"
)

// shardCount is the number of lock stripes. Power of two so the shard index
// is a cheap mask.
const shardCount = 16

// Common registry errors.
var (
	// ErrNilRule indicates a nil rule was passed to Register.
	ErrNilRule = fmt.Errorf("rule cannot be nil")

	// ErrDuplicateRule indicates a rule with the same id is already registered.
	ErrDuplicateRule = fmt.Errorf("rule already registered")

	// ErrRuleNotFound indicates no rule with the given id exists.
	ErrRuleNotFound = fmt.Errorf("rule not found")
)

type shard struct {
	mu    sync.RWMutex
	rules map[string]rule.Rule
}

// Registry is the striped rule store. Reads take a per-shard read lock;
// writes hold the shard exclusively.
type Registry struct {
	shards [shardCount]*shard
	logger *slog.Logger

	// onRegister runs after a successful registration, outside the shard
	// lock. The engine uses it to seed a zeroed statistics entry.
	onRegister func(ruleID string)
}

// Option customizes a Registry at construction time.
type Option func(*Registry)

// WithOnRegister installs a hook invoked with the rule id after each
// successful registration.
func WithOnRegister(fn func(ruleID string)) Option {
	return func(r *Registry) { r.onRegister = fn }
}

// New creates an empty registry.
func New(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger: logger.With("component", "registry"),
	}
	for i := range r.shards {
		r.shards[i] = &shard{rules: make(map[string]rule.Rule)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()&(shardCount-1)]
}

// Register adds a rule. It fails when the rule is nil, when the rule's own
// Validate rejects it, or when a rule with the same id already exists. No
// partial state is left behind on failure.
func (r *Registry) Register(ru rule.Rule) error {
	if ru == nil {
		return ErrNilRule
	}
	if err := ru.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	id := ru.Info().ID
	s := r.shardFor(id)

	s.mu.Lock()
	if _, exists := s.rules[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRule, id)
	}
	s.rules[id] = ru
	s.mu.Unlock()

	if r.onRegister != nil {
		r.onRegister(id)
	}

	r.logger.Debug("rule registered", "rule_id", id, "category", ru.Info().Category, "priority", ru.Info().Priority)
	return nil
}

// RegisterOrReplace adds a rule, replacing any existing rule with the same
// id. Hot-reload from definition files goes through this path.
func (r *Registry) RegisterOrReplace(ru rule.Rule) error {
	if ru == nil {
		return ErrNilRule
	}
	if err := ru.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	id := ru.Info().ID
	s := r.shardFor(id)

	s.mu.Lock()
	_, replaced := s.rules[id]
	s.rules[id] = ru
	s.mu.Unlock()

	if !replaced && r.onRegister != nil {
		r.onRegister(id)
	}

	r.logger.Debug("rule registered", "rule_id", id, "replaced", replaced)
	return nil
}

// Unregister removes a rule by id.
func (r *Registry) Unregister(id string) error {
	s := r.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

// Get retrieves a rule by id.
func (r *Registry) Get(id string) (rule.Rule, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	ru, ok := s.rules[id]
	return ru, ok
}

// All returns every registered rule, sorted by id for deterministic output.
func (r *Registry) All() []rule.Rule {
	return r.collect(func(rule.Rule) bool { return true })
}

// ByCategory returns the rules in the given category.
func (r *Registry) ByCategory(category rule.RuleCategory) []rule.Rule {
	return r.collect(func(ru rule.Rule) bool { return ru.Info().Category == category })
}

// ByType returns the rules of the given type.
func (r *Registry) ByType(ruleType rule.RuleType) []rule.Rule {
	return r.collect(func(ru rule.Rule) bool { return ru.Info().Type == ruleType })
}

// Applicable returns the enabled rules that apply to op.
func (r *Registry) Applicable(op rule.Operation) []rule.Rule {
	return r.collect(func(ru rule.Rule) bool { return ru.Info().Enabled && ru.Applies(op) })
}

func (r *Registry) collect(keep func(rule.Rule) bool) []rule.Rule {
	var out []rule.Rule
	for _, s := range r.shards {
		s.mu.RLock()
		for _, ru := range s.rules {
			if keep(ru) {
				out = append(out, ru)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info().ID < out[j].Info().ID })
	return out
}

// Count returns the number of registered rules.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.rules)
		s.mu.RUnlock()
	}
	return n
}

// ActiveCount returns the number of enabled rules.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, ru := range s.rules {
			if ru.Info().Enabled {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Clear removes every rule. Used by engine shutdown.
func (r *Registry) Clear() {
	for _, s := range r.shards {
		s.mu.Lock()
		s.rules = make(map[string]rule.Rule)
		s.mu.Unlock()
	}
}

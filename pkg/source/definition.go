// Package source loads rule definitions from YAML files and keeps a registry
// in sync with them. Definitions compile to expression rules; the loader
// reports per-definition diagnostics so a single bad entry never blocks the
// rest of a file.
package source

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"veridian-hq/arbiter/pkg/rule"
)

// File is the top-level structure of a rule definition file.
type File struct {
	// Version is the definition format version. Currently 1.
	Version int `yaml:"version"`

	// Rules are the rule definitions in this file.
	Rules []Definition `yaml:"rules"`
}

// Definition describes one rule in YAML form.
type Definition struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Category is one of "compliance", "security", "gameplay",
	// "monetization", "custom". Defaults to "custom".
	Category string `yaml:"category"`

	// Type is one of "authorization", "validation", "enforcement",
	// "custom". Defaults to "validation".
	Type string `yaml:"type"`

	Tags []string `yaml:"tags"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`

	Priority       int  `yaml:"priority"`
	ExecutionOrder int  `yaml:"execution_order"`
	Critical       bool `yaml:"critical"`

	// AppliesTo lists operation types this rule gates; empty means all.
	AppliesTo []string `yaml:"applies_to"`

	// Condition is the CEL expression; true allows the operation.
	Condition string `yaml:"condition"`

	// Applicability optionally narrows the operation set further.
	Applicability string `yaml:"applicability"`

	Confidence float64 `yaml:"confidence"`
	DenyReason string  `yaml:"deny_reason"`

	Actions []ActionDefinition `yaml:"actions"`
}

// ActionDefinition describes an action attached to passing results.
type ActionDefinition struct {
	Kind      string         `yaml:"kind"`
	Priority  int            `yaml:"priority"`
	Immediate bool           `yaml:"immediate"`
	Metadata  map[string]any `yaml:"metadata"`
}

var definitionCategories = map[string]rule.RuleCategory{
	"compliance":   rule.CategoryCompliance,
	"security":     rule.CategorySecurity,
	"gameplay":     rule.CategoryGameplay,
	"monetization": rule.CategoryMonetization,
	"custom":       rule.CategoryCustom,
	"":             rule.CategoryCustom,
}

var definitionTypes = map[string]rule.RuleType{
	"authorization": rule.TypeAuthorization,
	"validation":    rule.TypeValidation,
	"enforcement":   rule.TypeEnforcement,
	"custom":        rule.TypeCustom,
	"":              rule.TypeValidation,
}

// Build compiles the definition into an expression rule using env.
func (d Definition) Build(env *cel.Env) (*rule.ExpressionRule, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("definition is missing an id")
	}
	if d.Condition == "" {
		return nil, fmt.Errorf("definition %s is missing a condition", d.ID)
	}

	category, ok := definitionCategories[d.Category]
	if !ok {
		return nil, fmt.Errorf("definition %s: unknown category %q", d.ID, d.Category)
	}
	ruleType, ok := definitionTypes[d.Type]
	if !ok {
		return nil, fmt.Errorf("definition %s: unknown type %q", d.ID, d.Type)
	}

	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}

	appliesTo := make([]rule.OperationType, 0, len(d.AppliesTo))
	for _, t := range d.AppliesTo {
		appliesTo = append(appliesTo, rule.OperationType(t))
	}

	actions, err := d.buildActions()
	if err != nil {
		return nil, err
	}

	name := d.Name
	if name == "" {
		name = d.ID
	}

	return rule.NewExpressionRule(env, rule.ExpressionSpec{
		Info: rule.Info{
			ID:             d.ID,
			Name:           name,
			Version:        d.Version,
			Category:       category,
			Type:           ruleType,
			Tags:           append([]string(nil), d.Tags...),
			Enabled:        enabled,
			Priority:       d.Priority,
			ExecutionOrder: d.ExecutionOrder,
			Critical:       d.Critical,
		},
		AppliesTo:     appliesTo,
		Condition:     d.Condition,
		Applicability: d.Applicability,
		Confidence:    d.Confidence,
		DenyReason:    d.DenyReason,
		Actions:       actions,
	})
}

func (d Definition) buildActions() ([]rule.Action, error) {
	if len(d.Actions) == 0 {
		return nil, nil
	}

	actions := make([]rule.Action, 0, len(d.Actions))
	for i, ad := range d.Actions {
		kind := rule.ActionKind(ad.Kind)
		if !rule.KnownActionKind(kind) {
			return nil, fmt.Errorf("definition %s: action %d: unknown kind %q", d.ID, i, ad.Kind)
		}

		opts := make([]rule.ActionOption, 0, len(ad.Metadata)+1)
		if ad.Immediate {
			opts = append(opts, rule.WithImmediate())
		}
		for k, v := range ad.Metadata {
			opts = append(opts, rule.WithActionMetadata(k, v))
		}

		actions = append(actions, rule.NewAction(kind, ad.Priority, nil, opts...))
	}
	return actions, nil
}

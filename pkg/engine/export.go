package engine

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"veridian-hq/arbiter/pkg/rule"
)

// configVersion is the export document version.
const configVersion = 1

// exportDoc is the round-trippable configuration shape. It carries rule
// metadata (and condition sources for expression rules), never executable
// behavior.
type exportDoc struct {
	Version int            `yaml:"version"`
	Rules   []exportedRule `yaml:"rules"`
}

type exportedRule struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name,omitempty"`
	Version        string   `yaml:"version,omitempty"`
	Category       string   `yaml:"category,omitempty"`
	Type           string   `yaml:"type,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
	Enabled        bool     `yaml:"enabled"`
	Priority       int      `yaml:"priority"`
	ExecutionOrder int      `yaml:"execution_order,omitempty"`
	Critical       bool     `yaml:"critical,omitempty"`
	AppliesTo      []string `yaml:"applies_to,omitempty"`
	Condition      string   `yaml:"condition,omitempty"`
	Applicability  string   `yaml:"applicability,omitempty"`
}

// settable is the explicit-update surface rules may expose for their
// mutable control flags.
type settable interface {
	SetEnabled(bool)
	SetPriority(int)
}

// ExportConfiguration returns the registry's rule metadata as a generic
// map, suitable for handing to an external store.
func (e *Engine) ExportConfiguration() (map[string]any, error) {
	if e.down.Load() {
		return nil, ErrEngineShutDown
	}

	doc := exportDoc{Version: configVersion}
	for _, r := range e.registry.All() {
		info := r.Info()
		entry := exportedRule{
			ID:             info.ID,
			Name:           info.Name,
			Version:        info.Version,
			Category:       string(info.Category),
			Type:           string(info.Type),
			Tags:           info.Tags,
			Enabled:        info.Enabled,
			Priority:       info.Priority,
			ExecutionOrder: info.ExecutionOrder,
			Critical:       info.Critical,
		}
		if xr, ok := r.(*rule.ExpressionRule); ok {
			entry.Condition = xr.Condition()
			entry.Applicability = xr.Applicability()
			for _, t := range xr.AppliesToTypes() {
				entry.AppliesTo = append(entry.AppliesTo, string(t))
			}
		}
		doc.Rules = append(doc.Rules, entry)
	}

	// Round-trip through YAML to produce plain maps, the shape external
	// stores expect.
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return out, nil
}

// importOp is one planned registry change, built during validation and
// applied only once every entry checked out.
type importOp struct {
	xr    *rule.ExpressionRule
	set   settable
	entry exportedRule
}

// ImportConfiguration applies an exported configuration. Entries matching a
// registered rule update its enabled/priority flags; entries carrying a
// condition are compiled into expression rules and registered (replacing
// any previous definition). Metadata-only entries for unknown rules cannot
// reconstruct behavior and are reported as errors. The whole document is
// validated before any registry change, so a bad entry leaves the engine
// untouched.
func (e *Engine) ImportConfiguration(cfg map[string]any) error {
	if e.down.Load() {
		return ErrEngineShutDown
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	var doc exportDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding configuration: %w", err)
	}
	if doc.Version != configVersion {
		return fmt.Errorf("unsupported configuration version %d", doc.Version)
	}

	ops := make([]importOp, 0, len(doc.Rules))
	for _, entry := range doc.Rules {
		if entry.ID == "" {
			return fmt.Errorf("configuration entry missing rule id")
		}

		if entry.Condition != "" {
			xr, err := e.buildExpressionRule(entry)
			if err != nil {
				return err
			}
			ops = append(ops, importOp{xr: xr})
			continue
		}

		existing, ok := e.registry.Get(entry.ID)
		if !ok {
			return fmt.Errorf("rule %s: not registered and no condition to rebuild it from", entry.ID)
		}
		s, ok := existing.(settable)
		if !ok {
			return fmt.Errorf("rule %s: does not support metadata updates", entry.ID)
		}
		ops = append(ops, importOp{set: s, entry: entry})
	}

	for _, op := range ops {
		if op.xr != nil {
			if err := e.registry.RegisterOrReplace(op.xr); err != nil {
				return fmt.Errorf("importing rule %s: %w", op.xr.Info().ID, err)
			}
			continue
		}
		op.set.SetEnabled(op.entry.Enabled)
		op.set.SetPriority(op.entry.Priority)
	}

	e.logger.Info("configuration imported", "rule_count", len(doc.Rules))
	return nil
}

func (e *Engine) buildExpressionRule(entry exportedRule) (*rule.ExpressionRule, error) {
	appliesTo := make([]rule.OperationType, 0, len(entry.AppliesTo))
	for _, t := range entry.AppliesTo {
		appliesTo = append(appliesTo, rule.OperationType(t))
	}

	xr, err := rule.NewExpressionRule(e.celEnv, rule.ExpressionSpec{
		Info: rule.Info{
			ID:             entry.ID,
			Name:           entry.Name,
			Version:        entry.Version,
			Category:       rule.RuleCategory(entry.Category),
			Type:           rule.RuleType(entry.Type),
			Tags:           entry.Tags,
			Enabled:        entry.Enabled,
			Priority:       entry.Priority,
			ExecutionOrder: entry.ExecutionOrder,
			Critical:       entry.Critical,
		},
		AppliesTo:     appliesTo,
		Condition:     entry.Condition,
		Applicability: entry.Applicability,
	})
	if err != nil {
		return nil, fmt.Errorf("importing rule %s: %w", entry.ID, err)
	}
	return xr, nil
}

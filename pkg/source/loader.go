package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"veridian-hq/arbiter/pkg/registry"
	"veridian-hq/arbiter/pkg/rule"
)

// Diagnostic reports one definition that could not be loaded.
type Diagnostic struct {
	// Path is the file the definition came from.
	Path string

	// RuleID is the definition id when one was present.
	RuleID string

	// Err describes what went wrong.
	Err error
}

// Error returns the diagnostic as a single line.
func (d Diagnostic) Error() string {
	if d.RuleID != "" {
		return fmt.Sprintf("%s: rule %s: %v", d.Path, d.RuleID, d.Err)
	}
	return fmt.Sprintf("%s: %v", d.Path, d.Err)
}

// Loader compiles rule definition files into expression rules.
type Loader struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewLoader creates a loader that compiles against env.
func NewLoader(env *cel.Env, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{env: env, logger: logger.With("component", "rule_source")}
}

// Load reads rule definitions from path, which can be a single file or a
// directory. Directory loads pick up all .yaml and .yml files. Definitions
// that fail to compile are returned as diagnostics; the remaining rules
// still load.
func (l *Loader) Load(path string) ([]*rule.ExpressionRule, []Diagnostic, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat path %q: %w", path, err)
	}

	var (
		rules []*rule.ExpressionRule
		diags []Diagnostic
	)

	if info.IsDir() {
		rules, diags, err = l.loadDirectory(path)
	} else {
		rules, diags, err = l.loadFile(path)
	}
	if err != nil {
		return nil, diags, err
	}

	l.logger.Info("loaded rule definitions",
		"path", path,
		"rule_count", len(rules),
		"diagnostic_count", len(diags),
	)
	return rules, diags, nil
}

// Sync loads definitions from path and installs them into reg, replacing any
// rules with the same ids. It returns the number of rules installed.
func (l *Loader) Sync(path string, reg *registry.Registry) (int, []Diagnostic, error) {
	rules, diags, err := l.Load(path)
	if err != nil {
		return 0, diags, err
	}

	installed := 0
	for _, r := range rules {
		if err := reg.RegisterOrReplace(r); err != nil {
			diags = append(diags, Diagnostic{Path: path, RuleID: r.Info().ID, Err: err})
			continue
		}
		installed++
	}
	return installed, diags, nil
}

// loadDirectory loads all definition files from a directory tree.
func (l *Loader) loadDirectory(dir string) ([]*rule.ExpressionRule, []Diagnostic, error) {
	var (
		rules []*rule.ExpressionRule
		diags []Diagnostic
	)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		fileRules, fileDiags, err := l.loadFile(path)
		if err != nil {
			// An unreadable or unparsable file becomes a diagnostic so the
			// rest of the directory still loads.
			diags = append(diags, Diagnostic{Path: path, Err: err})
			return nil
		}

		rules = append(rules, fileRules...)
		diags = append(diags, fileDiags...)
		return nil
	})
	if err != nil {
		return nil, diags, fmt.Errorf("failed to walk directory %q: %w", dir, err)
	}

	return rules, diags, nil
}

// loadFile loads a single definition file.
func (l *Loader) loadFile(path string) ([]*rule.ExpressionRule, []Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse definition file %q: %w", path, err)
	}
	if file.Version != 0 && file.Version != 1 {
		return nil, nil, fmt.Errorf("definition file %q: unsupported version %d", path, file.Version)
	}

	var (
		rules []*rule.ExpressionRule
		diags []Diagnostic
	)
	for _, def := range file.Rules {
		r, err := def.Build(l.env)
		if err != nil {
			diags = append(diags, Diagnostic{Path: path, RuleID: def.ID, Err: err})
			continue
		}
		rules = append(rules, r)

		l.logger.Debug("compiled rule definition",
			"path", path,
			"rule_id", def.ID,
		)
	}

	return rules, diags, nil
}

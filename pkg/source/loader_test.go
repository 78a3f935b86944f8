package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/cel-go/cel"

	"veridian-hq/arbiter/pkg/registry"
	"veridian-hq/arbiter/pkg/rule"
)

func testEnv(t *testing.T) *cel.Env {
	t.Helper()
	env, err := rule.ExpressionEnv()
	if err != nil {
		t.Fatal(err)
	}
	return env
}

const goodDefinitions = `
version: 1
rules:
  - id: age-gate
    name: Minimum Age
    category: compliance
    type: authorization
    priority: 9
    critical: true
    applies_to: [purchase]
    condition: '!(has(actor.age)) || actor.age >= 13'
    deny_reason: actor does not meet the minimum age
  - id: spend-cap
    category: monetization
    condition: operation.payload.amount <= 100.0
    actions:
      - kind: audit
        priority: 3
        metadata:
          channel: finance
`

const mixedDefinitions = `
version: 1
rules:
  - id: good-rule
    condition: "true"
  - id: bad-syntax
    condition: 'operation.payload.amount <'
  - name: missing-id
    condition: "true"
  - id: bad-action
    condition: "true"
    actions:
      - kind: teleport
`

func writeDefinitionFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeDefinitionFile(t, t.TempDir(), "rules.yaml", goodDefinitions)

	loader := NewLoader(testEnv(t), nil)
	rules, diags, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(rules) != 2 {
		t.Fatalf("rule count = %d, want 2", len(rules))
	}

	byID := make(map[string]*rule.ExpressionRule, len(rules))
	for _, r := range rules {
		byID[r.Info().ID] = r
	}

	ag, ok := byID["age-gate"]
	if !ok {
		t.Fatal("age-gate not loaded")
	}
	info := ag.Info()
	if info.Name != "Minimum Age" || info.Category != rule.CategoryCompliance {
		t.Errorf("age-gate info = %+v", info)
	}
	if info.Type != rule.TypeAuthorization || info.Priority != 9 || !info.Critical {
		t.Errorf("age-gate info = %+v", info)
	}

	sc, ok := byID["spend-cap"]
	if !ok {
		t.Fatal("spend-cap not loaded")
	}
	if sc.Info().Name != "spend-cap" {
		t.Errorf("name should default to the id, got %q", sc.Info().Name)
	}
	if sc.Info().Type != rule.TypeValidation {
		t.Errorf("type should default to validation, got %q", sc.Info().Type)
	}
}

func TestLoadFileDiagnostics(t *testing.T) {
	path := writeDefinitionFile(t, t.TempDir(), "rules.yaml", mixedDefinitions)

	loader := NewLoader(testEnv(t), nil)
	rules, diags, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(rules) != 1 || rules[0].Info().ID != "good-rule" {
		t.Errorf("only good-rule should load, got %d rules", len(rules))
	}
	if len(diags) != 3 {
		t.Fatalf("diagnostic count = %d, want 3: %v", len(diags), diags)
	}

	for _, d := range diags {
		if !strings.Contains(d.Error(), path) {
			t.Errorf("diagnostic should carry the file path: %q", d.Error())
		}
	}
}

func TestLoadFileUnsupportedVersion(t *testing.T) {
	path := writeDefinitionFile(t, t.TempDir(), "rules.yaml", "version: 7\nrules: []\n")

	loader := NewLoader(testEnv(t), nil)
	if _, _, err := loader.Load(path); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeDefinitionFile(t, dir, "good.yaml", goodDefinitions)
	writeDefinitionFile(t, dir, "broken.yml", "rules: [not a mapping")
	writeDefinitionFile(t, dir, "ignored.json", `{"rules": []}`)

	loader := NewLoader(testEnv(t), nil)
	rules, diags, err := loader.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(rules) != 2 {
		t.Errorf("rule count = %d, want 2 from good.yaml", len(rules))
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostic count = %d, want 1 for broken.yml: %v", len(diags), diags)
	}
	if !strings.Contains(diags[0].Path, "broken.yml") {
		t.Errorf("diagnostic path = %q, want broken.yml", diags[0].Path)
	}
}

func TestLoadMissingPath(t *testing.T) {
	loader := NewLoader(testEnv(t), nil)
	if _, _, err := loader.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestSyncInstallsAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinitionFile(t, dir, "rules.yaml", goodDefinitions)

	loader := NewLoader(testEnv(t), nil)
	reg := registry.New(nil)

	installed, diags, err := loader.Sync(path, reg)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if installed != 2 || len(diags) != 0 {
		t.Fatalf("installed = %d, diags = %v", installed, diags)
	}
	if reg.Count() != 2 {
		t.Errorf("registry count = %d, want 2", reg.Count())
	}

	// A second sync with an updated definition replaces in place.
	updated := strings.Replace(goodDefinitions, "priority: 9", "priority: 4", 1)
	writeDefinitionFile(t, dir, "rules.yaml", updated)

	installed, diags, err = loader.Sync(path, reg)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if installed != 2 || len(diags) != 0 {
		t.Fatalf("second sync installed = %d, diags = %v", installed, diags)
	}
	if reg.Count() != 2 {
		t.Errorf("registry count after replace = %d, want 2", reg.Count())
	}

	r, ok := reg.Get("age-gate")
	if !ok {
		t.Fatal("age-gate missing after replace")
	}
	if r.Info().Priority != 4 {
		t.Errorf("replaced priority = %d, want 4", r.Info().Priority)
	}
}

func TestDefinitionBuild(t *testing.T) {
	env := testEnv(t)

	tests := []struct {
		name    string
		def     Definition
		wantErr string
	}{
		{
			name:    "missing id",
			def:     Definition{Condition: "true"},
			wantErr: "missing an id",
		},
		{
			name:    "missing condition",
			def:     Definition{ID: "r"},
			wantErr: "missing a condition",
		},
		{
			name:    "unknown category",
			def:     Definition{ID: "r", Condition: "true", Category: "sports"},
			wantErr: "unknown category",
		},
		{
			name:    "unknown type",
			def:     Definition{ID: "r", Condition: "true", Type: "advisory"},
			wantErr: "unknown type",
		},
		{
			name: "unknown action kind",
			def: Definition{ID: "r", Condition: "true",
				Actions: []ActionDefinition{{Kind: "teleport"}}},
			wantErr: "unknown kind",
		},
		{
			name: "valid",
			def:  Definition{ID: "r", Condition: "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.def.Build(env)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Build: %v", err)
				}
				if !r.Info().Enabled {
					t.Error("enabled should default to true")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefinitionBuildDisabled(t *testing.T) {
	disabled := false
	def := Definition{ID: "off", Condition: "true", Enabled: &disabled}

	r, err := def.Build(testEnv(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Info().Enabled {
		t.Error("explicitly disabled definition should stay disabled")
	}
}

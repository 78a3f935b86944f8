package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/source"
)

var lintFlags struct {
	file   string
	dir    string
	format string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule definition files",
	Long: `Validate rule definition files for syntax and compilation errors.

The lint command parses definition files and compiles every rule:
  - YAML syntax validation
  - Definition structure validation (ids, categories, action kinds)
  - CEL condition and applicability compilation

Examples:
  # Lint single file
  arbiter lint --file rules.yaml

  # Lint directory
  arbiter lint --dir rules/

  # JSON output for CI/CD
  arbiter lint --file rules.yaml --format json`,
	RunE: lintDefinitions,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "definition file to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of definition files")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
}

func lintDefinitions(cmd *cobra.Command, args []string) error {
	if lintFlags.file == "" && lintFlags.dir == "" {
		return fmt.Errorf("either --file or --dir must be specified")
	}
	path := lintFlags.file
	if path == "" {
		path = lintFlags.dir
	}

	env, err := rule.ExpressionEnv()
	if err != nil {
		return err
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	loader := source.NewLoader(env, quiet)

	rules, diags, err := loader.Load(path)
	if err != nil {
		return err
	}

	if lintFlags.format == "json" {
		type report struct {
			Path        string   `json:"path"`
			RuleCount   int      `json:"rule_count"`
			Diagnostics []string `json:"diagnostics"`
			Valid       bool     `json:"valid"`
		}
		r := report{Path: path, RuleCount: len(rules), Valid: len(diags) == 0}
		for _, d := range diags {
			r.Diagnostics = append(r.Diagnostics, d.Error())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return err
		}
	} else {
		for _, r := range rules {
			fmt.Printf("ok   %s\n", r.Info().ID)
		}
		for _, d := range diags {
			fmt.Printf("FAIL %s\n", d.Error())
		}
		fmt.Printf("%d rules valid, %d diagnostics\n", len(rules), len(diags))
	}

	if len(diags) > 0 {
		return fmt.Errorf("%d definitions failed to compile", len(diags))
	}
	return nil
}

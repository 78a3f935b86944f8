package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"veridian-hq/arbiter/pkg/enforce"
	"veridian-hq/arbiter/pkg/engine"
	"veridian-hq/arbiter/pkg/rule"
	"veridian-hq/arbiter/pkg/source"
)

var checkFlags struct {
	rulesPath     string
	operationPath string
	strategy      string
	enforcePolicy string
}

// checkInput is the YAML shape the check command reads.
type checkInput struct {
	Operation struct {
		Type    string         `yaml:"type"`
		ActorID string         `yaml:"actor_id"`
		Payload map[string]any `yaml:"payload"`
	} `yaml:"operation"`

	Actor struct {
		ID          string         `yaml:"id"`
		Permissions []string       `yaml:"permissions"`
		Attributes  map[string]any `yaml:"attributes"`
	} `yaml:"actor"`

	State map[string]any `yaml:"state"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one operation against rule definitions",
	Long: `Evaluate a single operation against a set of rule definitions and
print the verdict.

The operation file describes the operation, the actor, and optional
application state. With --enforce, the actions of passing rules are also
executed under the named policy.

Examples:
  # Validate an operation
  arbiter check --rules rules.yaml --operation op.yaml

  # Use the strict strategy
  arbiter check --rules rules.yaml --operation op.yaml --strategy strict

  # Validate and enforce under dry-run
  arbiter check --rules rules.yaml --operation op.yaml --enforce dry_run`,
	RunE: checkOperation,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.rulesPath, "rules", "r", "", "rule definition file or directory (required)")
	checkCmd.Flags().StringVarP(&checkFlags.operationPath, "operation", "o", "", "operation file (required)")
	checkCmd.Flags().StringVarP(&checkFlags.strategy, "strategy", "s", "comprehensive", "validation strategy")
	checkCmd.Flags().StringVar(&checkFlags.enforcePolicy, "enforce", "", "also enforce under the named policy")
	checkCmd.MarkFlagRequired("rules")
	checkCmd.MarkFlagRequired("operation")
}

func checkOperation(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(checkFlags.operationPath)
	if err != nil {
		return fmt.Errorf("failed to read operation file: %w", err)
	}
	var in checkInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse operation file: %w", err)
	}
	if in.Operation.Type == "" {
		return fmt.Errorf("operation file is missing operation.type")
	}

	strategy, err := engine.StrategyByName(checkFlags.strategy)
	if err != nil {
		return err
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng, err := engine.New(engine.WithLogger(quiet), engine.WithDefaultStrategy(strategy))
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	loader := source.NewLoader(eng.ExpressionEnv(), quiet)
	_, diags, err := loader.Sync(checkFlags.rulesPath, eng.Registry())
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d.Error())
	}

	op := rule.NewOperation(rule.OperationType(in.Operation.Type), in.Operation.ActorID, in.Operation.Payload)
	actor := rule.Actor{
		ID:          in.Actor.ID,
		Permissions: in.Actor.Permissions,
		Attributes:  in.Actor.Attributes,
	}
	vc := rule.NewValidationContext(op, actor, in.State)

	res := eng.ValidateOperation(cmd.Context(), op, vc)

	fmt.Printf("operation: %s\n", op.Type)
	fmt.Printf("strategy:  %s\n", res.Strategy)
	if res.Valid {
		fmt.Println("verdict:   VALID")
	} else {
		fmt.Println("verdict:   INVALID")
	}
	fmt.Printf("rules:     %d passed, %d failed of %d\n",
		res.Summary.PassedRules, res.Summary.FailedRules, res.Summary.TotalRules)
	for _, e := range res.Errors {
		fmt.Printf("error:     %s\n", e)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning:   %s\n", w)
	}
	for _, r := range res.Recommendations {
		fmt.Printf("hint:      %s\n", r)
	}

	if checkFlags.enforcePolicy != "" {
		policy, ok := enforce.PolicyByName(checkFlags.enforcePolicy)
		if !ok {
			return fmt.Errorf("unknown enforcement policy %q", checkFlags.enforcePolicy)
		}
		er := eng.EnforceWithPolicy(cmd.Context(), op, rule.EnforcementFrom(vc), strategy, policy)
		fmt.Printf("enforcement (%s): executed=%d failed=%d skipped=%d rolled_back=%d successful=%v\n",
			policy.Name, er.Summary.ExecutedCount, er.Summary.FailedCount,
			er.Summary.SkippedCount, er.Summary.RollbackCount, er.Successful)
	}

	if !res.Valid {
		os.Exit(1)
	}
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Arbiter - pluggable business-rule validation engine",
	Long: `Arbiter is a pluggable validation and enforcement engine for business rules.

It evaluates operations against registered rules in priority order,
executes the actions passing rules produce, and keeps per-rule statistics:
  - Five validation strategies with configurable validity modes
  - Five enforcement policies including dry-run and rollback
  - CEL expression rules loaded from YAML definition files
  - Hot reloading of rule definitions
  - Prometheus metrics and statistics archiving`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Arbiter is a pluggable business-rule validation and enforcement engine.
//
// It evaluates operations against registered rules, executes the actions
// passing rules produce, and keeps per-rule statistics.
//
// Usage:
//
//	# Start the engine with default configuration
//	arbiter run
//
//	# Start with custom configuration file
//	arbiter run --config /path/to/config.yaml
//
//	# Validate rule definition files
//	arbiter lint --file rules.yaml
//
//	# Evaluate one operation against the rules
//	arbiter check --rules rules.yaml --operation op.yaml
//
//	# Show version information
//	arbiter version
package main

func main() {
	Execute()
}

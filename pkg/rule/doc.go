// Package rule defines the data model shared by the Arbiter engine: rules,
// operations, validation and enforcement contexts, rule results, and the
// actions a rule may request as follow-up to a decision.
//
// Everything in this package is a request-scoped value object except Rule and
// Action implementations themselves, which are registered once and must be
// safe for concurrent evaluation. Contexts are passed by value; deriving a
// child context copies and extends metadata rather than mutating the parent.
package rule

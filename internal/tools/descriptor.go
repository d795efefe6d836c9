// Package tools provides DataDesk's direct-tool layer: persona-scoped,
// pattern-matched fast lookups that bypass AI SQL generation. Tools are
// registered once at process start into a frozen registry; dispatch evaluates
// predicates in registration order and runs the first match.
package tools

import (
	"context"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// Predicate decides whether a tool applies to a question. Predicates must be
// pure: no I/O beyond cheap checks of the classification's extracted entities.
type Predicate func(question string, record *classify.Record) bool

// Executor performs the deterministic lookup. Errors trigger fallback to the
// AI workflow; they are never surfaced to the caller as hard failures.
type Executor func(ctx context.Context, question string, record *classify.Record) (*Result, error)

// Descriptor is a named direct tool: an applicability predicate plus an
// executor. Descriptors are stateless and shared across requests.
type Descriptor struct {
	// Name is unique within a persona's tool set.
	Name string

	// Description explains what the tool looks up.
	Description string

	// Matches reports whether the tool applies to the question.
	Matches Predicate

	// Execute performs the lookup.
	Execute Executor

	// ExampleTriggers are sample questions the predicate should accept,
	// used by the registry self-test.
	ExampleTriggers []string
}

// Result is the tabular outcome of a direct-tool execution.
type Result struct {
	// Rows in lookup order.
	Rows []warehouse.Row `json:"rows"`

	// RowCount always equals len(Rows).
	RowCount int `json:"row_count"`

	// ExecutedQuery is kept for diagnostics only.
	ExecutedQuery string `json:"executed_query"`

	// MatchedInputs and UnmatchedInputs partition the requested lookup keys
	// into found vs not-found. Together they cover the full input key set.
	MatchedInputs   []string `json:"matched_inputs"`
	UnmatchedInputs []string `json:"unmatched_inputs"`
}

// FromQuery builds a Result from a warehouse query result.
func FromQuery(res *warehouse.Result) *Result {
	return &Result{
		Rows:          res.Rows,
		RowCount:      res.RowCount,
		ExecutedQuery: res.ExecutedQuery,
	}
}

// Empty reports whether the lookup found nothing. An empty direct hit is not
// evidence that no equivalent exists; callers must retry via the AI workflow.
func (r *Result) Empty() bool {
	return r == nil || r.RowCount == 0
}

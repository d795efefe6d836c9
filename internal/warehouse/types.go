// Package warehouse provides DataDesk's access to the backing data store:
// query execution over database/sql and LLM-backed SQL generation with persona
// schema context.
package warehouse

import (
	"context"
	"fmt"
)

// Row is a single result record, keyed by column name.
type Row map[string]interface{}

// Result is the tabular outcome of a warehouse query.
type Result struct {
	// Rows in query-defined order. Order is not guaranteed stable across calls.
	Rows []Row `json:"rows"`

	// RowCount always equals len(Rows).
	RowCount int `json:"row_count"`

	// ExecutedQuery is retained for diagnostics only; the orchestrator never
	// interprets it.
	ExecutedQuery string `json:"executed_query"`
}

// Querier executes SQL against the warehouse. Implementations must honor the
// context deadline and return a QueryError on failure.
type Querier interface {
	Query(ctx context.Context, sql string) (*Result, error)
}

// QueryError wraps a failed warehouse query. The orchestrator reports it as a
// degraded (partial) result rather than recovering silently.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("warehouse query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

package orchestrator

import "fmt"

// ClassificationError wraps a classifier failure. Always recovered by
// substituting the default classification record.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// DirectToolError wraps a direct-tool executor failure. Always recovered by
// falling back to the AI workflow.
type DirectToolError struct {
	Tool string
	Err  error
}

func (e *DirectToolError) Error() string {
	return fmt.Sprintf("direct tool %s failed: %v", e.Tool, e.Err)
}

func (e *DirectToolError) Unwrap() error { return e.Err }

// StoreQueryError wraps a warehouse query failure in discovery, analysis, or
// the fallback query. This is the one failure reported to the caller as a
// degraded result: the answer may be incomplete.
type StoreQueryError struct {
	Stage string
	Err   error
}

func (e *StoreQueryError) Error() string {
	return fmt.Sprintf("store query failed in %s: %v", e.Stage, e.Err)
}

func (e *StoreQueryError) Unwrap() error { return e.Err }

// EvaluationParseError wraps an evaluation response that could not be parsed
// into the structured shape. Always recovered with a best-effort text answer.
type EvaluationParseError struct {
	Raw string
	Err error
}

func (e *EvaluationParseError) Error() string {
	return fmt.Sprintf("evaluation output unparseable: %v", e.Err)
}

func (e *EvaluationParseError) Unwrap() error { return e.Err }

// Package orchestrator is DataDesk's execution core: a small state machine
// that turns a classified question into an answered one. Single-stage
// questions try the direct-tool fast path and fall back to an AI-generated
// warehouse query when no tool matches, a tool fails, or a tool finds
// nothing. Multi-stage questions run the discovery/selection/analysis
// pipeline. Every path terminates in one ResponseEnvelope; Handle never
// returns an error.
package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// ExecutionPath identifies which branch of the state machine produced the
// response. It is the primary observability signal and is always set.
type ExecutionPath string

const (
	// PathDirectWithEvaluation: a direct tool hit, followed by evaluation.
	PathDirectWithEvaluation ExecutionPath = "direct_with_evaluation"
	// PathDirectNoEvaluation: a direct tool hit returned raw.
	PathDirectNoEvaluation ExecutionPath = "direct_no_evaluation"
	// PathAIWorkflowFallback: no usable direct hit; one generated query plus
	// evaluation.
	PathAIWorkflowFallback ExecutionPath = "ai_workflow_fallback"
	// PathMultiStage: the discovery/selection/analysis/evaluation pipeline.
	PathMultiStage ExecutionPath = "multi_stage"
)

// Stage names used as stageResults keys.
const (
	StageDirectTool = "direct_tool"
	StageFallback   = "fallback_query"
	StageDiscovery  = "discovery"
	StageSelection  = "selection"
	StageAnalysis   = "analysis"
	StageEvaluation = "evaluation"
)

// StageResult is the output of one pipeline stage. Which fields are populated
// depends on the stage: query stages carry rows, selection carries keys and
// rationale, evaluation carries the structured result.
type StageResult struct {
	Stage           string            `json:"stage"`
	Tool            string            `json:"tool,omitempty"`
	Rows            []warehouse.Row   `json:"rows,omitempty"`
	RowCount        int               `json:"row_count"`
	ExecutedQuery   string            `json:"executed_query,omitempty"`
	SelectedKeys    []string          `json:"selected_keys,omitempty"`
	Rationale       string            `json:"rationale,omitempty"`
	Compression     *CompressionStats `json:"compression,omitempty"`
	Evaluation      *EvaluationResult `json:"evaluation,omitempty"`
	MatchedInputs   []string          `json:"matched_inputs,omitempty"`
	UnmatchedInputs []string          `json:"unmatched_inputs,omitempty"`
	Error           string            `json:"error,omitempty"`
	Duration        time.Duration     `json:"duration_ns"`
}

// EvaluationResult is the structured synthesis of retrieved data into a
// business answer.
type EvaluationResult struct {
	BusinessAnswer    string   `json:"business_answer"`
	KeyFindings       []string `json:"key_findings"`
	RecommendedAction string   `json:"recommended_action"`
	ConfidenceLabel   string   `json:"confidence"`
	DataQualityNote   string   `json:"data_quality_note,omitempty"`
}

// Confidence labels for EvaluationResult.ConfidenceLabel.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ResponseEnvelope is the single response shape returned for every question,
// regardless of which execution path ran.
type ResponseEnvelope struct {
	RequestID      string                  `json:"request_id"`
	Question       string                  `json:"question"`
	Classification *classify.Record        `json:"classification"`
	ExecutionPath  ExecutionPath           `json:"execution_path"`
	StageResults   map[string]*StageResult `json:"stage_results"`
	FinalAnswer    string                  `json:"final_answer"`
	Degraded       bool                    `json:"degraded"`
	Note           string                  `json:"note,omitempty"`
	Duration       time.Duration           `json:"duration_ns"`
}

// addStage records a stage result under its stage name.
func (e *ResponseEnvelope) addStage(sr *StageResult) {
	if e.StageResults == nil {
		e.StageResults = make(map[string]*StageResult)
	}
	e.StageResults[sr.Stage] = sr
}

// finalize enforces the envelope invariants: execution path set, at least one
// stage result, final answer never empty.
func (e *ResponseEnvelope) finalize() {
	if e.ExecutionPath == "" {
		e.ExecutionPath = PathAIWorkflowFallback
	}
	if len(e.StageResults) == 0 {
		e.addStage(&StageResult{Stage: StageEvaluation})
	}
	if strings.TrimSpace(e.FinalAnswer) == "" {
		e.FinalAnswer = "No results found for this question."
	}
}

// summarizeRows renders tabular rows as short human-readable text for paths
// that skip evaluation or need a degraded answer.
func summarizeRows(rows []warehouse.Row, limit int) string {
	if len(rows) == 0 {
		return "No results found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s).", len(rows))
	n := len(rows)
	if limit > 0 && n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		b.WriteString("\n- ")
		b.WriteString(renderRow(rows[i]))
	}
	if n < len(rows) {
		fmt.Fprintf(&b, "\n… and %d more.", len(rows)-n)
	}
	return b.String()
}

func renderRow(row warehouse.Row) string {
	parts := make([]string, 0, len(row))
	for _, field := range sortedFields(row) {
		parts = append(parts, fmt.Sprintf("%s=%v", field, row[field]))
	}
	return strings.Join(parts, ", ")
}

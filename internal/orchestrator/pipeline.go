package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/persona"
)

// runMultiStage executes discovery -> selection -> analysis -> evaluation.
// Exactly two warehouse queries are issued (discovery and analysis); selection
// and evaluation are pure reasoning. An empty discovery does not short-circuit:
// the pipeline continues so evaluation can state explicitly that no candidates
// were found.
func (o *Orchestrator) runMultiStage(ctx context.Context, env *ResponseEnvelope, record *classify.Record, p *persona.Persona) {
	env.ExecutionPath = PathMultiStage

	discovery := o.runDiscovery(ctx, env.Question, p)
	env.addStage(discovery)
	if discovery.Error != "" {
		o.degrade(env, fmt.Sprintf("the discovery query failed: %s", discovery.Error))
		return
	}

	selection := o.runSelection(ctx, env.Question, discovery)
	env.addStage(selection)

	analysis := o.runAnalysis(ctx, env.Question, p, selection)
	env.addStage(analysis)
	if analysis.Error != "" {
		o.degrade(env, fmt.Sprintf("the analysis query failed: %s", analysis.Error))
		return
	}

	o.evaluateInto(ctx, env, []*StageResult{discovery, selection, analysis})
}

// runDiscovery issues the broad candidate query, bounded by the configured
// discovery limit.
func (o *Orchestrator) runDiscovery(ctx context.Context, question string, p *persona.Persona) *StageResult {
	start := time.Now()
	stage := &StageResult{Stage: StageDiscovery}

	discoveryQuestion := fmt.Sprintf(
		"Find candidate records relevant to this question (broad search, up to %d results): %s",
		o.pipeline.DiscoveryLimit, question)

	query, err := o.generator.GenerateSQL(ctx, discoveryQuestion, p.SchemaContext())
	if err != nil {
		stage.Error = (&StoreQueryError{Stage: StageDiscovery, Err: err}).Error()
		stage.Duration = time.Since(start)
		return stage
	}
	query = ensureLimit(query, o.pipeline.DiscoveryLimit)

	res, err := o.store.Query(ctx, query)
	if err != nil {
		stage.Error = (&StoreQueryError{Stage: StageDiscovery, Err: err}).Error()
		stage.ExecutedQuery = query
		stage.Duration = time.Since(start)
		return stage
	}

	stage.Rows = res.Rows
	stage.RowCount = res.RowCount
	stage.ExecutedQuery = res.ExecutedQuery
	stage.Duration = time.Since(start)
	return stage
}

// selectionChoice is the JSON shape requested from the selection prompt.
type selectionChoice struct {
	Selected  []string `json:"selected"`
	Rationale string   `json:"rationale"`
}

// runSelection picks the most relevant discovery candidates. No store access.
// When the LLM cannot produce a usable selection, the first candidates are
// auto-selected so analysis still has keys to work with.
func (o *Orchestrator) runSelection(ctx context.Context, question string, discovery *StageResult) *StageResult {
	start := time.Now()
	stage := &StageResult{Stage: StageSelection, SelectedKeys: []string{}}

	if discovery.RowCount == 0 {
		stage.Rationale = "no candidates found in discovery"
		stage.Duration = time.Since(start)
		return stage
	}

	keyField := pickKeyField(discovery.Rows[0])
	compressed, compStats := compressRows(discovery.Rows, o.pipeline.DiscoveryLimit)
	stage.Compression = &compStats

	prompt := fmt.Sprintf(`Question: %q

Discovery candidates (key field %q):
%s
Select the at most %d candidates most relevant to the question. Respond with JSON:
{"selected": ["%s value", ...], "rationale": "why these"}`,
		question, keyField, compressed, o.pipeline.SelectionLimit, keyField)

	resp, err := o.provider.Chat(ctx, &llm.ChatRequest{
		SystemPrompt: "You select relevant records. Respond with JSON only.",
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:    300,
	})
	if err == nil {
		var choice selectionChoice
		if payload := classify.ExtractJSON(resp.Content); payload != "" {
			if jsonErr := json.Unmarshal([]byte(payload), &choice); jsonErr == nil && len(choice.Selected) > 0 {
				stage.SelectedKeys = capKeys(choice.Selected, o.pipeline.SelectionLimit)
				stage.Rationale = choice.Rationale
				stage.Duration = time.Since(start)
				return stage
			}
		}
	}

	stage.SelectedKeys = autoSelect(discovery, keyField, o.pipeline.SelectionLimit)
	stage.Rationale = fmt.Sprintf("automatic selection: first %d candidates by %s", len(stage.SelectedKeys), keyField)
	stage.Duration = time.Since(start)
	return stage
}

// runAnalysis issues the focused query keyed on the selection. With an empty
// selection it still runs once, generated from the question alone.
func (o *Orchestrator) runAnalysis(ctx context.Context, question string, p *persona.Persona, selection *StageResult) *StageResult {
	start := time.Now()
	stage := &StageResult{Stage: StageAnalysis}

	analysisQuestion := question
	if len(selection.SelectedKeys) > 0 {
		analysisQuestion = fmt.Sprintf(
			"%s\nFocus on these confirmed records (use an IN clause on their key): %s. Join pricing and specification details where available.",
			question, strings.Join(selection.SelectedKeys, ", "))
	}

	query, err := o.generator.GenerateSQL(ctx, analysisQuestion, p.SchemaContext())
	if err != nil {
		stage.Error = (&StoreQueryError{Stage: StageAnalysis, Err: err}).Error()
		stage.Duration = time.Since(start)
		return stage
	}

	res, err := o.store.Query(ctx, query)
	if err != nil {
		stage.Error = (&StoreQueryError{Stage: StageAnalysis, Err: err}).Error()
		stage.ExecutedQuery = query
		stage.Duration = time.Since(start)
		return stage
	}

	stage.Rows = res.Rows
	stage.RowCount = res.RowCount
	stage.ExecutedQuery = res.ExecutedQuery
	stage.Duration = time.Since(start)
	return stage
}

// pickKeyField chooses the most identifying field of a row for selection.
func pickKeyField(row map[string]interface{}) string {
	for _, preferred := range []string{"product_code", "code", "sku", "id", "name", "product_name"} {
		if _, ok := row[preferred]; ok {
			return preferred
		}
	}
	fields := sortedFields(row)
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func autoSelect(discovery *StageResult, keyField string, limit int) []string {
	var keys []string
	for _, row := range discovery.Rows {
		if len(keys) >= limit {
			break
		}
		if val, ok := row[keyField]; ok {
			keys = append(keys, fmt.Sprintf("%v", val))
		}
	}
	return keys
}

func capKeys(keys []string, limit int) []string {
	if limit > 0 && len(keys) > limit {
		return keys[:limit]
	}
	return keys
}

// ensureLimit appends a LIMIT clause when the generated query lacks one.
func ensureLimit(query string, limit int) string {
	if limit <= 0 {
		return query
	}
	if strings.Contains(strings.ToUpper(query), "LIMIT") {
		return query
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), limit)
}

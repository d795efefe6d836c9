package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/llm"
)

// Evaluator synthesizes retrieved data into a business answer. Pure reasoning:
// implementations must not touch the warehouse.
type Evaluator interface {
	Evaluate(ctx context.Context, question string, stages []*StageResult) (*EvaluationResult, error)
}

// LLMEvaluator implements Evaluator on an LLM provider. Output parsing is
// two-tier: strict JSON first, then scalar-field salvage from unstructured
// text. A salvaged result carries DataQualityNote = "unstructured fallback"
// so callers can tell it apart from a clean parse.
type LLMEvaluator struct {
	provider   llm.Provider
	sampleRows int
}

// NewLLMEvaluator creates an evaluator. sampleRows bounds how many rows per
// stage are included in the prompt.
func NewLLMEvaluator(provider llm.Provider, sampleRows int) *LLMEvaluator {
	if sampleRows <= 0 {
		sampleRows = 10
	}
	return &LLMEvaluator{provider: provider, sampleRows: sampleRows}
}

const evaluatorSystemPrompt = "You are a senior business analyst. " +
	"Base your answer strictly on the retrieved data. If the data contradicts " +
	"a claim in the question, trust the data and call out the discrepancy. " +
	"Respond with JSON only."

// Evaluate renders the stage outputs into a prompt and parses the response.
// Returns an error only when the provider call itself fails; unparseable
// output is recovered locally.
func (e *LLMEvaluator) Evaluate(ctx context.Context, question string, stages []*StageResult) (*EvaluationResult, error) {
	prompt := e.buildPrompt(question, stages)

	resp, err := e.provider.Chat(ctx, &llm.ChatRequest{
		SystemPrompt: evaluatorSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:    800,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation call: %w", err)
	}

	return ParseEvaluation(resp.Content), nil
}

func (e *LLMEvaluator) buildPrompt(question string, stages []*StageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business question: %q\n\nRetrieved data by stage:\n", question)
	for _, stage := range stages {
		fmt.Fprintf(&b, "\n## %s\n", stage.Stage)
		if stage.Error != "" {
			fmt.Fprintf(&b, "Stage failed: %s\n", stage.Error)
			continue
		}
		if len(stage.SelectedKeys) > 0 {
			fmt.Fprintf(&b, "Selected: %s\nRationale: %s\n",
				strings.Join(stage.SelectedKeys, ", "), stage.Rationale)
		}
		if len(stage.Rows) > 0 {
			compressed, _ := compressRows(stage.Rows, e.sampleRows)
			b.WriteString(compressed)
		} else if len(stage.SelectedKeys) == 0 {
			b.WriteString("(no rows)\n")
		}
		if len(stage.UnmatchedInputs) > 0 {
			fmt.Fprintf(&b, "Not found: %s\n", strings.Join(stage.UnmatchedInputs, ", "))
		}
	}

	b.WriteString(`
Synthesize a business answer. If no data was retrieved, say explicitly that no candidates were found. Respond with JSON:
{
    "business_answer": "direct answer to the question",
    "key_findings": ["finding 1", "finding 2"],
    "recommended_action": "what the business should do next",
    "confidence": "high|medium|low",
    "data_quality_note": "caveats about the underlying data, or empty"
}`)
	return b.String()
}

// UnstructuredFallbackNote marks evaluation results salvaged from text that
// failed strict JSON parsing.
const UnstructuredFallbackNote = "unstructured fallback"

var (
	answerSalvageRe     = regexp.MustCompile(`(?i)"?business[_ ]answer"?\s*[:=]\s*"([^"]+)"`)
	actionSalvageRe     = regexp.MustCompile(`(?i)"?recommended[_ ]action"?\s*[:=]\s*"([^"]+)"`)
	confidenceSalvageRe = regexp.MustCompile(`(?i)"?confidence"?\s*[:=]\s*"?(high|medium|low)`)
)

// ParseEvaluation parses evaluator output. Strict JSON is attempted first; on
// failure, scalar fields are salvaged from the raw text and the result is
// flagged as an unstructured fallback. Never returns nil.
func ParseEvaluation(raw string) *EvaluationResult {
	if payload := classify.ExtractJSON(raw); payload != "" {
		var result EvaluationResult
		if err := json.Unmarshal([]byte(payload), &result); err == nil && result.BusinessAnswer != "" {
			result.ConfidenceLabel = normalizeConfidence(result.ConfidenceLabel)
			return &result
		}
	}
	return salvageEvaluation(raw)
}

// salvageEvaluation recovers a best-effort result from unstructured text.
func salvageEvaluation(raw string) *EvaluationResult {
	result := &EvaluationResult{
		ConfidenceLabel: ConfidenceLow,
		DataQualityNote: UnstructuredFallbackNote,
	}
	if m := answerSalvageRe.FindStringSubmatch(raw); m != nil {
		result.BusinessAnswer = m[1]
	}
	if m := actionSalvageRe.FindStringSubmatch(raw); m != nil {
		result.RecommendedAction = m[1]
	}
	if m := confidenceSalvageRe.FindStringSubmatch(raw); m != nil {
		result.ConfidenceLabel = strings.ToLower(m[1])
	}
	if result.BusinessAnswer == "" {
		text := strings.TrimSpace(raw)
		if text == "" {
			text = "No results found."
		}
		result.BusinessAnswer = text
	}
	return result
}

func normalizeConfidence(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceLow:
		return ConfidenceLow
	}
	return ConfidenceMedium
}

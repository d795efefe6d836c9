package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

func TestParseEvaluationStrictJSON(t *testing.T) {
	raw := `{
		"business_answer": "VX-2000 is the equivalent.",
		"key_findings": ["exact cross-reference exists", "price within 5%"],
		"recommended_action": "quote VX-2000",
		"confidence": "high",
		"data_quality_note": ""
	}`
	result := ParseEvaluation(raw)
	require.NotNil(t, result)
	assert.Equal(t, "VX-2000 is the equivalent.", result.BusinessAnswer)
	assert.Len(t, result.KeyFindings, 2)
	assert.Equal(t, ConfidenceHigh, result.ConfidenceLabel)
	assert.Empty(t, result.DataQualityNote)
}

func TestParseEvaluationFencedJSON(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"business_answer\": \"answer\", \"confidence\": \"medium\"}\n```"
	result := ParseEvaluation(raw)
	assert.Equal(t, "answer", result.BusinessAnswer)
	assert.Equal(t, ConfidenceMedium, result.ConfidenceLabel)
}

func TestParseEvaluationSalvagesScalarFields(t *testing.T) {
	// Truncated JSON: strict parse fails, scalar salvage recovers the fields.
	raw := `{"business_answer": "partial answer here", "confidence": "medium", "key_findings": [`
	result := ParseEvaluation(raw)
	require.NotNil(t, result)
	assert.Equal(t, "partial answer here", result.BusinessAnswer)
	assert.Equal(t, ConfidenceMedium, result.ConfidenceLabel)
	assert.Equal(t, UnstructuredFallbackNote, result.DataQualityNote)
}

func TestParseEvaluationPlainTextFallback(t *testing.T) {
	raw := "The data shows strong demand for widgets in Q3."
	result := ParseEvaluation(raw)
	assert.Equal(t, raw, result.BusinessAnswer)
	assert.Equal(t, ConfidenceLow, result.ConfidenceLabel)
	assert.Equal(t, UnstructuredFallbackNote, result.DataQualityNote)
}

func TestParseEvaluationEmptyResponse(t *testing.T) {
	result := ParseEvaluation("")
	assert.Equal(t, "No results found.", result.BusinessAnswer)
	assert.Equal(t, ConfidenceLow, result.ConfidenceLabel)
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, normalizeConfidence("HIGH"))
	assert.Equal(t, ConfidenceLow, normalizeConfidence(" low "))
	assert.Equal(t, ConfidenceMedium, normalizeConfidence("certain"))
	assert.Equal(t, ConfidenceMedium, normalizeConfidence(""))
}

func TestLLMEvaluatorProviderError(t *testing.T) {
	provider := llm.NewMockProvider().WithError(errors.New("unreachable"))
	eval := NewLLMEvaluator(provider, 10)

	_, err := eval.Evaluate(context.Background(), "question", nil)
	require.Error(t, err)
}

func TestLLMEvaluatorPromptCarriesStageData(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback(`{"business_answer": "ok", "confidence": "high"}`)
	eval := NewLLMEvaluator(provider, 10)

	stages := []*StageResult{
		{
			Stage:           StageDirectTool,
			Rows:            []warehouse.Row{{"product_code": "VX-2000", "list_price": 19.99}},
			RowCount:        1,
			UnmatchedInputs: []string{"BR-99"},
		},
	}
	result, err := eval.Evaluate(context.Background(), "our equivalent of BR-56U10?", stages)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.BusinessAnswer)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[0].Content
	assert.Contains(t, prompt, "VX-2000")
	assert.Contains(t, prompt, "direct_tool")
	assert.Contains(t, prompt, "Not found: BR-99")
}

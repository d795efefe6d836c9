package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/persona"
)

func testRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	reg, err := persona.NewRegistry([]*persona.Persona{
		{
			Name:        "product_planning",
			Description: "Product questions",
			Tables:      []persona.Table{{Name: "products"}},
		},
		{
			Name:        "sales_analysis",
			Description: "Sales questions",
			Tables:      []persona.Table{{Name: "orders"}},
		},
	}, "product_planning")
	require.NoError(t, err)
	return reg
}

func TestClassifyParsesResponse(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback(`{
		"intent": "competitor_lookup",
		"persona": "product_planning",
		"confidence": 0.92,
		"execution_strategy": "single_stage",
		"extracted_entities": {"competitor_product": ["BR-56U10"]},
		"enable_evaluation": true,
		"reasoning": "mentions a competitor part"
	}`)
	c := NewLLMClassifier(provider, testRegistry(t))

	rec, err := c.Classify(context.Background(), "our equivalent of BR-56U10?")
	require.NoError(t, err)

	assert.Equal(t, "competitor_lookup", rec.Intent)
	assert.Equal(t, "product_planning", rec.Persona)
	assert.Equal(t, StrategySingleStage, rec.Strategy)
	assert.Equal(t, "BR-56U10", rec.Entities.First("competitor_product"))
	assert.True(t, rec.EnableEvaluation)
}

func TestClassifyPromptListsPersonas(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback(`{"persona": "sales_analysis"}`)
	c := NewLLMClassifier(provider, testRegistry(t))

	_, err := c.Classify(context.Background(), "question")
	require.NoError(t, err)

	prompt := provider.Calls()[0].Messages[0].Content
	assert.Contains(t, prompt, "product_planning")
	assert.Contains(t, prompt, "sales_analysis")
	assert.Contains(t, prompt, "orders")
}

func TestClassifyProviderErrorSurfaces(t *testing.T) {
	provider := llm.NewMockProvider().WithError(errors.New("unreachable"))
	c := NewLLMClassifier(provider, testRegistry(t))

	_, err := c.Classify(context.Background(), "question")
	require.Error(t, err)
}

func TestParseRecordToleratesFencesAndProse(t *testing.T) {
	raw := "Sure, here is the classification:\n```json\n{\"persona\": \"sales_analysis\", \"execution_strategy\": \"multi_stage\"}\n```\nLet me know if you need more."
	rec, err := ParseRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "sales_analysis", rec.Persona)
	assert.Equal(t, StrategyMultiStage, rec.Strategy)
}

func TestParseRecordRequiresPersona(t *testing.T) {
	_, err := ParseRecord(`{"intent": "something"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing persona")
}

func TestParseRecordRejectsNonJSON(t *testing.T) {
	_, err := ParseRecord("I could not classify this question.")
	require.Error(t, err)
}

func TestEntityMapAcceptsScalarsAndLists(t *testing.T) {
	rec, err := ParseRecord(`{
		"persona": "p",
		"extracted_entities": {
			"competitor_product": "BR-56U10",
			"product_codes": ["VX-2000", "VX-3000"],
			"empty": ""
		}
	}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"BR-56U10"}, rec.Entities["competitor_product"])
	assert.Equal(t, []string{"VX-2000", "VX-3000"}, rec.Entities["product_codes"])
	assert.False(t, rec.Entities.Has("empty"))
	assert.Empty(t, rec.Entities.First("missing"))
}

func TestNormalizeEnforcesInvariants(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		check  func(t *testing.T, r *Record)
	}{
		{
			"missing persona gets default",
			Record{Strategy: StrategySingleStage},
			func(t *testing.T, r *Record) { assert.Equal(t, "fallback", r.Persona) },
		},
		{
			"unknown strategy coerced to single stage",
			Record{Persona: "p", Strategy: "experimental"},
			func(t *testing.T, r *Record) { assert.Equal(t, StrategySingleStage, r.Strategy) },
		},
		{
			"nil entities become empty map",
			Record{Persona: "p", Strategy: StrategySingleStage},
			func(t *testing.T, r *Record) { assert.NotNil(t, r.Entities) },
		},
		{
			"confidence clamped",
			Record{Persona: "p", Strategy: StrategySingleStage, Confidence: 1.7},
			func(t *testing.T, r *Record) { assert.Equal(t, 1.0, r.Confidence) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.record
			rec.Normalize("fallback")
			tt.check(t, &rec)
		})
	}
}

func TestDefaultRecordIsSafe(t *testing.T) {
	rec := DefaultRecord("product_planning", "classifier down")
	assert.Equal(t, "product_planning", rec.Persona)
	assert.Equal(t, StrategySingleStage, rec.Strategy)
	assert.NotNil(t, rec.Entities)
	assert.True(t, rec.EnableEvaluation)
	assert.Equal(t, 0.5, rec.Confidence)
	assert.Contains(t, rec.Reasoning, "classifier down")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounded by prose", `The result is {"a": 1} as requested.`, `{"a": 1}`},
		{"no object", "nothing here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.raw))
		})
	}
}

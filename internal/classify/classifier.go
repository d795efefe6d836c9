package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/persona"
)

// Classifier produces a classification record for a question.
type Classifier interface {
	Classify(ctx context.Context, question string) (*Record, error)
}

// LLMClassifier implements Classifier using an LLM provider. The prompt lists
// the loaded personas with their table context so persona selection is
// grounded on actual schema.
type LLMClassifier struct {
	provider llm.Provider
	personas *persona.Registry
}

// NewLLMClassifier creates a classifier over the given provider and personas.
func NewLLMClassifier(provider llm.Provider, personas *persona.Registry) *LLMClassifier {
	return &LLMClassifier{provider: provider, personas: personas}
}

const classifierSystemPrompt = "You are a JSON classifier. Return ONLY valid JSON, no other text."

// Classify asks the LLM for a classification and parses the JSON response.
// Callers must treat any error as recoverable and substitute DefaultRecord.
func (c *LLMClassifier) Classify(ctx context.Context, question string) (*Record, error) {
	prompt := fmt.Sprintf(`You are an intent classifier for a data warehouse assistant.

Available personas (business domain experts):
%s
Analyze this question: %q

Determine:
1. Best matching persona based on question content and domain
2. Execution strategy
3. Entities worth extracting (competitor_product, product_codes, intent subtype)

Execution strategies:
- "single_stage": standard one-pass execution
- "multi_stage": requires intermediate reasoning between queries (discovery -> analysis -> evaluation)
- "iterative": multiple rounds of refinement

Respond with JSON:
{
    "intent": "descriptive intent name",
    "persona": "best_matching_persona_name",
    "confidence": 0.0,
    "execution_strategy": "single_stage|multi_stage|iterative",
    "extracted_entities": {"entity_kind": ["value"]},
    "enable_evaluation": true,
    "reasoning": "why this classification was selected"
}`, c.personas.ClassifierSummary(), question)

	resp, err := c.provider.Chat(ctx, &llm.ChatRequest{
		SystemPrompt: classifierSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:    500,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	record, err := ParseRecord(resp.Content)
	if err != nil {
		return nil, err
	}

	record.Normalize(c.personas.DefaultName())
	return record, nil
}

// ParseRecord parses classifier output into a Record. It tolerates responses
// wrapped in code fences or surrounded by prose, but requires the persona
// field: a record without one is unusable.
func ParseRecord(raw string) (*Record, error) {
	payload := ExtractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("parse classification: no JSON object in response")
	}

	var record Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if record.Persona == "" {
		return nil, fmt.Errorf("parse classification: missing persona")
	}
	return &record, nil
}

// ExtractJSON pulls the JSON object out of a model response that may wrap it
// in a ```json fence or surrounding text. Returns "" when no object is found.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if idx := strings.Index(raw, "```json"); idx >= 0 {
		rest := raw[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

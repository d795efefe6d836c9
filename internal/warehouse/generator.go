package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/datadeskhq/datadesk/internal/llm"
)

// Generator turns a natural-language question into SQL for the warehouse.
type Generator interface {
	GenerateSQL(ctx context.Context, question, schemaContext string) (string, error)
}

// LLMGenerator implements Generator on top of an LLM provider.
type LLMGenerator struct {
	provider llm.Provider
}

// NewLLMGenerator creates a SQL generator backed by the given provider.
func NewLLMGenerator(provider llm.Provider) *LLMGenerator {
	return &LLMGenerator{provider: provider}
}

const sqlSystemPrompt = "You are an expert SQL assistant for a business data warehouse. " +
	"Return ONLY the SQL query, nothing else."

// GenerateSQL asks the LLM for a single query answering the question against
// the given schema.
func (g *LLMGenerator) GenerateSQL(ctx context.Context, question, schemaContext string) (string, error) {
	prompt := fmt.Sprintf(`Given the schema:

%s

User question: %q

Write a correct, safe SQL query that answers the question.
- Use only tables and columns that exist in the schema
- Include proper JOINs when multiple tables are needed
- Use LIMIT to bound results when appropriate
- Return ONLY the SQL query, nothing else.`, schemaContext, question)

	resp, err := g.provider.Chat(ctx, &llm.ChatRequest{
		SystemPrompt: sqlSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:    512,
	})
	if err != nil {
		return "", fmt.Errorf("generate SQL: %w", err)
	}

	query := StripCodeFences(resp.Content)
	if query == "" {
		return "", fmt.Errorf("generate SQL: empty response")
	}
	return query, nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// StripCodeFences removes markdown code fences the model may wrap SQL in.
func StripCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

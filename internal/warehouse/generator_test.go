package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadeskhq/datadesk/internal/llm"
)

func TestGenerateSQLStripsFences(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback("```sql\nSELECT * FROM products LIMIT 10\n```")
	g := NewLLMGenerator(provider)

	query, err := g.GenerateSQL(context.Background(), "list products", "Table: products (product_code TEXT)")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM products LIMIT 10", query)
}

func TestGenerateSQLEmbedsSchema(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback("SELECT 1")
	g := NewLLMGenerator(provider)

	_, err := g.GenerateSQL(context.Background(), "list products", "Table: products (product_code TEXT)")
	require.NoError(t, err)

	prompt := provider.Calls()[0].Messages[0].Content
	assert.Contains(t, prompt, "Table: products")
	assert.Contains(t, prompt, "list products")
}

func TestGenerateSQLProviderError(t *testing.T) {
	provider := llm.NewMockProvider().WithError(errors.New("unreachable"))
	g := NewLLMGenerator(provider)

	_, err := g.GenerateSQL(context.Background(), "q", "schema")
	require.Error(t, err)
}

func TestGenerateSQLEmptyResponse(t *testing.T) {
	provider := llm.NewMockProvider().WithFallback("   ")
	g := NewLLMGenerator(provider)

	_, err := g.GenerateSQL(context.Background(), "q", "schema")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	_, err = raw.Exec(`
		CREATE TABLE products (
			product_code TEXT PRIMARY KEY,
			product_name TEXT NOT NULL,
			list_price REAL
		);
		INSERT INTO products VALUES
			('VX-2000', 'Widget 2000', 19.99),
			('VX-3000', 'Widget 3000', 29.99),
			('TB-450', 'Gadget 450', 9.50);
	`)
	require.NoError(t, err)

	return NewFromDB(raw, opts)
}

func TestQueryMaterializesRows(t *testing.T) {
	db := openTestDB(t, Options{})

	res, err := db.Query(context.Background(), "SELECT * FROM products ORDER BY product_code")
	require.NoError(t, err)

	assert.Equal(t, 3, res.RowCount)
	assert.Len(t, res.Rows, res.RowCount)
	assert.Equal(t, "TB-450", res.Rows[0]["product_code"])
	assert.Equal(t, "Gadget 450", res.Rows[0]["product_name"])
	assert.Equal(t, "SELECT * FROM products ORDER BY product_code", res.ExecutedQuery)
}

func TestQueryMaxRowsCap(t *testing.T) {
	db := openTestDB(t, Options{MaxRows: 2})

	res, err := db.Query(context.Background(), "SELECT * FROM products")
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCount)
}

func TestQueryErrorIsWrapped(t *testing.T) {
	db := openTestDB(t, Options{})

	_, err := db.Query(context.Background(), "SELECT * FROM no_such_table")
	require.Error(t, err)

	var qerr *QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, "SELECT * FROM no_such_table", qerr.Query)
}

func TestQueryEmptyResult(t *testing.T) {
	db := openTestDB(t, Options{})

	res, err := db.Query(context.Background(), "SELECT * FROM products WHERE product_code = 'NOPE'")
	require.NoError(t, err)
	assert.Zero(t, res.RowCount)
	assert.Empty(t, res.Rows)
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"sql fence", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"no fence", "  SELECT 1  ", "SELECT 1"},
		{"fence with prose", "Here you go:\n```sql\nSELECT 1\n```\nEnjoy.", "SELECT 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.raw))
		})
	}
}

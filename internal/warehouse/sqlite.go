package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB is a Querier backed by database/sql. The default driver is the CGO-free
// modernc SQLite driver; any database/sql driver name can be configured.
type DB struct {
	db           *sql.DB
	queryTimeout time.Duration
	maxRows      int
}

// Options tune query execution.
type Options struct {
	// QueryTimeout bounds a single query. Zero means no extra deadline beyond
	// the caller's context.
	QueryTimeout time.Duration
	// MaxRows caps the rows materialized per query. Zero means unlimited.
	MaxRows int
}

// Open opens a warehouse connection and verifies it with a ping.
func Open(driver, dsn string, opts Options) (*DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return &DB{
		db:           db,
		queryTimeout: opts.QueryTimeout,
		maxRows:      opts.MaxRows,
	}, nil
}

// NewFromDB wraps an existing *sql.DB. Used by tests and embedded setups.
func NewFromDB(db *sql.DB, opts Options) *DB {
	return &DB{
		db:           db,
		queryTimeout: opts.QueryTimeout,
		maxRows:      opts.MaxRows,
	}
}

// Close releases the underlying connection pool.
func (w *DB) Close() error {
	return w.db.Close()
}

// Query executes a SQL statement and materializes the result set as rows of
// column-name -> value maps.
func (w *DB) Query(ctx context.Context, query string) (*Result, error) {
	if w.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.queryTimeout)
		defer cancel()
	}

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	result := &Result{ExecutedQuery: query}
	for rows.Next() {
		if w.maxRows > 0 && result.RowCount >= w.maxRows {
			break
		}

		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			// SQLite hands text back as []byte; normalize for JSON output.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	return result, nil
}

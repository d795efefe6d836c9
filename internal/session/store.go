// Package session persists one record per answered question to a local
// SQLite database: the classification, execution path, stage outputs, and
// timing. The log is an operational aid; recording failures never affect the
// answer.
package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"

	"github.com/datadeskhq/datadesk/internal/logging"
	"github.com/datadeskhq/datadesk/internal/orchestrator"
)

//go:embed schema.sql
var schema string

// Store is the SQLite-backed session log. Implements
// orchestrator.SessionRecorder.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Entry is one persisted session record.
type Entry struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Persona        string          `json:"persona"`
	Intent         string          `json:"intent"`
	Strategy       string          `json:"strategy"`
	Confidence     float64         `json:"confidence"`
	ExecutionPath  string          `json:"execution_path"`
	Degraded       bool            `json:"degraded"`
	Note           string          `json:"note,omitempty"`
	FinalAnswer    string          `json:"final_answer"`
	Classification json.RawMessage `json:"classification"`
	Stages         json.RawMessage `json:"stages"`
	DurationMS     int64           `json:"duration_ms"`
	CreatedAt      string          `json:"created_at"`
}

// Open creates or opens the session database at dbPath and applies the
// schema. SQLite wants a single writer, so the pool is pinned to one
// connection.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, log: logging.Component("session")}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply session schema: %w", err)
	}
	return nil
}

// Record persists a finished envelope. Failures are logged and swallowed.
func (s *Store) Record(ctx context.Context, env *orchestrator.ResponseEnvelope) {
	classificationJSON, err := json.Marshal(env.Classification)
	if err != nil {
		classificationJSON = []byte("{}")
	}
	stagesJSON, err := json.Marshal(env.StageResults)
	if err != nil {
		stagesJSON = []byte("{}")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, question, persona, intent, strategy, confidence,
    execution_path, degraded, note, final_answer, classification_json,
    stages_json, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.RequestID,
		env.Question,
		env.Classification.Persona,
		env.Classification.Intent,
		string(env.Classification.Strategy),
		env.Classification.Confidence,
		string(env.ExecutionPath),
		boolToInt(env.Degraded),
		env.Note,
		env.FinalAnswer,
		string(classificationJSON),
		string(stagesJSON),
		env.Duration.Milliseconds(),
	)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", env.RequestID).Msg("session record failed")
	}
}

// Get returns one session by request id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return entry, nil
}

// Recent returns the newest sessions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close flushes the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	return s.db.Close()
}

const selectColumns = `
SELECT id, question, persona, intent, strategy, confidence, execution_path,
       degraded, note, final_answer, classification_json, stages_json,
       duration_ms, created_at
FROM sessions`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scannable) (*Entry, error) {
	var entry Entry
	var degraded int
	var classificationJSON, stagesJSON string
	err := row.Scan(
		&entry.ID, &entry.Question, &entry.Persona, &entry.Intent,
		&entry.Strategy, &entry.Confidence, &entry.ExecutionPath,
		&degraded, &entry.Note, &entry.FinalAnswer,
		&classificationJSON, &stagesJSON, &entry.DurationMS, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Degraded = degraded != 0
	entry.Classification = json.RawMessage(classificationJSON)
	entry.Stages = json.RawMessage(stagesJSON)
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/orchestrator"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEnvelope(id string) *orchestrator.ResponseEnvelope {
	return &orchestrator.ResponseEnvelope{
		RequestID: id,
		Question:  "our equivalent of BR-56U10?",
		Classification: &classify.Record{
			Intent:     "competitor_lookup",
			Persona:    "product_planning",
			Confidence: 0.9,
			Strategy:   classify.StrategySingleStage,
			Entities:   classify.EntityMap{"competitor_product": {"BR-56U10"}},
		},
		ExecutionPath: orchestrator.PathDirectWithEvaluation,
		StageResults: map[string]*orchestrator.StageResult{
			orchestrator.StageDirectTool: {Stage: orchestrator.StageDirectTool, RowCount: 1},
		},
		FinalAnswer: "VX-2000 is the equivalent.",
		Duration:    42 * time.Millisecond,
	}
}

func TestRecordAndGet(t *testing.T) {
	store := openTestStore(t)
	store.Record(context.Background(), sampleEnvelope("req-1"))

	entry, err := store.Get(context.Background(), "req-1")
	require.NoError(t, err)

	assert.Equal(t, "req-1", entry.ID)
	assert.Equal(t, "our equivalent of BR-56U10?", entry.Question)
	assert.Equal(t, "product_planning", entry.Persona)
	assert.Equal(t, string(orchestrator.PathDirectWithEvaluation), entry.ExecutionPath)
	assert.Equal(t, "VX-2000 is the equivalent.", entry.FinalAnswer)
	assert.Equal(t, int64(42), entry.DurationMS)
	assert.False(t, entry.Degraded)
	assert.Contains(t, string(entry.Classification), "BR-56U10")
	assert.Contains(t, string(entry.Stages), "direct_tool")
	assert.NotEmpty(t, entry.CreatedAt)
}

func TestGetUnknownID(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"req-1", "req-2", "req-3"} {
		store.Record(context.Background(), sampleEnvelope(id))
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "req-3", entries[0].ID)
	assert.Equal(t, "req-2", entries[1].ID)
}

func TestRecordDegradedEnvelope(t *testing.T) {
	store := openTestStore(t)
	env := sampleEnvelope("req-degraded")
	env.Degraded = true
	env.Note = "partial result: the fallback query failed"
	store.Record(context.Background(), env)

	entry, err := store.Get(context.Background(), "req-degraded")
	require.NoError(t, err)
	assert.True(t, entry.Degraded)
	assert.Contains(t, entry.Note, "fallback query failed")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store1, err := Open(path)
	require.NoError(t, err)
	store1.Record(context.Background(), sampleEnvelope("req-1"))
	require.NoError(t, store1.Close())

	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()

	entry, err := store2.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", entry.ID)
}

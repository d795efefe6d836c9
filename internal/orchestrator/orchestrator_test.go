package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/config"
	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/persona"
	"github.com/datadeskhq/datadesk/internal/tools"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// ── test fakes ──

type fakeClassifier struct {
	record *classify.Record
	err    error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (*classify.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type fakeStore struct {
	queries []string
	respond func(query string) (*warehouse.Result, error)
}

func (f *fakeStore) Query(_ context.Context, query string) (*warehouse.Result, error) {
	f.queries = append(f.queries, query)
	if f.respond != nil {
		return f.respond(query)
	}
	return &warehouse.Result{ExecutedQuery: query}, nil
}

type fakeGenerator struct {
	sql string
	err error
}

func (f *fakeGenerator) GenerateSQL(_ context.Context, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.sql, nil
}

type fakeEvaluator struct {
	result *EvaluationResult
	err    error
	seen   [][]*StageResult
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ string, stages []*StageResult) (*EvaluationResult, error) {
	f.seen = append(f.seen, stages)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &EvaluationResult{BusinessAnswer: "synthesized answer", ConfidenceLabel: ConfidenceHigh}, nil
}

// ── fixtures ──

const testPersona = "product_planning"

func testPersonas(t *testing.T) *persona.Registry {
	t.Helper()
	reg, err := persona.NewRegistry([]*persona.Persona{
		{
			Name:        testPersona,
			Description: "Product questions",
			Tables: []persona.Table{
				{Name: "products", Columns: []persona.Column{{Name: "product_code", Type: "TEXT"}}},
			},
		},
	}, testPersona)
	require.NoError(t, err)
	return reg
}

func testRecord(entities classify.EntityMap, evaluate bool) *classify.Record {
	if entities == nil {
		entities = classify.EntityMap{}
	}
	return &classify.Record{
		Intent:           "competitor_lookup",
		Persona:          testPersona,
		Confidence:       0.9,
		Strategy:         classify.StrategySingleStage,
		Entities:         entities,
		EnableEvaluation: evaluate,
	}
}

func stubTool(name string, rows []warehouse.Row, execErr error) *tools.Descriptor {
	return &tools.Descriptor{
		Name:        name,
		Description: "stub",
		Matches: func(_ string, record *classify.Record) bool {
			return record.Entities.Has("competitor_product")
		},
		Execute: func(_ context.Context, _ string, _ *classify.Record) (*tools.Result, error) {
			if execErr != nil {
				return nil, execErr
			}
			return &tools.Result{Rows: rows, RowCount: len(rows)}, nil
		},
	}
}

type testDeps struct {
	classifier *fakeClassifier
	store      *fakeStore
	generator  *fakeGenerator
	evaluator  *fakeEvaluator
	registry   *tools.Registry
}

func newTestOrchestrator(t *testing.T, deps testDeps) *Orchestrator {
	t.Helper()
	if deps.registry == nil {
		var err error
		deps.registry, err = tools.NewBuilder().Build()
		require.NoError(t, err)
	}
	if deps.classifier == nil {
		deps.classifier = &fakeClassifier{record: testRecord(nil, true)}
	}
	if deps.store == nil {
		deps.store = &fakeStore{}
	}
	if deps.generator == nil {
		deps.generator = &fakeGenerator{sql: "SELECT * FROM products"}
	}
	if deps.evaluator == nil {
		deps.evaluator = &fakeEvaluator{}
	}
	return New(Deps{
		Classifier: deps.classifier,
		Personas:   testPersonas(t),
		Dispatcher: tools.NewDispatcher(deps.registry),
		Store:      deps.store,
		Generator:  deps.generator,
		Evaluator:  deps.evaluator,
		Provider:   llm.NewMockProvider().WithFallback(`{"selected": [], "rationale": ""}`),
		Pipeline: config.PipelineConfig{
			DirectToolsEnabled: true,
			DiscoveryLimit:     20,
			SelectionLimit:     3,
			SampleRows:         10,
		},
	})
}

func registryWith(t *testing.T, descriptors ...*tools.Descriptor) *tools.Registry {
	t.Helper()
	b := tools.NewBuilder()
	for _, d := range descriptors {
		b.Register(testPersona, d)
	}
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

// ── direct path ──

func TestHandleDirectHitWithEvaluation(t *testing.T) {
	rows := []warehouse.Row{{"product_code": "VX-2000", "product_name": "Widget"}}
	evaluator := &fakeEvaluator{result: &EvaluationResult{
		BusinessAnswer:  "Our equivalent is VX-2000.",
		ConfidenceLabel: ConfidenceHigh,
	}}
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(classify.EntityMap{"competitor_product": {"BR-56U10"}}, true)},
		registry:   registryWith(t, stubTool("mapper", rows, nil)),
		evaluator:  evaluator,
	})

	env := o.Handle(context.Background(), "What is our equivalent of BR-56U10?")

	assert.Equal(t, PathDirectWithEvaluation, env.ExecutionPath)
	assert.Equal(t, "Our equivalent is VX-2000.", env.FinalAnswer)
	require.Contains(t, env.StageResults, StageDirectTool)
	require.Contains(t, env.StageResults, StageEvaluation)
	assert.Equal(t, 1, env.StageResults[StageDirectTool].RowCount)
	assert.False(t, env.Degraded)
	// Evaluation saw the direct-tool rows.
	require.Len(t, evaluator.seen, 1)
	assert.Equal(t, StageDirectTool, evaluator.seen[0][0].Stage)
}

func TestHandleDirectHitNoEvaluation(t *testing.T) {
	rows := []warehouse.Row{{"product_code": "VX-2000"}}
	evaluator := &fakeEvaluator{}
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(classify.EntityMap{"competitor_product": {"BR-56U10"}}, false)},
		registry:   registryWith(t, stubTool("mapper", rows, nil)),
		evaluator:  evaluator,
	})

	env := o.Handle(context.Background(), "our equivalent of BR-56U10")

	assert.Equal(t, PathDirectNoEvaluation, env.ExecutionPath)
	assert.Contains(t, env.FinalAnswer, "Found 1 result")
	assert.NotContains(t, env.StageResults, StageEvaluation)
	assert.Empty(t, evaluator.seen)
}

func TestHandleEmptyDirectHitFallsBack(t *testing.T) {
	store := &fakeStore{respond: func(query string) (*warehouse.Result, error) {
		return &warehouse.Result{
			Rows:          []warehouse.Row{{"product_code": "VX-2000"}},
			RowCount:      1,
			ExecutedQuery: query,
		}, nil
	}}
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(classify.EntityMap{"competitor_product": {"BR-56U10"}}, true)},
		registry:   registryWith(t, stubTool("mapper", nil, nil)),
		store:      store,
	})

	env := o.Handle(context.Background(), "our equivalent of BR-56U10")

	// Zero rows from the tool is never reported as "no equivalent exists".
	assert.Equal(t, PathAIWorkflowFallback, env.ExecutionPath)
	assert.Len(t, store.queries, 1)
	require.Contains(t, env.StageResults, StageFallback)
	require.Contains(t, env.StageResults, StageEvaluation)
	assert.NotEmpty(t, env.Note)
}

func TestHandleToolFailureFallsBack(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(classify.EntityMap{"competitor_product": {"BR-56U10"}}, true)},
		registry:   registryWith(t, stubTool("mapper", nil, errors.New("connection reset"))),
		store:      store,
	})

	env := o.Handle(context.Background(), "our equivalent of BR-56U10")

	assert.Equal(t, PathAIWorkflowFallback, env.ExecutionPath)
	assert.Len(t, store.queries, 1)
	assert.NotEmpty(t, env.FinalAnswer)
}

func TestHandleNoMatchingToolFallsBack(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(nil, true)},
		registry:   registryWith(t, stubTool("mapper", nil, nil)),
	})

	env := o.Handle(context.Background(), "how are sales trending?")

	assert.Equal(t, PathAIWorkflowFallback, env.ExecutionPath)
	require.Contains(t, env.StageResults, StageEvaluation)
}

// ── classifier failure ──

func TestHandleClassifierErrorSubstitutesDefault(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{err: errors.New("connection refused")},
	})

	env := o.Handle(context.Background(), "anything")

	require.NotNil(t, env.Classification)
	assert.Equal(t, testPersona, env.Classification.Persona)
	assert.Equal(t, classify.StrategySingleStage, env.Classification.Strategy)
	assert.True(t, env.Classification.EnableEvaluation)
	assert.NotNil(t, env.Classification.Entities)
	assert.Equal(t, PathAIWorkflowFallback, env.ExecutionPath)
	assert.NotEmpty(t, env.FinalAnswer)
	assert.Contains(t, env.Note, "classification unavailable")
}

func TestHandleUnknownPersonaUsesDefault(t *testing.T) {
	record := testRecord(nil, true)
	record.Persona = "nonexistent_persona"
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: record},
	})

	env := o.Handle(context.Background(), "anything")

	assert.Equal(t, testPersona, env.Classification.Persona)
	assert.NotEmpty(t, env.FinalAnswer)
}

// ── degraded paths ──

func TestHandleFallbackStoreErrorDegrades(t *testing.T) {
	store := &fakeStore{respond: func(query string) (*warehouse.Result, error) {
		return nil, &warehouse.QueryError{Query: query, Err: errors.New("timeout")}
	}}
	o := newTestOrchestrator(t, testDeps{store: store})

	env := o.Handle(context.Background(), "anything")

	assert.Equal(t, PathAIWorkflowFallback, env.ExecutionPath)
	assert.True(t, env.Degraded)
	assert.Contains(t, env.FinalAnswer, "No data could be retrieved")
	require.Contains(t, env.StageResults, StageEvaluation)
	assert.Equal(t, "store query failed", env.StageResults[StageEvaluation].Evaluation.DataQualityNote)
}

func TestHandleEvaluatorErrorRecovers(t *testing.T) {
	store := &fakeStore{respond: func(query string) (*warehouse.Result, error) {
		return &warehouse.Result{
			Rows:          []warehouse.Row{{"product_code": "VX-2000"}},
			RowCount:      1,
			ExecutedQuery: query,
		}, nil
	}}
	o := newTestOrchestrator(t, testDeps{
		store:     store,
		evaluator: &fakeEvaluator{err: errors.New("provider down")},
	})

	env := o.Handle(context.Background(), "anything")

	assert.NotEmpty(t, env.FinalAnswer)
	require.Contains(t, env.StageResults, StageEvaluation)
	result := env.StageResults[StageEvaluation].Evaluation
	assert.Equal(t, ConfidenceLow, result.ConfidenceLabel)
	assert.Contains(t, result.DataQualityNote, "evaluation unavailable")
}

// TestHandleNeverFails drives every combination of classifier, tool, store,
// and evaluator failure through Handle and requires a populated envelope each
// time.
func TestHandleNeverFails(t *testing.T) {
	bools := []bool{false, true}
	for _, classifierFails := range bools {
		for _, toolFails := range bools {
			for _, storeFails := range bools {
				for _, evaluatorFails := range bools {
					name := fmt.Sprintf("classifier=%v_tool=%v_store=%v_evaluator=%v",
						classifierFails, toolFails, storeFails, evaluatorFails)
					t.Run(name, func(t *testing.T) {
						deps := testDeps{
							classifier: &fakeClassifier{record: testRecord(classify.EntityMap{"competitor_product": {"X-1"}}, true)},
							store:      &fakeStore{},
							evaluator:  &fakeEvaluator{},
						}
						if classifierFails {
							deps.classifier = &fakeClassifier{err: errors.New("classifier down")}
						}
						var execErr error
						if toolFails {
							execErr = errors.New("tool broke")
						}
						deps.registry = registryWith(t, stubTool("mapper", []warehouse.Row{{"a": "b"}}, execErr))
						if storeFails {
							deps.store = &fakeStore{respond: func(query string) (*warehouse.Result, error) {
								return nil, errors.New("store down")
							}}
						}
						if evaluatorFails {
							deps.evaluator = &fakeEvaluator{err: errors.New("evaluator down")}
						}

						env := newTestOrchestrator(t, deps).Handle(context.Background(), "question")

						require.NotNil(t, env)
						assert.NotEmpty(t, env.FinalAnswer)
						assert.NotEmpty(t, string(env.ExecutionPath))
						assert.NotEmpty(t, env.StageResults)
					})
				}
			}
		}
	}
}

// TestEvaluationPresentWhenRequired: every envelope whose classification asks
// for evaluation, or runs multi-stage, carries an evaluation entry.
func TestEvaluationPresentWhenRequired(t *testing.T) {
	records := []*classify.Record{
		testRecord(classify.EntityMap{"competitor_product": {"X-1"}}, true),
		testRecord(nil, true),
		{
			Intent:           "trend_analysis",
			Persona:          testPersona,
			Strategy:         classify.StrategyMultiStage,
			Entities:         classify.EntityMap{},
			EnableEvaluation: false,
		},
	}
	for i, record := range records {
		t.Run(fmt.Sprintf("record_%d", i), func(t *testing.T) {
			o := newTestOrchestrator(t, testDeps{
				classifier: &fakeClassifier{record: record},
				registry:   registryWith(t, stubTool("mapper", []warehouse.Row{{"a": "b"}}, nil)),
			})
			env := o.Handle(context.Background(), "question")
			assert.Contains(t, env.StageResults, StageEvaluation)
		})
	}
}

func TestHandleIterativeTreatedAsSingleStage(t *testing.T) {
	record := testRecord(classify.EntityMap{"competitor_product": {"X-1"}}, true)
	record.Strategy = classify.StrategyIterative
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: record},
		registry:   registryWith(t, stubTool("mapper", []warehouse.Row{{"a": "b"}}, nil)),
	})

	env := o.Handle(context.Background(), "question")

	assert.Equal(t, PathDirectWithEvaluation, env.ExecutionPath)
}

func TestStatsCountPaths(t *testing.T) {
	o := newTestOrchestrator(t, testDeps{
		classifier: &fakeClassifier{record: testRecord(nil, true)},
	})
	o.Handle(context.Background(), "one")
	o.Handle(context.Background(), "two")

	snap := o.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(2), snap.ByPath[PathAIWorkflowFallback])
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/config"
	"github.com/datadeskhq/datadesk/internal/llm"
	"github.com/datadeskhq/datadesk/internal/logging"
	"github.com/datadeskhq/datadesk/internal/persona"
	"github.com/datadeskhq/datadesk/internal/tools"
	"github.com/datadeskhq/datadesk/internal/warehouse"
)

// SessionRecorder persists finished request envelopes. Recording failures are
// logged, never surfaced.
type SessionRecorder interface {
	Record(ctx context.Context, env *ResponseEnvelope)
}

// Orchestrator coordinates classification, direct dispatch, the stage
// pipeline, and evaluation into one answer per question.
type Orchestrator struct {
	classifier classify.Classifier
	personas   *persona.Registry
	dispatcher *tools.Dispatcher
	store      warehouse.Querier
	generator  warehouse.Generator
	evaluator  Evaluator
	provider   llm.Provider
	pipeline   config.PipelineConfig
	recorder   SessionRecorder
	stats      *Stats
	log        zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Classifier classify.Classifier
	Personas   *persona.Registry
	Dispatcher *tools.Dispatcher
	Store      warehouse.Querier
	Generator  warehouse.Generator
	Evaluator  Evaluator
	Provider   llm.Provider
	Pipeline   config.PipelineConfig
	Recorder   SessionRecorder
}

// New creates an orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		classifier: deps.Classifier,
		personas:   deps.Personas,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		generator:  deps.Generator,
		evaluator:  deps.Evaluator,
		provider:   deps.Provider,
		pipeline:   deps.Pipeline,
		recorder:   deps.Recorder,
		stats:      &Stats{},
		log:        logging.Component("orchestrator"),
	}
}

// Stats returns the orchestrator's counters.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// Handle answers a question. It never returns an error: every failure mode
// resolves to a populated envelope, degraded when data could not be
// retrieved.
func (o *Orchestrator) Handle(ctx context.Context, question string) *ResponseEnvelope {
	start := time.Now()
	env := &ResponseEnvelope{
		RequestID:    uuid.NewString(),
		Question:     question,
		StageResults: make(map[string]*StageResult),
	}
	log := o.log.With().Str("request_id", env.RequestID).Logger()

	record, err := o.classifier.Classify(ctx, question)
	if err != nil {
		cerr := &ClassificationError{Err: err}
		log.Warn().Err(cerr).Msg("classifier unavailable, using default record")
		record = classify.DefaultRecord(o.personas.DefaultName(), cerr.Error())
		env.Note = "classification unavailable; default persona used"
	}
	env.Classification = record

	p := o.personas.GetOrDefault(record.Persona)
	if p.Name != record.Persona {
		record.Persona = p.Name
	}

	log.Info().
		Str("persona", record.Persona).
		Str("strategy", string(record.Strategy)).
		Float64("confidence", record.Confidence).
		Msg("classified")

	if record.Strategy == classify.StrategyMultiStage {
		o.runMultiStage(ctx, env, record, p)
	} else {
		o.runDirectFirst(ctx, env, record, p)
	}

	env.finalize()
	env.Duration = time.Since(start)
	o.stats.record(env)

	log.Info().
		Str("path", string(env.ExecutionPath)).
		Bool("degraded", env.Degraded).
		Dur("duration", env.Duration).
		Msg("answered")

	if o.recorder != nil {
		o.recorder.Record(ctx, env)
	}
	return env
}

// runDirectFirst attempts the direct-tool fast path, falling back to one
// generated warehouse query plus evaluation when no tool matches, a tool
// fails, or a tool finds nothing.
func (o *Orchestrator) runDirectFirst(ctx context.Context, env *ResponseEnvelope, record *classify.Record, p *persona.Persona) {
	if o.dispatcher != nil && o.pipeline.DirectToolsEnabled {
		outcome := o.dispatcher.Dispatch(ctx, env.Question, record)

		if outcome.Status == tools.StatusSuccess && !outcome.Result.Empty() {
			direct := directStage(outcome)
			env.addStage(direct)
			if record.EnableEvaluation {
				env.ExecutionPath = PathDirectWithEvaluation
				o.evaluateInto(ctx, env, []*StageResult{direct})
			} else {
				env.ExecutionPath = PathDirectNoEvaluation
				env.FinalAnswer = summarizeRows(direct.Rows, 5)
			}
			return
		}

		switch outcome.Status {
		case tools.StatusFailed:
			terr := &DirectToolError{Tool: outcome.Tool, Err: outcome.Err}
			o.log.Warn().Err(terr).Msg("direct tool failed, falling back")
			env.Note = "direct lookup failed; answered via generated query"
		case tools.StatusSuccess:
			env.Note = "direct lookup found nothing; retried via generated query"
		}
	}

	o.runFallback(ctx, env, p)
}

// runFallback performs the single-stage AI workflow: one generated query,
// always followed by evaluation.
func (o *Orchestrator) runFallback(ctx context.Context, env *ResponseEnvelope, p *persona.Persona) {
	env.ExecutionPath = PathAIWorkflowFallback
	start := time.Now()
	stage := &StageResult{Stage: StageFallback}

	query, err := o.generator.GenerateSQL(ctx, env.Question, p.PromptContext())
	if err == nil {
		res, qerr := o.store.Query(ctx, query)
		if qerr != nil {
			err = qerr
			stage.ExecutedQuery = query
		} else {
			stage.Rows = res.Rows
			stage.RowCount = res.RowCount
			stage.ExecutedQuery = res.ExecutedQuery
		}
	}
	if err != nil {
		stage.Error = (&StoreQueryError{Stage: StageFallback, Err: err}).Error()
		stage.Duration = time.Since(start)
		env.addStage(stage)
		o.degrade(env, fmt.Sprintf("the fallback query failed: %s", stage.Error))
		return
	}

	stage.Duration = time.Since(start)
	env.addStage(stage)
	o.evaluateInto(ctx, env, []*StageResult{stage})
}

// evaluateInto runs evaluation over the given stages and sets the final
// answer. An evaluator transport failure is recovered with a raw-row summary.
func (o *Orchestrator) evaluateInto(ctx context.Context, env *ResponseEnvelope, stages []*StageResult) {
	start := time.Now()
	evalStage := &StageResult{Stage: StageEvaluation}

	result, err := o.evaluator.Evaluate(ctx, env.Question, stages)
	if err != nil {
		o.log.Warn().Err(err).Msg("evaluation unavailable, summarizing raw rows")
		result = &EvaluationResult{
			BusinessAnswer:  summarizeRows(lastRows(stages), 5),
			ConfidenceLabel: ConfidenceLow,
			DataQualityNote: "evaluation unavailable; raw data summary",
		}
	}

	evalStage.Evaluation = result
	evalStage.Duration = time.Since(start)
	env.addStage(evalStage)
	env.FinalAnswer = result.BusinessAnswer
}

// degrade finishes a request whose warehouse access failed: the envelope is
// marked degraded, a locally synthesized evaluation entry explains that no
// data could be retrieved.
func (o *Orchestrator) degrade(env *ResponseEnvelope, reason string) {
	env.Degraded = true
	env.Note = "partial result: " + reason
	env.addStage(&StageResult{
		Stage: StageEvaluation,
		Evaluation: &EvaluationResult{
			BusinessAnswer:  "No data could be retrieved: " + reason,
			ConfidenceLabel: ConfidenceLow,
			DataQualityNote: "store query failed",
		},
	})
	env.FinalAnswer = "No data could be retrieved: " + reason
}

func directStage(outcome *tools.Outcome) *StageResult {
	return &StageResult{
		Stage:           StageDirectTool,
		Tool:            outcome.Tool,
		Rows:            outcome.Result.Rows,
		RowCount:        outcome.Result.RowCount,
		ExecutedQuery:   outcome.Result.ExecutedQuery,
		MatchedInputs:   outcome.Result.MatchedInputs,
		UnmatchedInputs: outcome.Result.UnmatchedInputs,
		Duration:        outcome.Duration,
	}
}

func lastRows(stages []*StageResult) []warehouse.Row {
	for i := len(stages) - 1; i >= 0; i-- {
		if len(stages[i].Rows) > 0 {
			return stages[i].Rows
		}
	}
	return nil
}

// Stats tracks request counters per execution path. Safe for concurrent use.
type Stats struct {
	mu            sync.Mutex
	total         int64
	degraded      int64
	byPath        map[ExecutionPath]int64
	totalDuration time.Duration
}

// StatsSnapshot is a point-in-time copy of the orchestrator counters.
type StatsSnapshot struct {
	Total        int64                   `json:"total"`
	Degraded     int64                   `json:"degraded"`
	ByPath       map[ExecutionPath]int64 `json:"by_path"`
	AvgLatencyMS float64                 `json:"avg_latency_ms"`
}

func (s *Stats) record(env *ResponseEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if env.Degraded {
		s.degraded++
	}
	if s.byPath == nil {
		s.byPath = make(map[ExecutionPath]int64)
	}
	s.byPath[env.ExecutionPath]++
	s.totalDuration += env.Duration
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPath := make(map[ExecutionPath]int64, len(s.byPath))
	for path, n := range s.byPath {
		byPath[path] = n
	}
	snap := StatsSnapshot{Total: s.total, Degraded: s.degraded, ByPath: byPath}
	if s.total > 0 {
		snap.AvgLatencyMS = float64(s.totalDuration.Milliseconds()) / float64(s.total)
	}
	return snap
}

package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datadeskhq/datadesk/internal/classify"
	"github.com/datadeskhq/datadesk/internal/logging"
)

// Status is the terminal state of a dispatch attempt.
type Status string

const (
	// StatusSuccess: a tool matched and produced a result (possibly empty).
	StatusSuccess Status = "success"
	// StatusNoMatch: no registered predicate accepted the question.
	StatusNoMatch Status = "no_match"
	// StatusFailed: a tool matched but its executor errored or panicked.
	StatusFailed Status = "failed"
)

// Outcome is the result of dispatching a question to the direct-tool layer.
// NoMatch and Failed both mean "take the AI workflow"; they are distinguished
// only for diagnostics and stats.
type Outcome struct {
	Status   Status
	Tool     string
	Result   *Result
	Err      error
	Duration time.Duration
}

// Stats tracks dispatch counters. Safe for concurrent use.
type Stats struct {
	mu         sync.Mutex
	dispatched int64
	matched    int64
	noMatch    int64
	failed     int64
	emptyHits  int64
	byTool     map[string]int64
}

// Snapshot is a point-in-time copy of the dispatch counters.
type Snapshot struct {
	Dispatched int64            `json:"dispatched"`
	Matched    int64            `json:"matched"`
	NoMatch    int64            `json:"no_match"`
	Failed     int64            `json:"failed"`
	EmptyHits  int64            `json:"empty_hits"`
	ByTool     map[string]int64 `json:"by_tool"`
}

func (s *Stats) record(out *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched++
	switch out.Status {
	case StatusSuccess:
		s.matched++
		if out.Result.Empty() {
			s.emptyHits++
		}
	case StatusNoMatch:
		s.noMatch++
	case StatusFailed:
		s.failed++
	}
	if out.Tool != "" {
		if s.byTool == nil {
			s.byTool = make(map[string]int64)
		}
		s.byTool[out.Tool]++
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTool := make(map[string]int64, len(s.byTool))
	for name, n := range s.byTool {
		byTool[name] = n
	}
	return Snapshot{
		Dispatched: s.dispatched,
		Matched:    s.matched,
		NoMatch:    s.noMatch,
		Failed:     s.failed,
		EmptyHits:  s.emptyHits,
		ByTool:     byTool,
	}
}

// Dispatcher routes questions to the first matching direct tool for the
// classified persona.
type Dispatcher struct {
	registry *Registry
	stats    *Stats
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher over a frozen registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		stats:    &Stats{},
		log:      logging.Component("tools"),
	}
}

// Stats returns the dispatcher's counter set.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// Registry returns the underlying frozen registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch evaluates predicates for the record's persona in registration
// order and runs the first match. Identical inputs select the same tool every
// time. At most one executor runs per dispatch. Dispatch never panics: an
// executor panic is converted into a Failed outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, question string, record *classify.Record) *Outcome {
	start := time.Now()

	descriptors := d.registry.ForPersona(record.Persona)
	if len(descriptors) == 0 {
		out := &Outcome{Status: StatusNoMatch, Duration: time.Since(start)}
		d.stats.record(out)
		return out
	}

	for _, desc := range descriptors {
		if !desc.Matches(question, record) {
			continue
		}

		result, err := d.run(ctx, desc, question, record)
		out := &Outcome{Tool: desc.Name, Duration: time.Since(start)}
		if err != nil {
			out.Status = StatusFailed
			out.Err = err
			d.log.Warn().Str("tool", desc.Name).Err(err).Msg("direct tool failed")
		} else {
			out.Status = StatusSuccess
			out.Result = result
			d.log.Debug().
				Str("tool", desc.Name).
				Int("rows", result.RowCount).
				Dur("duration", out.Duration).
				Msg("direct tool hit")
		}
		d.stats.record(out)
		return out
	}

	out := &Outcome{Status: StatusNoMatch, Duration: time.Since(start)}
	d.stats.record(out)
	return out
}

// run invokes the executor with panic containment.
func (d *Dispatcher) run(ctx context.Context, desc *Descriptor, question string, record *classify.Record) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", desc.Name, r)
		}
	}()

	result, err = desc.Execute(ctx, question, record)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", desc.Name, err)
	}
	if result == nil {
		return nil, fmt.Errorf("tool %s: nil result without error", desc.Name)
	}
	return result, nil
}

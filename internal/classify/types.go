// Package classify turns a natural-language business question into a
// structured classification record: intent, persona, execution strategy, and
// extracted entities. Classification is an external LLM capability; this
// package owns the boundary contract and the safe-default substitution used
// when the classifier is unreachable or returns garbage.
package classify

import (
	"encoding/json"
	"fmt"
)

// Strategy governs which flow the orchestrator takes.
type Strategy string

const (
	// StrategySingleStage is the standard one-pass execution.
	StrategySingleStage Strategy = "single_stage"
	// StrategyMultiStage runs the discovery/analysis/evaluation pipeline.
	StrategyMultiStage Strategy = "multi_stage"
	// StrategyIterative is accepted from the classifier but treated as
	// single-stage: no dedicated refinement loop exists.
	StrategyIterative Strategy = "iterative"
)

// IsValid reports whether the strategy is a known value.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategySingleStage, StrategyMultiStage, StrategyIterative:
		return true
	}
	return false
}

// Record is the structured classification of one question. Created once per
// request, immutable thereafter, and discarded at request end.
type Record struct {
	// Intent is a short label describing the detected user intent.
	Intent string `json:"intent"`

	// Persona selects the domain bundle and direct-tool set.
	Persona string `json:"persona"`

	// Confidence is the classifier's score in [0,1].
	Confidence float64 `json:"confidence"`

	// Strategy selects the execution flow. Always present.
	Strategy Strategy `json:"execution_strategy"`

	// Entities maps entity kind (competitor_product, product_codes, ...) to
	// its extracted values. Never nil; may be empty.
	Entities EntityMap `json:"extracted_entities"`

	// EnableEvaluation requests a synthesis pass even on the fast path.
	EnableEvaluation bool `json:"enable_evaluation"`

	// Reasoning is the classifier's own explanation, kept for diagnostics.
	Reasoning string `json:"reasoning,omitempty"`
}

// EntityMap holds extracted entities. Values are ordered lists; a scalar
// entity is a single-element list.
type EntityMap map[string][]string

// First returns the first value for the given entity kind, or "" when absent.
func (m EntityMap) First(kind string) string {
	if vals := m[kind]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Has reports whether at least one value exists for the entity kind.
func (m EntityMap) Has(kind string) bool {
	return len(m[kind]) > 0
}

// UnmarshalJSON accepts both scalar and list entity values, since classifier
// output is not strict about the distinction.
func (m *EntityMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(EntityMap, len(raw))
	for kind, val := range raw {
		var list []string
		if err := json.Unmarshal(val, &list); err == nil {
			out[kind] = list
			continue
		}
		var scalar string
		if err := json.Unmarshal(val, &scalar); err == nil {
			if scalar != "" {
				out[kind] = []string{scalar}
			}
			continue
		}
		return fmt.Errorf("entity %q: value must be a string or list of strings", kind)
	}
	*m = out
	return nil
}

// Normalize enforces the record invariants: strategy and persona always
// present, entities never nil, unknown strategies coerced to single-stage.
func (r *Record) Normalize(defaultPersona string) {
	if r.Persona == "" {
		r.Persona = defaultPersona
	}
	if !r.Strategy.IsValid() {
		r.Strategy = StrategySingleStage
	}
	if r.Entities == nil {
		r.Entities = EntityMap{}
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}

// DefaultRecord is the safe substitute used when classification fails: default
// persona, single-stage, empty entities, evaluation enabled.
func DefaultRecord(defaultPersona, reason string) *Record {
	return &Record{
		Intent:           "general_query",
		Persona:          defaultPersona,
		Confidence:       0.5,
		Strategy:         StrategySingleStage,
		Entities:         EntityMap{},
		EnableEvaluation: true,
		Reasoning:        reason,
	}
}

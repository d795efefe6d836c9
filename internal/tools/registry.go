package tools

import (
	"fmt"
	"sort"

	"github.com/datadeskhq/datadesk/internal/classify"
)

// Registry maps persona names to their ordered direct-tool descriptors.
// It is frozen at construction: no mutation happens at request time, so all
// request pipelines may read it concurrently without locking.
type Registry struct {
	byPersona map[string][]*Descriptor
}

// Builder accumulates tool registrations before the registry is frozen.
// Registration order within a persona is the dispatch tie-break.
type Builder struct {
	byPersona map[string][]*Descriptor
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{byPersona: make(map[string][]*Descriptor)}
}

// Register appends a descriptor to a persona's tool list.
func (b *Builder) Register(personaName string, d *Descriptor) *Builder {
	b.byPersona[personaName] = append(b.byPersona[personaName], d)
	return b
}

// Build validates all registrations and freezes the registry.
func (b *Builder) Build() (*Registry, error) {
	frozen := make(map[string][]*Descriptor, len(b.byPersona))
	for personaName, descriptors := range b.byPersona {
		seen := make(map[string]bool, len(descriptors))
		for _, d := range descriptors {
			if err := validate(d); err != nil {
				return nil, fmt.Errorf("persona %q: %w", personaName, err)
			}
			if seen[d.Name] {
				return nil, fmt.Errorf("persona %q: duplicate tool %q", personaName, d.Name)
			}
			seen[d.Name] = true
		}
		frozen[personaName] = append([]*Descriptor(nil), descriptors...)
	}
	return &Registry{byPersona: frozen}, nil
}

func validate(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Matches == nil {
		return fmt.Errorf("tool %q: predicate is required", d.Name)
	}
	if d.Execute == nil {
		return fmt.Errorf("tool %q: executor is required", d.Name)
	}
	return nil
}

// ForPersona returns the ordered descriptors for a persona. The returned
// slice must not be modified. Unknown personas return nil.
func (r *Registry) ForPersona(personaName string) []*Descriptor {
	return r.byPersona[personaName]
}

// Personas returns the persona names that have registered tools, sorted.
func (r *Registry) Personas() []string {
	names := make([]string, 0, len(r.byPersona))
	for name := range r.byPersona {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToolCount returns the total number of registered tools.
func (r *Registry) ToolCount() int {
	n := 0
	for _, descriptors := range r.byPersona {
		n += len(descriptors)
	}
	return n
}

// SelfTestReport is the outcome of running example triggers through a tool's
// predicate.
type SelfTestReport struct {
	Persona  string          `json:"persona"`
	Tool     string          `json:"tool"`
	Results  map[string]bool `json:"results"`
	AllMatch bool            `json:"all_match"`
}

// SelfTest runs every descriptor's example triggers through its own predicate
// with an empty classification, reporting which triggers fail to match.
// Useful when tuning predicates.
func (r *Registry) SelfTest() []SelfTestReport {
	var reports []SelfTestReport
	for _, personaName := range r.Personas() {
		for _, d := range r.byPersona[personaName] {
			if len(d.ExampleTriggers) == 0 {
				continue
			}
			report := SelfTestReport{
				Persona:  personaName,
				Tool:     d.Name,
				Results:  make(map[string]bool, len(d.ExampleTriggers)),
				AllMatch: true,
			}
			for _, trigger := range d.ExampleTriggers {
				record := &classify.Record{
					Persona:  personaName,
					Strategy: classify.StrategySingleStage,
					Entities: classify.EntityMap{},
				}
				matched := d.Matches(trigger, record)
				report.Results[trigger] = matched
				if !matched {
					report.AllMatch = false
				}
			}
			reports = append(reports, report)
		}
	}
	return reports
}

// Package persona provides the domain-context bundles that scope DataDesk's
// question answering. A persona names a business domain, the warehouse tables
// that belong to it, and the background notes the reasoning stages embed into
// their prompts.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is a named business-domain bundle. Personas are immutable after
// loading and safe for concurrent reads.
type Persona struct {
	// Name is the persona identifier used by classification and tool lookup.
	Name string `yaml:"name" json:"name"`

	// Description is a one-line summary shown to the classifier.
	Description string `yaml:"description" json:"description"`

	// Tables lists the warehouse tables this persona may query.
	Tables []Table `yaml:"tables" json:"tables"`

	// Notes carries free-form domain guidance embedded into stage prompts
	// (naming conventions, join hints, business rules).
	Notes string `yaml:"notes" json:"notes,omitempty"`
}

// Table describes one warehouse table available to a persona.
type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Column describes one column of a persona table.
type Column struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Validate checks that the persona bundle is usable.
func (p *Persona) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("persona name is required")
	}
	if len(p.Tables) == 0 {
		return fmt.Errorf("persona %q has no tables", p.Name)
	}
	for _, t := range p.Tables {
		if t.Name == "" {
			return fmt.Errorf("persona %q has a table without a name", p.Name)
		}
	}
	return nil
}

// TableNames returns the persona's table names in declaration order.
func (p *Persona) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for _, t := range p.Tables {
		names = append(names, t.Name)
	}
	return names
}

// SchemaContext renders the persona's tables as a schema description suitable
// for embedding into an NL-to-SQL prompt.
func (p *Persona) SchemaContext() string {
	var sb strings.Builder
	for _, t := range p.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name+" "+c.Type)
		}
		sb.WriteString(fmt.Sprintf("Table: %s (%s)", t.Name, strings.Join(cols, ", ")))
		if t.Description != "" {
			sb.WriteString(" -- " + t.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// PromptContext renders the full persona context (schema plus domain notes)
// for stage prompts.
func (p *Persona) PromptContext() string {
	var sb strings.Builder
	sb.WriteString("Domain: " + p.Name)
	if p.Description != "" {
		sb.WriteString(" - " + p.Description)
	}
	sb.WriteString("\n\n")
	sb.WriteString(p.SchemaContext())
	if p.Notes != "" {
		sb.WriteString("\nDomain notes:\n")
		sb.WriteString(p.Notes)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Registry holds the loaded personas. Built once at start-up and read-only
// thereafter; safe for concurrent use without locking.
type Registry struct {
	personas    map[string]*Persona
	defaultName string
}

// NewRegistry builds a registry from the given personas. The default persona
// must be present; it is substituted whenever classification fails or names an
// unknown persona.
func NewRegistry(personas []*Persona, defaultName string) (*Registry, error) {
	m := make(map[string]*Persona, len(personas))
	for _, p := range personas {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[p.Name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Name)
		}
		m[p.Name] = p
	}
	if _, ok := m[defaultName]; !ok {
		return nil, fmt.Errorf("default persona %q not loaded", defaultName)
	}
	return &Registry{personas: m, defaultName: defaultName}, nil
}

// Get returns the named persona, or false when unknown.
func (r *Registry) Get(name string) (*Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// GetOrDefault returns the named persona, falling back to the default.
func (r *Registry) GetOrDefault(name string) *Persona {
	if p, ok := r.personas[name]; ok {
		return p
	}
	return r.personas[r.defaultName]
}

// DefaultName returns the name of the default persona.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names returns all persona names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClassifierSummary renders the persona list with table context for the
// classification prompt, so the classifier can ground persona selection on
// actual table names.
func (r *Registry) ClassifierSummary() string {
	var sb strings.Builder
	for _, name := range r.Names() {
		p := r.personas[name]
		sb.WriteString(fmt.Sprintf("- %s: %s\n  Tables: %s\n",
			p.Name, p.Description, strings.Join(p.TableNames(), ", ")))
	}
	return sb.String()
}

package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromYAML parses YAML data into a Persona.
func LoadFromYAML(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse persona YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persona: %w", err)
	}
	return &p, nil
}

// LoadFromFile loads a single persona bundle from a YAML file.
func LoadFromFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	p, err := LoadFromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// LoadDir loads every *.yaml persona bundle under dir and builds a frozen
// registry. When the directory does not exist or contains no bundles, a
// built-in default persona is used so the pipeline always has a home.
func LoadDir(dir, defaultName string) (*Registry, error) {
	var personas []*Persona

	entries, err := os.ReadDir(dir)
	if err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
				names = append(names, e.Name())
			}
		}
		// Deterministic load order regardless of filesystem.
		sort.Strings(names)

		for _, name := range names {
			p, err := LoadFromFile(filepath.Join(dir, name))
			if err != nil {
				return nil, err
			}
			personas = append(personas, p)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read persona directory: %w", err)
	}

	if _, ok := find(personas, defaultName); !ok {
		personas = append(personas, builtinDefault(defaultName))
	}

	return NewRegistry(personas, defaultName)
}

func find(personas []*Persona, name string) (*Persona, bool) {
	for _, p := range personas {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// builtinDefault returns a minimal persona so a fresh install can answer
// questions before any bundles are written.
func builtinDefault(name string) *Persona {
	if name == "" {
		name = "product_planning"
	}
	return &Persona{
		Name:        name,
		Description: "General product and sales questions",
		Tables: []Table{
			{
				Name:        "products",
				Description: "Product master",
				Columns: []Column{
					{Name: "product_id", Type: "TEXT"},
					{Name: "product_name", Type: "TEXT"},
					{Name: "category", Type: "TEXT"},
					{Name: "unit_price", Type: "REAL"},
				},
			},
		},
		Notes: strings.TrimSpace(`
Prefer exact product_id matches before name matches.
Prices are per unit in the local currency.`),
	}
}

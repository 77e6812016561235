// Package schema holds the artifact-type schemas telemetry records are
// checked against, and the validator itself.
package schema

import (
	"fmt"
	"sort"
)

// Schema describes one artifact type.
type Schema struct {
	Name        string
	Version     string
	Description string
	Required    []string
	Optional    []string
	FieldTypes  map[string]Type
	Example     map[string]any
}

// Registry maps artifact-type names (and aliases) to schemas. It is not
// modified after NewRegistry returns.
type Registry struct {
	schemas map[string]*Schema
	aliases map[string]string
}

// NewRegistry builds a registry from defs. Each alias must name a schema in
// defs and resolves to the same *Schema.
func NewRegistry(defs []Schema, aliases map[string]string) (*Registry, error) {
	r := &Registry{
		schemas: make(map[string]*Schema, len(defs)+len(aliases)),
		aliases: make(map[string]string, len(aliases)),
	}
	for i := range defs {
		def := defs[i]
		if def.Name == "" {
			return nil, fmt.Errorf("schema: definition %d has no name", i)
		}
		if _, dup := r.schemas[def.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate artifact type %q", def.Name)
		}
		r.schemas[def.Name] = &def
	}
	for alias, target := range aliases {
		s, ok := r.schemas[target]
		if !ok {
			return nil, fmt.Errorf("schema: alias %q targets unknown type %q", alias, target)
		}
		if _, dup := r.schemas[alias]; dup {
			return nil, fmt.Errorf("schema: alias %q shadows an artifact type", alias)
		}
		r.schemas[alias] = s
		r.aliases[alias] = target
	}
	return r, nil
}

// Lookup returns the schema registered under name, alias or canonical.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Resolve maps an alias to its canonical name. Canonical and unknown names
// are returned unchanged.
func (r *Registry) Resolve(name string) string {
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}

// Names lists canonical artifact types, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		if _, alias := r.aliases[name]; alias {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Aliases returns a copy of the alias table.
func (r *Registry) Aliases() map[string]string {
	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Validate checks record against the schema for artifactType. Errors are
// accumulated: one per missing required field, then one per declared field
// whose value has the wrong kind. Undeclared fields are not checked.
func (r *Registry) Validate(artifactType string, record map[string]any) (bool, []string) {
	s, ok := r.schemas[artifactType]
	if !ok {
		return false, []string{"Unknown artifact type: " + artifactType}
	}
	var errs []string
	for _, field := range s.Required {
		if _, present := record[field]; !present {
			errs = append(errs, "Missing required field: "+field)
		}
	}

	fields := make([]string, 0, len(record))
	for field := range record {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		want, declared := s.FieldTypes[field]
		if !declared {
			continue
		}
		value := record[field]
		if !want.Accepts(value) {
			errs = append(errs, fmt.Sprintf("Field '%s' has wrong type. Expected %s, got %s",
				field, want, typeName(value)))
		}
	}
	return len(errs) == 0, errs
}

// Consistency reports required fields that have no declared type.
func (r *Registry) Consistency() []string {
	var problems []string
	for _, name := range r.Names() {
		s := r.schemas[name]
		for _, field := range s.Required {
			if _, ok := s.FieldTypes[field]; !ok {
				problems = append(problems, fmt.Sprintf("%s: required field %q has no declared type", name, field))
			}
		}
	}
	return problems
}

// Package plan holds the compiled, immutable execution plan for a rule set:
// the compiled rules, the rule dependency graph, field classification,
// conflicts, warnings and the execution layers. A Plan is built once by the
// preprocessor and shared read-only by any number of reasoning passes.
package plan

import (
	"sort"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
)

// FieldRole classifies a fact field by who produces and consumes it.
type FieldRole string

const (
	RoleInput        FieldRole = "input"
	RoleOutput       FieldRole = "output"
	RoleIntermediate FieldRole = "intermediate"
)

// FieldNode is one fact key with the rules that read and write it.
type FieldNode struct {
	Name      string    `json:"name"`
	Role      FieldRole `json:"role"`
	Producers []string  `json:"producers,omitempty"`
	Consumers []string  `json:"consumers,omitempty"`
}

// ClassifyRole derives the role from the producer and consumer counts.
func ClassifyRole(producers, consumers int) FieldRole {
	switch {
	case producers == 0:
		return RoleInput
	case consumers == 0:
		return RoleOutput
	}
	return RoleIntermediate
}

// RuleNode holds the graph edges of one rule. Dependencies must run before
// the rule; Dependents wait on it.
type RuleNode struct {
	ID           string   `json:"id"`
	Dependencies []string `json:"dependencies,omitempty"`
	Dependents   []string `json:"dependents,omitempty"`
}

// ConflictKind distinguishes resolvable from unresolvable write conflicts.
type ConflictKind string

const (
	SamePriority  ConflictKind = "same_priority"
	CrossPriority ConflictKind = "cross_priority"
)

// Conflict records two or more rules writing one field. For a same-priority
// conflict Rules share Priority and are ordered by id. For a cross-priority
// conflict Rules are ordered by descending priority and Winner is the first.
type Conflict struct {
	Field    string       `json:"field"`
	Kind     ConflictKind `json:"kind"`
	Rules    []string     `json:"rules"`
	Priority int          `json:"priority,omitempty"`
	Winner   string       `json:"winner,omitempty"`
}

// WarningKind is the category of a compile-time warning.
type WarningKind string

const (
	WarnCycle    WarningKind = "cycle"
	WarnConflict WarningKind = "conflict"
)

// Warning is a non-fatal compile-time diagnostic.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
	Rules   []string    `json:"rules,omitempty"`
	Field   string      `json:"field,omitempty"`
}

// Plan is an immutable compiled rule set.
type Plan struct {
	Name      string
	Rules     map[string]*Rule
	Nodes     map[string]*RuleNode
	Fields    map[string]*FieldNode
	Layers    [][]string
	Conflicts []Conflict
	Warnings  []Warning

	// Functions is the registry the rules were compiled against.
	Functions *expression.Registry
}

// Rule returns a compiled rule by id.
func (p *Plan) Rule(id string) (*Rule, bool) {
	r, ok := p.Rules[id]
	return r, ok
}

// RuleIDs returns all rule ids in sorted order.
func (p *Plan) RuleIDs() []string {
	ids := make([]string, 0, len(p.Rules))
	for id := range p.Rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Order returns every rule id in execution order.
func (p *Plan) Order() []string {
	var out []string
	for _, layer := range p.Layers {
		out = append(out, layer...)
	}
	return out
}

// LayerOf returns the index of the layer holding id, or -1.
func (p *Plan) LayerOf(id string) int {
	for i, layer := range p.Layers {
		for _, rid := range layer {
			if rid == id {
				return i
			}
		}
	}
	return -1
}

// FieldNames returns the names of fields with the given role, sorted.
func (p *Plan) FieldNames(role FieldRole) []string {
	var out []string
	for name, f := range p.Fields {
		if f.Role == role {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ConflictsFor returns the conflicts recorded on field.
func (p *Plan) ConflictsFor(field string) []Conflict {
	var out []Conflict
	for _, c := range p.Conflicts {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

// NumRules returns the number of rules.
func (p *Plan) NumRules() int { return len(p.Rules) }

// internal/rules/rule.go

package rules

import (
	"fmt"
	"sort"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Rule is a rule definition as authored in a rule file.
type Rule struct {
	ID          string         `json:"id" yaml:"id" validate:"max=256"`
	Priority    int            `json:"priority" yaml:"priority"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   Condition      `json:"condition" yaml:"condition"`
	Actions     map[string]any `json:"actions" yaml:"actions" validate:"required,min=1,dive,keys,required,endkeys"`
	Triggers    []string       `json:"triggers,omitempty" yaml:"triggers,omitempty" validate:"dive,required"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ActionFields returns the action keys in sorted order. Actions of one rule
// are applied in this order.
func (r *Rule) ActionFields() []string {
	fields := make([]string, 0, len(r.Actions))
	for k := range r.Actions {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// CompiledActions compiles every action value, keyed by field.
func (r *Rule) CompiledActions() (map[string]*expression.Action, error) {
	out := make(map[string]*expression.Action, len(r.Actions))
	for _, field := range r.ActionFields() {
		v, err := value.FromAny(r.Actions[field])
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", field, err)
		}
		a, err := expression.CompileAction(v)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", field, err)
		}
		out[field] = a
	}
	return out, nil
}

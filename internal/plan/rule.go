package plan

import (
	"errors"
	"fmt"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
)

// Rule is a compiled rule. Reads and Writes are computed once here and never
// change afterwards.
type Rule struct {
	Definition rules.Rule

	Condition expression.Node
	Actions   map[string]*expression.Action

	// Reads holds the fields referenced by the condition and by action
	// templates. Writes holds the action keys. Both are sorted.
	Reads  []string
	Writes []string

	// Functions lists called function names. Cacheable is true when every
	// one of them is pure.
	Functions []string
	Cacheable bool

	condReads []string
}

// ID returns the rule id.
func (r *Rule) ID() string { return r.Definition.ID }

// Priority returns the rule priority.
func (r *Rule) Priority() int { return r.Definition.Priority }

// ConditionReads returns only the fields read by the condition.
func (r *Rule) ConditionReads() []string { return r.condReads }

// ErrUnknownFunction is wrapped when a rule calls an unregistered function.
var ErrUnknownFunction = errors.New("unknown function")

// CompileRule parses a rule definition and extracts its field usage. All
// problems found in the rule are returned joined.
func CompileRule(def rules.Rule, reg *expression.Registry) (*Rule, error) {
	if reg == nil {
		reg = expression.NewRegistry()
	}
	var errs []error
	cond, err := def.Condition.Compile()
	if err != nil {
		errs = append(errs, fmt.Errorf("condition: %w", err))
	} else {
		cond = expression.Simplify(cond)
	}
	actions, err := def.CompiledActions()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	nodes := []expression.Node{cond}
	for _, field := range def.ActionFields() {
		nodes = append(nodes, actions[field].Nodes()...)
	}
	r := &Rule{
		Definition: def,
		Condition:  cond,
		Actions:    actions,
		Reads:      expression.Reads(nodes...),
		Writes:     def.ActionFields(),
		condReads:  expression.Reads(cond),
		Functions:  expression.Functions(nodes...),
		Cacheable:  true,
	}
	for _, name := range r.Functions {
		if !reg.Has(name) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownFunction, name))
			continue
		}
		if !reg.IsPure(name) {
			r.Cacheable = false
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

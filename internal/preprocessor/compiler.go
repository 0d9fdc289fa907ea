package preprocessor

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/rules"
)

// ConflictPolicy decides what a same-priority write conflict does.
type ConflictPolicy string

const (
	// ConflictFail rejects the rule set.
	ConflictFail ConflictPolicy = "fail"
	// ConflictWarn records a warning and lets the rule with the lower id
	// win at run time.
	ConflictWarn ConflictPolicy = "warn"
)

// Options configures Compile.
type Options struct {
	Name           string
	ConflictPolicy ConflictPolicy
	// Functions resolves function names. Nil means builtins only.
	Functions *expression.Registry
	Logger    *zerolog.Logger
}

func (o Options) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return zerolog.Nop()
}

// CompileFile parses a JSON or YAML rule document and compiles it.
func CompileFile(data []byte, opts Options) (*plan.Plan, error) {
	file, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = file.Name
	}
	return Compile(file.Rules, opts)
}

// Compile turns rule definitions into an execution plan. It collects every
// problem it finds and returns them together in a *CompileError; no plan is
// returned in that case.
func Compile(defs []rules.Rule, opts Options) (*plan.Plan, error) {
	logger := opts.logger()
	policy := opts.ConflictPolicy
	if policy == "" {
		policy = ConflictFail
	}
	if policy != ConflictFail && policy != ConflictWarn {
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
	reg := opts.Functions
	if reg == nil {
		reg = expression.NewRegistry()
	}
	logger.Debug().Int("rules", len(defs)).Msg("Started compiling rules...")

	var errs []error
	seen := make(map[string]bool, len(defs))
	var compiled []*plan.Rule
	for i, def := range defs {
		invalid := validateRule(&defs[i], i)
		if invalid != nil {
			errs = append(errs, unjoin(invalid)...)
		}
		switch {
		case def.ID == "":
			errs = append(errs, &GraphError{RuleID: fmt.Sprintf("#%d", i), Msg: "rule id is empty"})
			continue
		case seen[def.ID]:
			errs = append(errs, &GraphError{RuleID: def.ID, Msg: "duplicate rule id"})
			continue
		}
		seen[def.ID] = true
		if invalid != nil {
			continue
		}
		r, err := plan.CompileRule(def, reg)
		if err != nil {
			errs = append(errs, &RuleError{RuleID: def.ID, Err: err})
			continue
		}
		compiled = append(compiled, r)
	}

	g, graphErrs := BuildGraph(compiled)
	errs = append(errs, graphErrs...)

	var warnings []plan.Warning
	for _, c := range g.Conflicts {
		switch {
		case c.Kind == plan.CrossPriority:
			logger.Warn().Str("field", c.Field).Strs("rules", c.Rules).Str("winner", c.Winner).
				Msg("Rules with different priorities write the same field")
		case policy == ConflictFail:
			errs = append(errs, &ConflictError{Conflict: c})
		default:
			logger.Warn().Str("field", c.Field).Strs("rules", c.Rules).Int("priority", c.Priority).
				Msg("Rules with equal priority write the same field")
			warnings = append(warnings, plan.Warning{
				Kind:    plan.WarnConflict,
				Message: fmt.Sprintf("rules %s write '%s' with equal priority %d", describeRules(c.Rules), c.Field, c.Priority),
				Rules:   c.Rules,
				Field:   c.Field,
			})
		}
	}

	if len(errs) > 0 {
		logger.Debug().Int("errors", len(errs)).Msg("Compilation failed")
		return nil, &CompileError{Errors: errs}
	}

	priority := make(map[string]int, len(compiled))
	for _, r := range compiled {
		priority[r.ID()] = r.Priority()
	}
	layers, cycleWarnings := Layer(g.Nodes, priority)
	for _, w := range cycleWarnings {
		logger.Warn().Strs("rules", w.Rules).Msg(w.Message)
	}
	warnings = append(warnings, cycleWarnings...)

	p := &plan.Plan{
		Name:      opts.Name,
		Rules:     make(map[string]*plan.Rule, len(compiled)),
		Nodes:     g.Nodes,
		Fields:    g.Fields,
		Layers:    layers,
		Conflicts: g.Conflicts,
		Warnings:  warnings,
		Functions: reg,
	}
	for _, r := range compiled {
		p.Rules[r.ID()] = r
	}
	logger.Debug().Int("rules", len(compiled)).Int("layers", len(layers)).
		Int("conflicts", len(g.Conflicts)).Int("warnings", len(warnings)).
		Msg("Compiled execution plan")
	return p, nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// IsCompileError reports whether err carries a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

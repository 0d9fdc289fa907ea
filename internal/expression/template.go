package expression

import (
	"fmt"
	"strings"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Action is a compiled action value: a literal, a single {{ expr }} that
// evaluates to a value, or a string with {{ expr }} segments interpolated.
type Action struct {
	raw   value.Value
	whole Node
	parts []segment
}

type segment struct {
	text string
	expr Node
}

// CompileAction compiles an action value.
func CompileAction(raw value.Value) (*Action, error) {
	a := &Action{raw: raw}
	s, ok := raw.AsString()
	if !ok || !strings.Contains(s, "{{") {
		return a, nil
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") &&
		strings.Count(trimmed, "{{") == 1 {
		n, err := Parse(strings.TrimSpace(trimmed[2 : len(trimmed)-2]))
		if err != nil {
			return nil, err
		}
		a.whole = n
		return a, nil
	}
	rest := s
	for rest != "" {
		open := strings.Index(rest, "{{")
		if open < 0 {
			a.parts = append(a.parts, segment{text: rest})
			break
		}
		closing := strings.Index(rest[open:], "}}")
		if closing < 0 {
			return nil, &ParseError{Expr: s, Pos: len(s) - len(rest) + open, Msg: "unclosed {{ in template"}
		}
		if open > 0 {
			a.parts = append(a.parts, segment{text: rest[:open]})
		}
		n, err := Parse(strings.TrimSpace(rest[open+2 : open+closing]))
		if err != nil {
			return nil, err
		}
		a.parts = append(a.parts, segment{expr: n})
		rest = rest[open+closing+2:]
	}
	return a, nil
}

// Raw returns the value as written in the rule.
func (a *Action) Raw() value.Value { return a.raw }

// IsLiteral reports whether the action needs no evaluation.
func (a *Action) IsLiteral() bool { return a.whole == nil && a.parts == nil }

// Nodes returns the expressions embedded in the action.
func (a *Action) Nodes() []Node {
	if a.whole != nil {
		return []Node{a.whole}
	}
	var out []Node
	for _, p := range a.parts {
		if p.expr != nil {
			out = append(out, p.expr)
		}
	}
	return out
}

// Reads returns the fields referenced by embedded expressions.
func (a *Action) Reads() []string { return Reads(a.Nodes()...) }

// String renders the action source.
func (a *Action) String() string {
	if s, ok := a.raw.AsString(); ok {
		return s
	}
	return a.raw.String()
}

// Eval produces the value to write.
func (a *Action) Eval(e *Evaluator, facts Facts) (value.Value, error) {
	if a.whole != nil {
		v, err := e.Eval(a.whole, facts)
		if err != nil {
			return value.Absent(), err
		}
		if v.IsAbsent() {
			return value.Absent(), &EvalError{Expr: a.whole.String(), Err: ErrAbsentField}
		}
		return v, nil
	}
	if a.parts == nil {
		return a.raw, nil
	}
	var sb strings.Builder
	for _, p := range a.parts {
		if p.expr == nil {
			sb.WriteString(p.text)
			continue
		}
		v, err := e.Eval(p.expr, facts)
		if err != nil {
			return value.Absent(), err
		}
		if v.IsAbsent() {
			return value.Absent(), &EvalError{Expr: p.expr.String(), Err: ErrAbsentField}
		}
		sb.WriteString(display(v))
	}
	return value.String(sb.String()), nil
}

// display renders strings without quotes and everything else in
// expression syntax.
func display(v value.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return fmt.Sprint(v)
}

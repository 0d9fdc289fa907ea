package expression

import (
	"errors"
	"fmt"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// ErrAbsentField is wrapped by EvalError when an operator other than a
// comparison receives a missing field.
var ErrAbsentField = errors.New("field is absent")

// Facts is a read-only view of the fact store.
type Facts interface {
	Get(name string) (value.Value, bool)
}

// MapFacts adapts a plain map to Facts.
type MapFacts map[string]value.Value

func (m MapFacts) Get(name string) (value.Value, bool) {
	v, ok := m[name]
	return v, ok
}

// Resolve reads a field reference. The full dotted name is tried first,
// then successively shorter prefixes with the remainder walked through
// nested maps.
func Resolve(facts Facts, ref *FieldRef) value.Value {
	if facts == nil {
		return value.Absent()
	}
	if v, ok := facts.Get(ref.Name); ok {
		return v
	}
	for i := len(ref.Path) - 1; i > 0; i-- {
		prefix := joinPath(ref.Path[:i])
		if base, ok := facts.Get(prefix); ok {
			return base.Lookup(ref.Path[i:])
		}
	}
	return value.Absent()
}

func joinPath(segs []string) string {
	n := len(segs) - 1
	for _, s := range segs {
		n += len(s)
	}
	b := make([]byte, 0, n)
	for i, s := range segs {
		if i > 0 {
			b = append(b, '.')
		}
		b = append(b, s...)
	}
	return string(b)
}

// Evaluator evaluates nodes. The zero value uses the builtin functions and
// no cache.
type Evaluator struct {
	Functions *Registry
	Cache     *Cache
}

// Evaluate evaluates n against facts using the builtin functions.
func Evaluate(n Node, facts Facts) (value.Value, error) {
	var e Evaluator
	return e.Eval(n, facts)
}

// EvalBool evaluates n and coerces the result to a boolean.
func (e *Evaluator) EvalBool(n Node, facts Facts) (bool, error) {
	v, err := e.Eval(n, facts)
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

// Eval evaluates n. A missing field evaluates to the absent value; errors
// are *EvalError or *FunctionError.
func (e *Evaluator) Eval(n Node, facts Facts) (value.Value, error) {
	switch t := n.(type) {
	case *Literal:
		return t.Value, nil
	case *FieldRef:
		return Resolve(facts, t), nil
	case *Comparison:
		return e.compare(t, facts)
	case *Arithmetic:
		left, err := e.Eval(t.Left, facts)
		if err != nil {
			return value.Absent(), err
		}
		right, err := e.Eval(t.Right, facts)
		if err != nil {
			return value.Absent(), err
		}
		if left.IsAbsent() || right.IsAbsent() {
			return value.Absent(), &EvalError{Expr: t.String(), Err: ErrAbsentField}
		}
		out, err := value.Arith(t.Op, left, right)
		if err != nil {
			return value.Absent(), &EvalError{Expr: t.String(), Err: err}
		}
		return out, nil
	case *Negation:
		v, err := e.Eval(t.Operand, facts)
		if err != nil {
			return value.Absent(), err
		}
		if v.IsAbsent() {
			return value.Absent(), &EvalError{Expr: t.String(), Err: ErrAbsentField}
		}
		out, err := value.Negate(v)
		if err != nil {
			return value.Absent(), &EvalError{Expr: t.String(), Err: err}
		}
		return out, nil
	case *BoolCombinator:
		return e.combine(t, facts)
	case *FunctionCall:
		return e.call(t, facts)
	case *ListExpr:
		items := make([]value.Value, len(t.Items))
		for i, item := range t.Items {
			v, err := e.Eval(item, facts)
			if err != nil {
				return value.Absent(), err
			}
			if v.IsAbsent() {
				return value.Absent(), &EvalError{Expr: item.String(), Err: ErrAbsentField}
			}
			items[i] = v
		}
		return value.List(items...), nil
	case *MapExpr:
		m := make(map[string]value.Value, len(t.Keys))
		for i, k := range t.Keys {
			v, err := e.Eval(t.Values[i], facts)
			if err != nil {
				return value.Absent(), err
			}
			if v.IsAbsent() {
				return value.Absent(), &EvalError{Expr: t.Values[i].String(), Err: ErrAbsentField}
			}
			m[k] = v
		}
		return value.Map(m), nil
	case nil:
		return value.Absent(), &EvalError{Expr: "<nil>", Err: errors.New("nil expression")}
	}
	return value.Absent(), &EvalError{Expr: n.String(), Err: fmt.Errorf("unsupported node %T", n)}
}

func (e *Evaluator) compare(c *Comparison, facts Facts) (value.Value, error) {
	left, err := e.Eval(c.Left, facts)
	if err != nil {
		return value.Absent(), err
	}
	right, err := e.Eval(c.Right, facts)
	if err != nil {
		return value.Absent(), err
	}
	if left.IsAbsent() || right.IsAbsent() {
		return value.Bool(false), nil
	}
	switch c.Op {
	case OpEq:
		return value.Bool(value.Equal(left, right)), nil
	case OpNe:
		return value.Bool(!value.Equal(left, right)), nil
	case OpIn, OpNotIn:
		found, ok := value.Contains(right, left)
		if !ok {
			return value.Bool(false), nil
		}
		return value.Bool(found == (c.Op == OpIn)), nil
	}
	cmp, ok := value.Compare(left, right)
	if !ok {
		return value.Bool(false), nil
	}
	switch c.Op {
	case OpGt:
		return value.Bool(cmp > 0), nil
	case OpGe:
		return value.Bool(cmp >= 0), nil
	case OpLt:
		return value.Bool(cmp < 0), nil
	case OpLe:
		return value.Bool(cmp <= 0), nil
	}
	return value.Absent(), &EvalError{Expr: c.String(), Err: fmt.Errorf("unknown operator %q", c.Op)}
}

func (e *Evaluator) combine(b *BoolCombinator, facts Facts) (value.Value, error) {
	switch b.Kind {
	case BoolNot:
		if len(b.Children) != 1 {
			return value.Absent(), &EvalError{Expr: b.String(), Err: errors.New("not takes exactly one operand")}
		}
		ok, err := e.EvalBool(b.Children[0], facts)
		if err != nil {
			return value.Absent(), err
		}
		return value.Bool(!ok), nil
	case BoolAll:
		for _, c := range b.Children {
			ok, err := e.EvalBool(c, facts)
			if err != nil {
				return value.Absent(), err
			}
			if !ok {
				return value.Bool(false), nil
			}
		}
		return value.Bool(true), nil
	case BoolAny:
		for _, c := range b.Children {
			ok, err := e.EvalBool(c, facts)
			if err != nil {
				return value.Absent(), err
			}
			if ok {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	}
	return value.Absent(), &EvalError{Expr: b.String(), Err: fmt.Errorf("unknown combinator %q", b.Kind)}
}

func (e *Evaluator) call(fc *FunctionCall, facts Facts) (value.Value, error) {
	reg := e.Functions
	if reg == nil {
		reg = defaultRegistry
	}
	cacheable := e.Cache != nil && reg.IsPure(fc.Name)
	var key string
	if cacheable {
		reads := fc.reads
		if reads == nil {
			reads = Reads(fc)
		}
		key = Key(fc, reads, facts)
		if v, ok := e.Cache.Get(key); ok {
			return v, nil
		}
	}
	args := make([]value.Value, len(fc.Args))
	for i, a := range fc.Args {
		v, err := e.Eval(a, facts)
		if err != nil {
			return value.Absent(), err
		}
		args[i] = v
	}
	out, err := reg.Call(fc.Name, args)
	if err != nil {
		return value.Absent(), err
	}
	if cacheable {
		e.Cache.Put(key, out)
	}
	return out, nil
}

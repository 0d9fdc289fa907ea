// Package expression compiles condition and action expressions into a small
// typed AST and evaluates them against a fact set.
//
// Expression strings are parsed with the expr-lang parser and lowered into
// the node kinds defined here. Structured all/any/not trees are built with
// All, Any and Not. Every node renders back to expression syntax through
// String, and that rendering parses to an equivalent tree.
package expression

import (
	"sort"
	"strings"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// Node is a compiled expression.
type Node interface {
	String() string
	node()
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq    CompareOp = "=="
	OpNe    CompareOp = "!="
	OpGt    CompareOp = ">"
	OpGe    CompareOp = ">="
	OpLt    CompareOp = "<"
	OpLe    CompareOp = "<="
	OpIn    CompareOp = "in"
	OpNotIn CompareOp = "not in"
)

// BoolKind selects a boolean combinator.
type BoolKind string

const (
	BoolAll BoolKind = "all"
	BoolAny BoolKind = "any"
	BoolNot BoolKind = "not"
)

// Literal is a constant value.
type Literal struct {
	Value value.Value
}

// FieldRef reads a fact. Name is the dotted path as written.
type FieldRef struct {
	Name string
	Path []string
}

// Comparison compares two operands. Comparisons involving an absent field
// are false.
type Comparison struct {
	Op          CompareOp
	Left, Right Node
}

// Arithmetic applies + - * / % or ** to two operands.
type Arithmetic struct {
	Op          string
	Left, Right Node
}

// Negation is unary minus.
type Negation struct {
	Operand Node
}

// BoolCombinator is all/and, any/or or not. A not node has one child.
type BoolCombinator struct {
	Kind     BoolKind
	Children []Node
}

// FunctionCall invokes a builtin or registered function.
type FunctionCall struct {
	Name string
	Args []Node

	repr  string
	reads []string
}

// ListExpr builds a list from non-constant items.
type ListExpr struct {
	Items []Node
}

// MapExpr builds a map from non-constant values.
type MapExpr struct {
	Keys   []string
	Values []Node
}

func (*Literal) node()        {}
func (*FieldRef) node()       {}
func (*Comparison) node()     {}
func (*Arithmetic) node()     {}
func (*Negation) node()       {}
func (*BoolCombinator) node() {}
func (*FunctionCall) node()   {}
func (*ListExpr) node()       {}
func (*MapExpr) node()        {}

// Lit returns a literal node.
func Lit(v value.Value) *Literal { return &Literal{Value: v} }

// Field returns a field reference for a possibly dotted name.
func Field(name string) *FieldRef {
	return &FieldRef{Name: name, Path: strings.Split(name, ".")}
}

// All returns a conjunction. An empty conjunction is true.
func All(children ...Node) Node {
	return &BoolCombinator{Kind: BoolAll, Children: children}
}

// Any returns a disjunction. An empty disjunction is false.
func Any(children ...Node) Node {
	return &BoolCombinator{Kind: BoolAny, Children: children}
}

// Not negates its operand.
func Not(child Node) Node {
	return &BoolCombinator{Kind: BoolNot, Children: []Node{child}}
}

// Call returns a function call node.
func Call(name string, args ...Node) *FunctionCall {
	fc := &FunctionCall{Name: name, Args: args}
	fc.repr = fc.render()
	fc.reads = Reads(fc)
	return fc
}

func (n *Literal) String() string { return n.Value.String() }

func (n *FieldRef) String() string { return n.Name }

func (n *Comparison) String() string {
	return "(" + n.Left.String() + " " + string(n.Op) + " " + n.Right.String() + ")"
}

func (n *Arithmetic) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

func (n *Negation) String() string { return "-(" + n.Operand.String() + ")" }

func (n *BoolCombinator) String() string {
	switch n.Kind {
	case BoolNot:
		return "not (" + n.Children[0].String() + ")"
	case BoolAll:
		return joinChildren(n.Children, " and ", "true")
	default:
		return joinChildren(n.Children, " or ", "false")
	}
}

func joinChildren(children []Node, sep, empty string) string {
	switch len(children) {
	case 0:
		return empty
	case 1:
		return children[0].String()
	}
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (n *FunctionCall) String() string {
	if n.repr == "" {
		return n.render()
	}
	return n.repr
}

func (n *FunctionCall) render() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return n.Name + "(" + strings.Join(args, ", ") + ")"
}

func (n *ListExpr) String() string {
	items := make([]string, len(n.Items))
	for i, item := range n.Items {
		items[i] = item.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

func (n *MapExpr) String() string {
	idx := make([]int, len(n.Keys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return n.Keys[idx[a]] < n.Keys[idx[b]] })
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = value.String(n.Keys[j]).String() + ": " + n.Values[j].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

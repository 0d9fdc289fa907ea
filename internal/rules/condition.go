// internal/rules/condition.go

package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/expression"
	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

const (
	OperatorEqual              = "equal"
	OperatorNotEqual           = "notEqual"
	OperatorGreaterThan        = "greaterThan"
	OperatorGreaterThanOrEqual = "greaterThanOrEqual"
	OperatorLessThan           = "lessThan"
	OperatorLessThanOrEqual    = "lessThanOrEqual"
	OperatorContains           = "contains"
	OperatorNotContains        = "notContains"
	OperatorIn                 = "in"
	OperatorNotIn              = "notIn"
)

var SupportedOperators = []string{
	OperatorEqual,
	OperatorNotEqual,
	OperatorGreaterThan,
	OperatorGreaterThanOrEqual,
	OperatorLessThan,
	OperatorLessThanOrEqual,
	OperatorContains,
	OperatorNotContains,
	OperatorIn,
	OperatorNotIn,
}

var comparisonOps = map[string]expression.CompareOp{
	OperatorEqual:              expression.OpEq,
	OperatorNotEqual:           expression.OpNe,
	OperatorGreaterThan:        expression.OpGt,
	OperatorGreaterThanOrEqual: expression.OpGe,
	OperatorLessThan:           expression.OpLt,
	OperatorLessThanOrEqual:    expression.OpLe,
	OperatorIn:                 expression.OpIn,
	OperatorNotIn:              expression.OpNotIn,
}

// ErrEmptyCondition is returned when compiling a condition with no content.
var ErrEmptyCondition = errors.New("empty condition")

// Condition is either an expression string or a structured tree. A tree
// node holds exactly one of All, Any, Not or a fact/operator/value leaf.
type Condition struct {
	Expr string `json:"-" yaml:"-"`

	All      []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any      []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not      *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
	Fact     string      `json:"fact,omitempty" yaml:"fact,omitempty"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// Expr returns an expression condition.
func Expr(src string) Condition { return Condition{Expr: src} }

// IsZero reports whether nothing was set.
func (c Condition) IsZero() bool {
	return c.Expr == "" && c.All == nil && c.Any == nil && c.Not == nil && c.Fact == ""
}

// conditionTree avoids recursion into the custom (un)marshalers.
type conditionTree struct {
	All      []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any      []Condition `json:"any,omitempty" yaml:"any,omitempty"`
	Not      *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
	Fact     string      `json:"fact,omitempty" yaml:"fact,omitempty"`
	Operator string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any         `json:"value,omitempty" yaml:"value,omitempty"`
}

// fields renders a tree node as a map so a leaf keeps a zero value.
func (c Condition) fields() map[string]any {
	m := map[string]any{}
	if c.All != nil {
		m["all"] = c.All
	}
	if c.Any != nil {
		m["any"] = c.Any
	}
	if c.Not != nil {
		m["not"] = c.Not
	}
	if c.Fact != "" {
		m["fact"] = c.Fact
		m["operator"] = c.Operator
		m["value"] = c.Value
	}
	return m
}

func (c *Condition) setTree(t conditionTree) {
	*c = Condition{All: t.All, Any: t.Any, Not: t.Not, Fact: t.Fact, Operator: t.Operator, Value: t.Value}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Expr != "" {
		return json.Marshal(c.Expr)
	}
	return json.Marshal(c.fields())
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Condition{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Condition{Expr: s}
		return nil
	case data[0] == '{':
		var t conditionTree
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		c.setTree(t)
		return nil
	case bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")):
		*c = Condition{Expr: string(data)}
		return nil
	}
	return fmt.Errorf("condition must be a string or an object, got %s", data)
}

func (c Condition) MarshalYAML() (any, error) {
	if c.Expr != "" {
		return c.Expr, nil
	}
	return c.fields(), nil
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*c = Condition{}
			return nil
		}
		*c = Condition{Expr: node.Value}
		return nil
	case yaml.MappingNode:
		var t conditionTree
		if err := node.Decode(&t); err != nil {
			return err
		}
		c.setTree(t)
		return nil
	}
	return fmt.Errorf("line %d: condition must be a string or a mapping", node.Line)
}

// Compile builds the expression tree for the condition.
func (c Condition) Compile() (expression.Node, error) {
	set := 0
	for _, present := range []bool{c.Expr != "", c.All != nil, c.Any != nil, c.Not != nil, c.Fact != ""} {
		if present {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, ErrEmptyCondition
	case set > 1:
		return nil, errors.New("condition must set exactly one of expression, all, any, not or fact")
	}

	switch {
	case c.Expr != "":
		return expression.Parse(c.Expr)
	case c.All != nil:
		children, err := compileAll(c.All)
		if err != nil {
			return nil, err
		}
		return expression.All(children...), nil
	case c.Any != nil:
		children, err := compileAll(c.Any)
		if err != nil {
			return nil, err
		}
		return expression.Any(children...), nil
	case c.Not != nil:
		child, err := c.Not.Compile()
		if err != nil {
			return nil, err
		}
		return expression.Not(child), nil
	}
	return c.compileLeaf()
}

func compileAll(conds []Condition) ([]expression.Node, error) {
	var errs []error
	nodes := make([]expression.Node, 0, len(conds))
	for i, cond := range conds {
		n, err := cond.Compile()
		if err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, errors.Join(errs...)
}

func (c Condition) compileLeaf() (expression.Node, error) {
	if strings.TrimSpace(c.Fact) == "" {
		return nil, errors.New("missing 'fact' in condition")
	}
	v, err := value.FromAny(c.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for fact %q: %w", c.Fact, err)
	}
	field := expression.Field(c.Fact)
	lit := expression.Lit(v)
	switch c.Operator {
	case OperatorContains:
		return expression.Call("contains", field, lit), nil
	case OperatorNotContains:
		return expression.Not(expression.Call("contains", field, lit)), nil
	}
	op, ok := comparisonOps[c.Operator]
	if !ok {
		op = expression.CompareOp(c.Operator)
		if !isSymbolOperator(op) {
			return nil, fmt.Errorf("invalid operator '%s' for fact %q", c.Operator, c.Fact)
		}
	}
	return &expression.Comparison{Op: op, Left: field, Right: lit}, nil
}

func isSymbolOperator(op expression.CompareOp) bool {
	for _, known := range comparisonOps {
		if op == known {
			return true
		}
	}
	return false
}

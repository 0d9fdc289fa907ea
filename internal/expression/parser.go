package expression

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/value"
)

// fnPrefix is prepended to every called name before handing the source to
// expr-lang, so its own builtins and operator words never shadow ours.
const fnPrefix = "__fn_"

// operatorWords may appear both infix (tags contains "x") and as calls.
var operatorWords = map[string]bool{
	"contains":   true,
	"matches":    true,
	"startsWith": true,
	"endsWith":   true,
}

var keywords = map[string]bool{
	"not": true,
	"and": true,
	"or":  true,
	"in":  true,
}

// reservedIdentifiers are spellings of constants that never name a field.
var reservedIdentifiers = map[string]value.Value{
	"True":  value.Bool(true),
	"False": value.Bool(false),
	"None":  value.Null(),
	"null":  value.Null(),
	"nil":   value.Null(),
	"true":  value.Bool(true),
	"false": value.Bool(false),
}

// Parse compiles an expression string.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Expr: src, Pos: -1, Msg: "empty expression"}
	}
	prepared, err := prescan(src)
	if err != nil {
		return nil, err
	}
	tree, err := parser.Parse(prepared)
	if err != nil {
		return nil, &ParseError{Expr: src, Pos: -1, Msg: firstLine(err.Error())}
	}
	l := &lowering{src: src}
	n := l.lower(tree.Node)
	if l.err != nil {
		return nil, l.err
	}
	return n, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// prescan rejects assignment and unterminated strings and prefixes called
// names. String literals are copied untouched.
func prescan(src string) (string, error) {
	var out strings.Builder
	out.Grow(len(src) + 16)
	// afterOperand is true when the previous token ends an operand, which
	// makes a following operator word infix.
	afterOperand := false
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			j := i + 1
			for ; j < len(src); j++ {
				if src[j] == '\\' && c != '`' {
					j++
					continue
				}
				if src[j] == c {
					break
				}
			}
			if j >= len(src) {
				return "", &ParseError{Expr: src, Pos: i, Msg: "unterminated string literal"}
			}
			out.WriteString(src[i : j+1])
			i = j + 1
			afterOperand = true
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				out.WriteString("==")
				i += 2
				afterOperand = false
				continue
			}
			if i > 0 && (src[i-1] == '!' || src[i-1] == '<' || src[i-1] == '>') {
				out.WriteByte(c)
				i++
				afterOperand = false
				continue
			}
			return "", &ParseError{Expr: src, Pos: i, Msg: "assignment '=' is not allowed, use == for comparison"}
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			k := j
			for k < len(src) && (src[k] == ' ' || src[k] == '\t') {
				k++
			}
			called := k < len(src) && src[k] == '('
			member := i > 0 && src[i-1] == '.'
			infix := operatorWords[word] && afterOperand
			if called && !member && !keywords[word] && !infix {
				out.WriteString(fnPrefix)
			}
			out.WriteString(word)
			i = j
			afterOperand = !keywords[word] && !operatorWords[word]
		default:
			out.WriteByte(c)
			i++
			switch {
			case c == ')' || c == ']' || c == '}' || (c >= '0' && c <= '9') || c == '.':
				afterOperand = true
			case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			default:
				afterOperand = false
			}
		}
	}
	return out.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// lowering converts an expr-lang syntax tree into engine nodes. The first
// unsupported construct is recorded in err.
type lowering struct {
	src string
	err error
}

func (l *lowering) fail(format string, args ...any) Node {
	if l.err == nil {
		l.err = &ParseError{Expr: l.src, Pos: -1, Msg: fmt.Sprintf(format, args...)}
	}
	return Lit(value.Null())
}

func (l *lowering) lower(n ast.Node) Node {
	if l.err != nil || n == nil {
		return Lit(value.Null())
	}
	switch t := n.(type) {
	case *ast.NilNode:
		return Lit(value.Null())
	case *ast.BoolNode:
		return Lit(value.Bool(t.Value))
	case *ast.IntegerNode:
		return Lit(value.Int(int64(t.Value)))
	case *ast.FloatNode:
		return Lit(value.Float(t.Value))
	case *ast.StringNode:
		return Lit(value.String(t.Value))
	case *ast.ConstantNode:
		v, err := value.FromAny(t.Value)
		if err != nil {
			return l.fail("unsupported constant: %v", err)
		}
		return Lit(v)
	case *ast.IdentifierNode:
		if v, ok := reservedIdentifiers[t.Value]; ok {
			return Lit(v)
		}
		return Field(t.Value)
	case *ast.ChainNode:
		return l.lower(t.Node)
	case *ast.MemberNode:
		path, ok := memberPath(t)
		if !ok {
			return l.fail("only dotted field access is supported")
		}
		return Field(path)
	case *ast.UnaryNode:
		return l.lowerUnary(t)
	case *ast.BinaryNode:
		return l.lowerBinary(t)
	case *ast.CallNode:
		ident, ok := t.Callee.(*ast.IdentifierNode)
		if !ok {
			return l.fail("only calls of named functions are supported")
		}
		return l.lowerCall(strings.TrimPrefix(ident.Value, fnPrefix), t.Arguments)
	case *ast.BuiltinNode:
		return l.lowerCall(t.Name, t.Arguments)
	case *ast.ArrayNode:
		return l.lowerArray(t)
	case *ast.MapNode:
		return l.lowerMap(t)
	case *ast.ConditionalNode:
		return l.fail("conditional expressions are not supported")
	default:
		return l.fail("unsupported syntax %T", n)
	}
}

func memberPath(m *ast.MemberNode) (string, bool) {
	if m.Method {
		return "", false
	}
	prop, ok := m.Property.(*ast.StringNode)
	if !ok {
		return "", false
	}
	switch base := m.Node.(type) {
	case *ast.IdentifierNode:
		return base.Value + "." + prop.Value, true
	case *ast.MemberNode:
		p, ok := memberPath(base)
		if !ok {
			return "", false
		}
		return p + "." + prop.Value, true
	}
	return "", false
}

func (l *lowering) lowerUnary(u *ast.UnaryNode) Node {
	switch u.Operator {
	case "not", "!":
		// The infix "a not in b" arrives as not(a in b) located at the "in"
		// token; it stays a comparison so an absent operand is false. A
		// prefix not(...) sits at its own token and negates its child.
		if b, ok := u.Node.(*ast.BinaryNode); ok && b.Operator == "in" && u.Location() == b.Location() {
			return &Comparison{Op: OpNotIn, Left: l.lower(b.Left), Right: l.lower(b.Right)}
		}
		return Not(l.lower(u.Node))
	case "-":
		operand := l.lower(u.Node)
		if lit, ok := operand.(*Literal); ok {
			if v, err := value.Negate(lit.Value); err == nil {
				return Lit(v)
			}
		}
		return &Negation{Operand: operand}
	case "+":
		return l.lower(u.Node)
	}
	return l.fail("unknown unary operator %q", u.Operator)
}

func (l *lowering) lowerBinary(b *ast.BinaryNode) Node {
	switch b.Operator {
	case "and", "&&":
		return flatten(BoolAll, l.lower(b.Left), l.lower(b.Right))
	case "or", "||":
		return flatten(BoolAny, l.lower(b.Left), l.lower(b.Right))
	case "==", "!=", ">", ">=", "<", "<=", "in":
		return &Comparison{Op: CompareOp(b.Operator), Left: l.lower(b.Left), Right: l.lower(b.Right)}
	case "+", "-", "*", "/", "%", "**":
		return &Arithmetic{Op: b.Operator, Left: l.lower(b.Left), Right: l.lower(b.Right)}
	case "^":
		return &Arithmetic{Op: "**", Left: l.lower(b.Left), Right: l.lower(b.Right)}
	case "contains":
		return Call("contains", l.lower(b.Left), l.lower(b.Right))
	case "matches":
		return Call("matches", l.lower(b.Left), l.lower(b.Right))
	case "startsWith":
		return Call("startswith", l.lower(b.Left), l.lower(b.Right))
	case "endsWith":
		return Call("endswith", l.lower(b.Left), l.lower(b.Right))
	}
	return l.fail("unsupported operator %q", b.Operator)
}

// flatten merges nested combinators of the same kind into one node.
func flatten(kind BoolKind, left, right Node) Node {
	children := make([]Node, 0, 2)
	for _, c := range []Node{left, right} {
		if bc, ok := c.(*BoolCombinator); ok && bc.Kind == kind {
			children = append(children, bc.Children...)
			continue
		}
		children = append(children, c)
	}
	return &BoolCombinator{Kind: kind, Children: children}
}

func (l *lowering) lowerCall(name string, args []ast.Node) Node {
	lowered := make([]Node, len(args))
	for i, a := range args {
		lowered[i] = l.lower(a)
	}
	return Call(name, lowered...)
}

func (l *lowering) lowerArray(a *ast.ArrayNode) Node {
	items := make([]Node, len(a.Nodes))
	constant := true
	for i, item := range a.Nodes {
		items[i] = l.lower(item)
		if _, ok := items[i].(*Literal); !ok {
			constant = false
		}
	}
	if !constant {
		return &ListExpr{Items: items}
	}
	vals := make([]value.Value, len(items))
	for i, item := range items {
		vals[i] = item.(*Literal).Value
	}
	return Lit(value.List(vals...))
}

func (l *lowering) lowerMap(m *ast.MapNode) Node {
	out := &MapExpr{}
	constant := true
	for _, p := range m.Pairs {
		pair, ok := p.(*ast.PairNode)
		if !ok {
			return l.fail("malformed map literal")
		}
		var key string
		switch k := pair.Key.(type) {
		case *ast.StringNode:
			key = k.Value
		case *ast.IdentifierNode:
			key = k.Value
		default:
			return l.fail("map keys must be names or strings")
		}
		v := l.lower(pair.Value)
		if _, ok := v.(*Literal); !ok {
			constant = false
		}
		out.Keys = append(out.Keys, key)
		out.Values = append(out.Values, v)
	}
	if !constant {
		return out
	}
	vals := make(map[string]value.Value, len(out.Keys))
	for i, k := range out.Keys {
		vals[k] = out.Values[i].(*Literal).Value
	}
	return Lit(value.Map(vals))
}

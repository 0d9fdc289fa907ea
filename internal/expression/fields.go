package expression

import (
	"sort"
)

// Walk calls fn for n and every node below it, depth first. Returning false
// from fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *Comparison:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Arithmetic:
		Walk(t.Left, fn)
		Walk(t.Right, fn)
	case *Negation:
		Walk(t.Operand, fn)
	case *BoolCombinator:
		for _, c := range t.Children {
			Walk(c, fn)
		}
	case *FunctionCall:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *ListExpr:
		for _, item := range t.Items {
			Walk(item, fn)
		}
	case *MapExpr:
		for _, v := range t.Values {
			Walk(v, fn)
		}
	}
}

// Reads returns the sorted, de-duplicated field names referenced by the
// given nodes, including those inside function arguments.
func Reads(nodes ...Node) []string {
	seen := map[string]struct{}{}
	for _, n := range nodes {
		Walk(n, func(n Node) bool {
			if f, ok := n.(*FieldRef); ok {
				seen[f.Name] = struct{}{}
			}
			return true
		})
	}
	return sortedSet(seen)
}

// Functions returns the sorted names of all functions called by the nodes.
func Functions(nodes ...Node) []string {
	seen := map[string]struct{}{}
	for _, n := range nodes {
		Walk(n, func(n Node) bool {
			if fc, ok := n.(*FunctionCall); ok {
				seen[fc.Name] = struct{}{}
			}
			return true
		})
	}
	return sortedSet(seen)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

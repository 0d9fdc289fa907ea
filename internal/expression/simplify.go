package expression

// Simplify flattens nested combinators of the same kind and drops repeated
// children of all/any nodes. The result evaluates to the same truth value.
func Simplify(n Node) Node {
	b, ok := n.(*BoolCombinator)
	if !ok {
		return n
	}
	if b.Kind == BoolNot {
		if len(b.Children) != 1 {
			return n
		}
		return Not(Simplify(b.Children[0]))
	}
	seen := make(map[string]bool, len(b.Children))
	children := make([]Node, 0, len(b.Children))
	var add func(c Node)
	add = func(c Node) {
		if inner, ok := c.(*BoolCombinator); ok && inner.Kind == b.Kind {
			for _, cc := range inner.Children {
				add(cc)
			}
			return
		}
		key := c.String()
		if seen[key] {
			return
		}
		seen[key] = true
		children = append(children, c)
	}
	for _, c := range b.Children {
		add(Simplify(c))
	}
	return &BoolCombinator{Kind: b.Kind, Children: children}
}

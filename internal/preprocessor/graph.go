package preprocessor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
)

// Graph is the bipartite rule/field graph of a rule set.
type Graph struct {
	Nodes     map[string]*plan.RuleNode
	Fields    map[string]*plan.FieldNode
	Conflicts []plan.Conflict
}

// BuildGraph derives rule dependency edges from read and write sets and
// classifies write conflicts. A rule depends on every producer of a field
// it reads and, for dotted reads, on every producer of an enclosing field.
// Trigger hints add edges from the triggering rule to its targets; unknown
// targets are returned as *GraphError values.
func BuildGraph(compiled []*plan.Rule) (*Graph, []error) {
	g := &Graph{
		Nodes:  make(map[string]*plan.RuleNode, len(compiled)),
		Fields: make(map[string]*plan.FieldNode),
	}
	byID := make(map[string]*plan.Rule, len(compiled))
	deps := make(map[string]map[string]struct{}, len(compiled))
	for _, r := range compiled {
		byID[r.ID()] = r
		g.Nodes[r.ID()] = &plan.RuleNode{ID: r.ID()}
		deps[r.ID()] = map[string]struct{}{}
	}

	producers := map[string]map[string]struct{}{}
	consumers := map[string]map[string]struct{}{}
	addTo := func(index map[string]map[string]struct{}, field, id string) {
		if index[field] == nil {
			index[field] = map[string]struct{}{}
		}
		index[field][id] = struct{}{}
	}
	for _, r := range compiled {
		for _, f := range r.Reads {
			addTo(consumers, f, r.ID())
		}
		for _, f := range r.Writes {
			addTo(producers, f, r.ID())
		}
	}

	for _, r := range compiled {
		for _, f := range r.Reads {
			for _, name := range enclosingFields(f) {
				for p := range producers[name] {
					if p != r.ID() {
						deps[r.ID()][p] = struct{}{}
					}
				}
			}
		}
	}

	var errs []error
	for _, r := range compiled {
		for _, target := range r.Definition.Triggers {
			if target == r.ID() {
				continue
			}
			if _, ok := byID[target]; !ok {
				errs = append(errs, &GraphError{RuleID: r.ID(), Msg: fmt.Sprintf("triggers unknown rule '%s'", target)})
				continue
			}
			deps[target][r.ID()] = struct{}{}
		}
	}

	for id, ds := range deps {
		node := g.Nodes[id]
		node.Dependencies = sortedKeys(ds)
		for d := range ds {
			g.Nodes[d].Dependents = append(g.Nodes[d].Dependents, id)
		}
	}
	for _, node := range g.Nodes {
		sort.Strings(node.Dependents)
	}

	names := map[string]struct{}{}
	for f := range producers {
		names[f] = struct{}{}
	}
	for f := range consumers {
		names[f] = struct{}{}
	}
	for f := range names {
		fn := &plan.FieldNode{
			Name:      f,
			Producers: sortedKeys(producers[f]),
			Consumers: sortedKeys(consumers[f]),
		}
		fn.Role = plan.ClassifyRole(len(fn.Producers), len(fn.Consumers))
		g.Fields[f] = fn
	}

	g.Conflicts = detectConflicts(g.Fields, byID)
	return g, errs
}

// enclosingFields returns name followed by each dotted prefix, longest
// first: a.b.c yields a.b.c, a.b and a.
func enclosingFields(name string) []string {
	out := []string{name}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			out = append(out, name[:i])
		}
	}
	return out
}

// detectConflicts classifies fields with more than one producer. Each
// priority bucket holding several producers yields one same-priority
// conflict; producers spanning several priorities yield one cross-priority
// conflict whose winner is the highest priority producer.
func detectConflicts(fields map[string]*plan.FieldNode, byID map[string]*plan.Rule) []plan.Conflict {
	var out []plan.Conflict
	for _, name := range sortedFieldNames(fields) {
		f := fields[name]
		if len(f.Producers) < 2 {
			continue
		}
		buckets := map[int][]string{}
		for _, id := range f.Producers {
			p := byID[id].Priority()
			buckets[p] = append(buckets[p], id)
		}
		priorities := make([]int, 0, len(buckets))
		for p := range buckets {
			priorities = append(priorities, p)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(priorities)))
		for _, p := range priorities {
			if ids := buckets[p]; len(ids) > 1 {
				sort.Strings(ids)
				out = append(out, plan.Conflict{Field: name, Kind: plan.SamePriority, Rules: ids, Priority: p})
			}
		}
		if len(priorities) > 1 {
			ordered := orderByPriority(f.Producers, byID)
			out = append(out, plan.Conflict{Field: name, Kind: plan.CrossPriority, Rules: ordered, Winner: ordered[0]})
		}
	}
	return out
}

func orderByPriority(ids []string, byID map[string]*plan.Rule) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := byID[out[i]].Priority(), byID[out[j]].Priority()
		if pi != pj {
			return pi > pj
		}
		return out[i] < out[j]
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedFieldNames(fields map[string]*plan.FieldNode) []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func describeRules(ids []string) string {
	return "'" + strings.Join(ids, "', '") + "'"
}

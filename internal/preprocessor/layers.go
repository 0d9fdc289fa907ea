package preprocessor

import (
	"fmt"
	"sort"

	"github.com/symbolicaengine-ai/symbolica-sub000/internal/plan"
)

// Layer sorts the rule graph into execution layers with Kahn's algorithm.
// Every rule whose dependencies are all placed forms the next layer,
// ordered by descending priority then id. When only cyclic rules remain the
// highest priority rule on a cycle is placed alone and a cycle warning is
// returned.
func Layer(nodes map[string]*plan.RuleNode, priority map[string]int) ([][]string, []plan.Warning) {
	indegree := make(map[string]int, len(nodes))
	for id, n := range nodes {
		indegree[id] = len(n.Dependencies)
	}
	placed := make(map[string]bool, len(nodes))

	var (
		layers   [][]string
		warnings []plan.Warning
	)
	for len(placed) < len(nodes) {
		var ready []string
		for id, d := range indegree {
			if d == 0 && !placed[id] {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			pick, members := breakCycle(nodes, placed, priority)
			warnings = append(warnings, plan.Warning{
				Kind:    plan.WarnCycle,
				Message: fmt.Sprintf("dependency cycle among rules %s; running '%s' first", describeRules(members), pick),
				Rules:   members,
			})
			ready = []string{pick}
		}
		ready = prioritizeRules(ready, priority)
		for _, id := range ready {
			placed[id] = true
		}
		for _, id := range ready {
			for _, dep := range nodes[id].Dependents {
				indegree[dep]--
			}
		}
		layers = append(layers, ready)
	}
	return layers, warnings
}

// prioritizeRules orders ids by descending priority, then ascending id.
func prioritizeRules(ids []string, priority map[string]int) []string {
	prioritized := make([]string, len(ids))
	copy(prioritized, ids)
	sort.SliceStable(prioritized, func(i, j int) bool {
		pi, pj := priority[prioritized[i]], priority[prioritized[j]]
		if pi != pj {
			return pi > pj
		}
		return prioritized[i] < prioritized[j]
	})
	return prioritized
}

// breakCycle chooses the highest priority unplaced rule that lies on a
// cycle and returns it with the members of its strongly connected
// component, sorted.
func breakCycle(nodes map[string]*plan.RuleNode, placed map[string]bool, priority map[string]int) (string, []string) {
	var candidates []string
	for id := range nodes {
		if !placed[id] {
			candidates = append(candidates, id)
		}
	}
	candidates = prioritizeRules(candidates, priority)

	forward := func(id string) []string { return nodes[id].Dependents }
	backward := func(id string) []string { return nodes[id].Dependencies }
	for _, id := range candidates {
		down := reach(id, forward, placed)
		if !down[id] {
			continue
		}
		up := reach(id, backward, placed)
		var members []string
		for m := range down {
			if up[m] {
				members = append(members, m)
			}
		}
		sort.Strings(members)
		return id, members
	}
	return candidates[0], []string{candidates[0]}
}

// reach returns the unplaced rules reachable from start in at least one
// step.
func reach(start string, next func(string) []string, placed map[string]bool) map[string]bool {
	seen := map[string]bool{}
	stack := append([]string(nil), next(start)...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] || placed[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, next(id)...)
	}
	return seen
}

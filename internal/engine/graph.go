package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is an immutable set of rules indexed by id. Edges are implicit
// in each rule's Inputs.
type Graph struct {
	rules      []*Rule
	dependents [][]int // rule id -> ids of rules consuming its outputs
}

// NewGraph builds a graph over rules. Rule ids must equal their slice
// index; the frontend guarantees this, the engine checks it.
func NewGraph(rules []*Rule) (*Graph, error) {
	dependents := make([][]int, len(rules))
	for i, r := range rules {
		if r.ID != i {
			return nil, fmt.Errorf("rule %q has id %d at index %d", r.Name, r.ID, i)
		}
		if len(r.Outputs) == 0 {
			return nil, fmt.Errorf("rule %q has no outputs", r.Name)
		}
		for _, in := range r.Inputs {
			if in.Producer < 0 {
				continue
			}
			if in.Producer >= len(rules) {
				return nil, fmt.Errorf("rule %q depends on unknown rule id %d", r.Name, in.Producer)
			}
			dependents[in.Producer] = append(dependents[in.Producer], i)
		}
	}
	return &Graph{rules: rules, dependents: dependents}, nil
}

// Rule returns the rule with the given id.
func (g *Graph) Rule(id int) *Rule { return g.rules[id] }

// Len returns the number of rules in the graph.
func (g *Graph) Len() int { return len(g.rules) }

// producers returns the distinct producer ids of a rule, in input order.
func (g *Graph) producers(id int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, in := range g.rules[id].Inputs {
		if in.Producer < 0 || seen[in.Producer] {
			continue
		}
		seen[in.Producer] = true
		out = append(out, in.Producer)
	}
	return out
}

// Subgraph expands targets to the set of rules that must be considered:
// the targets plus all transitive producers. The result is sorted by id
// so walks are deterministic. It fails if the expansion contains a
// cycle.
func (g *Graph) Subgraph(targets []int) ([]int, error) {
	inSet := make(map[int]bool)
	stack := make([]int, 0, len(targets))
	for _, t := range targets {
		if t < 0 || t >= len(g.rules) {
			return nil, fmt.Errorf("unknown target rule id %d", t)
		}
		if !inSet[t] {
			inSet[t] = true
			stack = append(stack, t)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.producers(id) {
			if !inSet[p] {
				inSet[p] = true
				stack = append(stack, p)
			}
		}
	}

	ids := make([]int, 0, len(inSet))
	for id := range inSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if cycle := g.findCycle(ids); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	return ids, nil
}

// CycleError reports a dependency cycle by rule name.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// findCycle runs a three-color DFS over the induced subgraph and
// returns the first cycle found as a name path, or nil.
func (g *Graph) findCycle(ids []int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(ids))
	inSub := make(map[int]bool, len(ids))
	for _, id := range ids {
		inSub[id] = true
	}

	// parent chain for cycle path reconstruction
	parent := make(map[int]int)

	var dfs func(id int) []string
	dfs = func(id int) []string {
		color[id] = gray
		for _, p := range g.producers(id) {
			if !inSub[p] {
				continue
			}
			switch color[p] {
			case white:
				parent[p] = id
				if path := dfs(p); path != nil {
					return path
				}
			case gray:
				// Found a back edge; walk parents from id back to p.
				path := []string{g.rules[p].Name}
				for at := id; ; at = parent[at] {
					path = append(path, g.rules[at].Name)
					if at == p {
						break
					}
				}
				// Reverse into dependency order.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if path := dfs(id); path != nil {
				return path
			}
		}
	}
	return nil
}

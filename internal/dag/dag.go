package dag

import (
	"fmt"
)

// Graph maps every node to its dependencies and to the units it expands to.
// It is built before Resolve and is read-only while Resolve runs.
type Graph[N Node[N], L Lane] struct {
	// order keeps nodes in insertion order so logs and reports are stable.
	order []N
	// units holds the scheduled units of every node.
	units map[N][]Unit[N, L]
	// ids detects two distinct nodes sharing an ID.
	ids map[string]N
}

// New creates and returns an initialized, empty Graph.
func New[N Node[N], L Lane]() *Graph[N, L] {
	return &Graph[N, L]{
		units: make(map[N][]Unit[N, L]),
		ids:   make(map[string]N),
	}
}

// AddNode adds n to the graph with one unit per distinct lane. Adding a node
// that is already present does nothing and returns false. A node without
// lanes is rejected with ErrNoUnits.
func (g *Graph[N, L]) AddNode(n N, lanes ...L) (bool, error) {
	if _, ok := g.units[n]; ok {
		return false, nil
	}
	if other, ok := g.ids[n.ID()]; ok && other != n {
		return false, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID())
	}

	seen := make(map[L]struct{}, len(lanes))
	units := make([]Unit[N, L], 0, len(lanes))
	for _, l := range lanes {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		units = append(units, Unit[N, L]{Node: n, Lane: l})
	}
	if len(units) == 0 {
		return false, fmt.Errorf("%w: %s", ErrNoUnits, n.ID())
	}

	g.order = append(g.order, n)
	g.units[n] = units
	g.ids[n.ID()] = n
	return true, nil
}

// Len returns the number of nodes.
func (g *Graph[N, L]) Len() int {
	return len(g.order)
}

// Nodes returns the nodes in insertion order.
func (g *Graph[N, L]) Nodes() []N {
	out := make([]N, len(g.order))
	copy(out, g.order)
	return out
}

// Node looks a node up by ID.
func (g *Graph[N, L]) Node(id string) (N, bool) {
	n, ok := g.ids[id]
	return n, ok
}

// Units returns the scheduled units of n.
func (g *Graph[N, L]) Units(n N) []Unit[N, L] {
	out := make([]Unit[N, L], len(g.units[n]))
	copy(out, g.units[n])
	return out
}

// Lanes returns every distinct lane used by the graph, in first-use order.
func (g *Graph[N, L]) Lanes() []L {
	seen := make(map[L]struct{})
	var lanes []L
	for _, n := range g.order {
		for _, u := range g.units[n] {
			if _, ok := seen[u.Lane]; ok {
				continue
			}
			seen[u.Lane] = struct{}{}
			lanes = append(lanes, u.Lane)
		}
	}
	return lanes
}

// FanIn returns how many unit completions each unit of n waits for: the
// sum of the unit counts of n's distinct direct dependencies.
func (g *Graph[N, L]) FanIn(n N) int {
	total := 0
	for _, d := range distinct(n.Dependencies()) {
		total += len(g.units[d])
	}
	return total
}

// Validate checks that every dependency is a node of the graph, that no
// node depends on itself and that the graph has no cycle of any length.
func (g *Graph[N, L]) Validate() error {
	for _, n := range g.order {
		for _, d := range n.Dependencies() {
			if d == n {
				return fmt.Errorf("%w: %s", ErrSelfDependency, n.ID())
			}
			if _, ok := g.units[d]; !ok {
				return fmt.Errorf("%w: '%s' depends on '%s'", ErrMissingDependency, n.ID(), d.ID())
			}
		}
	}
	return g.detectCycles()
}

// detectCycles checks for circular dependencies in the graph using DFS.
func (g *Graph[N, L]) detectCycles() error {
	visiting := make(map[N]bool)
	visited := make(map[N]bool)

	var visit func(n N) error
	visit = func(n N) error {
		visiting[n] = true
		for _, dep := range n.Dependencies() {
			if visiting[dep] {
				return fmt.Errorf("%w involving '%s' and '%s'", ErrCycle, n.ID(), dep.ID())
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, n)
		visited[n] = true
		return nil
	}

	for _, n := range g.order {
		if !visited[n] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// distinct drops repeated entries while keeping order.
func distinct[N comparable](in []N) []N {
	seen := make(map[N]struct{}, len(in))
	out := make([]N, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

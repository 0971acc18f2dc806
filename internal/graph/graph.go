// Package graph provides a small string-keyed DAG primitive used to order
// decomposed sub-queries before execution.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is returned by ordering operations when the graph is not acyclic.
var ErrCycle = errors.New("graph: cycle detected")

// Graph is a directed acyclic graph of nodes carrying an arbitrary payload.
// Insertion order is preserved so that scheduling over the same graph is
// reproducible across runs. Dependencies may reference nodes that have not
// been added yet; Validate reports any that never were.
type Graph[T any] struct {
	order []string
	index map[string]int
	nodes map[string]T
	deps  map[string][]string
}

// New creates an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{
		index: make(map[string]int),
		nodes: make(map[string]T),
		deps:  make(map[string][]string),
	}
}

// Add registers a node with its declared dependencies. Duplicate IDs are a
// construction error.
func (g *Graph[T]) Add(id string, deps []string, payload T) error {
	if id == "" {
		return fmt.Errorf("graph: node ID cannot be empty")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("graph: duplicate node ID %q", id)
	}
	g.index[id] = len(g.order)
	g.order = append(g.order, id)
	g.nodes[id] = payload
	g.deps[id] = append([]string(nil), deps...)
	return nil
}

// Len returns the number of registered nodes.
func (g *Graph[T]) Len() int { return len(g.order) }

// IDs returns all node IDs in insertion order.
func (g *Graph[T]) IDs() []string {
	return append([]string(nil), g.order...)
}

// Node returns the payload registered for id.
func (g *Graph[T]) Node(id string) (T, bool) {
	payload, ok := g.nodes[id]
	return payload, ok
}

// Dependencies returns the declared dependency IDs of id in declaration order.
func (g *Graph[T]) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the IDs of nodes that directly depend on id, in
// insertion order.
func (g *Graph[T]) Dependents(id string) []string {
	var out []string
	for _, nid := range g.order {
		for _, dep := range g.deps[nid] {
			if dep == id {
				out = append(out, nid)
				break
			}
		}
	}
	return out
}

// Validate checks that every declared dependency references a registered
// node. Dangling references are a construction error.
func (g *Graph[T]) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if _, exists := g.nodes[dep]; !exists {
				return fmt.Errorf("graph: node %q depends on missing node %q", id, dep)
			}
		}
	}
	return nil
}

// HasCycles reports whether the dependency relation contains a cycle. It is
// safe to call on a partially built graph: dependencies that are not
// registered yet are ignored.
func (g *Graph[T]) HasCycles() bool {
	visited := make(map[string]bool, len(g.order))
	stack := make(map[string]bool, len(g.order))

	var visit func(id string) bool
	visit = func(id string) bool {
		if stack[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		stack[id] = true
		for _, dep := range g.deps[id] {
			if _, exists := g.nodes[dep]; !exists {
				continue
			}
			if visit(dep) {
				return true
			}
		}
		stack[id] = false
		return false
	}

	for _, id := range g.order {
		if visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns the node IDs in dependency order using Kahn's
// algorithm. Ties among simultaneously ready nodes are broken by insertion
// order, so two runs over the same graph always produce the same order.
// Returns ErrCycle when the graph is not a DAG.
func (g *Graph[T]) TopologicalSort() ([]string, error) {
	indegree, dependents := g.edges()

	ready := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = g.insertByIndex(ready, dep)
			}
		}
	}

	if len(sorted) != len(g.order) {
		return nil, fmt.Errorf("%w: %d of %d nodes ordered", ErrCycle, len(sorted), len(g.order))
	}
	return sorted, nil
}

// ParallelGroups returns the node IDs layered into groups that can execute
// concurrently: every node in group k has all of its dependencies in groups
// earlier than k, and no two nodes in the same group depend on each other.
// Returns ErrCycle when the graph is not a DAG.
func (g *Graph[T]) ParallelGroups() ([][]string, error) {
	indegree, dependents := g.edges()

	emitted := 0
	var groups [][]string
	for emitted < len(g.order) {
		var group []string
		for _, id := range g.order {
			if indegree[id] == 0 {
				group = append(group, id)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("%w: %d of %d nodes layered", ErrCycle, emitted, len(g.order))
		}
		// Retire the whole frontier before computing the next layer.
		for _, id := range group {
			indegree[id] = -1
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
		groups = append(groups, group)
		emitted += len(group)
	}
	return groups, nil
}

// edges builds the in-degree table and the dependent adjacency used by the
// ordering algorithms. Dependencies on unregistered nodes are ignored, which
// keeps the algorithms total on partially built graphs.
func (g *Graph[T]) edges() (map[string]int, map[string][]string) {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		indegree[id] = 0
	}
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			if _, exists := g.nodes[dep]; !exists {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}
	return indegree, dependents
}

// insertByIndex inserts id into ready keeping the slice sorted by node
// insertion index.
func (g *Graph[T]) insertByIndex(ready []string, id string) []string {
	pos := sort.Search(len(ready), func(i int) bool {
		return g.index[ready[i]] > g.index[id]
	})
	ready = append(ready, "")
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = id
	return ready
}

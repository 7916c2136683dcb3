// Package dag provides a directed graph of projects and their nested project dependencies.
// It supports cycle detection and dependency-first ordering.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node represents a project in the graph.
type Node struct {
	// ID is the unique identifier (resolved project path)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph is a directed graph where an edge points from a dependency to its dependent.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // dependency -> dependents
	parents map[string][]string // dependent -> dependencies
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph, updating its data if it already exists.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge records that child depends on parent.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the direct dependencies of a node.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the direct dependents of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.edges[id] {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.sortedIDs() {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns nodes with dependencies before dependents.
// Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parentID := range g.parents[id] {
			visit(parentID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.sortedIDs() {
		visit(id)
	}

	return result, nil
}

// GetUpstreamNodes returns every transitive dependency of the given node.
func (g *Graph) GetUpstreamNodes(id string) []string {
	upstream := make(map[string]bool)

	var markUpstream func(nodeID string)
	markUpstream = func(nodeID string) {
		for _, parentID := range g.parents[nodeID] {
			if !upstream[parentID] {
				upstream[parentID] = true
				markUpstream(parentID)
			}
		}
	}

	markUpstream(id)

	result := make([]string, 0, len(upstream))
	for nodeID := range upstream {
		result = append(result, nodeID)
	}
	sort.Strings(result)
	return result
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Graph represents a dependency graph of operations.
type Graph struct {
	// All nodes in the graph
	Nodes map[string]*Node
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node *Node) error {
	if _, exists := g.Nodes[node.ID]; exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	g.Nodes[node.ID] = node
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// AddEdge adds a dependency edge from dependent to dependency.
func (g *Graph) AddEdge(dependentID, dependencyID string) error {
	dependent := g.GetNode(dependentID)
	if dependent == nil {
		return fmt.Errorf("dependent node %s not found", dependentID)
	}

	dependency := g.GetNode(dependencyID)
	if dependency == nil {
		return fmt.Errorf("dependency node %s not found", dependencyID)
	}

	if dependentID == dependencyID {
		return fmt.Errorf("node %s cannot depend on itself", dependentID)
	}

	dependent.AddDependency(dependencyID)
	dependency.AddDependent(dependentID)

	return nil
}

// TopologicalSort returns nodes in topological order (dependencies first).
// Among nodes that are ready at the same time, the one with the lower kind
// priority runs first, then the one declared earlier in the request.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	// Kahn's algorithm over a priority queue
	inDegree := make(map[string]int, len(g.Nodes))
	ready := &readyQueue{}
	for id, node := range g.Nodes {
		inDegree[id] = len(node.DependsOn)
		if inDegree[id] == 0 {
			if err := ready.pushNode(node); err != nil {
				return nil, err
			}
		}
	}
	heap.Init(ready)

	result := make([]*Node, 0, len(g.Nodes))
	for ready.Len() > 0 {
		node := heap.Pop(ready).(*queued).node
		result = append(result, node)

		for _, dependentID := range node.DependedOnBy {
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				dep := g.Nodes[dependentID]
				prio, err := dep.Type.Priority()
				if err != nil {
					return nil, err
				}
				heap.Push(ready, &queued{node: dep, priority: prio})
			}
		}
	}

	if len(result) != len(g.Nodes) {
		processed := make(map[string]bool, len(result))
		for _, n := range result {
			processed[n.ID] = true
		}

		var cycleNodes []string
		for id := range g.Nodes {
			if !processed[id] {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)

		adjacency := make(map[string][]string, len(cycleNodes))
		for _, id := range cycleNodes {
			adjacency[id] = g.Nodes[id].DependsOn
		}
		if cycle := FindCycle(adjacency); len(cycle) > 0 {
			return nil, &CycleError{Cycle: cycle}
		}
		return nil, &CycleError{Cycle: cycleNodes}
	}

	return result, nil
}

// CycleError reports the nodes forming a dependency cycle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving %d nodes: %v", len(e.Cycle), e.Cycle)
}

// FindCycle returns one cycle in a directed graph given as adjacency lists,
// with the first node repeated at the end (A -> B -> A), or nil when the
// graph is acyclic. Nodes are visited in sorted order so the reported cycle
// is deterministic.
func FindCycle(adjacency map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(adjacency))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)

		next := append([]string(nil), adjacency[id]...)
		sort.Strings(next)
		for _, n := range next {
			switch state[n] {
			case visiting:
				for i, s := range stack {
					if s == n {
						cycle = append(append([]string(nil), stack[i:]...), n)
						return true
					}
				}
			case unvisited:
				if visit(n) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	ids := make([]string, 0, len(adjacency))
	for id := range adjacency {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

type queued struct {
	node     *Node
	priority int
}

// readyQueue orders ready nodes by (kind priority, request order, ID).
type readyQueue []*queued

func (q *readyQueue) pushNode(n *Node) error {
	prio, err := n.Type.Priority()
	if err != nil {
		return err
	}
	*q = append(*q, &queued{node: n, priority: prio})
	return nil
}

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	if q[i].node.Order != q[j].node.Order {
		return q[i].node.Order < q[j].node.Order
	}
	return q[i].node.ID < q[j].node.ID
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*queued)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

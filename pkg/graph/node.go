// Package graph provides dependency graph construction and traversal for clonectl.
package graph

import (
	"github.com/davidthor/clonectl/pkg/operation"
)

// Node is one planned operation in the dependency graph.
type Node struct {
	// Unique identifier within the graph (the operation key)
	ID string

	// Kind of operation, which decides the tie-break priority
	Type operation.Kind

	// Order is the position of the operation in the request, used as the
	// second tie-break so independent operations keep their declared order.
	Order int

	// Operation carried by the node
	Operation operation.Operation

	// Dependencies - IDs of nodes this node depends on
	DependsOn []string

	// Dependents - IDs of nodes that depend on this node
	DependedOnBy []string
}

// NewNode creates a graph node for an operation.
func NewNode(op operation.Operation, order int) *Node {
	return &Node{
		ID:           operation.Key(op),
		Type:         op.Kind(),
		Order:        order,
		Operation:    op,
		DependsOn:    []string{},
		DependedOnBy: []string{},
	}
}

// AddDependency adds a dependency to this node.
func (n *Node) AddDependency(nodeID string) {
	for _, dep := range n.DependsOn {
		if dep == nodeID {
			return // Already exists
		}
	}
	n.DependsOn = append(n.DependsOn, nodeID)
}

// AddDependent adds a dependent to this node.
func (n *Node) AddDependent(nodeID string) {
	for _, dep := range n.DependedOnBy {
		if dep == nodeID {
			return
		}
	}
	n.DependedOnBy = append(n.DependedOnBy, nodeID)
}

package graph

import (
	"testing"

	"github.com/davidthor/clonectl/pkg/operation"
)

func cloneDB(src, dst string) operation.Operation {
	return operation.CloneDatabase{SourceDatabase: src, TargetDatabase: dst}
}

func createRole(name string) operation.Operation {
	return operation.CreateRole{Name: name}
}

func grant(role, object string) operation.Operation {
	return operation.GrantPrivilege{Role: role, Privilege: "SELECT", ObjectType: operation.ObjectTable, Object: object}
}

func TestNewGraph(t *testing.T) {
	g := NewGraph()
	if len(g.Nodes) != 0 {
		t.Errorf("expected 0 nodes, got %d", len(g.Nodes))
	}
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()
	node := NewNode(cloneDB("PROD", "DEV"), 0)

	if err := g.AddNode(node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(g.Nodes) != 1 {
		t.Errorf("expected 1 node, got %d", len(g.Nodes))
	}

	// Adding duplicate should fail
	if err := g.AddNode(node); err == nil {
		t.Error("expected error for duplicate node")
	}
}

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph()

	role := NewNode(createRole("SR_READER"), 0)
	gr := NewNode(grant("SR_READER", "DEV.*.*"), 1)
	_ = g.AddNode(role)
	_ = g.AddNode(gr)

	if err := g.AddEdge(gr.ID, role.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gr.DependsOn) != 1 || gr.DependsOn[0] != role.ID {
		t.Errorf("expected grant to depend on role, got %v", gr.DependsOn)
	}
	if len(role.DependedOnBy) != 1 || role.DependedOnBy[0] != gr.ID {
		t.Errorf("expected role to be depended on by grant, got %v", role.DependedOnBy)
	}

	// Duplicate edges are ignored
	_ = g.AddEdge(gr.ID, role.ID)
	if len(gr.DependsOn) != 1 {
		t.Errorf("expected duplicate edge to be ignored, got %v", gr.DependsOn)
	}

	if err := g.AddEdge(gr.ID, "missing"); err == nil {
		t.Error("expected error for missing dependency")
	}
	if err := g.AddEdge(gr.ID, gr.ID); err == nil {
		t.Error("expected error for self edge")
	}
}

func TestGraph_TopologicalSort_PriorityOrder(t *testing.T) {
	g := NewGraph()

	// Declared in reverse of the priority order, no explicit edges.
	ops := []operation.Operation{
		operation.AssignUser{User: "alice", Role: "SR_READER"},
		grant("SR_READER", "DEV.*.*"),
		createRole("SR_READER"),
		operation.CloneTable{SourceDatabase: "PROD", SourceSchema: "S", SourceTable: "T", TargetDatabase: "DEV"},
		operation.CloneSchema{SourceDatabase: "PROD", SourceSchema: "S", TargetDatabase: "DEV"},
		cloneDB("PROD", "DEV"),
	}
	for i, op := range ops {
		_ = g.AddNode(NewNode(op, i))
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []operation.Kind{
		operation.KindCloneDatabase,
		operation.KindCloneSchema,
		operation.KindCloneTable,
		operation.KindCreateRole,
		operation.KindGrantPrivilege,
		operation.KindAssignUser,
	}
	if len(sorted) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(sorted))
	}
	for i, k := range want {
		if sorted[i].Type != k {
			t.Errorf("position %d: expected %s, got %s", i, k, sorted[i].Type)
		}
	}
}

func TestGraph_TopologicalSort_StableWithinKind(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode(NewNode(cloneDB("P", "Z_DEV"), 0))
	_ = g.AddNode(NewNode(cloneDB("P", "A_DEV"), 1))

	sorted, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sorted[0].Operation.Target() != "Z_DEV" || sorted[1].Operation.Target() != "A_DEV" {
		t.Errorf("expected request order to be kept, got %s then %s",
			sorted[0].Operation.Target(), sorted[1].Operation.Target())
	}
}

func TestGraph_TopologicalSort_Cycle(t *testing.T) {
	g := NewGraph()
	a := NewNode(createRole("A"), 0)
	b := NewNode(createRole("B"), 1)
	_ = g.AddNode(a)
	_ = g.AddNode(b)
	_ = g.AddEdge(a.ID, b.ID)
	_ = g.AddEdge(b.ID, a.ID)

	_, err := g.TopologicalSort()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if len(cycleErr.Cycle) != 3 || cycleErr.Cycle[0] != cycleErr.Cycle[2] {
		t.Errorf("expected closed cycle of two nodes, got %v", cycleErr.Cycle)
	}
}

func TestFindCycle(t *testing.T) {
	acyclic := map[string][]string{
		"SFULL_ADMIN": {"SR_WRITER", "SR_READER"},
		"SR_WRITER":   {"SR_READER"},
		"SR_READER":   nil,
	}
	if cycle := FindCycle(acyclic); cycle != nil {
		t.Errorf("expected no cycle, got %v", cycle)
	}

	cyclic := map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
		"D": {"A"},
	}
	cycle := FindCycle(cyclic)
	want := []string{"A", "B", "C", "A"}
	if len(cycle) != len(want) {
		t.Fatalf("expected %v, got %v", want, cycle)
	}
	for i := range want {
		if cycle[i] != want[i] {
			t.Errorf("expected %v, got %v", want, cycle)
			break
		}
	}

	self := map[string][]string{"A": {"A"}}
	if got := FindCycle(self); len(got) != 2 {
		t.Errorf("expected self cycle, got %v", got)
	}
}

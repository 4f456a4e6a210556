package planner

import (
	"testing"

	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/rbac"
	"github.com/davidthor/clonectl/pkg/template"
)

func kinds(plan *Plan) []operation.Kind {
	out := make([]operation.Kind, len(plan.Steps))
	for i, s := range plan.Steps {
		out[i] = s.Operation.Kind()
	}
	return out
}

func TestNewPlanner(t *testing.T) {
	p := NewPlanner(nil)
	if p == nil {
		t.Fatal("NewPlanner returned nil")
	}
}

func TestPlanIsEmpty(t *testing.T) {
	p := NewPlanner(nil)
	plan, err := p.Plan(&Request{Name: "empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.IsEmpty() {
		t.Errorf("expected empty plan, got %d steps", len(plan.Steps))
	}
	if plan.ID == "" {
		t.Error("expected plan ID to be set")
	}
}

func TestPlan_DatabaseCloneAndGrant(t *testing.T) {
	// A read-only role that already exists receives SELECT on every table of
	// the cloned database; the grant object comes from a template variable.
	object, err := template.ResolveString("${TARGET_DATABASE}.*.*", map[string]string{"TARGET_DATABASE": "DEV_DATALAKE"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	roles := rbac.NewHierarchy()
	roles.MarkExisting("SR_DATA_READER")

	req := &Request{
		Name: "dev-refresh",
		Operations: []operation.Operation{
			operation.GrantPrivilege{Role: "SR_DATA_READER", Privilege: "SELECT", ObjectType: operation.ObjectTable, Object: object},
			operation.CloneDatabase{SourceDatabase: "PROD_DATALAKE", TargetDatabase: "DEV_DATALAKE"},
		},
		Roles: roles,
	}

	plan, err := NewPlanner(nil).Plan(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}

	if _, ok := plan.Steps[0].Operation.(operation.CloneDatabase); !ok {
		t.Errorf("step 0: expected CloneDatabase, got %T", plan.Steps[0].Operation)
	}
	grant, ok := plan.Steps[1].Operation.(operation.GrantPrivilege)
	if !ok {
		t.Fatalf("step 1: expected GrantPrivilege, got %T", plan.Steps[1].Operation)
	}
	if grant.Object != "DEV_DATALAKE.*.*" {
		t.Errorf("grant object: got %q", grant.Object)
	}
	if len(plan.Steps[1].DependsOn) != 1 || plan.Steps[1].DependsOn[0] != plan.Steps[0].ID {
		t.Errorf("grant should depend on the clone, got %v", plan.Steps[1].DependsOn)
	}
	if plan.ToClone != 1 || plan.ToGrant != 1 {
		t.Errorf("summary: clone=%d grant=%d", plan.ToClone, plan.ToGrant)
	}
}

func TestPlan_CreateRoleBeforeGrants(t *testing.T) {
	roles := rbac.NewHierarchy()
	if err := roles.Add(&rbac.RoleNode{
		Name:   "SR_ANALYST",
		Create: true,
		Grants: []rbac.Grant{
			{Privilege: "USAGE", ObjectType: operation.ObjectWarehouse, Pattern: "ANALYTICS_WH"},
			{Privilege: "SELECT", ObjectType: operation.ObjectView, Pattern: "DEV.REPORTING.*"},
		},
	}); err != nil {
		t.Fatalf("add role: %v", err)
	}
	if err := roles.Add(&rbac.RoleNode{Name: "SFULL_ADMIN", Create: true, Inherits: []string{"SR_ANALYST"}}); err != nil {
		t.Fatalf("add role: %v", err)
	}

	// Put the role operations first and in reverse so ordering comes from the planner
	ops := roles.Operations()
	reversed := make([]operation.Operation, 0, len(ops)+1)
	for i := len(ops) - 1; i >= 0; i-- {
		reversed = append(reversed, ops[i])
	}
	reversed = append(reversed, operation.AssignUser{User: "JDOE", Role: "SR_ANALYST"})

	plan, err := NewPlanner(nil).Plan(&Request{Operations: reversed, Roles: roles})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	position := map[string]int{}
	for i, s := range plan.Steps {
		position[s.ID] = i
	}
	createAnalyst := operation.Key(operation.CreateRole{Name: "SR_ANALYST"})
	for _, s := range plan.Steps {
		switch o := s.Operation.(type) {
		case operation.GrantPrivilege:
			if position[createAnalyst] >= position[s.ID] {
				t.Errorf("%s ran before the role was created", operation.Label(o))
			}
		case operation.GrantRole, operation.AssignUser:
			for _, dep := range s.DependsOn {
				if position[dep] >= position[s.ID] {
					t.Errorf("%s ran before dependency %s", operation.Label(o), dep)
				}
			}
		}
	}

	want := []operation.Kind{
		operation.KindCreateRole,
		operation.KindCreateRole,
		operation.KindGrantPrivilege,
		operation.KindGrantPrivilege,
		operation.KindGrantRole,
		operation.KindAssignUser,
	}
	got := kinds(plan)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPlan_CloneChainOrder(t *testing.T) {
	req := &Request{
		Operations: []operation.Operation{
			operation.CloneTable{SourceDatabase: "PROD", SourceSchema: "SALES", SourceTable: "ORDERS", TargetDatabase: "DEV"},
			operation.CloneSchema{SourceDatabase: "PROD", SourceSchema: "SALES", TargetDatabase: "DEV"},
			operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "DEV"},
		},
	}

	plan, err := NewPlanner(nil).Plan(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []operation.Kind{operation.KindCloneDatabase, operation.KindCloneSchema, operation.KindCloneTable}
	got := kinds(plan)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(plan.Steps[2].DependsOn) != 2 {
		t.Errorf("table clone should depend on schema and database clones, got %v", plan.Steps[2].DependsOn)
	}

	dependents := plan.Dependents(plan.Steps[0].ID)
	if len(dependents) != 2 {
		t.Errorf("expected 2 transitive dependents, got %v", dependents)
	}
}

func TestPlan_EnsuresMissingContainers(t *testing.T) {
	req := &Request{
		Operations: []operation.Operation{
			operation.CloneSchema{SourceDatabase: "PROD_DATALAKE", SourceSchema: "RAW", TargetDatabase: "SANDBOX"},
			operation.CloneSchema{SourceDatabase: "PROD", SourceSchema: "SALES", TargetDatabase: "DEV"},
			operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "dev"},
			operation.CloneTable{SourceDatabase: "PROD", SourceSchema: "SALES", SourceTable: "ORDERS", TargetDatabase: "DEV"},
			operation.CloneTable{SourceDatabase: "PROD", SourceSchema: "HR", SourceTable: "PEOPLE", TargetDatabase: "DEV"},
			operation.CloneTable{SourceDatabase: "PROD", SourceSchema: "HR", SourceTable: "PEOPLE", TargetDatabase: "SCRATCH"},
		},
	}

	plan, err := NewPlanner(nil).Plan(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ops := map[string]operation.Operation{}
	for _, step := range plan.Steps {
		ops[step.Operation.Target()] = step.Operation
	}

	if op := ops["SANDBOX.RAW"].(operation.CloneSchema); !op.EnsureDatabase {
		t.Errorf("schema clone into SANDBOX should create the database")
	}
	if op := ops["DEV.SALES"].(operation.CloneSchema); op.EnsureDatabase {
		t.Errorf("schema clone into a cloned database should not create it")
	}
	if op := ops["DEV.SALES.ORDERS"].(operation.CloneTable); op.EnsureDatabase || op.EnsureSchema {
		t.Errorf("table clone into a cloned schema should not create containers, got %+v", op)
	}
	if op := ops["DEV.HR.PEOPLE"].(operation.CloneTable); op.EnsureDatabase || !op.EnsureSchema {
		t.Errorf("table clone into a cloned database should create only the schema, got %+v", op)
	}
	if op := ops["SCRATCH.HR.PEOPLE"].(operation.CloneTable); !op.EnsureDatabase || !op.EnsureSchema {
		t.Errorf("table clone into an unplanned database should create both containers, got %+v", op)
	}
}

func TestPlan_IndependentOperationsKeepRequestOrder(t *testing.T) {
	req := &Request{
		Operations: []operation.Operation{
			operation.CloneDatabase{SourceDatabase: "PROD_B", TargetDatabase: "DEV_B"},
			operation.CloneDatabase{SourceDatabase: "PROD_A", TargetDatabase: "DEV_A"},
		},
	}

	plan, err := NewPlanner(nil).Plan(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Steps[0].Operation.Target() != "DEV_B" || plan.Steps[1].Operation.Target() != "DEV_A" {
		t.Errorf("expected request order, got %s then %s", plan.Steps[0].Operation.Target(), plan.Steps[1].Operation.Target())
	}
}

func TestPlan_CyclicHierarchy(t *testing.T) {
	roles := rbac.NewHierarchy()
	for _, n := range []*rbac.RoleNode{
		{Name: "A", Create: true, Inherits: []string{"B"}},
		{Name: "B", Create: true, Inherits: []string{"A"}},
	} {
		if err := roles.Add(n); err != nil {
			t.Fatalf("add role: %v", err)
		}
	}

	plan, err := NewPlanner(nil).Plan(&Request{Operations: roles.Operations(), Roles: roles})
	if plan != nil {
		t.Error("expected no plan for a cyclic hierarchy")
	}
	if !errors.Is(err, errors.ErrCodeCyclicDependency) {
		t.Fatalf("expected CYCLIC_DEPENDENCY, got %v", err)
	}
}

func TestPlan_CyclicGrantRoleOperations(t *testing.T) {
	req := &Request{
		Operations: []operation.Operation{
			operation.CreateRole{Name: "A"},
			operation.CreateRole{Name: "B"},
			operation.GrantRole{Role: "A", Grantee: "B"},
			operation.GrantRole{Role: "B", Grantee: "A"},
		},
	}

	_, err := NewPlanner(nil).Plan(req)
	if !errors.Is(err, errors.ErrCodeCyclicDependency) {
		t.Fatalf("expected CYCLIC_DEPENDENCY, got %v", err)
	}
}

func TestPlan_UnsatisfiableRole(t *testing.T) {
	tests := []struct {
		name string
		op   operation.Operation
	}{
		{
			name: "grant privilege to unknown role",
			op:   operation.GrantPrivilege{Role: "GHOST", Privilege: "USAGE", ObjectType: operation.ObjectDatabase, Object: "DEV"},
		},
		{
			name: "grant unknown role",
			op:   operation.GrantRole{Role: "GHOST", Grantee: "SYSADMIN"},
		},
		{
			name: "assign unknown role",
			op:   operation.AssignUser{User: "JDOE", Role: "GHOST"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles := rbac.NewHierarchy()
			roles.MarkExisting("SYSADMIN")

			_, err := NewPlanner(nil).Plan(&Request{Operations: []operation.Operation{tt.op}, Roles: roles})
			if !errors.Is(err, errors.ErrCodeUnsatisfiableDependency) {
				t.Errorf("expected UNSATISFIABLE_DEPENDENCY, got %v", err)
			}
		})
	}
}

func TestPlan_Duplicates(t *testing.T) {
	clone := operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "DEV"}

	plan, err := NewPlanner(nil).Plan(&Request{Operations: []operation.Operation{clone, clone}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Errorf("identical duplicates should collapse, got %d steps", len(plan.Steps))
	}

	conflicting := clone
	conflicting.IdempotentSkip = true
	_, err = NewPlanner(nil).Plan(&Request{Operations: []operation.Operation{clone, conflicting}})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("expected VALIDATION_ERROR for conflicting duplicates, got %v", err)
	}
}

func TestPlan_InvalidOperation(t *testing.T) {
	_, err := NewPlanner(nil).Plan(&Request{Operations: []operation.Operation{
		operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "DEV", Mode: operation.Mode{Type: operation.ClonePointInTime}},
	}})
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

package rbac

import (
	"testing"

	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readerRole() *RoleNode {
	return &RoleNode{
		Name:     "SR_DATA_READER",
		Category: CategoryService,
		Create:   true,
		Grants: []Grant{
			{Privilege: "USAGE", ObjectType: operation.ObjectDatabase, Pattern: "DEV"},
			{Privilege: "SELECT", ObjectType: operation.ObjectTable, Pattern: "DEV.*.*"},
		},
	}
}

func TestHierarchy_Operations(t *testing.T) {
	h := NewHierarchy()
	require.NoError(t, h.Add(readerRole()))
	require.NoError(t, h.Add(&RoleNode{Name: "SFULL_ADMIN", Category: CategorySystemFull, Create: true}))
	require.NoError(t, h.AddInheritance("SFULL_ADMIN", "SR_DATA_READER"))
	require.NoError(t, h.Validate())

	ops := h.Operations()
	require.Len(t, ops, 5)
	assert.Equal(t, operation.CreateRole{Name: "SR_DATA_READER"}, ops[0])
	assert.Equal(t, operation.CreateRole{Name: "SFULL_ADMIN"}, ops[1])
	assert.Equal(t, operation.KindGrantPrivilege, ops[2].Kind())
	assert.Equal(t, operation.KindGrantPrivilege, ops[3].Kind())
	assert.Equal(t, operation.GrantRole{Role: "SR_DATA_READER", Grantee: "SFULL_ADMIN"}, ops[4])
}

func TestHierarchy_CycleDetected(t *testing.T) {
	h := NewHierarchy()
	require.NoError(t, h.Add(&RoleNode{Name: "A", Create: true, Inherits: []string{"B"}}))
	require.NoError(t, h.Add(&RoleNode{Name: "B", Create: true, Inherits: []string{"C"}}))
	require.NoError(t, h.Add(&RoleNode{Name: "C", Create: true, Inherits: []string{"A"}}))

	err := h.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCyclicDependency))

	var coded *errors.Error
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, []string{"A", "B", "C", "A"}, coded.Details["cycle"])
}

func TestHierarchy_UnknownParent(t *testing.T) {
	h := NewHierarchy()
	require.NoError(t, h.Add(&RoleNode{Name: "A", Create: true, Inherits: []string{"GHOST"}}))

	err := h.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnsatisfiableDependency))
}

func TestHierarchy_ExistingRolesSatisfyEdges(t *testing.T) {
	h := NewHierarchy()
	h.MarkExisting("SYSADMIN")
	require.NoError(t, h.Add(readerRole()))
	require.NoError(t, h.AddInheritance("SYSADMIN", "SR_DATA_READER"))
	require.NoError(t, h.Validate())

	assert.True(t, h.Known("sysadmin"))
	assert.Equal(t, []string{"SYSADMIN", "SR_DATA_READER"}, h.Effective("SYSADMIN"))

	err := h.AddInheritance("NOBODY", "SR_DATA_READER")
	assert.True(t, errors.Is(err, errors.ErrCodeUnsatisfiableDependency))
}

func TestHierarchy_AddMergesDuplicates(t *testing.T) {
	h := NewHierarchy()
	require.NoError(t, h.Add(&RoleNode{Name: "R", Grants: []Grant{{Privilege: "USAGE", ObjectType: operation.ObjectDatabase, Pattern: "DEV"}}}))
	require.NoError(t, h.Add(&RoleNode{Name: "r", Create: true, Grants: []Grant{{Privilege: "USAGE", ObjectType: operation.ObjectWarehouse, Pattern: "WH"}}}))

	require.Len(t, h.Roles, 1)
	node := h.Get("R")
	assert.True(t, node.Create)
	assert.Len(t, node.Grants, 2)
	assert.Error(t, h.Add(&RoleNode{}))
}

func TestHierarchy_ExpectedGrants(t *testing.T) {
	h := NewHierarchy()
	require.NoError(t, h.Add(&RoleNode{Name: "SR_B", Grants: []Grant{{Privilege: "select", ObjectType: operation.ObjectTable, Pattern: "DEV.*.*"}}}))
	require.NoError(t, h.Add(&RoleNode{Name: "SR_A", Grants: []Grant{{Privilege: "usage", ObjectType: operation.ObjectDatabase, Pattern: "DEV"}}}))

	grants := h.ExpectedGrants()
	require.Len(t, grants, 2)
	assert.Equal(t, "SR_A", grants[0].Role)
	assert.Equal(t, "USAGE", grants[0].Privilege)
	assert.Equal(t, "SELECT", grants[1].Privilege)
}

// Package rbac models role templates and the role hierarchy provisioned for cloned objects.
package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/graph"
	"github.com/davidthor/clonectl/pkg/operation"
)

// Category groups role templates.
type Category string

const (
	// CategoryService is a service role (SR) scoped to application access.
	CategoryService Category = "service"
	// CategorySystemFull is a system full role (SFULL) with administrative scope.
	CategorySystemFull Category = "system_full"
	CategoryCustom     Category = "custom"
)

// Grant is one (privilege, object pattern) pair of a role template.
type Grant struct {
	Privilege  string
	ObjectType operation.ObjectType
	Pattern    string
}

// RoleNode is a role template.
type RoleNode struct {
	Name        string
	Description string
	Category    Category

	// Create requests a CreateRole step. When false the role must already exist.
	Create bool

	Grants []Grant

	// Inherits lists roles whose privileges flow into this role
	// (GRANT ROLE <inherited> TO ROLE <this>).
	Inherits []string
}

// Hierarchy is the role graph consulted by the planner.
type Hierarchy struct {
	Roles map[string]*RoleNode

	// Existing roles are assumed present in the account and are never created.
	Existing map[string]bool

	order []string
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		Roles:    make(map[string]*RoleNode),
		Existing: make(map[string]bool),
	}
}

// Add registers a role template. Adding the same name twice merges grants and
// inheritance into the first definition.
func (h *Hierarchy) Add(node *RoleNode) error {
	if node.Name == "" {
		return errors.ValidationError("role name is required", nil)
	}
	key := normalize(node.Name)
	if existing, ok := h.Roles[key]; ok {
		existing.Grants = append(existing.Grants, node.Grants...)
		for _, parent := range node.Inherits {
			existing.addInherits(parent)
		}
		existing.Create = existing.Create || node.Create
		return nil
	}
	h.Roles[key] = node
	h.order = append(h.order, key)
	return nil
}

// MarkExisting declares a role already present in the account.
func (h *Hierarchy) MarkExisting(name string) {
	h.Existing[normalize(name)] = true
}

// AddInheritance records that grantee inherits role. Both names may refer to
// roles that are only declared as existing.
func (h *Hierarchy) AddInheritance(grantee, role string) error {
	node, ok := h.Roles[normalize(grantee)]
	if !ok {
		if !h.Existing[normalize(grantee)] {
			return errors.UnsatisfiableDependency(
				fmt.Sprintf("hierarchy edge %s -> %s", role, grantee),
				fmt.Sprintf("role %s", grantee))
		}
		node = &RoleNode{Name: grantee, Category: CategoryCustom}
		h.Roles[normalize(grantee)] = node
		h.order = append(h.order, normalize(grantee))
	}
	node.addInherits(role)
	return nil
}

// Get returns a role by name, case-insensitively.
func (h *Hierarchy) Get(name string) *RoleNode {
	return h.Roles[normalize(name)]
}

// Known reports whether a role is defined or declared existing.
func (h *Hierarchy) Known(name string) bool {
	_, defined := h.Roles[normalize(name)]
	return defined || h.Existing[normalize(name)]
}

// Ordered returns roles in declaration order.
func (h *Hierarchy) Ordered() []*RoleNode {
	nodes := make([]*RoleNode, 0, len(h.order))
	for _, key := range h.order {
		nodes = append(nodes, h.Roles[key])
	}
	return nodes
}

// Validate checks the inheritance relation is acyclic and refers to known roles.
func (h *Hierarchy) Validate() error {
	if cycle := h.FindCycle(); cycle != nil {
		return errors.CyclicDependency(cycle)
	}

	for _, node := range h.Ordered() {
		for _, parent := range node.Inherits {
			if !h.Known(parent) {
				return errors.UnsatisfiableDependency(
					fmt.Sprintf("hierarchy edge %s -> %s", parent, node.Name),
					fmt.Sprintf("role %s", parent))
			}
		}
	}
	return nil
}

// FindCycle returns the role names of one inheritance cycle, or nil.
func (h *Hierarchy) FindCycle() []string {
	adjacency := make(map[string][]string, len(h.Roles))
	names := make(map[string]string, len(h.Roles))
	for key, node := range h.Roles {
		names[key] = node.Name
		for _, parent := range node.Inherits {
			adjacency[key] = append(adjacency[key], normalize(parent))
		}
		if _, ok := adjacency[key]; !ok {
			adjacency[key] = nil
		}
	}

	cycle := graph.FindCycle(adjacency)
	if cycle == nil {
		return nil
	}
	for i, key := range cycle {
		if name, ok := names[key]; ok {
			cycle[i] = name
		}
	}
	return cycle
}

// Operations expands the hierarchy into the operations it requests:
// CreateRole for roles marked Create, GrantPrivilege for every grant object
// and GrantRole for every inheritance edge.
func (h *Hierarchy) Operations() []operation.Operation {
	var ops []operation.Operation
	for _, node := range h.Ordered() {
		if node.Create {
			ops = append(ops, operation.CreateRole{Name: node.Name, Comment: node.Description})
		}
	}
	for _, node := range h.Ordered() {
		for _, g := range node.Grants {
			ops = append(ops, operation.GrantPrivilege{
				Role:       node.Name,
				Privilege:  g.Privilege,
				ObjectType: g.ObjectType,
				Object:     g.Pattern,
			})
		}
	}
	for _, node := range h.Ordered() {
		for _, parent := range node.Inherits {
			ops = append(ops, operation.GrantRole{Role: parent, Grantee: node.Name})
		}
	}
	return ops
}

// ExpectedGrant is a grant the validator expects to find on the target.
type ExpectedGrant struct {
	Role       string
	Privilege  string
	ObjectType operation.ObjectType
	Pattern    string
}

// ExpectedGrants lists the direct grants of every role, sorted by role.
func (h *Hierarchy) ExpectedGrants() []ExpectedGrant {
	var grants []ExpectedGrant
	for _, node := range h.Ordered() {
		for _, g := range node.Grants {
			grants = append(grants, ExpectedGrant{
				Role:       node.Name,
				Privilege:  strings.ToUpper(g.Privilege),
				ObjectType: g.ObjectType,
				Pattern:    g.Pattern,
			})
		}
	}
	sort.SliceStable(grants, func(i, j int) bool {
		return normalize(grants[i].Role) < normalize(grants[j].Role)
	})
	return grants
}

// Effective returns the role and every role it inherits, transitively.
func (h *Hierarchy) Effective(name string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(n string) {
		key := normalize(n)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, n)
		if node := h.Roles[key]; node != nil {
			for _, p := range node.Inherits {
				walk(p)
			}
		}
	}
	walk(name)
	return out
}

func (n *RoleNode) addInherits(role string) {
	for _, existing := range n.Inherits {
		if strings.EqualFold(existing, role) {
			return
		}
	}
	n.Inherits = append(n.Inherits, role)
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

package config

import (
	"time"

	"github.com/davidthor/clonectl/pkg/engine/executor"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/rbac"
)

// ClonePair is a source/target pair the validator can compare.
type ClonePair struct {
	Source string
	Target string
}

// Request builds the planner request for this configuration.
func (c *Config) Request(name string) (*planner.Request, error) {
	if name == "" {
		name = c.Template
	}
	if name == "" {
		name = "default"
	}

	roles, err := c.Roles()
	if err != nil {
		return nil, err
	}
	clones, err := c.CloneOperations()
	if err != nil {
		return nil, err
	}

	ops := append(clones, roles.Operations()...)
	ops = append(ops, c.UserOperations()...)

	return &planner.Request{Name: name, Operations: ops, Roles: roles}, nil
}

// CloneOperations converts the clone sections, databases first.
func (c *Config) CloneOperations() ([]operation.Operation, error) {
	var ops []operation.Operation
	for _, d := range c.Databases {
		mode, err := c.mode(d.CloneOptions)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation.CloneDatabase{
			SourceDatabase: d.Source,
			TargetDatabase: d.Target,
			Mode:           mode,
			IdempotentSkip: c.skip(d.CloneOptions),
		})
	}
	for _, s := range c.Schemas {
		mode, err := c.mode(s.CloneOptions)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation.CloneSchema{
			SourceDatabase: s.SourceDB,
			SourceSchema:   s.SourceSchema,
			TargetDatabase: s.TargetDB,
			TargetSchema:   s.TargetSchema,
			Mode:           mode,
			IdempotentSkip: c.skip(s.CloneOptions),
		})
	}
	for _, t := range c.Tables {
		mode, err := c.mode(t.CloneOptions)
		if err != nil {
			return nil, err
		}
		ops = append(ops, operation.CloneTable{
			SourceDatabase: t.SourceDB,
			SourceSchema:   t.SourceSchema,
			SourceTable:    t.SourceTable,
			TargetDatabase: t.TargetDB,
			TargetSchema:   t.TargetSchema,
			TargetTable:    t.TargetTable,
			Mode:           mode,
			IdempotentSkip: c.skip(t.CloneOptions),
		})
	}
	return ops, nil
}

// UserOperations expands user_assignments into one AssignUser per role.
func (c *Config) UserOperations() []operation.Operation {
	var ops []operation.Operation
	for _, ua := range c.RBAC.UserAssignments {
		for _, role := range ua.Roles {
			ops = append(ops, operation.AssignUser{User: ua.Username, Role: role})
		}
	}
	return ops
}

// Roles builds the role hierarchy. Roles declared with create: false, and
// everything under existing_roles, are assumed to exist already.
func (c *Config) Roles() (*rbac.Hierarchy, error) {
	h := rbac.NewHierarchy()
	for _, name := range c.RBAC.ExistingRoles {
		h.MarkExisting(name)
	}

	createDefault := c.RBAC.CreateRoles == nil || *c.RBAC.CreateRoles
	for _, group := range c.roleGroups() {
		for _, role := range group.roles {
			create := createDefault
			if role.Create != nil {
				create = *role.Create
			}

			node := &rbac.RoleNode{
				Name:        role.Name,
				Description: role.Description,
				Category:    group.category,
				Create:      create,
			}
			for _, pg := range role.Privileges.grants() {
				for _, obj := range pg.grant.Objects {
					node.Grants = append(node.Grants, rbac.Grant{
						Privilege:  pg.grant.Privilege,
						ObjectType: pg.objectType,
						Pattern:    obj,
					})
				}
			}
			if err := h.Add(node); err != nil {
				return nil, err
			}
			if !create {
				h.MarkExisting(role.Name)
			}
		}
	}

	// A parent inherits each child: GRANT ROLE <child> TO ROLE <parent>.
	for _, edge := range c.RBAC.RoleHierarchy {
		for _, child := range edge.Children {
			if err := h.AddInheritance(edge.Parent, child); err != nil {
				return nil, err
			}
		}
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// ClonePairs lists the database and schema clones as validator scopes.
func (c *Config) ClonePairs() []ClonePair {
	var pairs []ClonePair
	for _, d := range c.Databases {
		pairs = append(pairs, ClonePair{Source: d.Source, Target: d.Target})
	}
	for _, s := range c.Schemas {
		target := s.TargetSchema
		if target == "" {
			target = s.SourceSchema
		}
		pairs = append(pairs, ClonePair{
			Source: operation.QualifiedName(s.SourceDB, s.SourceSchema),
			Target: operation.QualifiedName(s.TargetDB, target),
		})
	}
	return pairs
}

// ExecutorOptions converts the execution section, starting from
// executor.DefaultOptions. Call Validate first; values are assumed parseable.
func (c *Config) ExecutorOptions() (executor.Options, error) {
	opts := executor.DefaultOptions()
	e := c.Execution

	policy, err := executor.ParseFailurePolicy(e.FailurePolicy)
	if err != nil {
		return opts, errors.ValidationError(err.Error(), map[string]interface{}{"path": "execution.failure_policy"})
	}
	opts.FailurePolicy = policy

	durations := []struct {
		path  string
		value string
		into  *time.Duration
	}{
		{"execution.step_timeout", e.StepTimeout, &opts.StepTimeout},
		{"execution.retry.initial_backoff", e.Retry.InitialBackoff, &opts.Retry.InitialBackoff},
		{"execution.retry.max_backoff", e.Retry.MaxBackoff, &opts.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return opts, errors.ValidationError(err.Error(), map[string]interface{}{"path": d.path})
		}
		*d.into = v
	}

	if e.Retry.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = e.Retry.MaxAttempts
	}
	if e.Retry.Multiplier > 0 {
		opts.Retry.Multiplier = e.Retry.Multiplier
	}

	if w := e.Window; w != nil {
		window, err := executor.ParseWindow(w.Start, w.End, w.Timezone)
		if err != nil {
			return opts, errors.ValidationError(err.Error(), map[string]interface{}{"path": "execution.window"})
		}
		opts.Window = window
	}
	return opts, nil
}

func (c *Config) mode(o CloneOptions) (operation.Mode, error) {
	typ := o.CloneType
	if typ == "" {
		typ = c.Cloning.DefaultCloneType
	}
	ct, err := operation.ParseCloneType(typ)
	if err != nil {
		return operation.Mode{}, errors.ValidationError(err.Error(), nil)
	}
	mode := operation.Mode{Type: ct, AtTimestamp: o.AtTime}
	if ct == operation.ClonePointInTime && mode.AtTimestamp == "" {
		mode.AtTimestamp = c.Cloning.AtTime
	}
	return mode, nil
}

func (c *Config) skip(o CloneOptions) bool {
	if o.IdempotentSkip != nil {
		return *o.IdempotentSkip
	}
	return c.Cloning.IdempotentSkip
}

type roleGroup struct {
	key      string
	category rbac.Category
	roles    []RoleConfig
}

func (c *Config) roleGroups() []roleGroup {
	return []roleGroup{
		{"service_roles", rbac.CategoryService, c.RBAC.ServiceRoles},
		{"system_full_roles", rbac.CategorySystemFull, c.RBAC.SystemFullRoles},
		{"custom_roles", rbac.CategoryCustom, c.RBAC.CustomRoles},
	}
}

type sectionGrant struct {
	section    string
	objectType operation.ObjectType
	grant      PrivilegeGrant
}

func (p PrivilegeSet) grants() []sectionGrant {
	var out []sectionGrant
	add := func(section string, t operation.ObjectType, grants []PrivilegeGrant) {
		for _, g := range grants {
			out = append(out, sectionGrant{section: section, objectType: t, grant: g})
		}
	}
	add("databases", operation.ObjectDatabase, p.Databases)
	add("schemas", operation.ObjectSchema, p.Schemas)
	add("tables", operation.ObjectTable, p.Tables)
	add("views", operation.ObjectView, p.Views)
	add("warehouses", operation.ObjectWarehouse, p.Warehouses)
	return out
}

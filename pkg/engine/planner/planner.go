// Package planner generates execution plans from requested operations.
package planner

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/graph"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/rbac"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request is the set of operations to plan.
type Request struct {
	// Name labels the plan (template or config name)
	Name string

	// Operations requested, in declaration order
	Operations []operation.Operation

	// Roles is the role graph. Grants, hierarchy edges and user assignments
	// may only reference roles created in this plan or declared existing here.
	Roles *rbac.Hierarchy
}

// Step is one operation in an execution plan.
type Step struct {
	// Index is the zero-based position in the plan
	Index int

	// ID is the operation key
	ID string

	Operation operation.Operation

	// DependsOn lists the IDs of earlier steps this step requires
	DependsOn []string
}

// Plan is an ordered, dependency-resolved sequence of operations.
type Plan struct {
	ID        string
	Name      string
	CreatedAt time.Time

	// Steps in execution order
	Steps []*Step

	// Summary
	ToClone  int
	ToCreate int
	ToGrant  int
	ToAssign int
}

// IsEmpty returns true if there is nothing to execute.
func (p *Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

// Step returns a step by ID.
func (p *Plan) Step(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Dependents returns the IDs of every step that transitively depends on id,
// in plan order.
func (p *Plan) Dependents(id string) []string {
	affected := map[string]bool{id: true}
	var result []string
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if affected[dep] {
				affected[s.ID] = true
				result = append(result, s.ID)
				break
			}
		}
	}
	return result
}

// Planner generates execution plans.
type Planner struct {
	logger *zap.Logger
}

// NewPlanner creates a new planner.
func NewPlanner(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger}
}

// Plan orders the requested operations into an execution plan. Planning never
// touches the warehouse; every failure here happens before any remote side effect.
func (p *Planner) Plan(req *Request) (*Plan, error) {
	roles := req.Roles
	if roles == nil {
		roles = rbac.NewHierarchy()
	}

	// Cycles in the role hierarchy are reported before anything else
	if err := roles.Validate(); err != nil {
		return nil, err
	}

	ops, err := dedupe(req.Operations)
	if err != nil {
		return nil, err
	}

	// Role-hierarchy edges requested directly must be acyclic too
	if cycle := roleCycle(ops); cycle != nil {
		return nil, errors.CyclicDependency(cycle)
	}

	ops = ensureContainers(ops)

	g := graph.NewGraph()
	idx := newIndex()
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, errors.ValidationError(fmt.Sprintf("invalid operation %q: %v", operation.Label(op), err), map[string]interface{}{
				"operation": operation.Key(op),
			})
		}
		node := graph.NewNode(op, i)
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
		idx.add(op, node.ID)
	}

	for _, node := range g.Nodes {
		deps, err := p.dependencies(node.Operation, idx, roles)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			if err := g.AddEdge(node.ID, dep); err != nil {
				return nil, err
			}
		}
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		if cycleErr, ok := err.(*graph.CycleError); ok {
			return nil, errors.CyclicDependency(cycleErr.Cycle)
		}
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	for i, node := range sorted {
		step := &Step{
			Index:     i,
			ID:        node.ID,
			Operation: node.Operation,
			DependsOn: append([]string(nil), node.DependsOn...),
		}
		plan.Steps = append(plan.Steps, step)

		switch node.Type {
		case operation.KindCloneDatabase, operation.KindCloneSchema, operation.KindCloneTable:
			plan.ToClone++
		case operation.KindCreateRole:
			plan.ToCreate++
		case operation.KindGrantPrivilege, operation.KindGrantRole:
			plan.ToGrant++
		case operation.KindAssignUser:
			plan.ToAssign++
		}

		p.logger.Debug("planned step",
			zap.String("plan_id", plan.ID),
			zap.Int("step", i),
			zap.String("kind", string(node.Type)),
			zap.String("target", node.Operation.Target()),
			zap.Strings("depends_on", step.DependsOn))
	}

	p.logger.Info("plan created",
		zap.String("plan_id", plan.ID),
		zap.String("name", plan.Name),
		zap.Int("steps", len(plan.Steps)))

	return plan, nil
}

// dependencies returns the node IDs op requires. Clone prerequisites are only
// edges when the prerequisite clone is part of the request; role prerequisites
// must be planned or declared existing.
func (p *Planner) dependencies(op operation.Operation, idx *index, roles *rbac.Hierarchy) ([]string, error) {
	var deps []string

	requireRole := func(role string) error {
		if id, ok := idx.createRole[normalize(role)]; ok {
			deps = append(deps, id)
			return nil
		}
		if roles.Existing[normalize(role)] {
			return nil
		}
		return errors.UnsatisfiableDependency(operation.Label(op), fmt.Sprintf("role %s", role))
	}

	switch o := op.(type) {
	case operation.CloneDatabase:
		// Root of the clone chain

	case operation.CloneSchema:
		if id, ok := idx.cloneDatabase[normalize(o.TargetDatabase)]; ok {
			deps = append(deps, id)
		}

	case operation.CloneTable:
		if id, ok := idx.cloneSchema[normalize(operation.QualifiedName(o.TargetDatabase, o.EffectiveTargetSchema()))]; ok {
			deps = append(deps, id)
		}
		if id, ok := idx.cloneDatabase[normalize(o.TargetDatabase)]; ok {
			deps = append(deps, id)
		}

	case operation.CreateRole:
		// Roles have no prerequisites

	case operation.GrantPrivilege:
		if err := requireRole(o.Role); err != nil {
			return nil, err
		}
		if db := o.Database(); db != "" {
			if id, ok := idx.cloneDatabase[normalize(db)]; ok {
				deps = append(deps, id)
			}
			parts := operation.SplitName(o.Object)
			if len(parts) >= 2 && parts[1] != "*" {
				if id, ok := idx.cloneSchema[normalize(operation.QualifiedName(parts[0], parts[1]))]; ok {
					deps = append(deps, id)
				}
			}
		}

	case operation.GrantRole:
		if err := requireRole(o.Role); err != nil {
			return nil, err
		}
		if err := requireRole(o.Grantee); err != nil {
			return nil, err
		}

	case operation.AssignUser:
		if err := requireRole(o.Role); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("planner: unsupported operation kind %q", op.Kind())
	}

	return deps, nil
}

// index finds planned prerequisite operations by the object they produce.
type index struct {
	cloneDatabase map[string]string
	cloneSchema   map[string]string
	createRole    map[string]string
}

func newIndex() *index {
	return &index{
		cloneDatabase: make(map[string]string),
		cloneSchema:   make(map[string]string),
		createRole:    make(map[string]string),
	}
}

func (i *index) add(op operation.Operation, id string) {
	switch o := op.(type) {
	case operation.CloneDatabase:
		i.cloneDatabase[normalize(o.TargetDatabase)] = id
	case operation.CloneSchema:
		i.cloneSchema[normalize(o.Target())] = id
	case operation.CreateRole:
		i.createRole[normalize(o.Name)] = id
	}
}

// dedupe collapses identical duplicates and rejects conflicting ones, so a
// plan never holds two steps for the same (kind, source, target).
func dedupe(ops []operation.Operation) ([]operation.Operation, error) {
	seen := make(map[string]operation.Operation, len(ops))
	result := make([]operation.Operation, 0, len(ops))
	for _, op := range ops {
		if op == nil {
			continue
		}
		key := operation.Key(op)
		if prev, ok := seen[key]; ok {
			if reflect.DeepEqual(prev, op) {
				continue
			}
			return nil, errors.ValidationError(
				fmt.Sprintf("conflicting definitions for %q", operation.Label(op)),
				map[string]interface{}{"operation": key})
		}
		seen[key] = op
		result = append(result, op)
	}
	return result, nil
}

// ensureContainers marks schema and table clones whose target database or
// schema no other step in the plan clones, so they create it first.
func ensureContainers(ops []operation.Operation) []operation.Operation {
	databases := map[string]bool{}
	schemas := map[string]bool{}
	for _, op := range ops {
		switch o := op.(type) {
		case operation.CloneDatabase:
			databases[normalize(o.TargetDatabase)] = true
		case operation.CloneSchema:
			schemas[normalize(o.Target())] = true
		}
	}

	for i, op := range ops {
		switch o := op.(type) {
		case operation.CloneSchema:
			o.EnsureDatabase = !databases[normalize(o.TargetDatabase)]
			ops[i] = o
		case operation.CloneTable:
			o.EnsureSchema = !schemas[normalize(operation.QualifiedName(o.TargetDatabase, o.EffectiveTargetSchema()))]
			o.EnsureDatabase = o.EnsureSchema && !databases[normalize(o.TargetDatabase)]
			ops[i] = o
		}
	}
	return ops
}

func roleCycle(ops []operation.Operation) []string {
	adjacency := map[string][]string{}
	for _, op := range ops {
		if gr, ok := op.(operation.GrantRole); ok {
			grantee := normalize(gr.Grantee)
			adjacency[grantee] = append(adjacency[grantee], normalize(gr.Role))
		}
	}
	if len(adjacency) == 0 {
		return nil
	}
	return graph.FindCycle(adjacency)
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

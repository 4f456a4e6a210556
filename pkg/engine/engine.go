// Package engine ties configuration, planning, execution and validation
// together for a single invocation.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidthor/clonectl/pkg/audit"
	"github.com/davidthor/clonectl/pkg/config"
	"github.com/davidthor/clonectl/pkg/engine/executor"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/rbac"
	"github.com/davidthor/clonectl/pkg/validator"
	"github.com/davidthor/clonectl/pkg/warehouse"
)

// Invocation is the state of one plan, execute or validate call. Nothing is
// shared between invocations.
type Invocation struct {
	// Name labels the plan. Defaults to the config's template name.
	Name string

	Config *config.Config

	// Client is required by Execute and Validate
	Client warehouse.Client

	// Store receives audit records. Defaults to an in-memory store.
	Store audit.Store

	Logger *zap.Logger

	// Options overrides the executor options derived from Config
	Options *executor.Options

	DryRun bool

	// OnStep is called on every step state change
	OnStep func(executor.StepStatus)
}

func (inv *Invocation) logger() *zap.Logger {
	if inv.Logger == nil {
		return zap.NewNop()
	}
	return inv.Logger
}

// Plan builds the execution plan for the invocation's configuration.
func Plan(inv *Invocation) (*planner.Plan, error) {
	if inv.Config == nil {
		return nil, errors.ValidationError("invocation has no configuration", nil)
	}
	req, err := inv.Config.Request(inv.Name)
	if err != nil {
		return nil, err
	}
	return planner.NewPlanner(inv.logger()).Plan(req)
}

// Execute runs plan. The result is returned even when err is non-nil.
func Execute(ctx context.Context, inv *Invocation, plan *planner.Plan) (*executor.Result, error) {
	if inv.Client == nil && !inv.DryRun {
		return nil, errors.ValidationError("invocation has no warehouse client", nil)
	}

	opts, err := inv.executorOptions()
	if err != nil {
		return nil, err
	}

	store := inv.Store
	if store == nil {
		store = audit.NewMemoryStore()
	}

	return executor.NewExecutor(inv.Client, store, inv.logger(), opts).Execute(ctx, plan)
}

// Apply plans and executes in one call.
func Apply(ctx context.Context, inv *Invocation) (*planner.Plan, *executor.Result, error) {
	plan, err := Plan(inv)
	if err != nil {
		return nil, nil, err
	}
	result, err := Execute(ctx, inv, plan)
	return plan, result, err
}

func (inv *Invocation) executorOptions() (executor.Options, error) {
	var opts executor.Options
	if inv.Options != nil {
		opts = *inv.Options
	} else if inv.Config != nil {
		var err error
		if opts, err = inv.Config.ExecutorOptions(); err != nil {
			return opts, err
		}
	} else {
		opts = executor.DefaultOptions()
	}
	if inv.DryRun {
		opts.DryRun = true
	}
	if inv.OnStep != nil {
		opts.OnStep = inv.OnStep
	}
	return opts, nil
}

// JobResult is the outcome of one job run by ExecuteAll.
type JobResult struct {
	Name   string
	Plan   *planner.Plan
	Result *executor.Result
	Err    error
}

// ExecuteAll plans and executes independent invocations concurrently, at
// most limit at a time (unlimited when limit <= 0). Each invocation should
// carry its own client. A failing job does not stop the others; results are
// returned in input order and the error joins every job error.
func ExecuteAll(ctx context.Context, invocations []*Invocation, limit int) ([]*JobResult, error) {
	results := make([]*JobResult, len(invocations))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, inv := range invocations {
		g.Go(func() error {
			jr := &JobResult{Name: inv.Name}
			jr.Plan, jr.Result, jr.Err = Apply(ctx, inv)
			if jr.Plan != nil {
				jr.Name = jr.Plan.Name
			}
			results[i] = jr
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, jr := range results {
		if jr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", jr.Name, jr.Err))
		}
	}
	return results, stderrors.Join(errs...)
}

// Validate compares source against target. Expected grants come from the
// invocation's role hierarchy when it has a configuration.
func Validate(ctx context.Context, inv *Invocation, source, target string) (*validator.Report, error) {
	if inv.Client == nil {
		return nil, errors.ValidationError("invocation has no warehouse client", nil)
	}

	var (
		tolerance validator.Tolerance
		expected  []rbac.ExpectedGrant
	)
	if inv.Config != nil {
		tolerance = validator.Tolerance{
			Absolute: inv.Config.Validation.RowCountTolerance,
			Ratio:    inv.Config.Validation.RowCountRatio,
		}
		roles, err := inv.Config.Roles()
		if err != nil {
			return nil, err
		}
		expected = roles.ExpectedGrants()
	}

	return validator.New(inv.Client, tolerance, inv.logger()).Validate(ctx, source, target, expected)
}

// ValidateAll validates every database and schema clone of the configuration.
func ValidateAll(ctx context.Context, inv *Invocation) ([]*validator.Report, error) {
	if inv.Config == nil {
		return nil, errors.ValidationError("invocation has no configuration", nil)
	}
	var reports []*validator.Report
	for _, pair := range inv.Config.ClonePairs() {
		report, err := Validate(ctx, inv, pair.Source, pair.Target)
		if err != nil {
			return reports, fmt.Errorf("validate %s -> %s: %w", pair.Source, pair.Target, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// PrintPlanSummary writes a human-readable plan listing.
func PrintPlanSummary(w io.Writer, plan *planner.Plan) {
	fmt.Fprintf(w, "\nPlan: %s\n", plan.Name)
	fmt.Fprintf(w, "  ID:      %s\n", plan.ID)
	fmt.Fprintf(w, "  Created: %s\n", plan.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "\n")

	if plan.IsEmpty() {
		fmt.Fprintf(w, "No operations requested.\n")
		return
	}

	fmt.Fprintf(w, "Steps:\n")
	for _, step := range plan.Steps {
		symbol := ">"
		switch step.Operation.Kind() {
		case operation.KindCloneDatabase, operation.KindCloneSchema, operation.KindCloneTable:
			symbol = "+"
		case operation.KindCreateRole:
			symbol = "*"
		}
		fmt.Fprintf(w, "  %3d %s %s\n", step.Index+1, symbol, operation.Label(step.Operation))
	}

	fmt.Fprintf(w, "\nSummary: %d to clone, %d roles to create, %d grants, %d user assignments\n",
		plan.ToClone, plan.ToCreate, plan.ToGrant, plan.ToAssign)
}

// Package executor runs execution plans against the warehouse.
package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/davidthor/clonectl/pkg/audit"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/errors"
	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/davidthor/clonectl/pkg/warehouse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result contains the results of an execution.
type Result struct {
	RunID  string
	PlanID string

	Success  bool
	Duration time.Duration

	// Records holds the finished, skipped and cancelled records written,
	// in plan order
	Records []audit.Record

	// Steps maps step IDs to their final status
	Steps map[string]*StepStatus

	Completed int
	NoOps     int
	Failed    int
	Skipped   int
	Cancelled int
	Errors    []error

	// Statements rendered in a dry run
	Statements []string
}

// Executor runs execution plans one step at a time.
type Executor struct {
	client  warehouse.Client
	store   audit.Store
	logger  *zap.Logger
	options Options
}

// NewExecutor creates a new executor.
func NewExecutor(client warehouse.Client, store audit.Store, logger *zap.Logger, options Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.Retry.MaxAttempts <= 0 {
		options.Retry.MaxAttempts = 1
	}
	if options.FailurePolicy == "" {
		options.FailurePolicy = AbortRemaining
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Sleep == nil {
		options.Sleep = time.Sleep
	}
	return &Executor{
		client:  client,
		store:   store,
		logger:  logger,
		options: options,
	}
}

// Execute runs the plan in order. Every dispatched step gets a started record
// before it reaches the warehouse and a finished record after. A step in
// flight always runs to completion; cancellation and the operation window are
// checked before each step.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) (*Result, error) {
	start := e.options.Now()

	runID := e.options.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	result := &Result{
		RunID:   runID,
		PlanID:  plan.ID,
		Success: true,
		Steps:   make(map[string]*StepStatus, len(plan.Steps)),
	}
	for _, step := range plan.Steps {
		result.Steps[step.ID] = &StepStatus{
			StepID: step.ID,
			Index:  step.Index,
			Label:  operation.Label(step.Operation),
			State:  StatePending,
		}
	}

	finish := func(err error) (*Result, error) {
		result.Duration = e.options.Now().Sub(start)
		if err != nil {
			result.Success = false
		}
		return result, err
	}

	// Render everything up front so a bad step fails the run before any
	// statement is sent.
	statements := make([]warehouse.Statement, len(plan.Steps))
	for i, step := range plan.Steps {
		stmt, err := warehouse.Translate(step.Operation)
		if err != nil {
			verr := errors.Wrap(errors.ErrCodeValidation, fmt.Sprintf("cannot render step %d (%s)", step.Index+1, step.ID), err)
			result.Errors = append(result.Errors, verr)
			return finish(verr)
		}
		statements[i] = stmt
	}

	if e.options.DryRun {
		for _, stmt := range statements {
			result.Statements = append(result.Statements, stmt.Prelude...)
			result.Statements = append(result.Statements, stmt.SQL)
		}
		return finish(nil)
	}

	logger := e.logger.With(zap.String("run_id", runID), zap.String("plan_id", plan.ID))
	logger.Info("executing plan", zap.String("plan", plan.Name), zap.Int("steps", len(plan.Steps)))

	// Audit writes must land even after the caller cancels.
	auditCtx := context.WithoutCancel(ctx)
	blocked := map[string]bool{}

	for i, step := range plan.Steps {
		if reason := e.stopReason(ctx); reason != "" {
			remaining := plan.Steps[i:]
			logger.Warn("stopping run", zap.String("reason", reason), zap.Int("remaining", len(remaining)))
			for _, s := range remaining {
				if err := e.close(auditCtx, result, plan.ID, s, StateCancelled, reason); err != nil {
					result.Errors = append(result.Errors, err)
					return finish(err)
				}
			}
			err := errors.New(errors.ErrCodeCancelled, "run stopped: "+reason).
				WithDetail("remaining", len(remaining))
			result.Errors = append(result.Errors, err)
			return finish(err)
		}

		if dep := blockedBy(step, blocked); dep != "" {
			blocked[step.ID] = true
			reason := fmt.Sprintf("dependency %s did not succeed", dep)
			if err := e.close(auditCtx, result, plan.ID, step, StateSkipped, reason); err != nil {
				result.Errors = append(result.Errors, err)
				return finish(err)
			}
			continue
		}

		stepErr, err := e.run(ctx, auditCtx, logger, result, plan.ID, step, statements[i])
		if err != nil {
			result.Errors = append(result.Errors, err)
			return finish(err)
		}
		if stepErr != nil {
			blocked[step.ID] = true
			result.Success = false
			result.Errors = append(result.Errors, stepErr)
			if e.options.FailurePolicy == AbortRemaining {
				logger.Error("step failed, aborting remaining steps",
					zap.String("step", step.ID),
					zap.Int("remaining", len(plan.Steps)-i-1),
					zap.Error(stepErr))
				return finish(stepErr)
			}
		}
	}

	if len(result.Errors) > 0 {
		return finish(fmt.Errorf("%d of %d steps did not succeed: %w",
			result.Failed+result.Skipped, len(plan.Steps), result.Errors[0]))
	}

	logger.Info("plan executed",
		zap.Int("completed", result.Completed),
		zap.Int("no_ops", result.NoOps),
		zap.Duration("duration", e.options.Now().Sub(start)))
	return finish(nil)
}

// run dispatches one step. The first return value is the step's failure; the
// second is an audit failure that must stop the whole run.
func (e *Executor) run(ctx, auditCtx context.Context, logger *zap.Logger, result *Result, planID string, step *planner.Step, stmt warehouse.Statement) (error, error) {
	status := result.Steps[step.ID]
	logger = logger.With(zap.String("step", step.ID), zap.Int("index", step.Index))

	started := audit.NewRecord(result.RunID, planID, step.ID, step.Index, audit.PhaseStarted, step.Operation)
	started.StartedAt = e.options.Now()
	if err := e.store.Append(auditCtx, started); err != nil {
		logger.Error("failed to write audit record, step not dispatched", zap.Error(err))
		return nil, auditError(started.ID, err)
	}
	status.StartedAt = started.StartedAt

	// The parent context is not propagated: a statement in flight is never
	// abandoned halfway.
	dispatchCtx := context.WithoutCancel(ctx)

	var (
		failure *warehouse.Failure
		noOp    bool
	)
	for attempt := 1; ; attempt++ {
		status.Attempt = attempt
		e.move(status, StateInFlight)
		logger.Debug("dispatching", zap.Int("attempt", attempt), zap.String("sql", stmt.SQL))

		failure = e.dispatch(dispatchCtx, stmt)
		if failure == nil {
			break
		}
		if failure.Kind == warehouse.FailureAlreadyExists && operation.IdempotentSkip(step.Operation) {
			logger.Info("target already exists, accepting as no-op", zap.String("target", step.Operation.Target()))
			failure = nil
			noOp = true
			break
		}
		if !failure.Retryable() || attempt >= e.options.Retry.MaxAttempts {
			break
		}

		backoff := e.options.Retry.Backoff(attempt)
		logger.Warn("transient failure, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(failure))
		e.move(status, StateRetrying)
		e.options.Sleep(backoff)
	}

	end := e.options.Now()
	finished := audit.NewRecord(result.RunID, planID, step.ID, step.Index, audit.PhaseFinished, step.Operation)
	finished.StartedAt = started.StartedAt
	finished.EndedAt = &end
	finished.Attempts = status.Attempt
	finished.NoOp = noOp

	var stepErr error
	if failure == nil {
		finished.Outcome = audit.OutcomeSuccess
		if status.Attempt > 1 {
			finished.Outcome = audit.OutcomeRetriedThenSucceeded
		}
	} else {
		stepErr = stepError(step, failure, status.Attempt)
		finished.Outcome = audit.OutcomeFailed
		if status.Attempt > 1 {
			finished.Outcome = audit.OutcomeRetriedThenFailed
		}
		finished.Error = stepErr.Error()
	}
	status.Outcome = finished.Outcome
	status.NoOp = noOp
	status.Error = stepErr
	status.EndedAt = end
	if stepErr == nil {
		e.move(status, StateSucceeded)
	} else {
		e.move(status, StateFailed)
	}

	if err := e.store.Append(auditCtx, finished); err != nil {
		logger.Error("failed to write audit record, step outcome unrecorded",
			zap.String("outcome", string(finished.Outcome)),
			zap.Error(err))
		return stepErr, auditError(finished.ID, err)
	}
	result.Records = append(result.Records, finished)

	if stepErr == nil {
		result.Completed++
		if noOp {
			result.NoOps++
		}
		logger.Info("step succeeded",
			zap.String("outcome", string(finished.Outcome)),
			zap.Int("attempts", status.Attempt),
			zap.Duration("duration", end.Sub(started.StartedAt)))
	} else {
		result.Failed++
		logger.Error("step failed",
			zap.String("outcome", string(finished.Outcome)),
			zap.Int("attempts", status.Attempt),
			zap.Error(stepErr))
	}
	return stepErr, nil
}

// dispatch sends one attempt, prelude included, bounded by the step timeout.
func (e *Executor) dispatch(ctx context.Context, stmt warehouse.Statement) *warehouse.Failure {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.options.StepTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.options.StepTimeout)
	}
	defer cancel()

	var err error
	for _, sql := range stmt.Prelude {
		if _, err = e.client.Execute(attemptCtx, warehouse.Statement{SQL: sql}); err != nil {
			break
		}
	}
	if err == nil {
		_, err = e.client.Execute(attemptCtx, stmt)
	}
	if err == nil {
		return nil
	}
	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &warehouse.Failure{
			Kind:    warehouse.FailureTransient,
			Code:    "timeout",
			Message: fmt.Sprintf("statement exceeded step timeout of %s", e.options.StepTimeout),
			Err:     err,
		}
	}
	return warehouse.AsFailure(err)
}

// close records a step that was never dispatched.
func (e *Executor) close(ctx context.Context, result *Result, planID string, step *planner.Step, state StepState, reason string) error {
	status := result.Steps[step.ID]

	outcome := audit.OutcomeSkipped
	if state == StateCancelled {
		outcome = audit.OutcomeCancelled
	}

	now := e.options.Now()
	record := audit.NewRecord(result.RunID, planID, step.ID, step.Index, audit.PhaseSkipped, step.Operation)
	record.StartedAt = now
	record.EndedAt = &now
	record.Outcome = outcome
	record.Error = reason

	if err := e.store.Append(ctx, record); err != nil {
		e.logger.Error("failed to write audit record", zap.String("step", step.ID), zap.Error(err))
		return auditError(record.ID, err)
	}
	result.Records = append(result.Records, record)

	status.Outcome = outcome
	status.Error = stderrors.New(reason)
	status.EndedAt = now
	if state == StateCancelled {
		result.Cancelled++
	} else {
		result.Skipped++
	}
	e.move(status, state)
	return nil
}

func (e *Executor) stopReason(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	if e.options.Window != nil && !e.options.Window.Contains(e.options.Now()) {
		return "outside operation window"
	}
	return ""
}

func (e *Executor) move(status *StepStatus, to StepState) {
	if err := status.transition(to); err != nil {
		e.logger.DPanic("invalid step state", zap.Error(err))
		status.State = to
		return
	}
	e.notify(status)
}

func (e *Executor) notify(status *StepStatus) {
	if e.options.OnStep != nil {
		e.options.OnStep(*status)
	}
}

func blockedBy(step *planner.Step, blocked map[string]bool) string {
	for _, dep := range step.DependsOn {
		if blocked[dep] {
			return dep
		}
	}
	return ""
}

func stepError(step *planner.Step, failure *warehouse.Failure, attempts int) error {
	message := fmt.Sprintf("step %d (%s) failed after %d attempt(s)", step.Index+1, operation.Label(step.Operation), attempts)

	var err *errors.Error
	switch {
	case failure.Kind == warehouse.FailureAlreadyExists:
		err = errors.TargetAlreadyExists(step.Operation.Target(), failure)
	case failure.Kind == warehouse.FailureTransient && failure.Code == "timeout":
		err = errors.Wrap(errors.ErrCodeTimeout, message, failure)
	case failure.Kind == warehouse.FailureTransient:
		err = errors.Wrap(errors.ErrCodeTransient, message, failure)
	case failure.Kind == warehouse.FailurePermission:
		err = errors.Wrap(errors.ErrCodePermission, message, failure)
	case failure.Kind == warehouse.FailureNotFound:
		err = errors.Wrap(errors.ErrCodeNotFound, message, failure)
	default:
		err = errors.Wrap(errors.ErrCodePermanent, message, failure)
	}
	return err.WithDetail("step", step.ID).WithDetail("attempts", attempts)
}

func auditError(recordID string, err error) error {
	if errors.Is(err, errors.ErrCodeAuditWriteFailed) {
		return err
	}
	return errors.AuditWriteFailed(recordID, err)
}

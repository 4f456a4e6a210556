// Package audit records every step the engine dispatches and answers
// history queries by object name.
package audit

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/davidthor/clonectl/pkg/operation"
	"github.com/google/uuid"
)

// Phase marks where in a step's life a record was written.
type Phase string

const (
	// PhaseStarted is written before the step is dispatched.
	PhaseStarted Phase = "started"
	// PhaseFinished is written once the step has an outcome.
	PhaseFinished Phase = "finished"
	// PhaseSkipped is written for steps that were never dispatched.
	PhaseSkipped Phase = "skipped"
)

// Outcome is the result of a step.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeFailed               Outcome = "failed"
	OutcomeRetriedThenSucceeded Outcome = "retried_then_succeeded"
	OutcomeRetriedThenFailed    Outcome = "retried_then_failed"
	OutcomeSkipped              Outcome = "skipped"
	OutcomeCancelled            Outcome = "cancelled"
)

// Succeeded reports whether the outcome counts as a success.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeRetriedThenSucceeded
}

// Record is one immutable audit entry.
type Record struct {
	ID        string             `json:"id"`
	RunID     string             `json:"run_id"`
	PlanID    string             `json:"plan_id"`
	StepID    string             `json:"step_id"`
	StepIndex int                `json:"step_index"`
	Seq       int64              `json:"seq"`
	Phase     Phase              `json:"phase"`
	Operation operation.Snapshot `json:"operation"`
	Objects   []string           `json:"objects"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Outcome   Outcome            `json:"outcome,omitempty"`
	Attempts  int                `json:"attempts,omitempty"`
	// NoOp marks a clone whose target already existed and was accepted as is.
	NoOp  bool   `json:"no_op,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewRecord creates a record for an operation with a fresh ID.
func NewRecord(runID, planID, stepID string, index int, phase Phase, op operation.Operation) Record {
	snap := operation.Describe(op)
	return Record{
		ID:        uuid.New().String(),
		RunID:     runID,
		PlanID:    planID,
		StepID:    stepID,
		StepIndex: index,
		Phase:     phase,
		Operation: snap,
		Objects:   snap.Objects,
	}
}

// Touches reports whether the record references the named object.
func (r Record) Touches(object string) bool {
	for _, o := range r.Objects {
		if strings.EqualFold(o, object) {
			return true
		}
	}
	return false
}

// Time is the instant used for ordering: the end time when present.
func (r Record) Time() time.Time {
	if r.EndedAt != nil {
		return *r.EndedAt
	}
	return r.StartedAt
}

// Store is the append-only audit log.
type Store interface {
	// Append makes a record durable before returning. A failure is reported
	// as AUDIT_WRITE_FAILED.
	Append(ctx context.Context, record Record) error

	// Query returns every record touching object, oldest first.
	Query(ctx context.Context, object string) ([]Record, error)
}

// Lister is implemented by stores that can return their whole log.
type Lister interface {
	All(ctx context.Context) ([]Record, error)
}

// Sort orders records oldest first, breaking ties by sequence number.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Time(), records[j].Time()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return records[i].Seq < records[j].Seq
	})
}

// Incomplete returns the started records that have no later finished or
// skipped record for the same run and step. Each one is a step that may have
// reached the warehouse without its outcome being recorded.
func Incomplete(records []Record) []Record {
	type stepKey struct{ run, step string }
	closed := map[stepKey]bool{}
	for _, r := range records {
		if r.Phase != PhaseStarted {
			closed[stepKey{r.RunID, r.StepID}] = true
		}
	}

	var open []Record
	for _, r := range records {
		if r.Phase == PhaseStarted && !closed[stepKey{r.RunID, r.StepID}] {
			open = append(open, r)
		}
	}
	return open
}

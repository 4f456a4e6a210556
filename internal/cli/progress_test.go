package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidthor/clonectl/pkg/engine/executor"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/operation"
)

func testPlan() *planner.Plan {
	return &planner.Plan{
		ID:   "plan-1",
		Name: "dev",
		Steps: []*planner.Step{
			{Index: 0, ID: "clone", Operation: operation.CloneDatabase{SourceDatabase: "PROD", TargetDatabase: "DEV"}},
			{Index: 1, ID: "role", Operation: operation.CreateRole{Name: "SR_APP"}},
			{Index: 2, ID: "grant", Operation: operation.GrantPrivilege{
				Role: "SR_APP", Privilege: "USAGE", ObjectType: operation.ObjectDatabase, Object: "DEV",
			}, DependsOn: []string{"clone", "role"}},
		},
		ToClone:  1,
		ToCreate: 1,
		ToGrant:  1,
	}
}

func TestNewProgressTable(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())

	assert.Len(t, pt.steps, 3)
	assert.Equal(t, []string{"clone", "role", "grant"}, pt.order)
	assert.Equal(t, executor.StatePending, pt.steps["grant"].State)
	assert.Equal(t, "create role SR_APP", pt.steps["role"].Label)
	assert.Equal(t, 3, pt.Count(executor.StatePending))
}

func TestProgressTable_PrintInitial(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())

	pt.PrintInitial()

	output := buf.String()
	assert.Contains(t, output, "Execution Plan:")
	assert.Contains(t, output, "clone database PROD -> DEV")
	assert.Contains(t, output, "(after #1, #2)")
	assert.Contains(t, output, "Total: 3 steps")
}

func TestProgressTable_Update(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pt.Update(executor.StepStatus{StepID: "clone", State: executor.StateInFlight, Attempt: 1, StartedAt: start})
	pt.Update(executor.StepStatus{StepID: "clone", State: executor.StateSucceeded, Attempt: 1, NoOp: true,
		StartedAt: start, EndedAt: start.Add(1500 * time.Millisecond)})

	output := buf.String()
	assert.Contains(t, output, "◐ clone database PROD -> DEV...")
	assert.Contains(t, output, "● clone database PROD -> DEV (already existed) (1.5s)")
	assert.Equal(t, executor.StateSucceeded, pt.steps["clone"].State)
}

func TestProgressTable_UpdateRetryAndFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())

	pt.Update(executor.StepStatus{StepID: "role", State: executor.StateRetrying, Attempt: 1, Error: errors.New("timeout")})
	pt.Update(executor.StepStatus{StepID: "role", State: executor.StateInFlight, Attempt: 2})
	pt.Update(executor.StepStatus{StepID: "role", State: executor.StateFailed, Attempt: 2, Error: errors.New("insufficient privileges")})
	pt.Update(executor.StepStatus{StepID: "grant", State: executor.StateSkipped, Error: errors.New("dependency role did not succeed")})

	output := buf.String()
	assert.Contains(t, output, "failed, retrying: timeout")
	assert.Contains(t, output, "(attempt 2)...")
	assert.Contains(t, output, "✗ create role SR_APP failed: insufficient privileges")
	assert.Contains(t, output, "skipped: dependency role did not succeed")
}

func TestProgressTable_UpdateUnknownStep(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())

	pt.Update(executor.StepStatus{StepID: "nope", State: executor.StateFailed})

	assert.Empty(t, buf.String())
}

func TestProgressTable_PrintFinalSummary_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())
	for _, id := range []string{"clone", "role", "grant"} {
		pt.Update(executor.StepStatus{StepID: id, State: executor.StateSucceeded})
	}
	buf.Reset()

	pt.PrintFinalSummary()

	output := buf.String()
	assert.Contains(t, output, "Run completed successfully in")
	assert.Contains(t, output, "3 steps succeeded")
}

func TestProgressTable_PrintFinalSummary_Errors(t *testing.T) {
	buf := &bytes.Buffer{}
	pt := NewProgressTable(buf, testPlan())
	pt.Update(executor.StepStatus{StepID: "clone", State: executor.StateSucceeded})
	pt.Update(executor.StepStatus{StepID: "role", State: executor.StateFailed, Attempt: 3, Error: errors.New("boom")})
	buf.Reset()

	pt.PrintFinalSummary()

	output := buf.String()
	assert.Contains(t, output, "Run completed with errors in")
	assert.Contains(t, output, "1 succeeded, ✗ 1 failed, ◌ 0 skipped, 0 cancelled, 1 not run")
	assert.Contains(t, output, "Failed steps:")
	assert.True(t, strings.Contains(output, "#2 create role SR_APP after 3 attempts: boom"))
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		state executor.StepState
		want  string
	}{
		{executor.StatePending, "○"},
		{executor.StateInFlight, "◐"},
		{executor.StateRetrying, "◔"},
		{executor.StateSucceeded, "●"},
		{executor.StateFailed, "✗"},
		{executor.StateSkipped, "◌"},
		{executor.StateCancelled, "◌"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, statusIcon(tt.state))
		})
	}
}

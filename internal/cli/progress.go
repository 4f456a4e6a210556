package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/clonectl/pkg/engine/executor"
	"github.com/davidthor/clonectl/pkg/engine/planner"
	"github.com/davidthor/clonectl/pkg/operation"
)

// stepRow is one plan step as shown by the progress table.
type stepRow struct {
	Index     int
	Kind      operation.Kind
	Label     string
	DependsOn []string
	State     executor.StepState
	Attempt   int
	NoOp      bool
	Error     string
	StartTime time.Time
	EndTime   time.Time
}

// ProgressTable prints the plan up front, then one line per step transition,
// then a summary.
type ProgressTable struct {
	mu        sync.Mutex
	steps     map[string]*stepRow
	order     []string
	writer    io.Writer
	startTime time.Time
}

// NewProgressTable creates a table for plan.
func NewProgressTable(w io.Writer, plan *planner.Plan) *ProgressTable {
	p := &ProgressTable{
		steps:     make(map[string]*stepRow),
		writer:    w,
		startTime: time.Now(),
	}
	for _, step := range plan.Steps {
		p.order = append(p.order, step.ID)
		p.steps[step.ID] = &stepRow{
			Index:     step.Index,
			Kind:      step.Operation.Kind(),
			Label:     operation.Label(step.Operation),
			DependsOn: step.DependsOn,
			State:     executor.StatePending,
		}
	}
	return p
}

// PrintInitial prints the steps about to run.
func (p *ProgressTable) PrintInitial() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, "Execution Plan:")
	fmt.Fprintln(p.writer, strings.Repeat("─", 60))
	for _, id := range p.order {
		row := p.steps[id]
		deps := ""
		if len(row.DependsOn) > 0 {
			deps = fmt.Sprintf(" (after %s)", strings.Join(p.dependencyIndexes(row.DependsOn), ", "))
		}
		fmt.Fprintf(p.writer, "  %3d %-16s %s%s\n", row.Index+1, row.Kind, row.Label, deps)
	}
	fmt.Fprintln(p.writer, strings.Repeat("─", 60))
	fmt.Fprintf(p.writer, "Total: %d steps\n", len(p.order))
	fmt.Fprintln(p.writer)
}

// Update records a state change and prints it. It is safe to use as
// executor.Options.OnStep.
func (p *ProgressTable) Update(status executor.StepStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.steps[status.StepID]
	if !ok {
		return
	}
	row.State = status.State
	row.Attempt = status.Attempt
	row.NoOp = status.NoOp
	row.Error = ""
	if status.Error != nil {
		row.Error = status.Error.Error()
	}
	if !status.StartedAt.IsZero() {
		row.StartTime = status.StartedAt
	}
	if !status.EndedAt.IsZero() {
		row.EndTime = status.EndedAt
	}

	var line string
	icon := statusIcon(row.State)
	switch row.State {
	case executor.StateInFlight:
		if row.Attempt > 1 {
			line = fmt.Sprintf("%s %s (attempt %d)...", icon, row.Label, row.Attempt)
		} else {
			line = fmt.Sprintf("%s %s...", icon, row.Label)
		}
	case executor.StateRetrying:
		line = fmt.Sprintf("%s %s failed, retrying: %s", icon, row.Label, row.Error)
	case executor.StateSucceeded:
		suffix := ""
		if row.NoOp {
			suffix = " (already existed)"
		}
		if !row.StartTime.IsZero() && !row.EndTime.IsZero() {
			suffix += fmt.Sprintf(" (%s)", row.EndTime.Sub(row.StartTime).Round(time.Millisecond))
		}
		line = fmt.Sprintf("%s %s%s", icon, row.Label, suffix)
	case executor.StateFailed:
		line = fmt.Sprintf("%s %s failed: %s", icon, row.Label, row.Error)
	case executor.StateSkipped, executor.StateCancelled:
		line = fmt.Sprintf("%s %s %s", icon, row.Label, row.State)
		if row.Error != "" {
			line += ": " + row.Error
		}
	default:
		return
	}
	fmt.Fprintln(p.writer, line)
}

func statusIcon(state executor.StepState) string {
	switch state {
	case executor.StatePending:
		return "○"
	case executor.StateInFlight:
		return "◐"
	case executor.StateRetrying:
		return "◔"
	case executor.StateSucceeded:
		return "●"
	case executor.StateFailed:
		return "✗"
	case executor.StateSkipped, executor.StateCancelled:
		return "◌"
	default:
		return "?"
	}
}

func (p *ProgressTable) dependencyIndexes(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if row, ok := p.steps[id]; ok {
			out = append(out, fmt.Sprintf("#%d", row.Index+1))
		} else {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of steps in state.
func (p *ProgressTable) Count(state executor.StepState) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, row := range p.steps {
		if row.State == state {
			n++
		}
	}
	return n
}

// PrintFinalSummary prints totals and the failed steps.
func (p *ProgressTable) PrintFinalSummary() {
	p.mu.Lock()
	defer p.mu.Unlock()

	counts := map[executor.StepState]int{}
	for _, row := range p.steps {
		counts[row.State]++
	}
	elapsed := time.Since(p.startTime).Round(time.Millisecond)

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, strings.Repeat("─", 80))

	failed := counts[executor.StateFailed]
	if failed == 0 && counts[executor.StateCancelled] == 0 && counts[executor.StatePending] == 0 {
		fmt.Fprintf(p.writer, "Run completed successfully in %s\n", elapsed)
		fmt.Fprintf(p.writer, "  ● %d steps succeeded\n", counts[executor.StateSucceeded])
		return
	}

	fmt.Fprintf(p.writer, "Run completed with errors in %s\n", elapsed)
	fmt.Fprintf(p.writer, "  ● %d succeeded, ✗ %d failed, ◌ %d skipped, %d cancelled, %d not run\n",
		counts[executor.StateSucceeded], failed, counts[executor.StateSkipped],
		counts[executor.StateCancelled], counts[executor.StatePending])

	if failed > 0 {
		fmt.Fprintln(p.writer, "\nFailed steps:")
		for _, id := range p.order {
			row := p.steps[id]
			if row.State != executor.StateFailed {
				continue
			}
			fmt.Fprintf(p.writer, "  ✗ #%d %s", row.Index+1, row.Label)
			if row.Attempt > 1 {
				fmt.Fprintf(p.writer, " after %d attempts", row.Attempt)
			}
			if row.Error != "" {
				fmt.Fprintf(p.writer, ": %s", row.Error)
			}
			fmt.Fprintln(p.writer)
		}
	}
}

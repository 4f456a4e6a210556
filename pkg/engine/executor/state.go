package executor

import (
	"fmt"
	"time"

	"github.com/davidthor/clonectl/pkg/audit"
)

// StepState is where a step is in its lifecycle.
type StepState string

const (
	StatePending   StepState = "pending"
	StateInFlight  StepState = "in_flight"
	StateRetrying  StepState = "retrying"
	StateSucceeded StepState = "succeeded"
	StateFailed    StepState = "failed"
	StateSkipped   StepState = "skipped"
	StateCancelled StepState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s StepState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped, StateCancelled:
		return true
	}
	return false
}

var transitions = map[StepState][]StepState{
	StatePending:  {StateInFlight, StateSkipped, StateCancelled},
	StateInFlight: {StateRetrying, StateSucceeded, StateFailed},
	StateRetrying: {StateInFlight},
}

// StepStatus tracks one step through execution.
type StepStatus struct {
	StepID  string
	Index   int
	Label   string
	State   StepState
	Attempt int
	Outcome audit.Outcome
	NoOp    bool
	Error   error

	StartedAt time.Time
	EndedAt   time.Time
}

func (s *StepStatus) transition(to StepState) error {
	for _, allowed := range transitions[s.State] {
		if allowed == to {
			s.State = to
			return nil
		}
	}
	return fmt.Errorf("step %s: illegal transition %s -> %s", s.StepID, s.State, to)
}

package executor

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FailurePolicy decides what happens to the rest of a plan after a step fails.
type FailurePolicy string

const (
	// AbortRemaining stops at the first failed step.
	AbortRemaining FailurePolicy = "abort-remaining"
	// ContinueBestEffort skips the failed step's dependents and keeps going.
	ContinueBestEffort FailurePolicy = "continue-best-effort"
)

// ParseFailurePolicy parses a policy name. Empty means AbortRemaining.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AbortRemaining:
		return AbortRemaining, nil
	case ContinueBestEffort:
		return ContinueBestEffort, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (expected %s or %s)", s, AbortRemaining, ContinueBestEffort)
	}
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
		Multiplier:     2,
	}
}

// Backoff returns the wait before attempt n+1, given that attempt n failed.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Window is a daily time range during which steps may start. A window whose
// end is before its start wraps past midnight.
type Window struct {
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// ParseWindow parses HH:MM bounds in the named IANA time zone (UTC if empty).
func ParseWindow(start, end, timezone string) (*Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid window end: %w", err)
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid window timezone: %w", err)
		}
	}
	return &Window{Start: s, End: e, Location: loc}, nil
}

// Contains reports whether t falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	clock := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute + time.Duration(local.Second())*time.Second

	if w.Start == w.End {
		return true
	}
	if w.Start < w.End {
		return clock >= w.Start && clock < w.End
	}
	return clock >= w.Start || clock < w.End
}

func (w *Window) String() string {
	return fmt.Sprintf("%s-%s %s", formatClock(w.Start), formatClock(w.End), w.Location)
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// Options configures the executor.
type Options struct {
	Retry         RetryPolicy
	FailurePolicy FailurePolicy

	// StepTimeout bounds each dispatch attempt. Zero disables the limit.
	StepTimeout time.Duration

	// Window restricts when steps may start. Nil means always.
	Window *Window

	// RunID identifies the run in audit records. Generated when empty.
	RunID string

	// DryRun renders statements without dispatching or auditing them
	DryRun bool

	// OnStep is called after every step state change
	OnStep func(step StepStatus)

	// Now and Sleep are replaced in tests
	Now   func() time.Time
	Sleep func(d time.Duration)
}

// DefaultOptions returns default executor options.
func DefaultOptions() Options {
	return Options{
		Retry:         DefaultRetryPolicy(),
		FailurePolicy: AbortRemaining,
		StepTimeout:   30 * time.Minute,
	}
}

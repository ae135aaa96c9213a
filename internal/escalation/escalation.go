// Package escalation holds the fixed, ordered wait intervals between follow-up
// attempts.
package escalation

import (
	"fmt"
	"time"

	"github.com/zulandar/caboose/internal/hours"
)

// DefaultIntervals spans 10 minutes through 4 days over 8 stages.
var DefaultIntervals = []time.Duration{
	10 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
	72 * time.Hour,
	84 * time.Hour,
	96 * time.Hour,
}

// Table maps attempt numbers 1..N to the wait before that attempt is due.
type Table struct {
	intervals []time.Duration
	window    hours.Window
}

// New builds a Table. Intervals must be non-empty and strictly positive.
func New(intervals []time.Duration, window hours.Window) (*Table, error) {
	if len(intervals) == 0 {
		return nil, fmt.Errorf("escalation: at least one interval is required")
	}
	for i, d := range intervals {
		if d <= 0 {
			return nil, fmt.Errorf("escalation: interval for attempt %d must be positive, got %s", i+1, d)
		}
	}
	cp := make([]time.Duration, len(intervals))
	copy(cp, intervals)
	return &Table{intervals: cp, window: window}, nil
}

// Len returns N, the number of stages.
func (t *Table) Len() int { return len(t.intervals) }

// Window returns the business-hours window used to adjust due times.
func (t *Table) Window() hours.Window { return t.window }

// Interval returns the wait for attempt (1-based). ok is false outside 1..N.
func (t *Table) Interval(attempt int) (d time.Duration, ok bool) {
	if attempt < 1 || attempt > len(t.intervals) {
		return 0, false
	}
	return t.intervals[attempt-1], true
}

// NextDue returns the business-hours-adjusted instant at which attempt is due,
// counted from lastInteractionAt. ok is false once attempt exceeds N, meaning
// the escalation is exhausted and the schedule must be finalized.
func (t *Table) NextDue(lastInteractionAt time.Time, attempt int) (due time.Time, ok bool) {
	d, ok := t.Interval(attempt)
	if !ok {
		return time.Time{}, false
	}
	return t.window.Advance(lastInteractionAt.Add(d)), true
}

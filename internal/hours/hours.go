// Package hours decides whether an instant falls inside the operating window
// and moves instants forward to the next time follow-ups may be sent.
//
// No timezone conversion happens here: callers pass times already expressed in
// the tenant's local zone and results stay in that zone.
package hours

import (
	"fmt"
	"time"
)

// Default operating window: Monday to Friday, 08:00 inclusive to 18:00 exclusive.
const (
	DefaultOpenHour  = 8
	DefaultCloseHour = 18
)

// DefaultWeekdays are the days follow-ups may be sent on.
var DefaultWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// Window is a half-open daily interval [OpenHour, CloseHour) on a set of weekdays.
type Window struct {
	OpenHour  int
	CloseHour int
	days      [7]bool
}

// New builds a Window. An empty weekdays slice means DefaultWeekdays.
func New(openHour, closeHour int, weekdays []time.Weekday) (Window, error) {
	if openHour < 0 || closeHour > 24 || openHour >= closeHour {
		return Window{}, fmt.Errorf("hours: invalid window %02d:00-%02d:00", openHour, closeHour)
	}
	if len(weekdays) == 0 {
		weekdays = DefaultWeekdays
	}
	w := Window{OpenHour: openHour, CloseHour: closeHour}
	for _, d := range weekdays {
		if d < time.Sunday || d > time.Saturday {
			return Window{}, fmt.Errorf("hours: invalid weekday %d", d)
		}
		w.days[d] = true
	}
	return w, nil
}

// Default returns the Monday-Friday 08:00-18:00 window.
func Default() Window {
	w, _ := New(DefaultOpenHour, DefaultCloseHour, nil)
	return w
}

// IsWorkday reports whether d is one of the window's days.
func (w Window) IsWorkday(d time.Weekday) bool {
	return w.days[d]
}

// IsBusinessHours reports whether t falls on a workday with its hour-of-day in
// [OpenHour, CloseHour).
func (w Window) IsBusinessHours(t time.Time) bool {
	if !w.days[t.Weekday()] {
		return false
	}
	h := t.Hour()
	return h >= w.OpenHour && h < w.CloseHour
}

// Advance returns t unchanged when it is inside the window, otherwise the
// opening instant of the next valid window. The result is never before t and
// Advance(Advance(t)) == Advance(t).
func (w Window) Advance(t time.Time) time.Time {
	if w.IsBusinessHours(t) {
		return t
	}
	if w.days[t.Weekday()] && t.Hour() < w.OpenHour {
		return w.openOn(t, 0)
	}
	for i := 1; i <= 7; i++ {
		next := w.openOn(t, i)
		if w.days[next.Weekday()] {
			return next
		}
	}
	// Unreachable for a Window built by New: at least one weekday is set.
	return t
}

// openOn returns the opening instant dayOffset days after t's calendar day.
func (w Window) openOn(t time.Time, dayOffset int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+dayOffset, w.OpenHour, 0, 0, 0, t.Location())
}

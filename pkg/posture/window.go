package posture

import (
	"strings"
	"time"
)

// Window is the reporting timeframe the operator asked for. It is applied
// client-side: the API can only filter by creation date, so the fetch
// layer pulls a wider created-date superset and these predicates decide
// final inclusion.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, inclusive on both
// ends.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Days returns the window length in whole days, rounded up.
func (w Window) Days() int {
	d := w.End.Sub(w.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// ParseTimestamp parses an API timestamp. The API emits RFC3339 with a Z
// suffix; fractional seconds show up on some records.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResolvedIn reports whether the check was resolved inside the window.
// Checks without a parseable resolved timestamp are excluded.
func (c *Check) ResolvedIn(w Window) bool {
	t, ok := ParseTimestamp(c.ResolvedDateTime)
	if !ok {
		return false
	}
	return w.Contains(t)
}

// FailingIn reports whether the failure surfaced inside the window.
// failureDiscoveredDateTime is preferred; records predating that field
// fall back to statusUpdatedDateTime, then createdDateTime.
func (c *Check) FailingIn(w Window) bool {
	for _, s := range []string{c.FailureDiscoveredDateTime, c.StatusUpdatedDateTime, c.CreatedDateTime} {
		if t, ok := ParseTimestamp(s); ok {
			return w.Contains(t)
		}
	}
	return false
}

// InWindow dispatches to the status-appropriate predicate.
func (c *Check) InWindow(w Window) bool {
	if c.Status == StatusSuccess {
		return c.ResolvedIn(w)
	}
	return c.FailingIn(w)
}

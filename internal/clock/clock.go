// Package clock provides the time source and calendar arithmetic used by the
// circulation engine. Loan dates are calendar dates in UTC; reservation
// timestamps and claim windows are instants.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall clock in UTC.
func System() Clock { return systemClock{} }

// Fixed is a settable clock for tests and replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the calendar date of c.Now().
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// AddDays returns the calendar date n days after d.
func AddDays(d time.Time, n int) time.Time {
	return Date(d).AddDate(0, 0, n)
}

// DaysBetween counts calendar days from a to b; negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Date(b).Sub(Date(a)).Hours() / 24)
}

// IsOverdue reports whether ref falls after the due date.
func IsOverdue(due, ref time.Time) bool {
	return Date(ref).After(Date(due))
}

// OverdueDays is the number of whole days ref lies past due, never negative.
func OverdueDays(due, ref time.Time) int {
	if n := DaysBetween(due, ref); n > 0 {
		return n
	}
	return 0
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateTruncatesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2024, 1, 10, 3, 30, 0, 0, loc) // 2024-01-09 22:30 UTC

	assert.Equal(t, day(2024, 1, 9), Date(in))
}

func TestOverdueDays(t *testing.T) {
	due := day(2024, 1, 10)

	assert.Equal(t, 5, OverdueDays(due, day(2024, 1, 15)))
	assert.Equal(t, 0, OverdueDays(due, day(2024, 1, 10)))
	assert.Equal(t, 0, OverdueDays(due, day(2024, 1, 2)))
	assert.Equal(t, 1, OverdueDays(due, time.Date(2024, 1, 11, 23, 59, 0, 0, time.UTC)))
}

func TestIsOverdue(t *testing.T) {
	due := day(2024, 3, 1)

	assert.False(t, IsOverdue(due, due.Add(23*time.Hour)))
	assert.True(t, IsOverdue(due, day(2024, 3, 2)))
}

func TestAddDaysAcrossMonthBoundary(t *testing.T) {
	assert.Equal(t, day(2024, 3, 14), AddDays(day(2024, 2, 29), 14))
	assert.Equal(t, -3, DaysBetween(day(2024, 3, 4), day(2024, 3, 1)))
}

func TestFixedClock(t *testing.T) {
	c := NewFixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	c.Advance(36 * time.Hour)

	assert.Equal(t, day(2024, 5, 3), Today(c))

	c.Set(day(2025, 1, 1))
	assert.Equal(t, day(2025, 1, 1), c.Now())
}

package circulation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSortFIFOBreaksTiesBySequence(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rs := []Reservation{
		{ID: uuid.New(), ReservationDate: at, Sequence: 7},
		{ID: uuid.New(), ReservationDate: at.Add(-time.Minute), Sequence: 9},
		{ID: uuid.New(), ReservationDate: at, Sequence: 3},
	}
	sortFIFO(rs)

	assert.Equal(t, int64(9), rs[0].Sequence)
	assert.Equal(t, int64(3), rs[1].Sequence)
	assert.Equal(t, int64(7), rs[2].Sequence)
}

func TestPageMeta(t *testing.T) {
	assert.Equal(t, PageMeta{Page: 1, Size: 10, TotalElements: 0, TotalPages: 0}, newPageMeta(1, 10, 0))
	assert.Equal(t, PageMeta{Page: 2, Size: 10, TotalElements: 25, TotalPages: 3, HasNext: true, HasPrevious: true}, newPageMeta(2, 10, 25))
	assert.Equal(t, PageMeta{Page: 3, Size: 10, TotalElements: 25, TotalPages: 3, HasPrevious: true}, newPageMeta(3, 10, 25))
}

func TestPageMetaCoversEveryElement(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 100).Draw(t, "size")
		total := rapid.IntRange(0, 10_000).Draw(t, "total")
		m := newPageMeta(1, size, total)
		if m.TotalPages*size < total || (m.TotalPages > 0 && (m.TotalPages-1)*size >= total) {
			t.Fatalf("%d pages of %d for %d elements", m.TotalPages, size, total)
		}
	})
}

func TestReservationClaimWindow(t *testing.T) {
	deadline := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)
	copyID := uuid.New()
	r := Reservation{Status: ReservationFulfilled, HeldCopyID: &copyID, ClaimDeadline: &deadline}

	assert.True(t, r.ClaimOpen(deadline))
	assert.False(t, r.ClaimLapsed(deadline))
	assert.True(t, r.ClaimLapsed(deadline.Add(time.Second)))

	txID := uuid.New()
	r.ClaimedTransactionID = &txID
	assert.False(t, r.Unclaimed())
	assert.False(t, r.ClaimLapsed(deadline.Add(time.Hour)))
}

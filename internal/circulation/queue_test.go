package circulation_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clock"
	"lmscirc/internal/logger"
)

func TestReturnHandsCopyToQueueHead(t *testing.T) {
	f := newFixture(t, 1)
	alice, bob, carol := f.reader(t), f.reader(t), f.reader(t)

	tr := f.issue(t, alice, 0)
	res := f.reserve(t, bob)
	assert.Equal(t, circulation.ReservationPending, res.Status)
	assert.Equal(t, clock.AddDays(clock.Date(start), 7), res.ExpiryDate)

	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusReserved, f.copyStatus(t, 0))

	held := f.reservation(t, bob, res.ID)
	assert.Equal(t, circulation.ReservationFulfilled, held.Status)
	assert.True(t, held.Notified)
	require.NotNil(t, held.HeldCopyID)
	assert.Equal(t, f.copies[0].ID, *held.HeldCopyID)
	require.NotNil(t, held.ClaimDeadline)
	assert.Equal(t, start.Add(48*time.Hour), *held.ClaimDeadline)

	_, err = f.svc.Issue(f.ctx, f.staff, carol.UserID, f.copies[0].ID)
	assert.ErrorIs(t, err, apperr.ErrCopyNotAvailable)

	loan := f.issue(t, bob, 0)
	assert.Equal(t, catalog.StatusOnLoan, f.copyStatus(t, 0))

	claimed := f.reservation(t, bob, res.ID)
	require.NotNil(t, claimed.ClaimedTransactionID)
	assert.Equal(t, loan.ID, *claimed.ClaimedTransactionID)

	trail, err := f.svc.AuditTrail(f.ctx, f.staff, res.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, circulation.EventReservationClaimed, trail[2].EventType)
}

func TestHoldCannotBeCollectedAfterDeadline(t *testing.T) {
	f := newFixture(t, 1)
	alice, bob := f.reader(t), f.reader(t)
	tr := f.issue(t, alice, 0)
	f.reserve(t, bob)
	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	_, err = f.svc.Issue(f.ctx, f.staff, bob.UserID, f.copies[0].ID)
	assert.ErrorIs(t, err, apperr.ErrCopyNotAvailable)
}

func TestReserveRequiresEmptyShelf(t *testing.T) {
	f := newFixture(t, 2)
	alice, bob := f.reader(t), f.reader(t)
	f.issue(t, alice, 0)

	_, err := f.svc.Reserve(f.ctx, bob, bob.UserID, f.book.ID)
	assert.ErrorIs(t, err, apperr.ErrCopyAvailableDirectIssueRequired)

	_, err = f.svc.Reserve(f.ctx, bob, bob.UserID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrBookNotFound)
}

func TestDuplicateReservation(t *testing.T) {
	f := newFixture(t, 1)
	f.issue(t, f.reader(t), 0)
	bob := f.reader(t)
	f.reserve(t, bob)

	_, err := f.svc.Reserve(f.ctx, bob, bob.UserID, f.book.ID)
	assert.ErrorIs(t, err, apperr.ErrDuplicateReservation)
	assert.True(t, apperr.IsKind(err, apperr.LimitExceeded))
}

func TestReserveOnBehalfOfAnotherReader(t *testing.T) {
	f := newFixture(t, 1)
	f.issue(t, f.reader(t), 0)
	bob, carol := f.reader(t), f.reader(t)

	_, err := f.svc.Reserve(f.ctx, carol, bob.UserID, f.book.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	r, err := f.svc.Reserve(f.ctx, f.staff, bob.UserID, f.book.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, r.UserID)
}

func TestCancelReservation(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob, carol := f.reader(t), f.reader(t)
	res := f.reserve(t, bob)

	_, err := f.svc.CancelReservation(f.ctx, carol, res.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	cancelled, err := f.svc.CancelReservation(f.ctx, bob, res.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationCancelled, cancelled.Status)

	_, err = f.svc.CancelReservation(f.ctx, bob, res.ID)
	assert.ErrorIs(t, err, apperr.ErrReservationNotPending)

	_, err = f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, f.copyStatus(t, 0))

	_, err = f.svc.CancelReservation(f.ctx, bob, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrReservationNotFound)
}

func TestListReservationsNewestFirst(t *testing.T) {
	f := newFixture(t, 1)
	f.issue(t, f.reader(t), 0)
	bob := f.reader(t)

	first := f.reserve(t, bob)
	_, err := f.svc.CancelReservation(f.ctx, bob, first.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second := f.reserve(t, bob)

	list, err := f.svc.ListReservations(f.ctx, bob, bob.UserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestSweepExpiresStaleReservationsOnce(t *testing.T) {
	f := newFixture(t, 1)
	f.issue(t, f.reader(t), 0)
	bob := f.reader(t)
	res := f.reserve(t, bob)

	f.clock.Advance(7 * 24 * time.Hour)
	result, err := f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, result.ExpiredReservations, "expiry date itself is still valid")

	f.clock.Advance(24 * time.Hour)
	result, err = f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{ExpiredReservations: 1}, result)
	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, bob, res.ID).Status)

	result, err = f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{}, result)
}

func TestSweepCascadesLapsedHold(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob, carol := f.reader(t), f.reader(t)
	first := f.reserve(t, bob)
	f.clock.Advance(time.Minute)
	second := f.reserve(t, carol)

	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)

	f.clock.Advance(49 * time.Hour)
	result, err := f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{ExpiredReservations: 1, CascadedFulfillments: 1}, result)

	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, bob, first.ID).Status)
	next := f.reservation(t, carol, second.ID)
	assert.Equal(t, circulation.ReservationFulfilled, next.Status)
	require.NotNil(t, next.ClaimDeadline)
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), *next.ClaimDeadline)
	assert.Equal(t, catalog.StatusReserved, f.copyStatus(t, 0))

	f.clock.Advance(49 * time.Hour)
	result, err = f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{ExpiredReservations: 1}, result)
	assert.Equal(t, catalog.StatusAvailable, f.copyStatus(t, 0))
}

func TestSweepSkipsStaleReaderWhenCascading(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob, carol := f.reader(t), f.reader(t)
	f.reserve(t, bob)
	stale := f.reserve(t, carol)

	f.clock.Advance(6 * 24 * time.Hour)
	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)

	// bob's hold lapses after carol's reservation has passed its expiry date
	f.clock.Advance(3 * 24 * time.Hour)
	result, err := f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{ExpiredReservations: 2}, result)
	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, carol, stale.ID).Status)
	assert.Equal(t, catalog.StatusAvailable, f.copyStatus(t, 0))
}

func TestReturnPassesOverLapsedReservation(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob, carol := f.reader(t), f.reader(t)
	lapsed := f.reserve(t, bob)

	// no sweep runs between bob's expiry date and the return
	f.clock.Advance(10 * 24 * time.Hour)
	next := f.reserve(t, carol)

	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)

	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, bob, lapsed.ID).Status)
	assert.Equal(t, circulation.ReservationFulfilled, f.reservation(t, carol, next.ID).Status)
	assert.Equal(t, catalog.StatusReserved, f.copyStatus(t, 0))

	trail, err := f.svc.AuditTrail(f.ctx, f.staff, lapsed.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, circulation.EventReservationExpired, trail[1].EventType)

	result, err := f.svc.SweepExpirations(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, circulation.SweepResult{}, result)
}

func TestReturnShelvesCopyWhenOnlyLapsedReaderWaits(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob := f.reader(t)
	lapsed := f.reserve(t, bob)

	f.clock.Advance(10 * 24 * time.Hour)
	_, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)

	assert.Equal(t, catalog.StatusAvailable, f.copyStatus(t, 0))
	got := f.reservation(t, bob, lapsed.ID)
	assert.Equal(t, circulation.ReservationExpired, got.Status)
	assert.Nil(t, got.HeldCopyID)
}

func TestRenewIgnoresLapsedReservation(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)
	bob := f.reader(t)
	res := f.reserve(t, bob)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err := f.svc.Renew(f.ctx, f.staff, tr.ID)
	assert.ErrorIs(t, err, apperr.ErrReservationPending, "still valid on its expiry date")

	f.clock.Advance(24 * time.Hour)
	renewed, err := f.svc.Renew(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, bob, res.ID).Status)
}

func TestReserveAgainAfterLapse(t *testing.T) {
	f := newFixture(t, 1)
	f.issue(t, f.reader(t), 0)
	bob := f.reader(t)
	first := f.reserve(t, bob)

	f.clock.Advance(8 * 24 * time.Hour)
	second := f.reserve(t, bob)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, circulation.ReservationExpired, f.reservation(t, bob, first.ID).Status)
	assert.Equal(t, circulation.ReservationPending, f.reservation(t, bob, second.ID).Status)
}

func TestShelvedCopiesServeQueue(t *testing.T) {
	f := newFixture(t, 2)
	cat := catalog.NewService(f.store, f.clock, logger.Discard(), catalog.WithShelver(f.svc))
	f.issue(t, f.reader(t), 0)
	_, err := cat.MarkCopy(f.ctx, f.staff, f.copies[1].ID, catalog.StatusDamaged)
	require.NoError(t, err)

	bob, carol := f.reader(t), f.reader(t)
	first := f.reserve(t, bob)
	f.clock.Advance(time.Minute)
	second := f.reserve(t, carol)

	added, err := cat.AddCopy(f.ctx, f.staff, f.book.ID, "KR-900")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusReserved, added.Status)
	held := f.reservation(t, bob, first.ID)
	assert.Equal(t, circulation.ReservationFulfilled, held.Status)
	require.NotNil(t, held.HeldCopyID)
	assert.Equal(t, added.ID, *held.HeldCopyID)

	repaired, err := cat.MarkCopy(f.ctx, f.staff, f.copies[1].ID, catalog.StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusReserved, repaired.Status)
	assert.Equal(t, circulation.ReservationFulfilled, f.reservation(t, carol, second.ID).Status)

	_, err = f.svc.Issue(f.ctx, f.staff, f.reader(t).UserID, f.copies[1].ID)
	assert.ErrorIs(t, err, apperr.ErrCopyNotAvailable)
	f.issue(t, carol, 1)

	spare, err := cat.AddCopy(f.ctx, f.staff, f.book.ID, "KR-901")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, spare.Status, "nobody left waiting")
}

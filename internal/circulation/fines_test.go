package circulation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/apperr"
	"lmscirc/internal/circulation"
	"lmscirc/internal/identity"
)

// lateReturn lends copy i and returns it days past the due date.
func (f *fixture) lateReturn(t *testing.T, reader identity.Principal, i, days int) *circulation.Transaction {
	t.Helper()
	tr := f.issue(t, reader, i)
	f.clock.Advance(time.Duration(14+days) * 24 * time.Hour)
	back, err := f.svc.Return(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	return back
}

func TestOverdueReturnIsFined(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.reader(t)
	tr := f.lateReturn(t, alice, 0, 5)

	fines, err := f.svc.ListFines(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	fine := fines[0]
	assert.Equal(t, "2.50", fine.Amount.StringFixed(2))
	assert.Equal(t, circulation.FinePending, fine.Status)
	assert.Equal(t, tr.ID, fine.TransactionID)
	assert.Equal(t, "overdue return", fine.Reason)

	again, err := f.svc.AssessOverdueFine(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, fine.ID, again.ID)

	fines, err = f.svc.ListFines(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, fines, 1)
}

func TestAssessOpenLoan(t *testing.T) {
	f := newFixture(t, 1)
	tr := f.issue(t, f.reader(t), 0)

	none, err := f.svc.AssessOverdueFine(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	f.clock.Advance(17 * 24 * time.Hour)
	fine, err := f.svc.AssessOverdueFine(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, fine)
	assert.True(t, decimal.RequireFromString("1.50").Equal(fine.Amount))

	// the loan keeps accruing but the pending fine is not re-issued
	f.clock.Advance(24 * time.Hour)
	same, err := f.svc.AssessOverdueFine(f.ctx, f.staff, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, fine.ID, same.ID)
}

func TestCustomFineRate(t *testing.T) {
	cfg := circulation.DefaultConfig()
	cfg.FinePerDay = decimal.RequireFromString("1.25")
	f := newFixture(t, 1, circulation.WithConfig(cfg))
	alice := f.reader(t)
	f.lateReturn(t, alice, 0, 2)

	fines, err := f.svc.ListFines(f.ctx, f.staff, alice.UserID)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, "2.50", fines[0].Amount.StringFixed(2))
}

func TestPayFine(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.reader(t)
	f.lateReturn(t, alice, 0, 4)
	fines, err := f.svc.ListFines(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	id := fines[0].ID

	_, err = f.svc.PayFine(f.ctx, alice, id, decimal.NewFromInt(2), circulation.PaymentCash)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.PayFine(f.ctx, f.staff, id, decimal.RequireFromString("1.99"), circulation.PaymentCash)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.PayFine(f.ctx, f.staff, id, decimal.Zero, circulation.PaymentCash)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = f.svc.PayFine(f.ctx, f.staff, id, decimal.NewFromInt(2), circulation.PaymentMethod("CHEQUE"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	paid, err := f.svc.PayFine(f.ctx, f.staff, id, decimal.NewFromInt(2), circulation.PaymentCard)
	require.NoError(t, err)
	assert.Equal(t, circulation.FinePaid, paid.Status)
	require.NotNil(t, paid.PaymentMethod)
	assert.Equal(t, circulation.PaymentCard, *paid.PaymentMethod)
	require.NotNil(t, paid.PaymentDate)

	_, err = f.svc.PayFine(f.ctx, f.staff, id, decimal.NewFromInt(2), circulation.PaymentCash)
	assert.ErrorIs(t, err, apperr.ErrFineAlreadyResolved)
	_, err = f.svc.WaiveFine(f.ctx, f.staff, id, "goodwill")
	assert.ErrorIs(t, err, apperr.ErrFineAlreadyResolved)
}

func TestWaiveFine(t *testing.T) {
	f := newFixture(t, 1)
	alice := f.reader(t)
	f.lateReturn(t, alice, 0, 1)
	fines, err := f.svc.ListFines(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	id := fines[0].ID

	_, err = f.svc.WaiveFine(f.ctx, f.staff, id, "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	waived, err := f.svc.WaiveFine(f.ctx, f.staff, id, "book returned through the wrong drop box")
	require.NoError(t, err)
	assert.Equal(t, circulation.FineWaived, waived.Status)
	require.NotNil(t, waived.WaivedBy)
	assert.Equal(t, f.staff.UserID, *waived.WaivedBy)

	trail, err := f.svc.AuditTrail(f.ctx, f.staff, id)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, circulation.EventFineWaived, trail[1].EventType)
}

func TestListFinesAccess(t *testing.T) {
	f := newFixture(t, 1)
	alice, bob := f.reader(t), f.reader(t)

	_, err := f.svc.ListFines(f.ctx, bob, alice.UserID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

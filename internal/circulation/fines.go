// internal/circulation/fines.go
package circulation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
)

const overdueReason = "overdue return"

// AssessOverdueFine fines a late loan. It returns the existing pending fine
// when one already references the transaction, and nil when the loan is not late.
func (s *service) AssessOverdueFine(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Fine, error) {
	const op = "circulation.AssessOverdueFine"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	bookID, err := s.bookOfTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var fine *Fine
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		t, err := tx.Transactions().Find(ctx, transactionID)
		if err != nil {
			return err
		}
		fine, err = s.assess(ctx, tx, t, clock.Today(s.clock))
		return err
	})
	return fine, err
}

// assess computes the overdue fine of t against its return date, or today for
// open loans, and records it unless a pending fine already exists.
func (s *service) assess(ctx context.Context, tx Tx, t *Transaction, today time.Time) (*Fine, error) {
	ref := today
	if t.ReturnDate != nil {
		ref = *t.ReturnDate
	}
	days := clock.OverdueDays(t.DueDate, ref)
	if days <= 0 {
		return nil, nil
	}

	existing, err := tx.Fines().PendingForTransaction(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	f := &Fine{
		ID:            uuid.New(),
		UserID:        t.UserID,
		TransactionID: t.ID,
		Amount:        s.cfg.FinePerDay.Mul(decimal.NewFromInt(int64(days))),
		Reason:        overdueReason,
		FineDate:      today,
		Status:        FinePending,
		Version:       1,
	}
	if err := tx.Fines().Insert(ctx, f); err != nil {
		return nil, err
	}
	if err := record(ctx, tx, aggregateFine, f.ID, f.Version, EventFineAssessed, fineEvent(f)); err != nil {
		return nil, err
	}

	s.metrics.fines.Add(ctx, 1)
	return f, nil
}

// PayFine settles a pending fine in full.
func (s *service) PayFine(ctx context.Context, p identity.Principal, fineID uuid.UUID, amount decimal.Decimal, method PaymentMethod) (*Fine, error) {
	const op = "circulation.PayFine"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidArgument.With(op, "payment amount must be positive")
	}
	if !method.Valid() {
		return nil, apperr.ErrInvalidArgument.With(op, "unknown payment method %q", method)
	}

	var paid *Fine
	err := s.run(ctx, op, fineID, func(ctx context.Context, tx Tx) error {
		f, err := tx.Fines().FindForUpdate(ctx, fineID)
		if err != nil {
			return err
		}
		if f.Status != FinePending {
			return apperr.ErrFineAlreadyResolved.With(op, "fine %s is %s", f.ID, f.Status)
		}
		if amount.LessThan(f.Amount) {
			return apperr.ErrInvalidArgument.With(op, "payment %s is below the fine amount %s", amount.StringFixed(2), f.Amount.StringFixed(2))
		}

		today := clock.Today(s.clock)
		m := method
		f.Status = FinePaid
		f.PaymentDate = &today
		f.PaymentAmount = &amount
		f.PaymentMethod = &m
		if err := tx.Fines().Save(ctx, f); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateFine, f.ID, f.Version, EventFinePaid, fineEvent(f)); err != nil {
			return err
		}

		paid = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "fine paid", "fine_id", paid.ID, "amount", amount.StringFixed(2), "method", method)
	return paid, nil
}

// WaiveFine forgives a pending fine.
func (s *service) WaiveFine(ctx context.Context, p identity.Principal, fineID uuid.UUID, reason string) (*Fine, error) {
	const op = "circulation.WaiveFine"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.ErrInvalidArgument.With(op, "a waiver reason is required")
	}

	var waived *Fine
	err := s.run(ctx, op, fineID, func(ctx context.Context, tx Tx) error {
		f, err := tx.Fines().FindForUpdate(ctx, fineID)
		if err != nil {
			return err
		}
		if f.Status != FinePending {
			return apperr.ErrFineAlreadyResolved.With(op, "fine %s is %s", f.ID, f.Status)
		}

		staff := p.UserID
		f.Status = FineWaived
		f.WaivedBy = &staff
		f.WaivedReason = &reason
		if err := tx.Fines().Save(ctx, f); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateFine, f.ID, f.Version, EventFineWaived, fineEvent(f)); err != nil {
			return err
		}

		waived = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "fine waived", "fine_id", waived.ID, "staff_id", p.UserID)
	return waived, nil
}

// ListFines returns a user's fines, newest first.
func (s *service) ListFines(ctx context.Context, p identity.Principal, userID uuid.UUID) ([]Fine, error) {
	const op = "circulation.ListFines"
	if err := requireAccess(p, op, userID); err != nil {
		return nil, err
	}

	var list []Fine
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context, tx Tx) error {
		var err error
		list, err = tx.Fines().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].FineDate.After(list[j].FineDate)
	})
	return list, nil
}

func fineEvent(f *Fine) FineEvent {
	return FineEvent{
		FineID:        f.ID,
		UserID:        f.UserID,
		TransactionID: f.TransactionID,
		Amount:        f.Amount,
		Status:        f.Status,
	}
}

// internal/circulation/ledger.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Issue lends a copy to a user. The copy must be AVAILABLE, or RESERVED and
// held for this very user by a reservation whose claim window is still open.
func (s *service) Issue(ctx context.Context, p identity.Principal, userID, copyID uuid.UUID) (*Transaction, error) {
	const op = "circulation.Issue"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	user, err := s.activeUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	bookID, err := s.bookOfCopy(ctx, copyID)
	if err != nil {
		return nil, err
	}

	var issued *Transaction
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		c, err := tx.Copies().GetCopy(ctx, copyID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		var claim *Reservation
		switch c.Status {
		case catalog.StatusAvailable:
		case catalog.StatusReserved:
			held, err := tx.Reservations().HeldForCopy(ctx, c.ID)
			if err != nil {
				return err
			}
			if held == nil || held.UserID != userID || !held.ClaimOpen(now) {
				return apperr.ErrCopyNotAvailable.With(op, "copy %s is held for another reader", c.ID)
			}
			claim = held
		default:
			return apperr.ErrCopyNotAvailable.With(op, "copy %s is %s", c.ID, c.Status)
		}

		if err := s.policy.AllowLoan(ctx, tx, user); err != nil {
			return err
		}

		if _, err := tx.Copies().SetCopyStatus(ctx, c.ID, catalog.StatusOnLoan, c.Version); err != nil {
			return err
		}

		today := clock.Date(now)
		t := &Transaction{
			ID:        uuid.New(),
			UserID:    userID,
			CopyID:    c.ID,
			BookID:    c.BookID,
			IssueDate: today,
			DueDate:   clock.AddDays(today, s.cfg.LoanPeriodDays),
			Status:    TransactionIssued,
			IssuedBy:  p.UserID,
			Version:   1,
		}
		if err := tx.Transactions().Insert(ctx, t); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateTransaction, t.ID, t.Version, EventLoanIssued, LoanIssuedEvent{
			TransactionID: t.ID,
			UserID:        t.UserID,
			CopyID:        t.CopyID,
			DueDate:       t.DueDate,
			IssuedBy:      t.IssuedBy,
		}); err != nil {
			return err
		}

		if claim != nil {
			claim.ClaimedTransactionID = &t.ID
			if err := tx.Reservations().Save(ctx, claim); err != nil {
				return err
			}
			if err := record(ctx, tx, aggregateReservation, claim.ID, claim.Version, EventReservationClaimed, reservationEvent(claim)); err != nil {
				return err
			}
		}

		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "loan issued",
		"transaction_id", issued.ID,
		"user_id", issued.UserID,
		"copy_id", issued.CopyID,
		"due_date", issued.DueDate.Format("2006-01-02"),
		"staff_id", p.UserID)
	return issued, nil
}

// Return closes a loan. The copy goes to the head of the book's reservation
// queue if anyone is waiting, otherwise back on the shelf. An overdue loan is
// fined in the same unit of work.
func (s *service) Return(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Transaction, error) {
	const op = "circulation.Return"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	bookID, err := s.bookOfTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var (
		returned  *Transaction
		fine      *Fine
		fulfilled *Reservation
	)
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		fine, fulfilled = nil, nil
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		t, err := tx.Transactions().FindForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !t.Open() {
			return apperr.ErrAlreadyReturned.With(op, "transaction %s", t.ID)
		}

		now := s.clock.Now()
		today := clock.Date(now)
		overdue := t.Overdue(today)

		t.ReturnDate = &today
		t.Status = TransactionReturned
		staff := p.UserID
		t.ReturnedTo = &staff
		if err := tx.Transactions().Save(ctx, t); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateTransaction, t.ID, t.Version, EventLoanReturned, LoanReturnedEvent{
			TransactionID: t.ID,
			CopyID:        t.CopyID,
			ReturnDate:    today,
			Overdue:       overdue,
			ReturnedTo:    staff,
		}); err != nil {
			return err
		}

		c, err := tx.Copies().GetCopy(ctx, t.CopyID)
		if err != nil {
			return err
		}
		if fulfilled, err = s.fulfill(ctx, tx, c, now); err != nil {
			return err
		}

		if overdue {
			if fine, err = s.assess(ctx, tx, t, today); err != nil {
				return err
			}
		}

		returned = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	attrs := []any{"transaction_id", returned.ID, "copy_id", returned.CopyID, "staff_id", p.UserID}
	if fulfilled != nil {
		attrs = append(attrs, "reservation_id", fulfilled.ID)
	}
	if fine != nil {
		attrs = append(attrs, "fine_id", fine.ID, "fine_amount", fine.Amount.StringFixed(2))
	}
	s.log.InfoContext(ctx, "loan returned", attrs...)
	return returned, nil
}

// Renew extends an open loan by one loan period from today. Nobody may be
// waiting for the book, and the renewal cap applies.
func (s *service) Renew(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Transaction, error) {
	const op = "circulation.Renew"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	bookID, err := s.bookOfTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var renewed *Transaction
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		t, err := tx.Transactions().FindForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !t.Open() {
			return apperr.ErrAlreadyReturned.With(op, "transaction %s", t.ID)
		}

		waiting, err := s.waiting(ctx, tx, t.BookID, clock.Today(s.clock))
		if err != nil {
			return err
		}
		if len(waiting) > 0 {
			return apperr.ErrReservationPending.With(op, "%d reader(s) waiting for book %s", len(waiting), t.BookID)
		}
		if t.RenewalCount >= s.cfg.MaxRenewals {
			return apperr.ErrRenewalLimitExceeded.With(op, "renewed %d of %d times", t.RenewalCount, s.cfg.MaxRenewals)
		}

		t.DueDate = clock.AddDays(clock.Today(s.clock), s.cfg.LoanPeriodDays)
		t.RenewalCount++
		t.Status = TransactionRenewed
		if err := tx.Transactions().Save(ctx, t); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateTransaction, t.ID, t.Version, EventLoanRenewed, LoanRenewedEvent{
			TransactionID: t.ID,
			DueDate:       t.DueDate,
			RenewalCount:  t.RenewalCount,
		}); err != nil {
			return err
		}

		renewed = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "loan renewed",
		"transaction_id", renewed.ID,
		"renewal_count", renewed.RenewalCount,
		"due_date", renewed.DueDate.Format("2006-01-02"))
	return renewed, nil
}

// History returns one page of a user's loans, newest first. page is 1-based;
// a zero pageSize selects the default.
func (s *service) History(ctx context.Context, p identity.Principal, userID uuid.UUID, page, pageSize int) (*HistoryPage, error) {
	const op = "circulation.History"
	if err := requireAccess(p, op, userID); err != nil {
		return nil, err
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return nil, apperr.ErrInvalidArgument.With(op, "page must be >= 1 and page size within 1..%d", maxPageSize)
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	var result *HistoryPage
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context, tx Tx) error {
		rows, total, err := tx.Transactions().ListByUser(ctx, userID, (page-1)*pageSize, pageSize)
		if err != nil {
			return err
		}

		today := clock.Today(s.clock)
		titles := make(map[uuid.UUID]string)
		items := make([]TransactionSummary, 0, len(rows))
		for _, t := range rows {
			title, ok := titles[t.CopyID]
			if !ok {
				c, err := tx.Copies().GetCopy(ctx, t.CopyID)
				if err != nil {
					return err
				}
				title = c.Title
				titles[t.CopyID] = title
			}
			items = append(items, TransactionSummary{
				ID:           t.ID,
				CopyID:       t.CopyID,
				BookID:       t.BookID,
				BookTitle:    title,
				IssueDate:    t.IssueDate,
				DueDate:      t.DueDate,
				ReturnDate:   t.ReturnDate,
				RenewalCount: t.RenewalCount,
				Status:       t.Status,
				Overdue:      t.Overdue(today),
			})
		}

		result = &HistoryPage{Items: items, Meta: newPageMeta(page, pageSize, total)}
		return nil
	})
	return result, err
}

// bookOfCopy resolves the book a copy belongs to, which keys the circulation lock.
func (s *service) bookOfCopy(ctx context.Context, copyID uuid.UUID) (uuid.UUID, error) {
	var bookID uuid.UUID
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.Copies().GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		bookID = c.BookID
		return nil
	})
	return bookID, err
}

func (s *service) bookOfTransaction(ctx context.Context, transactionID uuid.UUID) (uuid.UUID, error) {
	var bookID uuid.UUID
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.Transactions().Find(ctx, transactionID)
		if err != nil {
			return err
		}
		bookID = t.BookID
		return nil
	})
	return bookID, err
}

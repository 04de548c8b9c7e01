// internal/circulation/queue.go
package circulation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
)

// Reserve queues a user for a book that has no copy on the shelf.
func (s *service) Reserve(ctx context.Context, p identity.Principal, userID, bookID uuid.UUID) (*Reservation, error) {
	const op = "circulation.Reserve"
	if err := requireAccess(p, op, userID); err != nil {
		return nil, err
	}
	if _, err := s.activeUser(ctx, op, userID); err != nil {
		return nil, err
	}

	var placed *Reservation
	err := s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		avail, err := tx.Copies().GetBookAvailability(ctx, bookID)
		if err != nil {
			return err
		}
		if avail.Available > 0 {
			return apperr.ErrCopyAvailableDirectIssueRequired.With(op, "%d of %d copies on the shelf", avail.Available, avail.Total)
		}

		now := s.clock.Now()
		existing, err := tx.Reservations().PendingForUserBook(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.ExpiryDate.Before(clock.Date(now)) {
				return apperr.ErrDuplicateReservation.With(op, "reservation %s", existing.ID)
			}
			if err := s.expire(ctx, tx, existing); err != nil {
				return err
			}
		}

		r := &Reservation{
			ID:              uuid.New(),
			BookID:          bookID,
			UserID:          userID,
			ReservationDate: now,
			ExpiryDate:      clock.AddDays(clock.Date(now), s.cfg.ReservationTTLDays),
			Status:          ReservationPending,
			Version:         1,
		}
		if err := tx.Reservations().Insert(ctx, r); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateReservation, r.ID, r.Version, EventReservationPlaced, reservationEvent(r)); err != nil {
			return err
		}

		placed = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "reservation placed",
		"reservation_id", placed.ID,
		"book_id", placed.BookID,
		"user_id", placed.UserID,
		"expiry_date", placed.ExpiryDate.Format("2006-01-02"))
	return placed, nil
}

// CancelReservation withdraws a pending reservation. Copies are not touched.
func (s *service) CancelReservation(ctx context.Context, p identity.Principal, reservationID uuid.UUID) (*Reservation, error) {
	const op = "circulation.CancelReservation"
	bookID, err := s.bookOfReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var cancelled *Reservation
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		r, err := tx.Reservations().FindForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := requireAccess(p, op, r.UserID); err != nil {
			return err
		}
		if r.Status != ReservationPending {
			return apperr.ErrReservationNotPending.With(op, "reservation %s is %s", r.ID, r.Status)
		}

		r.Status = ReservationCancelled
		if err := tx.Reservations().Save(ctx, r); err != nil {
			return err
		}
		if err := record(ctx, tx, aggregateReservation, r.ID, r.Version, EventReservationCancelled, reservationEvent(r)); err != nil {
			return err
		}

		cancelled = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "reservation cancelled", "reservation_id", cancelled.ID, "by", p.UserID)
	return cancelled, nil
}

// ListReservations returns a user's reservations, newest first.
func (s *service) ListReservations(ctx context.Context, p identity.Principal, userID uuid.UUID) ([]Reservation, error) {
	const op = "circulation.ListReservations"
	if err := requireAccess(p, op, userID); err != nil {
		return nil, err
	}

	var list []Reservation
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context, tx Tx) error {
		var err error
		list, err = tx.Reservations().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].ReservationDate.Equal(list[j].ReservationDate) {
			return list[i].ReservationDate.After(list[j].ReservationDate)
		}
		return list[i].Sequence > list[j].Sequence
	})
	return list, nil
}

// SweepExpirations expires pending reservations past their expiry date, then
// expires fulfilled holds whose claim window lapsed and hands each freed copy
// to the next reader in line. Each reservation is settled in its own unit of
// work; running the sweep again with the same now changes nothing.
func (s *service) SweepExpirations(ctx context.Context, now time.Time) (SweepResult, error) {
	const op = "circulation.SweepExpirations"
	var result SweepResult
	today := clock.Date(now)

	var stale, lapsed []Reservation
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if stale, err = tx.Reservations().ExpiredPending(ctx, today); err != nil {
			return err
		}
		lapsed, err = tx.Reservations().LapsedClaims(ctx, now)
		return err
	})
	if err != nil {
		return result, err
	}

	var errs []error
	for _, candidate := range stale {
		expired := false
		err := s.run(ctx, op, candidate.BookID, func(ctx context.Context, tx Tx) error {
			expired = false
			if err := tx.LockBook(ctx, candidate.BookID); err != nil {
				return err
			}
			r, err := tx.Reservations().FindForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if r.Status != ReservationPending || !r.ExpiryDate.Before(today) {
				return nil
			}
			if err := s.expire(ctx, tx, r); err != nil {
				return err
			}
			expired = true
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			result.ExpiredReservations++
		}
	}

	// Pending expiry runs first so a lapsed hold never cascades to a stale reader.
	for _, candidate := range lapsed {
		expired, cascaded := false, false
		err := s.run(ctx, op, candidate.BookID, func(ctx context.Context, tx Tx) error {
			expired, cascaded = false, false
			if err := tx.LockBook(ctx, candidate.BookID); err != nil {
				return err
			}
			r, err := tx.Reservations().FindForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !r.ClaimLapsed(now) {
				return nil
			}
			if err := s.expire(ctx, tx, r); err != nil {
				return err
			}
			expired = true

			if r.HeldCopyID == nil {
				return nil
			}
			c, err := tx.Copies().GetCopy(ctx, *r.HeldCopyID)
			if err != nil {
				return err
			}
			if c.Status != catalog.StatusReserved {
				return nil
			}
			next, err := s.fulfill(ctx, tx, c, now)
			if err != nil {
				return err
			}
			cascaded = next != nil
			return nil
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if expired {
			result.ExpiredReservations++
		}
		if cascaded {
			result.CascadedFulfillments++
		}
	}

	if result.ExpiredReservations > 0 || len(errs) > 0 {
		s.log.InfoContext(ctx, "expiry sweep finished",
			"expired", result.ExpiredReservations,
			"cascaded", result.CascadedFulfillments,
			"failures", len(errs))
	}
	return result, errors.Join(errs...)
}

// Shelve hands an AVAILABLE copy to the head of its book's queue. Copies in any
// other state, or with nobody waiting, are left alone.
func (s *service) Shelve(ctx context.Context, copyID uuid.UUID) error {
	const op = "circulation.Shelve"
	bookID, err := s.bookOfCopy(ctx, copyID)
	if err != nil {
		return err
	}

	var held *Reservation
	err = s.run(ctx, op, bookID, func(ctx context.Context, tx Tx) error {
		held = nil
		if err := tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		c, err := tx.Copies().GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if c.Status != catalog.StatusAvailable {
			return nil
		}
		held, err = s.fulfill(ctx, tx, c, s.clock.Now())
		return err
	})
	if err != nil {
		return err
	}

	if held != nil {
		s.log.InfoContext(ctx, "shelved copy held for reservation", "copy_id", copyID, "reservation_id", held.ID)
	}
	return nil
}

// fulfill hands copy c to the first pending reservation for its book, holding
// it for the claim window. With nobody waiting the copy goes back on the shelf.
func (s *service) fulfill(ctx context.Context, tx Tx, c *catalog.Copy, now time.Time) (*Reservation, error) {
	waiting, err := s.waiting(ctx, tx, c.BookID, clock.Date(now))
	if err != nil {
		return nil, err
	}

	if len(waiting) == 0 {
		if c.Status != catalog.StatusAvailable {
			if _, err := tx.Copies().SetCopyStatus(ctx, c.ID, catalog.StatusAvailable, c.Version); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	next := waiting[0]
	deadline := now.Add(s.cfg.ClaimWindow)
	copyID := c.ID
	next.Status = ReservationFulfilled
	next.Notified = true
	next.HeldCopyID = &copyID
	next.ClaimDeadline = &deadline
	if err := tx.Reservations().Save(ctx, &next); err != nil {
		return nil, err
	}
	if err := record(ctx, tx, aggregateReservation, next.ID, next.Version, EventReservationFulfilled, reservationEvent(&next)); err != nil {
		return nil, err
	}

	if c.Status != catalog.StatusReserved {
		if _, err := tx.Copies().SetCopyStatus(ctx, c.ID, catalog.StatusReserved, c.Version); err != nil {
			return nil, err
		}
	}

	s.log.DebugContext(ctx, "reservation fulfilled",
		"reservation_id", next.ID,
		"copy_id", c.ID,
		"claim_deadline", deadline)
	return &next, nil
}

// waiting returns the book's queue in FIFO order. Pending reservations past
// their expiry date that no sweep has settled yet are expired on the way.
func (s *service) waiting(ctx context.Context, tx Tx, bookID uuid.UUID, today time.Time) ([]Reservation, error) {
	pending, err := tx.Reservations().PendingForBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	live := make([]Reservation, 0, len(pending))
	for i := range pending {
		r := &pending[i]
		if r.ExpiryDate.Before(today) {
			if err := s.expire(ctx, tx, r); err != nil {
				return nil, err
			}
			s.log.DebugContext(ctx, "stale reservation expired", "reservation_id", r.ID, "expiry_date", r.ExpiryDate.Format("2006-01-02"))
			continue
		}
		live = append(live, *r)
	}
	sortFIFO(live)
	return live, nil
}

func (s *service) expire(ctx context.Context, tx Tx, r *Reservation) error {
	r.Status = ReservationExpired
	if err := tx.Reservations().Save(ctx, r); err != nil {
		return err
	}
	return record(ctx, tx, aggregateReservation, r.ID, r.Version, EventReservationExpired, reservationEvent(r))
}

func (s *service) bookOfReservation(ctx context.Context, reservationID uuid.UUID) (uuid.UUID, error) {
	var bookID uuid.UUID
	err := s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.Reservations().Find(ctx, reservationID)
		if err != nil {
			return err
		}
		bookID = r.BookID
		return nil
	})
	return bookID, err
}

func reservationEvent(r *Reservation) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ID,
		BookID:        r.BookID,
		UserID:        r.UserID,
		Status:        r.Status,
		HeldCopyID:    r.HeldCopyID,
		TransactionID: r.ClaimedTransactionID,
	}
}

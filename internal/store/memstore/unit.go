package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/eventstore"
)

var _ circulation.Tx = (*unit)(nil)

func (u *unit) Copies() circulation.CopyGateway                  { return copyTable{u} }
func (u *unit) Transactions() circulation.TransactionRepository { return transactionTable{u} }
func (u *unit) Reservations() circulation.ReservationRepository { return reservationTable{u} }
func (u *unit) Fines() circulation.FineRepository               { return fineTable{u} }
func (u *unit) Events() circulation.EventLog                    { return eventLog{u} }

// LockBook is a no-op: commit-time validation rejects interleaved writers.
func (u *unit) LockBook(ctx context.Context, bookID uuid.UUID) error {
	return ctx.Err()
}

// lookup returns the row as this unit sees it.
func lookup[T any](s *Store, committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], id uuid.UUID) (T, bool) {
	if ch, ok := staged[id]; ok {
		return ch.row, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := committed[id]
	return row, ok
}

// view returns every row matching keep as this unit sees them.
func view[T any](s *Store, committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], keep func(*T) bool) []T {
	s.mu.RLock()
	rows := after(committed, staged)
	s.mu.RUnlock()

	out := rows[:0]
	for i := range rows {
		if keep(&rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

func insert[T any](s *Store, committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], id uuid.UUID, row T) error {
	if _, ok := lookup(s, committed, staged, id); ok {
		return apperr.ErrConcurrentModification.With("memstore.insert", "%s already exists", id)
	}
	staged[id] = &change[T]{row: row, insert: true}
	return nil
}

// save stages row if its version matches what this unit sees, bumping it in place.
func save[T any](s *Store, committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], id uuid.UUID, row *T, version func(*T) *int, notFound *apperr.Error) error {
	const op = "memstore.save"
	want := *version(row)

	if ch, ok := staged[id]; ok {
		if got := *version(&ch.row); got != want {
			return apperr.ErrConcurrentModification.With(op, "%s at version %d, saving %d", id, got, want)
		}
		*version(row) = want + 1
		ch.row = *row
		return nil
	}

	s.mu.RLock()
	cur, ok := committed[id]
	s.mu.RUnlock()
	if !ok {
		return notFound.With(op, "%s", id)
	}
	if got := *version(&cur); got != want {
		return apperr.ErrConcurrentModification.With(op, "%s at version %d, saving %d", id, got, want)
	}
	*version(row) = want + 1
	staged[id] = &change[T]{row: *row, base: want}
	return nil
}

type copyTable struct{ u *unit }

func (t copyTable) GetCopy(_ context.Context, id uuid.UUID) (*catalog.Copy, error) {
	c, ok := lookup(t.u.s, t.u.s.copies, t.u.copies, id)
	if !ok {
		return nil, apperr.ErrCopyNotFound.With("memstore.GetCopy", "%s", id)
	}
	return &c, nil
}

func (t copyTable) GetBookAvailability(_ context.Context, bookID uuid.UUID) (*catalog.Availability, error) {
	if !t.u.hasBook(bookID) {
		return nil, apperr.ErrBookNotFound.With("memstore.GetBookAvailability", "%s", bookID)
	}
	copies := view(t.u.s, t.u.s.copies, t.u.copies, func(c *catalog.Copy) bool { return c.BookID == bookID })
	return catalog.Tally(bookID, copies), nil
}

func (t copyTable) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus, expectedVersion int) (*catalog.Copy, error) {
	c, err := t.GetCopy(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Version = expectedVersion
	c.Status = status
	if err := save(t.u.s, t.u.s.copies, t.u.copies, id, c, copyVersion, apperr.ErrCopyNotFound); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *unit) hasBook(id uuid.UUID) bool {
	if _, ok := u.books[id]; ok {
		return true
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	_, ok := u.s.books[id]
	return ok
}

type transactionTable struct{ u *unit }

func (t transactionTable) Find(_ context.Context, id uuid.UUID) (*circulation.Transaction, error) {
	row, ok := lookup(t.u.s, t.u.s.transactions, t.u.transactions, id)
	if !ok {
		return nil, apperr.ErrTransactionNotFound.With("memstore.Transactions.Find", "%s", id)
	}
	return &row, nil
}

func (t transactionTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Transaction, error) {
	return t.Find(ctx, id)
}

func (t transactionTable) Insert(_ context.Context, row *circulation.Transaction) error {
	return insert(t.u.s, t.u.s.transactions, t.u.transactions, row.ID, *row)
}

func (t transactionTable) Save(_ context.Context, row *circulation.Transaction) error {
	return save(t.u.s, t.u.s.transactions, t.u.transactions, row.ID, row, transactionVersion, apperr.ErrTransactionNotFound)
}

func (t transactionTable) ListByUser(_ context.Context, userID uuid.UUID, offset, limit int) ([]circulation.Transaction, int, error) {
	rows := view(t.u.s, t.u.s.transactions, t.u.transactions, func(x *circulation.Transaction) bool { return x.UserID == userID })
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].IssueDate.Equal(rows[j].IssueDate) {
			return rows[i].IssueDate.After(rows[j].IssueDate)
		}
		return rows[i].Sequence > rows[j].Sequence
	})
	total := len(rows)
	if offset >= total {
		return []circulation.Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return rows[offset:end], total, nil
}

type reservationTable struct{ u *unit }

func (t reservationTable) Find(_ context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	row, ok := lookup(t.u.s, t.u.s.reservations, t.u.reservations, id)
	if !ok {
		return nil, apperr.ErrReservationNotFound.With("memstore.Reservations.Find", "%s", id)
	}
	return &row, nil
}

func (t reservationTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	return t.Find(ctx, id)
}

func (t reservationTable) Insert(_ context.Context, row *circulation.Reservation) error {
	return insert(t.u.s, t.u.s.reservations, t.u.reservations, row.ID, *row)
}

func (t reservationTable) Save(_ context.Context, row *circulation.Reservation) error {
	return save(t.u.s, t.u.s.reservations, t.u.reservations, row.ID, row, reservationVersion, apperr.ErrReservationNotFound)
}

func (t reservationTable) where(keep func(*circulation.Reservation) bool) []circulation.Reservation {
	rows := view(t.u.s, t.u.s.reservations, t.u.reservations, keep)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].ReservationDate.Equal(rows[j].ReservationDate) {
			return rows[i].ReservationDate.Before(rows[j].ReservationDate)
		}
		return rows[i].Sequence < rows[j].Sequence
	})
	return rows
}

func (t reservationTable) PendingForBook(_ context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	return t.where(func(r *circulation.Reservation) bool {
		return r.BookID == bookID && r.Status == circulation.ReservationPending
	}), nil
}

func (t reservationTable) PendingForUserBook(_ context.Context, userID, bookID uuid.UUID) (*circulation.Reservation, error) {
	rows := t.where(func(r *circulation.Reservation) bool {
		return r.UserID == userID && r.BookID == bookID && r.Status == circulation.ReservationPending
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (t reservationTable) HeldForCopy(_ context.Context, copyID uuid.UUID) (*circulation.Reservation, error) {
	rows := t.where(func(r *circulation.Reservation) bool {
		return r.Unclaimed() && r.HeldCopyID != nil && *r.HeldCopyID == copyID
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (t reservationTable) ExpiredPending(_ context.Context, today time.Time) ([]circulation.Reservation, error) {
	return t.where(func(r *circulation.Reservation) bool {
		return r.Status == circulation.ReservationPending && r.ExpiryDate.Before(today)
	}), nil
}

func (t reservationTable) LapsedClaims(_ context.Context, now time.Time) ([]circulation.Reservation, error) {
	return t.where(func(r *circulation.Reservation) bool { return r.ClaimLapsed(now) }), nil
}

func (t reservationTable) ListByUser(_ context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	return t.where(func(r *circulation.Reservation) bool { return r.UserID == userID }), nil
}

type fineTable struct{ u *unit }

func (t fineTable) Find(_ context.Context, id uuid.UUID) (*circulation.Fine, error) {
	row, ok := lookup(t.u.s, t.u.s.fines, t.u.fines, id)
	if !ok {
		return nil, apperr.ErrFineNotFound.With("memstore.Fines.Find", "%s", id)
	}
	return &row, nil
}

func (t fineTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Fine, error) {
	return t.Find(ctx, id)
}

func (t fineTable) Insert(_ context.Context, row *circulation.Fine) error {
	return insert(t.u.s, t.u.s.fines, t.u.fines, row.ID, *row)
}

func (t fineTable) Save(_ context.Context, row *circulation.Fine) error {
	return save(t.u.s, t.u.s.fines, t.u.fines, row.ID, row, fineVersion, apperr.ErrFineNotFound)
}

func (t fineTable) PendingForTransaction(_ context.Context, transactionID uuid.UUID) (*circulation.Fine, error) {
	rows := view(t.u.s, t.u.s.fines, t.u.fines, func(f *circulation.Fine) bool {
		return f.TransactionID == transactionID && f.Status == circulation.FinePending
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (t fineTable) HasPending(_ context.Context, userID uuid.UUID) (bool, error) {
	rows := view(t.u.s, t.u.s.fines, t.u.fines, func(f *circulation.Fine) bool {
		return f.UserID == userID && f.Status == circulation.FinePending
	})
	return len(rows) > 0, nil
}

func (t fineTable) ListByUser(_ context.Context, userID uuid.UUID) ([]circulation.Fine, error) {
	return view(t.u.s, t.u.s.fines, t.u.fines, func(f *circulation.Fine) bool { return f.UserID == userID }), nil
}

type eventLog struct{ u *unit }

func (l eventLog) Append(_ context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}
	head, ok := l.u.headVersions[aggregateID]
	if !ok {
		l.u.s.mu.RLock()
		head = l.u.s.versions[aggregateID]
		l.u.s.mu.RUnlock()
		l.u.baseVersions[aggregateID] = head
	}
	if head != expectedVersion {
		return apperr.ErrConcurrentModification.Wrap("memstore.Events.Append", eventstore.ErrConcurrencyConflict)
	}
	l.u.headVersions[aggregateID] = head + len(events)
	l.u.batches = append(l.u.batches, eventBatch{
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		events:        append([]eventstore.Event(nil), events...),
	})
	return nil
}

func (l eventLog) Load(_ context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	s := l.u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventstore.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l eventLog) Stream(_ context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	s := l.u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].ID > afterID })
	end := i + limit
	if end > len(s.events) {
		end = len(s.events)
	}
	return append([]eventstore.Event(nil), s.events[i:end]...), nil
}

// Package memstore is an in-memory implementation of the circulation,
// catalog and identity stores.
//
// A unit of work reads committed rows and stages its writes privately. At
// commit, under the store mutex, every staged update must still match the
// version it was read at and the store-wide uniqueness rules must hold;
// otherwise the whole unit is discarded with a Conflict.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/eventstore"
	"lmscirc/internal/identity"
)

// Store holds all committed state.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	seq      int64
	eventSeq int64

	books        map[uuid.UUID]catalog.Book
	copies       map[uuid.UUID]catalog.Copy
	transactions map[uuid.UUID]circulation.Transaction
	reservations map[uuid.UUID]circulation.Reservation
	fines        map[uuid.UUID]circulation.Fine
	events       []eventstore.Event
	versions     map[uuid.UUID]int

	users map[uuid.UUID]identity.User
	creds map[uuid.UUID]identity.Credential
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:          func() time.Time { return time.Now().UTC() },
		books:        map[uuid.UUID]catalog.Book{},
		copies:       map[uuid.UUID]catalog.Copy{},
		transactions: map[uuid.UUID]circulation.Transaction{},
		reservations: map[uuid.UUID]circulation.Reservation{},
		fines:        map[uuid.UUID]circulation.Fine{},
		versions:     map[uuid.UUID]int{},
		users:        map[uuid.UUID]identity.User{},
		creds:        map[uuid.UUID]identity.Credential{},
	}
}

var _ circulation.Store = (*Store)(nil)

// Atomic runs fn against a private unit of work and commits it if fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	u := s.begin()
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(u)
}

func (s *Store) atomic(fn func(u *unit) error) error {
	u := s.begin()
	if err := fn(u); err != nil {
		return err
	}
	return s.commit(u)
}

// change is a staged write. base is the committed version the writer started from.
type change[T any] struct {
	row    T
	base   int
	insert bool
}

type eventBatch struct {
	aggregateID   uuid.UUID
	aggregateType string
	events        []eventstore.Event
}

type unit struct {
	s *Store

	books        map[uuid.UUID]catalog.Book
	copies       map[uuid.UUID]*change[catalog.Copy]
	transactions map[uuid.UUID]*change[circulation.Transaction]
	reservations map[uuid.UUID]*change[circulation.Reservation]
	fines        map[uuid.UUID]*change[circulation.Fine]

	batches      []eventBatch
	baseVersions map[uuid.UUID]int
	headVersions map[uuid.UUID]int
}

func (s *Store) begin() *unit {
	return &unit{
		s:            s,
		books:        map[uuid.UUID]catalog.Book{},
		copies:       map[uuid.UUID]*change[catalog.Copy]{},
		transactions: map[uuid.UUID]*change[circulation.Transaction]{},
		reservations: map[uuid.UUID]*change[circulation.Reservation]{},
		fines:        map[uuid.UUID]*change[circulation.Fine]{},
		baseVersions: map[uuid.UUID]int{},
		headVersions: map[uuid.UUID]int{},
	}
}

func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "memstore.commit"
	conflict := func(format string, args ...any) error {
		return apperr.ErrConcurrentModification.With(op, format, args...)
	}

	for id := range u.books {
		if _, ok := s.books[id]; ok {
			return conflict("book %s already exists", id)
		}
	}
	if err := validate(s.copies, u.copies, copyVersion); err != nil {
		return conflict("copy %v", err)
	}
	if err := validate(s.transactions, u.transactions, transactionVersion); err != nil {
		return conflict("transaction %v", err)
	}
	if err := validate(s.reservations, u.reservations, reservationVersion); err != nil {
		return conflict("reservation %v", err)
	}
	if err := validate(s.fines, u.fines, fineVersion); err != nil {
		return conflict("fine %v", err)
	}
	for id, base := range u.baseVersions {
		if s.versions[id] != base {
			return conflict("event stream %s moved from version %d to %d", id, base, s.versions[id])
		}
	}

	if err := s.checkInvariants(u); err != nil {
		return err
	}

	for id, b := range u.books {
		s.books[id] = b
	}
	apply(s.copies, u.copies, func(*catalog.Copy) {})
	apply(s.transactions, u.transactions, func(t *circulation.Transaction) {
		s.seq++
		t.Sequence = s.seq
	})
	apply(s.reservations, u.reservations, func(r *circulation.Reservation) {
		s.seq++
		r.Sequence = s.seq
	})
	apply(s.fines, u.fines, func(*circulation.Fine) {})

	now := s.now()
	for _, b := range u.batches {
		for _, e := range b.events {
			s.eventSeq++
			s.versions[b.aggregateID]++
			e.ID = s.eventSeq
			e.AggregateID = b.aggregateID
			e.AggregateType = b.aggregateType
			e.Version = s.versions[b.aggregateID]
			e.CreatedAt = now
			s.events = append(s.events, e)
		}
	}
	return nil
}

// checkInvariants enforces the uniqueness rules a database would hold as indexes:
// one open loan per copy, one pending reservation per reader and book, unique barcodes.
func (s *Store) checkInvariants(u *unit) error {
	for id, ch := range u.transactions {
		if !ch.row.Open() {
			continue
		}
		for _, other := range after(s.transactions, u.transactions) {
			if other.ID != id && other.Open() && other.CopyID == ch.row.CopyID {
				return apperr.ErrConcurrentModification.With("memstore.commit", "copy %s already has open transaction %s", ch.row.CopyID, other.ID)
			}
		}
	}
	for id, ch := range u.reservations {
		if ch.row.Status != circulation.ReservationPending {
			continue
		}
		for _, other := range after(s.reservations, u.reservations) {
			if other.ID != id && other.Status == circulation.ReservationPending &&
				other.UserID == ch.row.UserID && other.BookID == ch.row.BookID {
				return apperr.ErrDuplicateReservation.With("memstore.commit", "reservation %s", other.ID)
			}
		}
	}
	for id, ch := range u.copies {
		if !ch.insert {
			continue
		}
		for _, other := range after(s.copies, u.copies) {
			if other.ID != id && other.Barcode == ch.row.Barcode {
				return apperr.ErrDuplicateBarcode.With("memstore.commit", "barcode %q", ch.row.Barcode)
			}
		}
	}
	return nil
}

func validate[T any](committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], version func(*T) *int) error {
	for id, ch := range staged {
		cur, exists := committed[id]
		switch {
		case ch.insert && exists:
			return errAlreadyExists(id)
		case !ch.insert && !exists:
			return errVanished(id)
		case !ch.insert && *version(&cur) != ch.base:
			return errStale(id, ch.base, *version(&cur))
		}
	}
	return nil
}

func apply[T any](committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T], onInsert func(*T)) {
	for id, ch := range staged {
		row := ch.row
		if ch.insert {
			onInsert(&row)
		}
		committed[id] = row
	}
}

// after returns the rows as they would stand once staged writes are applied.
// The caller must hold s.mu.
func after[T any](committed map[uuid.UUID]T, staged map[uuid.UUID]*change[T]) []T {
	out := make([]T, 0, len(committed)+len(staged))
	for id, row := range committed {
		if _, ok := staged[id]; !ok {
			out = append(out, row)
		}
	}
	for _, ch := range staged {
		out = append(out, ch.row)
	}
	return out
}

func copyVersion(c *catalog.Copy) *int                    { return &c.Version }
func transactionVersion(t *circulation.Transaction) *int { return &t.Version }
func reservationVersion(r *circulation.Reservation) *int { return &r.Version }
func fineVersion(f *circulation.Fine) *int               { return &f.Version }

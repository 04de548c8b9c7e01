// internal/circulation/store.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lmscirc/internal/catalog"
	"lmscirc/internal/eventstore"
	"lmscirc/internal/identity"
)

// CopyGateway is the catalog as seen from inside a unit of work.
type CopyGateway interface {
	GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error)
	GetBookAvailability(ctx context.Context, bookID uuid.UUID) (*catalog.Availability, error)
	SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus, expectedVersion int) (*catalog.Copy, error)
}

// UserDirectory resolves user ids to accounts.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Save methods compare the row's Version with the stored one, fail with
// apperr.ErrConcurrentModification on mismatch, and bump Version in place on success.
// Find methods fail with the matching NotFound error. Lookups that return a
// single optional row return nil, nil when there is none.

type TransactionRepository interface {
	Find(ctx context.Context, id uuid.UUID) (*Transaction, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)
	Insert(ctx context.Context, t *Transaction) error
	Save(ctx context.Context, t *Transaction) error
	// ListByUser returns one page ordered by issue date then sequence, newest
	// first, and the total row count for the user.
	ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Transaction, int, error)
}

type ReservationRepository interface {
	Find(ctx context.Context, id uuid.UUID) (*Reservation, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Insert(ctx context.Context, r *Reservation) error
	Save(ctx context.Context, r *Reservation) error
	PendingForBook(ctx context.Context, bookID uuid.UUID) ([]Reservation, error)
	PendingForUserBook(ctx context.Context, userID, bookID uuid.UUID) (*Reservation, error)
	// HeldForCopy returns the fulfilled, unclaimed reservation holding copyID.
	HeldForCopy(ctx context.Context, copyID uuid.UUID) (*Reservation, error)
	// ExpiredPending returns PENDING reservations whose expiry date is before today.
	ExpiredPending(ctx context.Context, today time.Time) ([]Reservation, error)
	// LapsedClaims returns fulfilled, unclaimed reservations whose claim deadline is before now.
	LapsedClaims(ctx context.Context, now time.Time) ([]Reservation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)
}

type FineRepository interface {
	Find(ctx context.Context, id uuid.UUID) (*Fine, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*Fine, error)
	Insert(ctx context.Context, f *Fine) error
	Save(ctx context.Context, f *Fine) error
	PendingForTransaction(ctx context.Context, transactionID uuid.UUID) (*Fine, error)
	HasPending(ctx context.Context, userID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Fine, error)
}

// EventLog is the circulation event log as seen from inside a unit of work.
type EventLog interface {
	// Append fails with apperr.ErrConcurrentModification when the aggregate's
	// last recorded version is not expectedVersion.
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...eventstore.Event) error
	Load(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
	// Stream returns up to limit events with ids above afterID, oldest first.
	Stream(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error)
}

// Tx is one unit of work. Everything written through it commits together or not at all.
type Tx interface {
	Copies() CopyGateway
	Transactions() TransactionRepository
	Reservations() ReservationRepository
	Fines() FineRepository
	Events() EventLog
	// LockBook serialises circulation on one book for the rest of the unit of work.
	LockBook(ctx context.Context, bookID uuid.UUID) error
}

// Store runs units of work.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

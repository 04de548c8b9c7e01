// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lmscirc/internal/eventstore"
	"lmscirc/internal/identity"
)

// Service defines the interface for the circulation service. Every mutation
// runs as one unit of work; the principal is always passed explicitly.
type Service interface {
	// Ledger
	Issue(ctx context.Context, p identity.Principal, userID, copyID uuid.UUID) (*Transaction, error)
	Return(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Transaction, error)
	Renew(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Transaction, error)
	History(ctx context.Context, p identity.Principal, userID uuid.UUID, page, pageSize int) (*HistoryPage, error)

	// Reservation queue
	Reserve(ctx context.Context, p identity.Principal, userID, bookID uuid.UUID) (*Reservation, error)
	CancelReservation(ctx context.Context, p identity.Principal, reservationID uuid.UUID) (*Reservation, error)
	ListReservations(ctx context.Context, p identity.Principal, userID uuid.UUID) ([]Reservation, error)
	SweepExpirations(ctx context.Context, now time.Time) (SweepResult, error)
	// Shelve serves the queue from a copy that reached the shelf outside circulation.
	Shelve(ctx context.Context, copyID uuid.UUID) error

	// Fine ledger
	AssessOverdueFine(ctx context.Context, p identity.Principal, transactionID uuid.UUID) (*Fine, error)
	PayFine(ctx context.Context, p identity.Principal, fineID uuid.UUID, amount decimal.Decimal, method PaymentMethod) (*Fine, error)
	WaiveFine(ctx context.Context, p identity.Principal, fineID uuid.UUID, reason string) (*Fine, error)
	ListFines(ctx context.Context, p identity.Principal, userID uuid.UUID) ([]Fine, error)

	// Audit
	AuditTrail(ctx context.Context, p identity.Principal, aggregateID uuid.UUID) ([]eventstore.Event, error)
	Events(ctx context.Context, p identity.Principal, afterID int64, limit int) ([]eventstore.Event, error)
}

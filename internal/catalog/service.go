// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"lmscirc/internal/identity"
)

// Repository persists books and copies.
type Repository interface {
	InsertBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	// InsertCopy fails with apperr.ErrBookNotFound when the book does not exist.
	InsertCopy(ctx context.Context, c *Copy) error
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopies(ctx context.Context, bookID uuid.UUID) ([]Copy, error)
	GetBookAvailability(ctx context.Context, bookID uuid.UUID) (*Availability, error)
	// SetCopyStatus writes status if the stored version equals expectedVersion
	// and returns the copy with its bumped version.
	SetCopyStatus(ctx context.Context, id uuid.UUID, status CopyStatus, expectedVersion int) (*Copy, error)
}

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, p identity.Principal, isbn, title, author string) (*Book, error)
	AddCopy(ctx context.Context, p identity.Principal, bookID uuid.UUID, barcode string) (*Copy, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopies(ctx context.Context, bookID uuid.UUID) ([]Copy, error)
	Availability(ctx context.Context, bookID uuid.UUID) (*Availability, error)
	MarkCopy(ctx context.Context, p identity.Principal, copyID uuid.UUID, status CopyStatus) (*Copy, error)
}

// Shelver is told about copies that reach the shelf outside circulation, new or
// back from LOST/DAMAGED, so readers already queued for the book are served first.
type Shelver interface {
	Shelve(ctx context.Context, copyID uuid.UUID) error
}

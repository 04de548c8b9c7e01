// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
)

// service implements the Service interface.
type service struct {
	repo    Repository
	clock   clock.Clock
	log     *slog.Logger
	shelver Shelver
}

// Option configures the catalog service.
type Option func(*service)

// WithShelver hands every copy that lands on the shelf to sh.
func WithShelver(sh Shelver) Option {
	return func(s *service) { s.shelver = sh }
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, c clock.Clock, log *slog.Logger, opts ...Option) Service {
	if log == nil {
		log = slog.Default()
	}
	s := &service{repo: repo, clock: c, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBook creates a new bibliographic record.
func (s *service) AddBook(ctx context.Context, p identity.Principal, isbn, title, author string) (*Book, error) {
	if !p.IsStaff() {
		return nil, apperr.ErrForbidden.With("catalog.AddBook", "staff only")
	}
	if strings.TrimSpace(title) == "" {
		return nil, apperr.ErrInvalidArgument.With("catalog.AddBook", "title is required")
	}

	book := &Book{
		ID:        uuid.New(),
		ISBN:      strings.TrimSpace(isbn),
		Title:     strings.TrimSpace(title),
		Author:    strings.TrimSpace(author),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	s.log.InfoContext(ctx, "book added", "book_id", book.ID, "isbn", book.ISBN)
	return book, nil
}

// AddCopy registers a new physical copy, initially AVAILABLE.
func (s *service) AddCopy(ctx context.Context, p identity.Principal, bookID uuid.UUID, barcode string) (*Copy, error) {
	if !p.IsStaff() {
		return nil, apperr.ErrForbidden.With("catalog.AddCopy", "staff only")
	}
	book, err := s.repo.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	c := &Copy{
		ID:      uuid.New(),
		BookID:  book.ID,
		Title:   book.Title,
		Barcode: strings.TrimSpace(barcode),
		Status:  StatusAvailable,
		Version: 1,
	}
	if err := s.repo.InsertCopy(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to insert copy: %w", err)
	}

	s.log.InfoContext(ctx, "copy added", "book_id", book.ID, "copy_id", c.ID)
	return s.shelve(ctx, c)
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.repo.GetBook(ctx, id)
}

func (s *service) GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error) {
	return s.repo.GetCopy(ctx, id)
}

func (s *service) ListCopies(ctx context.Context, bookID uuid.UUID) ([]Copy, error) {
	if _, err := s.repo.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.repo.ListCopies(ctx, bookID)
}

func (s *service) Availability(ctx context.Context, bookID uuid.UUID) (*Availability, error) {
	if _, err := s.repo.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.repo.GetBookAvailability(ctx, bookID)
}

// MarkCopy moves a copy between shelf states outside circulation. Copies on
// loan or held for a reservation belong to the circulation engine and are refused.
func (s *service) MarkCopy(ctx context.Context, p identity.Principal, copyID uuid.UUID, status CopyStatus) (*Copy, error) {
	const op = "catalog.MarkCopy"
	if !p.IsStaff() {
		return nil, apperr.ErrForbidden.With(op, "staff only")
	}
	if !status.Valid() || status.InCirculation() {
		return nil, apperr.ErrInvalidArgument.With(op, "cannot mark a copy %s", status)
	}

	c, err := s.repo.GetCopy(ctx, copyID)
	if err != nil {
		return nil, err
	}
	if c.Status.InCirculation() {
		return nil, apperr.ErrCopyInCirculation.With(op, "copy %s is %s", c.ID, c.Status)
	}
	if c.Status == status {
		return c, nil
	}

	updated, err := s.repo.SetCopyStatus(ctx, c.ID, status, c.Version)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "copy status changed", "copy_id", c.ID, "from", c.Status, "to", status)
	if status != StatusAvailable {
		return updated, nil
	}
	return s.shelve(ctx, updated)
}

// shelve offers an AVAILABLE copy to the shelver and returns its state
// afterwards. The copy is already stored, so a failed hand-over is logged and
// the copy stays on the shelf.
func (s *service) shelve(ctx context.Context, c *Copy) (*Copy, error) {
	if s.shelver == nil {
		return c, nil
	}
	if err := s.shelver.Shelve(ctx, c.ID); err != nil {
		s.log.WarnContext(ctx, "copy not offered to waiting readers", "copy_id", c.ID, "error", err)
		return c, nil
	}
	return s.repo.GetCopy(ctx, c.ID)
}

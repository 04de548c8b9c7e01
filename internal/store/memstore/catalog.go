package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
)

var _ catalog.Repository = (*Store)(nil)

func (s *Store) InsertBook(_ context.Context, b *catalog.Book) error {
	return s.atomic(func(u *unit) error {
		u.books[b.ID] = *b
		return nil
	})
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, apperr.ErrBookNotFound.With("memstore.GetBook", "%s", id)
	}
	return &b, nil
}

func (s *Store) InsertCopy(_ context.Context, c *catalog.Copy) error {
	return s.atomic(func(u *unit) error {
		if !u.hasBook(c.BookID) {
			return apperr.ErrBookNotFound.With("memstore.InsertCopy", "%s", c.BookID)
		}
		return insert(s, s.copies, u.copies, c.ID, *c)
	})
}

func (s *Store) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	return s.begin().Copies().GetCopy(ctx, id)
}

func (s *Store) ListCopies(_ context.Context, bookID uuid.UUID) ([]catalog.Copy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Copy{}
	for _, c := range s.copies {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Barcode < out[j].Barcode })
	return out, nil
}

func (s *Store) GetBookAvailability(ctx context.Context, bookID uuid.UUID) (*catalog.Availability, error) {
	return s.begin().Copies().GetBookAvailability(ctx, bookID)
}

func (s *Store) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus, expectedVersion int) (*catalog.Copy, error) {
	var out *catalog.Copy
	err := s.atomic(func(u *unit) error {
		c, err := u.Copies().SetCopyStatus(ctx, id, status, expectedVersion)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

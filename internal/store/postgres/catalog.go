package postgres

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
)

var _ catalog.Repository = (*Store)(nil)

func (s *Store) InsertBook(ctx context.Context, b *catalog.Book) error {
	if _, err := exec(ctx, s.db, dialect.Insert(tableBooks).Rows(toBookRow(b)).Prepared(true)); err != nil {
		return mapError("postgres.InsertBook", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var row bookRow
	if err := get(ctx, s.db, &row, dialect.From(tableBooks).Select(bookColumns...).Where(goqu.Ex{"id": id})); err != nil {
		return nil, notFound(err, apperr.ErrBookNotFound, "postgres.GetBook", id)
	}
	return row.book(), nil
}

func (s *Store) InsertCopy(ctx context.Context, c *catalog.Copy) error {
	if _, err := exec(ctx, s.db, dialect.Insert(tableCopies).Rows(toCopyRow(c)).Prepared(true)); err != nil {
		return mapError("postgres.InsertCopy", err)
	}
	return nil
}

func (s *Store) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	return copyTable{q: s.db}.GetCopy(ctx, id)
}

func (s *Store) ListCopies(ctx context.Context, bookID uuid.UUID) ([]catalog.Copy, error) {
	var rows []copyRow
	err := all(ctx, s.db, &rows, dialect.From(tableCopies).
		Select(copyColumns...).
		Where(goqu.Ex{"book_id": bookID}).
		Order(goqu.C("barcode").Asc()))
	if err != nil {
		return nil, mapError("postgres.ListCopies", err)
	}
	out := make([]catalog.Copy, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.copy())
	}
	return out, nil
}

func (s *Store) GetBookAvailability(ctx context.Context, bookID uuid.UUID) (*catalog.Availability, error) {
	return copyTable{q: s.db}.GetBookAvailability(ctx, bookID)
}

// SetCopyStatus takes the book's advisory lock so shelf changes never
// interleave with a circulation unit of work on the same book.
func (s *Store) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus, expectedVersion int) (*catalog.Copy, error) {
	var out *catalog.Copy
	err := s.inTx(ctx, func(ctx context.Context, u *unit) error {
		c, err := copyTable{q: u.tx}.GetCopy(ctx, id)
		if err != nil {
			return err
		}
		if err := u.LockBook(ctx, c.BookID); err != nil {
			return err
		}
		out, err = copyTable{q: u.tx}.SetCopyStatus(ctx, id, status, expectedVersion)
		return err
	})
	return out, err
}

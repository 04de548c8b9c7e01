package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/eventstore"
)

const dateLayout = "2006-01-02"

type unit struct {
	tx     *sqlx.Tx
	events *eventstore.EventStore
}

var _ circulation.Tx = (*unit)(nil)

func (u *unit) Copies() circulation.CopyGateway                  { return copyTable{q: u.tx} }
func (u *unit) Transactions() circulation.TransactionRepository { return transactionTable{u.tx} }
func (u *unit) Reservations() circulation.ReservationRepository { return reservationTable{u.tx} }
func (u *unit) Fines() circulation.FineRepository               { return fineTable{u.tx} }
func (u *unit) Events() circulation.EventLog                    { return eventLog{u.events} }

// LockBook takes a transaction-scoped advisory lock on the book.
func (u *unit) LockBook(ctx context.Context, bookID uuid.UUID) error {
	if _, err := u.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", bookID.String()); err != nil {
		return mapError("postgres.LockBook", err)
	}
	return nil
}

// save issues a version-checked UPDATE and bumps *version on success.
func save(ctx context.Context, tx *sqlx.Tx, op, table string, id uuid.UUID, version *int, row func(newVersion int) any) error {
	expected := *version
	n, err := exec(ctx, tx, dialect.Update(table).
		Set(row(expected+1)).
		Where(goqu.Ex{"id": id, "version": expected}).
		Prepared(true))
	if err != nil {
		return mapError(op, err)
	}
	if n != 1 {
		return apperr.ErrConcurrentModification.With(op, "%s %s is no longer at version %d", table, id, expected)
	}
	*version = expected + 1
	return nil
}

func insert(ctx context.Context, tx *sqlx.Tx, op, table string, row any) error {
	if _, err := exec(ctx, tx, dialect.Insert(table).Rows(row).Prepared(true)); err != nil {
		return mapError(op, err)
	}
	return nil
}

type transactionTable struct{ tx *sqlx.Tx }

func (t transactionTable) find(ctx context.Context, id uuid.UUID, lock bool) (*circulation.Transaction, error) {
	const op = "postgres.Transactions.Find"
	ds := dialect.From(tableTransactions).Select(transactionColumns...).Where(goqu.Ex{"id": id})
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}
	var row transactionRow
	if err := get(ctx, t.tx, &row, ds); err != nil {
		return nil, notFound(err, apperr.ErrTransactionNotFound, op, id)
	}
	tr := row.transaction()
	return &tr, nil
}

func (t transactionTable) Find(ctx context.Context, id uuid.UUID) (*circulation.Transaction, error) {
	return t.find(ctx, id, false)
}

func (t transactionTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Transaction, error) {
	return t.find(ctx, id, true)
}

func (t transactionTable) Insert(ctx context.Context, tr *circulation.Transaction) error {
	return insert(ctx, t.tx, "postgres.Transactions.Insert", tableTransactions, toTransactionRow(tr))
}

func (t transactionTable) Save(ctx context.Context, tr *circulation.Transaction) error {
	return save(ctx, t.tx, "postgres.Transactions.Save", tableTransactions, tr.ID, &tr.Version, func(v int) any {
		row := toTransactionRow(tr)
		row.Version = v
		return row
	})
}

func (t transactionTable) ListByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]circulation.Transaction, int, error) {
	const op = "postgres.Transactions.ListByUser"
	where := goqu.Ex{"user_id": userID}

	var total int
	if err := get(ctx, t.tx, &total, dialect.From(tableTransactions).Select(goqu.COUNT(goqu.Star())).Where(where)); err != nil {
		return nil, 0, mapError(op, err)
	}

	var rows []transactionRow
	err := all(ctx, t.tx, &rows, dialect.From(tableTransactions).
		Select(transactionColumns...).
		Where(where).
		Order(goqu.C("issue_date").Desc(), goqu.C("seq").Desc()).
		Offset(uint(offset)).
		Limit(uint(limit)))
	if err != nil {
		return nil, 0, mapError(op, err)
	}
	out := make([]circulation.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.transaction())
	}
	return out, total, nil
}

type reservationTable struct{ tx *sqlx.Tx }

func (t reservationTable) find(ctx context.Context, id uuid.UUID, lock bool) (*circulation.Reservation, error) {
	const op = "postgres.Reservations.Find"
	ds := dialect.From(tableReservations).Select(reservationColumns...).Where(goqu.Ex{"id": id})
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}
	var row reservationRow
	if err := get(ctx, t.tx, &row, ds); err != nil {
		return nil, notFound(err, apperr.ErrReservationNotFound, op, id)
	}
	r := row.reservation()
	return &r, nil
}

func (t reservationTable) Find(ctx context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	return t.find(ctx, id, false)
}

func (t reservationTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Reservation, error) {
	return t.find(ctx, id, true)
}

func (t reservationTable) Insert(ctx context.Context, r *circulation.Reservation) error {
	return insert(ctx, t.tx, "postgres.Reservations.Insert", tableReservations, toReservationRow(r))
}

func (t reservationTable) Save(ctx context.Context, r *circulation.Reservation) error {
	return save(ctx, t.tx, "postgres.Reservations.Save", tableReservations, r.ID, &r.Version, func(v int) any {
		row := toReservationRow(r)
		row.Version = v
		return row
	})
}

// where lists reservations in queue order.
func (t reservationTable) where(ctx context.Context, op string, conds ...exp.Expression) ([]circulation.Reservation, error) {
	var rows []reservationRow
	err := all(ctx, t.tx, &rows, dialect.From(tableReservations).
		Select(reservationColumns...).
		Where(conds...).
		Order(goqu.C("reservation_date").Asc(), goqu.C("seq").Asc()))
	if err != nil {
		return nil, mapError(op, err)
	}
	out := make([]circulation.Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.reservation())
	}
	return out, nil
}

func first(rs []circulation.Reservation, err error) (*circulation.Reservation, error) {
	if err != nil || len(rs) == 0 {
		return nil, err
	}
	return &rs[0], nil
}

func (t reservationTable) PendingForBook(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	return t.where(ctx, "postgres.Reservations.PendingForBook",
		goqu.Ex{"book_id": bookID, "status": string(circulation.ReservationPending)})
}

func (t reservationTable) PendingForUserBook(ctx context.Context, userID, bookID uuid.UUID) (*circulation.Reservation, error) {
	return first(t.where(ctx, "postgres.Reservations.PendingForUserBook",
		goqu.Ex{"user_id": userID, "book_id": bookID, "status": string(circulation.ReservationPending)}))
}

func (t reservationTable) HeldForCopy(ctx context.Context, copyID uuid.UUID) (*circulation.Reservation, error) {
	return first(t.where(ctx, "postgres.Reservations.HeldForCopy",
		goqu.Ex{"held_copy_id": copyID, "status": string(circulation.ReservationFulfilled)},
		goqu.C("claimed_transaction_id").IsNull()))
}

func (t reservationTable) ExpiredPending(ctx context.Context, today time.Time) ([]circulation.Reservation, error) {
	return t.where(ctx, "postgres.Reservations.ExpiredPending",
		goqu.Ex{"status": string(circulation.ReservationPending)},
		goqu.C("expiry_date").Lt(today.Format(dateLayout)))
}

func (t reservationTable) LapsedClaims(ctx context.Context, now time.Time) ([]circulation.Reservation, error) {
	return t.where(ctx, "postgres.Reservations.LapsedClaims",
		goqu.Ex{"status": string(circulation.ReservationFulfilled)},
		goqu.C("claimed_transaction_id").IsNull(),
		goqu.C("claim_deadline").Lt(now))
}

func (t reservationTable) ListByUser(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	return t.where(ctx, "postgres.Reservations.ListByUser", goqu.Ex{"user_id": userID})
}

type fineTable struct{ tx *sqlx.Tx }

func (t fineTable) find(ctx context.Context, id uuid.UUID, lock bool) (*circulation.Fine, error) {
	const op = "postgres.Fines.Find"
	ds := dialect.From(tableFines).Select(fineColumns...).Where(goqu.Ex{"id": id})
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}
	var row fineRow
	if err := get(ctx, t.tx, &row, ds); err != nil {
		return nil, notFound(err, apperr.ErrFineNotFound, op, id)
	}
	f := row.fine()
	return &f, nil
}

func (t fineTable) Find(ctx context.Context, id uuid.UUID) (*circulation.Fine, error) {
	return t.find(ctx, id, false)
}

func (t fineTable) FindForUpdate(ctx context.Context, id uuid.UUID) (*circulation.Fine, error) {
	return t.find(ctx, id, true)
}

func (t fineTable) Insert(ctx context.Context, f *circulation.Fine) error {
	return insert(ctx, t.tx, "postgres.Fines.Insert", tableFines, toFineRow(f))
}

func (t fineTable) Save(ctx context.Context, f *circulation.Fine) error {
	return save(ctx, t.tx, "postgres.Fines.Save", tableFines, f.ID, &f.Version, func(v int) any {
		row := toFineRow(f)
		row.Version = v
		return row
	})
}

func (t fineTable) PendingForTransaction(ctx context.Context, transactionID uuid.UUID) (*circulation.Fine, error) {
	const op = "postgres.Fines.PendingForTransaction"
	var row fineRow
	err := get(ctx, t.tx, &row, dialect.From(tableFines).
		Select(fineColumns...).
		Where(goqu.Ex{"transaction_id": transactionID, "status": string(circulation.FinePending)}).
		Limit(1))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	f := row.fine()
	return &f, nil
}

func (t fineTable) HasPending(ctx context.Context, userID uuid.UUID) (bool, error) {
	var n int
	err := get(ctx, t.tx, &n, dialect.From(tableFines).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Ex{"user_id": userID, "status": string(circulation.FinePending)}))
	if err != nil {
		return false, mapError("postgres.Fines.HasPending", err)
	}
	return n > 0, nil
}

func (t fineTable) ListByUser(ctx context.Context, userID uuid.UUID) ([]circulation.Fine, error) {
	var rows []fineRow
	err := all(ctx, t.tx, &rows, dialect.From(tableFines).
		Select(fineColumns...).
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.C("fine_date").Desc()))
	if err != nil {
		return nil, mapError("postgres.Fines.ListByUser", err)
	}
	out := make([]circulation.Fine, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.fine())
	}
	return out, nil
}

type eventLog struct{ es *eventstore.EventStore }

func (l eventLog) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...eventstore.Event) error {
	if err := l.es.AppendEvents(ctx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return mapError("postgres.Events.Append", err)
	}
	return nil
}

func (l eventLog) Load(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	return l.es.LoadEvents(ctx, aggregateID, 0, 0)
}

func (l eventLog) Stream(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	events, err := l.es.StreamEvents(ctx, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("stream events after %d: %w", afterID, err)
	}
	return events, nil
}

// copyTable serves the copy gateway both inside units of work and on the bare pool.
type copyTable struct {
	q interface {
		sqlx.QueryerContext
		sqlx.ExecerContext
	}
}

func (t copyTable) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	var row copyRow
	if err := get(ctx, t.q, &row, dialect.From(tableCopies).Select(copyColumns...).Where(goqu.Ex{"id": id})); err != nil {
		return nil, notFound(err, apperr.ErrCopyNotFound, "postgres.GetCopy", id)
	}
	c := row.copy()
	return &c, nil
}

func (t copyTable) GetBookAvailability(ctx context.Context, bookID uuid.UUID) (*catalog.Availability, error) {
	const op = "postgres.GetBookAvailability"
	var exists int
	if err := get(ctx, t.q, &exists, dialect.From(tableBooks).Select(goqu.COUNT(goqu.Star())).Where(goqu.Ex{"id": bookID})); err != nil {
		return nil, mapError(op, err)
	}
	if exists == 0 {
		return nil, apperr.ErrBookNotFound.With(op, "%s", bookID)
	}

	var counts struct {
		Total     int `db:"total"`
		Available int `db:"available"`
	}
	err := get(ctx, t.q, &counts, dialect.From(tableCopies).
		Select(
			goqu.COUNT(goqu.Star()).As("total"),
			goqu.L("COUNT(*) FILTER (WHERE status = ?)", string(catalog.StatusAvailable)).As("available"),
		).
		Where(goqu.Ex{"book_id": bookID}))
	if err != nil {
		return nil, mapError(op, err)
	}
	return &catalog.Availability{BookID: bookID, Total: counts.Total, Available: counts.Available}, nil
}

func (t copyTable) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.CopyStatus, expectedVersion int) (*catalog.Copy, error) {
	const op = "postgres.SetCopyStatus"
	query, args, err := dialect.Update(tableCopies).
		Set(goqu.Record{"status": string(status), "version": expectedVersion + 1}).
		Where(goqu.Ex{"id": id, "version": expectedVersion}).
		Returning(copyColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	var row copyRow
	if err := sqlx.GetContext(ctx, t.q, &row, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, mapError(op, err)
		}
		if _, findErr := t.GetCopy(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, apperr.ErrConcurrentModification.With(op, "copy %s is no longer at version %d", id, expectedVersion)
	}
	c := row.copy()
	return &c, nil
}

package postgres

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/identity"
)

const (
	tableUsers        = "users"
	tableBooks        = "books"
	tableCopies       = "book_copies"
	tableTransactions = "transactions"
	tableReservations = "reservations"
	tableFines        = "fines"
)

type userRow struct {
	ID           uuid.UUID `db:"id" goqu:"skipupdate"`
	Email        string    `db:"email"`
	Name         string    `db:"name"`
	Role         string    `db:"role"`
	Status       string    `db:"status"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
	CreatedAt    time.Time `db:"created_at"`
	Version      int       `db:"version"`
}

var userColumns = []any{"id", "email", "name", "role", "status", "password_hash", "salt", "created_at", "version"}

func (r userRow) user() *identity.User {
	return &identity.User{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		Role:      identity.Role(r.Role),
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
		Version:   r.Version,
	}
}

type bookRow struct {
	ID        uuid.UUID `db:"id"`
	ISBN      string    `db:"isbn"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	CreatedAt time.Time `db:"created_at"`
}

var bookColumns = []any{"id", "isbn", "title", "author", "created_at"}

func toBookRow(b *catalog.Book) bookRow {
	return bookRow{ID: b.ID, ISBN: b.ISBN, Title: b.Title, Author: b.Author, CreatedAt: b.CreatedAt}
}

func (r bookRow) book() *catalog.Book {
	return &catalog.Book{ID: r.ID, ISBN: r.ISBN, Title: r.Title, Author: r.Author, CreatedAt: r.CreatedAt.UTC()}
}

type copyRow struct {
	ID      uuid.UUID `db:"id"`
	BookID  uuid.UUID `db:"book_id"`
	Title   string    `db:"title"`
	Barcode string    `db:"barcode"`
	Status  string    `db:"status"`
	Version int       `db:"version"`
}

var copyColumns = []any{"id", "book_id", "title", "barcode", "status", "version"}

func toCopyRow(c *catalog.Copy) copyRow {
	return copyRow{ID: c.ID, BookID: c.BookID, Title: c.Title, Barcode: c.Barcode, Status: string(c.Status), Version: c.Version}
}

func (r copyRow) copy() catalog.Copy {
	return catalog.Copy{ID: r.ID, BookID: r.BookID, Title: r.Title, Barcode: r.Barcode, Status: catalog.CopyStatus(r.Status), Version: r.Version}
}

type transactionRow struct {
	ID           uuid.UUID     `db:"id" goqu:"skipupdate"`
	Seq          int64         `db:"seq" goqu:"skipinsert,skipupdate"`
	UserID       uuid.UUID     `db:"user_id"`
	CopyID       uuid.UUID     `db:"copy_id"`
	BookID       uuid.UUID     `db:"book_id"`
	IssueDate    time.Time     `db:"issue_date"`
	DueDate      time.Time     `db:"due_date"`
	ReturnDate   sql.NullTime  `db:"return_date"`
	RenewalCount int           `db:"renewal_count"`
	Status       string        `db:"status"`
	IssuedBy     uuid.UUID     `db:"issued_by"`
	ReturnedTo   uuid.NullUUID `db:"returned_to"`
	Notes        string        `db:"notes"`
	Version      int           `db:"version"`
}

var transactionColumns = []any{
	"id", "seq", "user_id", "copy_id", "book_id", "issue_date", "due_date", "return_date",
	"renewal_count", "status", "issued_by", "returned_to", "notes", "version",
}

func toTransactionRow(t *circulation.Transaction) transactionRow {
	return transactionRow{
		ID:           t.ID,
		Seq:          t.Sequence,
		UserID:       t.UserID,
		CopyID:       t.CopyID,
		BookID:       t.BookID,
		IssueDate:    t.IssueDate,
		DueDate:      t.DueDate,
		ReturnDate:   nullTime(t.ReturnDate),
		RenewalCount: t.RenewalCount,
		Status:       string(t.Status),
		IssuedBy:     t.IssuedBy,
		ReturnedTo:   nullUUID(t.ReturnedTo),
		Notes:        t.Notes,
		Version:      t.Version,
	}
}

func (r transactionRow) transaction() circulation.Transaction {
	return circulation.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		CopyID:       r.CopyID,
		BookID:       r.BookID,
		IssueDate:    r.IssueDate.UTC(),
		DueDate:      r.DueDate.UTC(),
		ReturnDate:   timePtr(r.ReturnDate),
		RenewalCount: r.RenewalCount,
		Status:       circulation.TransactionStatus(r.Status),
		IssuedBy:     r.IssuedBy,
		ReturnedTo:   uuidPtr(r.ReturnedTo),
		Notes:        r.Notes,
		Sequence:     r.Seq,
		Version:      r.Version,
	}
}

type reservationRow struct {
	ID                   uuid.UUID     `db:"id" goqu:"skipupdate"`
	Seq                  int64         `db:"seq" goqu:"skipinsert,skipupdate"`
	BookID               uuid.UUID     `db:"book_id"`
	UserID               uuid.UUID     `db:"user_id"`
	ReservationDate      time.Time     `db:"reservation_date"`
	ExpiryDate           time.Time     `db:"expiry_date"`
	Status               string        `db:"status"`
	Notified             bool          `db:"notified"`
	HeldCopyID           uuid.NullUUID `db:"held_copy_id"`
	ClaimDeadline        sql.NullTime  `db:"claim_deadline"`
	ClaimedTransactionID uuid.NullUUID `db:"claimed_transaction_id"`
	Version              int           `db:"version"`
}

var reservationColumns = []any{
	"id", "seq", "book_id", "user_id", "reservation_date", "expiry_date", "status",
	"notified", "held_copy_id", "claim_deadline", "claimed_transaction_id", "version",
}

func toReservationRow(r *circulation.Reservation) reservationRow {
	return reservationRow{
		ID:                   r.ID,
		Seq:                  r.Sequence,
		BookID:               r.BookID,
		UserID:               r.UserID,
		ReservationDate:      r.ReservationDate,
		ExpiryDate:           r.ExpiryDate,
		Status:               string(r.Status),
		Notified:             r.Notified,
		HeldCopyID:           nullUUID(r.HeldCopyID),
		ClaimDeadline:        nullTime(r.ClaimDeadline),
		ClaimedTransactionID: nullUUID(r.ClaimedTransactionID),
		Version:              r.Version,
	}
}

func (r reservationRow) reservation() circulation.Reservation {
	return circulation.Reservation{
		ID:                   r.ID,
		BookID:               r.BookID,
		UserID:               r.UserID,
		ReservationDate:      r.ReservationDate.UTC(),
		ExpiryDate:           r.ExpiryDate.UTC(),
		Status:               circulation.ReservationStatus(r.Status),
		Notified:             r.Notified,
		HeldCopyID:           uuidPtr(r.HeldCopyID),
		ClaimDeadline:        timePtr(r.ClaimDeadline),
		ClaimedTransactionID: uuidPtr(r.ClaimedTransactionID),
		Sequence:             r.Seq,
		Version:              r.Version,
	}
}

type fineRow struct {
	ID            uuid.UUID           `db:"id" goqu:"skipupdate"`
	UserID        uuid.UUID           `db:"user_id"`
	TransactionID uuid.UUID           `db:"transaction_id"`
	Amount        decimal.Decimal     `db:"amount"`
	Reason        string              `db:"reason"`
	FineDate      time.Time           `db:"fine_date"`
	Status        string              `db:"status"`
	PaymentDate   sql.NullTime        `db:"payment_date"`
	PaymentAmount decimal.NullDecimal `db:"payment_amount"`
	PaymentMethod sql.NullString      `db:"payment_method"`
	WaivedBy      uuid.NullUUID       `db:"waived_by"`
	WaivedReason  sql.NullString      `db:"waived_reason"`
	Version       int                 `db:"version"`
}

var fineColumns = []any{
	"id", "user_id", "transaction_id", "amount", "reason", "fine_date", "status", "payment_date",
	"payment_amount", "payment_method", "waived_by", "waived_reason", "version",
}

func toFineRow(f *circulation.Fine) fineRow {
	row := fineRow{
		ID:            f.ID,
		UserID:        f.UserID,
		TransactionID: f.TransactionID,
		Amount:        f.Amount,
		Reason:        f.Reason,
		FineDate:      f.FineDate,
		Status:        string(f.Status),
		PaymentDate:   nullTime(f.PaymentDate),
		WaivedBy:      nullUUID(f.WaivedBy),
		Version:       f.Version,
	}
	if f.PaymentAmount != nil {
		row.PaymentAmount = decimal.NullDecimal{Decimal: *f.PaymentAmount, Valid: true}
	}
	if f.PaymentMethod != nil {
		row.PaymentMethod = sql.NullString{String: string(*f.PaymentMethod), Valid: true}
	}
	if f.WaivedReason != nil {
		row.WaivedReason = sql.NullString{String: *f.WaivedReason, Valid: true}
	}
	return row
}

func (r fineRow) fine() circulation.Fine {
	f := circulation.Fine{
		ID:            r.ID,
		UserID:        r.UserID,
		TransactionID: r.TransactionID,
		Amount:        r.Amount,
		Reason:        r.Reason,
		FineDate:      r.FineDate.UTC(),
		Status:        circulation.FineStatus(r.Status),
		PaymentDate:   timePtr(r.PaymentDate),
		WaivedBy:      uuidPtr(r.WaivedBy),
		Version:       r.Version,
	}
	if r.PaymentAmount.Valid {
		amount := r.PaymentAmount.Decimal
		f.PaymentAmount = &amount
	}
	if r.PaymentMethod.Valid {
		m := circulation.PaymentMethod(r.PaymentMethod.String)
		f.PaymentMethod = &m
	}
	if r.WaivedReason.Valid {
		reason := r.WaivedReason.String
		f.WaivedReason = &reason
	}
	return f
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

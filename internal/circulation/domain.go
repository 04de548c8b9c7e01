// internal/circulation/domain.go
package circulation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a loan.
type TransactionStatus string

const (
	TransactionIssued   TransactionStatus = "ISSUED"
	TransactionRenewed  TransactionStatus = "RENEWED"
	TransactionReturned TransactionStatus = "RETURNED"
)

// Transaction is one loan of one copy to one user.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	CopyID       uuid.UUID         `json:"copy_id"`
	BookID       uuid.UUID         `json:"book_id"`
	IssueDate    time.Time         `json:"issue_date"`
	DueDate      time.Time         `json:"due_date"`
	ReturnDate   *time.Time        `json:"return_date,omitempty"`
	RenewalCount int               `json:"renewal_count"`
	Status       TransactionStatus `json:"status"`
	IssuedBy     uuid.UUID         `json:"issued_by"`
	ReturnedTo   *uuid.UUID        `json:"returned_to,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Sequence     int64             `json:"-"`
	Version      int               `json:"version"`
}

// Open reports whether the loan has not been returned.
func (t *Transaction) Open() bool {
	return t.Status != TransactionReturned
}

// Overdue reports whether the loan is still out past its due date.
func (t *Transaction) Overdue(today time.Time) bool {
	return t.ReturnDate == nil && today.After(t.DueDate)
}

// TransactionSummary is the history projection of a Transaction.
type TransactionSummary struct {
	ID           uuid.UUID         `json:"id"`
	CopyID       uuid.UUID         `json:"copy_id"`
	BookID       uuid.UUID         `json:"book_id"`
	BookTitle    string            `json:"book_title"`
	IssueDate    time.Time         `json:"issue_date"`
	DueDate      time.Time         `json:"due_date"`
	ReturnDate   *time.Time        `json:"return_date,omitempty"`
	RenewalCount int               `json:"renewal_count"`
	Status       TransactionStatus `json:"status"`
	Overdue      bool              `json:"overdue"`
}

// PageMeta describes a page of results. Pages are 1-based.
type PageMeta struct {
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"total_elements"`
	TotalPages    int  `json:"total_pages"`
	HasNext       bool `json:"has_next"`
	HasPrevious   bool `json:"has_previous"`
}

func newPageMeta(page, size, total int) PageMeta {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return PageMeta{
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
		HasNext:       page < pages,
		HasPrevious:   page > 1,
	}
}

// HistoryPage is one page of a user's loan history.
type HistoryPage struct {
	Items []TransactionSummary `json:"items"`
	Meta  PageMeta             `json:"meta"`
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is a user's place in the queue for a book.
type Reservation struct {
	ID                   uuid.UUID         `json:"id"`
	BookID               uuid.UUID         `json:"book_id"`
	UserID               uuid.UUID         `json:"user_id"`
	ReservationDate      time.Time         `json:"reservation_date"`
	ExpiryDate           time.Time         `json:"expiry_date"`
	Status               ReservationStatus `json:"status"`
	Notified             bool              `json:"notified"`
	HeldCopyID           *uuid.UUID        `json:"held_copy_id,omitempty"`
	ClaimDeadline        *time.Time        `json:"claim_deadline,omitempty"`
	ClaimedTransactionID *uuid.UUID        `json:"claimed_transaction_id,omitempty"`
	Sequence             int64             `json:"-"`
	Version              int               `json:"version"`
}

// Unclaimed reports whether a fulfilled reservation is still waiting for its reader.
func (r *Reservation) Unclaimed() bool {
	return r.Status == ReservationFulfilled && r.ClaimedTransactionID == nil
}

// ClaimOpen reports whether the reader may still collect the held copy at now.
func (r *Reservation) ClaimOpen(now time.Time) bool {
	return r.Unclaimed() && r.ClaimDeadline != nil && !now.After(*r.ClaimDeadline)
}

// ClaimLapsed reports whether the hold ran out without being collected.
func (r *Reservation) ClaimLapsed(now time.Time) bool {
	return r.Unclaimed() && r.ClaimDeadline != nil && r.ClaimDeadline.Before(now)
}

// sortFIFO orders reservations by reservation date, ties broken by insertion sequence.
func sortFIFO(rs []Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].ReservationDate.Equal(rs[j].ReservationDate) {
			return rs[i].ReservationDate.Before(rs[j].ReservationDate)
		}
		return rs[i].Sequence < rs[j].Sequence
	})
}

// FineStatus is the settlement state of a fine.
type FineStatus string

const (
	FinePending FineStatus = "PENDING"
	FinePaid    FineStatus = "PAID"
	FineWaived  FineStatus = "WAIVED"
)

// PaymentMethod is how a fine was settled.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCard   PaymentMethod = "CARD"
	PaymentOnline PaymentMethod = "ONLINE"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentCard || m == PaymentOnline
}

// Fine is a monetary penalty attached to a loan.
type Fine struct {
	ID            uuid.UUID        `json:"id"`
	UserID        uuid.UUID        `json:"user_id"`
	TransactionID uuid.UUID        `json:"transaction_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Reason        string           `json:"reason"`
	FineDate      time.Time        `json:"fine_date"`
	Status        FineStatus       `json:"status"`
	PaymentDate   *time.Time       `json:"payment_date,omitempty"`
	PaymentAmount *decimal.Decimal `json:"payment_amount,omitempty"`
	PaymentMethod *PaymentMethod   `json:"payment_method,omitempty"`
	WaivedBy      *uuid.UUID       `json:"waived_by,omitempty"`
	WaivedReason  *string          `json:"waived_reason,omitempty"`
	Version       int              `json:"version"`
}

// SweepResult counts what one expiry sweep changed.
type SweepResult struct {
	ExpiredReservations  int `json:"expired_reservations"`
	CascadedFulfillments int `json:"cascaded_fulfillments"`
}

// Aggregate types in the circulation event log.
const (
	aggregateTransaction = "transaction"
	aggregateReservation = "reservation"
	aggregateFine        = "fine"
)

// Event types in the circulation event log.
const (
	EventLoanIssued           = "LoanIssued"
	EventLoanReturned         = "LoanReturned"
	EventLoanRenewed          = "LoanRenewed"
	EventReservationPlaced    = "ReservationPlaced"
	EventReservationFulfilled = "ReservationFulfilled"
	EventReservationClaimed   = "ReservationClaimed"
	EventReservationExpired   = "ReservationExpired"
	EventReservationCancelled = "ReservationCancelled"
	EventFineAssessed         = "FineAssessed"
	EventFinePaid             = "FinePaid"
	EventFineWaived           = "FineWaived"
)

// LoanIssuedEvent is recorded when a copy goes out on loan.
type LoanIssuedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	UserID        uuid.UUID `json:"user_id"`
	CopyID        uuid.UUID `json:"copy_id"`
	DueDate       time.Time `json:"due_date"`
	IssuedBy      uuid.UUID `json:"issued_by"`
}

// LoanReturnedEvent is recorded when a copy comes back.
type LoanReturnedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	CopyID        uuid.UUID `json:"copy_id"`
	ReturnDate    time.Time `json:"return_date"`
	Overdue       bool      `json:"overdue"`
	ReturnedTo    uuid.UUID `json:"returned_to"`
}

// LoanRenewedEvent is recorded when a loan is extended.
type LoanRenewedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	DueDate       time.Time `json:"due_date"`
	RenewalCount  int       `json:"renewal_count"`
}

// ReservationEvent is recorded for every reservation state change.
type ReservationEvent struct {
	ReservationID uuid.UUID         `json:"reservation_id"`
	BookID        uuid.UUID         `json:"book_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Status        ReservationStatus `json:"status"`
	HeldCopyID    *uuid.UUID        `json:"held_copy_id,omitempty"`
	TransactionID *uuid.UUID        `json:"transaction_id,omitempty"`
}

// FineEvent is recorded for every fine state change.
type FineEvent struct {
	FineID        uuid.UUID       `json:"fine_id"`
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        FineStatus      `json:"status"`
}

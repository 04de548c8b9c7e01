// internal/circulation/config.go
package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lmscirc/internal/apperr"
	"lmscirc/internal/identity"
)

// Config holds the circulation rules.
type Config struct {
	LoanPeriodDays     int
	MaxRenewals        int
	ReservationTTLDays int
	ClaimWindow        time.Duration
	FinePerDay         decimal.Decimal
	RetryMaxTries      uint
	RetryInitial       time.Duration
}

// DefaultConfig returns the standard library rules: two-week loans, three
// renewals, week-long reservations, a 48 hour hold and 0.50 per overdue day.
func DefaultConfig() Config {
	return Config{
		LoanPeriodDays:     14,
		MaxRenewals:        3,
		ReservationTTLDays: 7,
		ClaimWindow:        48 * time.Hour,
		FinePerDay:         decimal.RequireFromString("0.50"),
		RetryMaxTries:      5,
		RetryInitial:       10 * time.Millisecond,
	}
}

// LoanPolicy decides whether a user may borrow. It runs inside the issuing unit of work.
type LoanPolicy interface {
	AllowLoan(ctx context.Context, tx Tx, user *identity.User) error
}

// NoLimit allows every active user to borrow.
type NoLimit struct{}

func (NoLimit) AllowLoan(context.Context, Tx, *identity.User) error { return nil }

// BlockOnUnpaidFines refuses loans to users with a pending fine.
type BlockOnUnpaidFines struct{}

func (BlockOnUnpaidFines) AllowLoan(ctx context.Context, tx Tx, user *identity.User) error {
	owes, err := tx.Fines().HasPending(ctx, user.ID)
	if err != nil {
		return err
	}
	if owes {
		return apperr.ErrLoanNotPermitted.With("circulation.Issue", "user %s has unpaid fines", user.ID)
	}
	return nil
}

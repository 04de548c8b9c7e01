package postgres

import (
	"errors"

	"github.com/lib/pq"

	"lmscirc/internal/apperr"
	"lmscirc/internal/eventstore"
)

const (
	uniqueViolation      = "23505"
	foreignKeyViolation  = "23503"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// mapError translates driver errors into apperr kinds. Errors that already
// carry a kind pass through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return apperr.ErrConcurrentModification.Wrap(op, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case uniqueViolation:
		switch pqErr.Constraint {
		case "reservations_one_pending":
			return apperr.ErrDuplicateReservation.Wrap(op, err)
		case "users_email_key":
			return apperr.ErrDuplicateUser.Wrap(op, err)
		case "book_copies_barcode_key":
			return apperr.ErrDuplicateBarcode.Wrap(op, err)
		}
		return apperr.ErrConcurrentModification.Wrap(op, err)
	case foreignKeyViolation:
		if pqErr.Constraint == "book_copies_book_id_fkey" {
			return apperr.ErrBookNotFound.Wrap(op, err)
		}
		return apperr.ErrInvalidArgument.Wrap(op, err)
	case serializationFailure, deadlockDetected:
		return apperr.ErrConcurrentModification.Wrap(op, err)
	}
	return err
}

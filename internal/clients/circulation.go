package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lmscirc/internal/circulation"
	"lmscirc/internal/eventstore"
)

func (c *Client) Issue(ctx context.Context, userID, copyID uuid.UUID) (*circulation.Transaction, error) {
	var t circulation.Transaction
	in := map[string]uuid.UUID{"user_id": userID, "copy_id": copyID}
	if err := c.do(ctx, http.MethodPost, "/loans", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) Return(ctx context.Context, transactionID uuid.UUID) (*circulation.Transaction, error) {
	return c.loanAction(ctx, transactionID, "return")
}

func (c *Client) Renew(ctx context.Context, transactionID uuid.UUID) (*circulation.Transaction, error) {
	return c.loanAction(ctx, transactionID, "renew")
}

func (c *Client) loanAction(ctx context.Context, id uuid.UUID, action string) (*circulation.Transaction, error) {
	var t circulation.Transaction
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/loans/%s/%s", id, action), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AssessFine returns nil when the loan was not overdue.
func (c *Client) AssessFine(ctx context.Context, transactionID uuid.UUID) (*circulation.Fine, error) {
	var f *circulation.Fine
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/loans/%s/fine", transactionID), nil, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) History(ctx context.Context, userID uuid.UUID, page, pageSize int) (*circulation.HistoryPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var hp circulation.HistoryPage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/loans?%s", userID, q.Encode()), nil, &hp); err != nil {
		return nil, err
	}
	return &hp, nil
}

// Reserve queues userID for bookID. A nil userID reserves for the caller.
func (c *Client) Reserve(ctx context.Context, userID, bookID uuid.UUID) (*circulation.Reservation, error) {
	in := struct {
		UserID uuid.UUID `json:"user_id"`
		BookID uuid.UUID `json:"book_id"`
	}{userID, bookID}
	var r circulation.Reservation
	if err := c.do(ctx, http.MethodPost, "/reservations", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) CancelReservation(ctx context.Context, reservationID uuid.UUID) (*circulation.Reservation, error) {
	var r circulation.Reservation
	if err := c.do(ctx, http.MethodDelete, "/reservations/"+reservationID.String(), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListReservations(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	var list []circulation.Reservation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/reservations", userID), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) ListFines(ctx context.Context, userID uuid.UUID) ([]circulation.Fine, error) {
	var list []circulation.Fine
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/fines", userID), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) PayFine(ctx context.Context, fineID uuid.UUID, amount decimal.Decimal, method circulation.PaymentMethod) (*circulation.Fine, error) {
	in := struct {
		Amount decimal.Decimal           `json:"amount"`
		Method circulation.PaymentMethod `json:"method"`
	}{amount, method}
	var f circulation.Fine
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/fines/%s/payments", fineID), in, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) WaiveFine(ctx context.Context, fineID uuid.UUID, reason string) (*circulation.Fine, error) {
	in := map[string]string{"reason": reason}
	var f circulation.Fine
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/fines/%s/waiver", fineID), in, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) Sweep(ctx context.Context) (*circulation.SweepResult, error) {
	var res circulation.SweepResult
	if err := c.do(ctx, http.MethodPost, "/sweeps", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) AuditTrail(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	var events []eventstore.Event
	if err := c.do(ctx, http.MethodGet, "/audit/"+aggregateID.String(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]eventstore.Event, error) {
	var events []eventstore.Event
	path := fmt.Sprintf("/events?after=%d&limit=%d", afterID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

package clients_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clients"
	"lmscirc/internal/clock"
	"lmscirc/internal/config"
	"lmscirc/internal/httpx"
	"lmscirc/internal/identity"
	"lmscirc/internal/logger"
	"lmscirc/internal/server"
)

func startServer(t *testing.T) (string, *clock.Fixed) {
	t.Helper()
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Auth: config.AuthConfig{
			JWTSecret: "thisisasecretkeythatis32charslong!!", TokenTTL: time.Hour,
			LoginRate: 100, LoginBurst: 100,
			AdminEmail: "admin@example.org", AdminPassword: "correct-horse",
		},
		Circulation: config.CirculationConfig{
			LoanPeriodDays: 14, MaxRenewals: 3, ReservationTTLDays: 7,
			ClaimWindow: 48 * time.Hour, FinePerDay: "0.50", RetryMaxTries: 5,
		},
		Sweep: config.SweepConfig{Schedule: "@every 15m"},
	}
	c := clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	app, err := server.New(context.Background(), cfg, c, logger.Discard())
	require.NoError(t, err)
	srv := httptest.NewServer(app.Handler)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})
	return srv.URL + "/api/v1", c
}

func login(t *testing.T, base, email, password string) *clients.Client {
	t.Helper()
	c := clients.New(base, clients.WithLogger(logger.Discard()))
	_, err := c.Login(context.Background(), email, password)
	require.NoError(t, err)
	require.NotEmpty(t, c.Token())
	return c
}

func TestClientCirculationRoundTrip(t *testing.T) {
	base, clk := startServer(t)
	ctx := context.Background()
	admin := login(t, base, "admin@example.org", "correct-horse")

	anon := clients.New(base)
	alice, err := anon.Register(ctx, "alice@example.org", "Alice", "alice-password", identity.RoleStudent)
	require.NoError(t, err)
	bob, err := anon.Register(ctx, "bob@example.org", "Bob", "bob-password", "")
	require.NoError(t, err)
	asBob := login(t, base, "bob@example.org", "bob-password")

	book, err := admin.AddBook(ctx, "9780131103627", "The C Programming Language", "Kernighan")
	require.NoError(t, err)
	cp, err := admin.AddCopy(ctx, book.ID, "KR-001")
	require.NoError(t, err)

	loan, err := admin.Issue(ctx, alice.ID, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.TransactionIssued, loan.Status)

	_, err = admin.Issue(ctx, bob.ID, cp.ID)
	assert.ErrorIs(t, err, apperr.ErrCopyNotAvailable)
	assert.True(t, apperr.IsKind(err, apperr.InvalidState))

	res, err := asBob.Reserve(ctx, uuid.Nil, book.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, res.UserID)

	_, err = admin.Renew(ctx, loan.ID)
	assert.ErrorIs(t, err, apperr.ErrReservationPending)

	clk.Advance(16 * 24 * time.Hour)
	returned, err := admin.Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.TransactionReturned, returned.Status)

	avail, err := admin.Availability(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, avail.Available)

	list, err := asBob.ListReservations(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, circulation.ReservationFulfilled, list[0].Status)

	fine, err := admin.AssessFine(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, fine)
	assert.Equal(t, "1.00", fine.Amount.StringFixed(2))

	waived, err := admin.WaiveFine(ctx, fine.ID, "first offence")
	require.NoError(t, err)
	assert.Equal(t, circulation.FineWaived, waived.Status)

	claim, err := admin.Issue(ctx, bob.ID, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, claim.UserID)

	hist, err := asBob.History(ctx, bob.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, hist.Meta.TotalElements)

	trail, err := admin.AuditTrail(ctx, loan.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trail)

	_, err = asBob.Sweep(ctx)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = admin.MarkCopy(ctx, cp.ID, catalog.StatusDamaged)
	assert.ErrorIs(t, err, apperr.ErrCopyInCirculation)
}

func TestBreakerOpensOnServerFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		httpx.WriteJSON(w, http.StatusInternalServerError, httpx.ErrorBody{Error: httpx.ErrorDetail{Code: "INTERNAL", Kind: "internal", Message: "internal error"}})
	}))
	defer srv.Close()

	c := clients.New(srv.URL, clients.WithBreaker(2, time.Minute), clients.WithLogger(logger.Discard()))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Sweep(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, clients.ErrUnavailable))
	}

	_, err := c.Sweep(ctx)
	assert.ErrorIs(t, err, clients.ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestBreakerIgnoresRejections(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorBody{Error: httpx.ErrorDetail{
			Code: "RESERVATION_NOT_FOUND", Kind: "not_found", Message: "reservation not found",
		}})
	}))
	defer srv.Close()

	c := clients.New(srv.URL, clients.WithBreaker(2, time.Minute))
	for i := 0; i < 5; i++ {
		_, err := c.CancelReservation(context.Background(), uuid.New())
		assert.ErrorIs(t, err, apperr.ErrReservationNotFound)
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestUnexpectedErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := clients.New(srv.URL).Events(context.Background(), 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

package circulation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/circulation"
	"lmscirc/internal/httpx"
	"lmscirc/internal/identity"
)

type api struct {
	*fixture
	router http.Handler
	tokens *identity.TokenIssuer
}

func newAPI(t *testing.T, copies int) *api {
	t.Helper()
	f := newFixture(t, copies)
	tokens, err := identity.NewTokenIssuer("handler-secret", time.Hour, f.clock)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(identity.Middleware(tokens))
	circulation.NewHandler(f.svc, f.clock).Routes(r)
	return &api{fixture: f, router: r, tokens: tokens}
}

func (a *api) do(t *testing.T, as identity.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if as.UserID != uuid.Nil {
		token, _, err := a.tokens.IssueToken(&identity.User{ID: as.UserID, Role: as.Role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandlerLoanLifecycle(t *testing.T) {
	a := newAPI(t, 1)
	alice := a.reader(t)

	rec := a.do(t, a.staff, http.MethodPost, "/loans",
		`{"user_id":"`+alice.UserID.String()+`","copy_id":"`+a.copies[0].ID.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loan := decode[circulation.Transaction](t, rec)

	rec = a.do(t, a.staff, http.MethodPost, "/loans",
		`{"user_id":"`+alice.UserID.String()+`","copy_id":"`+a.copies[0].ID.String()+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "COPY_NOT_AVAILABLE", decode[httpx.ErrorBody](t, rec).Error.Code)

	rec = a.do(t, a.staff, http.MethodPost, "/loans/"+loan.ID.String()+"/renew", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[circulation.Transaction](t, rec).RenewalCount)

	a.clock.Advance(40 * 24 * time.Hour)
	rec = a.do(t, a.staff, http.MethodPost, "/loans/"+loan.ID.String()+"/return", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, alice, http.MethodGet, "/users/"+alice.UserID.String()+"/loans?page=1&page_size=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[circulation.HistoryPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, circulation.TransactionReturned, page.Items[0].Status)

	rec = a.do(t, alice, http.MethodGet, "/users/"+alice.UserID.String()+"/fines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fines := decode[[]circulation.Fine](t, rec)
	require.Len(t, fines, 1)

	rec = a.do(t, a.staff, http.MethodPost, "/fines/"+fines[0].ID.String()+"/payments", `{"amount":"0.10","method":"CASH"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, a.staff, http.MethodPost, "/fines/"+fines[0].ID.String()+"/payments", `{"amount":"100","method":"BITCOIN"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, a.staff, http.MethodPost, "/fines/"+fines[0].ID.String()+"/payments",
		`{"amount":"`+fines[0].Amount.String()+`","method":"ONLINE"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, circulation.FinePaid, decode[circulation.Fine](t, rec).Status)

	rec = a.do(t, a.staff, http.MethodPost, "/fines/"+fines[0].ID.String()+"/waiver", `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, a.staff, http.MethodPost, "/loans/"+loan.ID.String()+"/fine", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, a.staff, http.MethodGet, "/audit/"+loan.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rec), 3)
}

func TestHandlerReservations(t *testing.T) {
	a := newAPI(t, 1)
	a.issue(t, a.reader(t), 0)
	bob := a.reader(t)

	rec := a.do(t, bob, http.MethodPost, "/reservations", `{"book_id":"`+a.book.ID.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[circulation.Reservation](t, rec)
	assert.Equal(t, bob.UserID, res.UserID)

	rec = a.do(t, bob, http.MethodPost, "/reservations", `{"book_id":"`+a.book.ID.String()+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(t, bob, http.MethodGet, "/users/"+bob.UserID.String()+"/reservations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]circulation.Reservation](t, rec), 1)

	rec = a.do(t, bob, http.MethodDelete, "/reservations/"+res.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circulation.ReservationCancelled, decode[circulation.Reservation](t, rec).Status)
}

func TestHandlerAccessControl(t *testing.T) {
	a := newAPI(t, 1)
	alice, bob := a.reader(t), a.reader(t)

	rec := a.do(t, identity.Principal{}, http.MethodGet, "/users/"+alice.UserID.String()+"/loans", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, bob, http.MethodGet, "/users/"+alice.UserID.String()+"/loans", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, alice, http.MethodPost, "/loans",
		`{"user_id":"`+alice.UserID.String()+`","copy_id":"`+a.copies[0].ID.String()+`"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, alice, http.MethodPost, "/sweeps", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, a.staff, http.MethodPost, "/sweeps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circulation.SweepResult{}, decode[circulation.SweepResult](t, rec))

	rec = a.do(t, a.staff, http.MethodPost, "/loans/not-a-uuid/return", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, a.staff, http.MethodPost, "/loans", `{"copy_id":"`+a.copies[0].ID.String()+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, a.staff, http.MethodGet, "/events?after=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, a.staff, http.MethodGet, "/events?after=0&limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

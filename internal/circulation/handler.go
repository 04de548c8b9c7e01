// internal/circulation/handler.go
package circulation

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
	"lmscirc/internal/httpx"
	"lmscirc/internal/identity"
)

type Handler struct {
	service Service
	clock   clock.Clock
}

func NewHandler(service Service, c clock.Clock) *Handler {
	return &Handler{service: service, clock: c}
}

// Routes registers the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.HandleIssue)
	r.Post("/loans/{id}/return", h.HandleReturn)
	r.Post("/loans/{id}/renew", h.HandleRenew)
	r.Post("/loans/{id}/fine", h.HandleAssessFine)
	r.Get("/users/{id}/loans", h.HandleHistory)

	r.Post("/reservations", h.HandleReserve)
	r.Delete("/reservations/{id}", h.HandleCancelReservation)
	r.Get("/users/{id}/reservations", h.HandleListReservations)

	r.Get("/users/{id}/fines", h.HandleListFines)
	r.Post("/fines/{id}/payments", h.HandlePayFine)
	r.Post("/fines/{id}/waiver", h.HandleWaiveFine)

	r.Post("/sweeps", h.HandleSweep)
	r.Get("/audit/{id}", h.HandleAuditTrail)
	r.Get("/events", h.HandleEvents)
}

type issueRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	CopyID uuid.UUID `json:"copy_id" validate:"required"`
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	t, err := h.service.Issue(r.Context(), p, req.UserID, req.CopyID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	h.withLoan(w, r, h.service.Return)
}

func (h *Handler) HandleRenew(w http.ResponseWriter, r *http.Request) {
	h.withLoan(w, r, h.service.Renew)
}

func (h *Handler) withLoan(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, p identity.Principal, id uuid.UUID) (*Transaction, error)) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	t, err := fn(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) HandleAssessFine(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	f, err := h.service.AssessOverdueFine(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if f == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	p, userID, ok := principalAndID(w, r)
	if !ok {
		return
	}
	page, err := httpx.QueryInt(r, "page", 1)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	size, err := httpx.QueryInt(r, "page_size", defaultPageSize)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	result, err := h.service.History(r.Context(), p, userID, page, size)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type reserveRequest struct {
	UserID uuid.UUID `json:"user_id"`
	BookID uuid.UUID `json:"book_id" validate:"required"`
}

// HandleReserve queues the caller, or the named user when staff act on their behalf.
func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID = p.UserID
	}

	res, err := h.service.Reserve(r.Context(), p, req.UserID, req.BookID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleCancelReservation(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	res, err := h.service.CancelReservation(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleListReservations(w http.ResponseWriter, r *http.Request) {
	p, userID, ok := principalAndID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListReservations(r.Context(), p, userID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleListFines(w http.ResponseWriter, r *http.Request) {
	p, userID, ok := principalAndID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListFines(r.Context(), p, userID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"method" validate:"required,oneof=CASH CARD ONLINE"`
}

func (h *Handler) HandlePayFine(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	f, err := h.service.PayFine(r.Context(), p, id, req.Amount, req.Method)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

type waiverRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) HandleWaiveFine(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req waiverRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	f, err := h.service.WaiveFine(r.Context(), p, id, req.Reason)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, f)
}

// HandleSweep runs the expiry sweep on demand. Staff only.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !p.IsStaff() {
		httpx.WriteError(w, r, apperr.ErrForbidden.With("circulation.Sweep", "staff only"))
		return
	}

	result, err := h.service.SweepExpirations(r.Context(), h.clock.Now())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	events, err := h.service.AuditTrail(r.Context(), p, id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		if after, err = strconv.ParseInt(raw, 10, 64); err != nil {
			httpx.WriteError(w, r, apperr.ErrInvalidArgument.With("circulation.Events", "invalid after %q", raw))
			return
		}
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	events, err := h.service.Events(r.Context(), p, after, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func principalAndID(w http.ResponseWriter, r *http.Request) (identity.Principal, uuid.UUID, bool) {
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return identity.Principal{}, uuid.Nil, false
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return identity.Principal{}, uuid.Nil, false
	}
	return p, id, true
}

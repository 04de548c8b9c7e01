// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lmscirc/internal/httpx"
	"lmscirc/internal/identity"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.handleAddBook)
	r.Get("/books/{id}", h.handleGetBook)
	r.Get("/books/{id}/availability", h.handleAvailability)
	r.Get("/books/{id}/copies", h.handleListCopies)
	r.Post("/books/{id}/copies", h.handleAddCopy)
	r.Get("/copies/{id}", h.handleGetCopy)
	r.Patch("/copies/{id}", h.handleMarkCopy)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN   string `json:"isbn"`
		Title  string `json:"title" validate:"required"`
		Author string `json:"author"`
	}
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), p, req.ISBN, req.Title, req.Author)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	a, err := h.service.Availability(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	copies, err := h.service.ListCopies(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, copies)
}

func (h *Handler) handleAddCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Barcode string `json:"barcode" validate:"required"`
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	c, err := h.service.AddCopy(r.Context(), p, id, req.Barcode)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleMarkCopy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status CopyStatus `json:"status" validate:"required,oneof=AVAILABLE LOST DAMAGED"`
	}
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := identity.RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	c, err := h.service.MarkCopy(r.Context(), p, id, req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

// internal/identity/handler.go
package identity

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lmscirc/internal/apperr"
	"lmscirc/internal/httpx"
)

type Handler struct {
	service Service
	tokens  *TokenIssuer
}

func NewHandler(service Service, tokens *TokenIssuer) *Handler {
	return &Handler{service: service, tokens: tokens}
}

// Routes registers the identity endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/users", h.HandleRegister)
	r.Get("/users/{id}", h.HandleGetUser)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	token, expires, err := h.tokens.IssueToken(user)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, User: user})
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     Role   `json:"role" validate:"omitempty,oneof=ADMIN LIBRARIAN STUDENT"`
}

// HandleRegister creates an account. Anyone may create a STUDENT account;
// other roles need a staff principal.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = RoleStudent
	}
	if req.Role != RoleStudent {
		p, ok := FromContext(r.Context())
		if !ok || !p.IsStaff() {
			httpx.WriteError(w, r, apperr.ErrForbidden.With("identity.Register", "only staff may create %s accounts", req.Role))
			return
		}
	}

	user, err := h.service.RegisterUser(r.Context(), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := RequirePrincipal(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if !p.CanAccess(id) {
		httpx.WriteError(w, r, apperr.ErrForbidden.With("identity.GetUser", ""))
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

// Middleware resolves a bearer token into a principal on the request context.
// Requests without an Authorization header pass through anonymously.
func Middleware(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.WriteError(w, r, apperr.ErrUnauthenticated.With("identity.Middleware", "expected a bearer token"))
				return
			}
			p, err := tokens.ParseToken(strings.TrimSpace(raw))
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePrincipal returns the request principal or ErrUnauthenticated.
func RequirePrincipal(r *http.Request) (Principal, error) {
	p, ok := FromContext(r.Context())
	if !ok {
		return Principal{}, apperr.ErrUnauthenticated.With("identity.RequirePrincipal", "missing bearer token")
	}
	return p, nil
}

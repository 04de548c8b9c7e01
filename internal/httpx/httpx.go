// Package httpx holds the JSON request and response plumbing shared by the
// HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/logger"
)

var validate = validator.New()

// ErrorDetail is the payload of an error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorBody is the envelope every failed request returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// DecodeJSON decodes the request body into v and validates its struct tags.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.ErrInvalidArgument.With("decode", "malformed body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.ErrInvalidArgument.With("validate", "field %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return apperr.ErrInvalidArgument.Wrap("validate", err)
	}
	return nil
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.InvalidState, apperr.Conflict:
		return http.StatusConflict
	case apperr.Forbidden:
		if errors.Is(err, apperr.ErrUnauthenticated) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case apperr.LimitExceeded:
		if errors.Is(err, apperr.ErrRateLimited) {
			return http.StatusTooManyRequests
		}
		return http.StatusUnprocessableEntity
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the error envelope for err and logs it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	log := logger.FromContext(r.Context())

	body := ErrorBody{Error: ErrorDetail{
		Code:    "INTERNAL",
		Kind:    apperr.Internal.String(),
		Message: "internal error",
	}}
	var ae *apperr.Error
	if errors.As(err, &ae) && status != http.StatusInternalServerError {
		body.Error = ErrorDetail{Code: ae.Code, Kind: ae.Kind.String(), Message: ae.Message}
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	if apperr.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, body)
}

// RequestLogger attaches a logger carrying the chi request id to every request context.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := base.With("request_id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		})
	}
}

// URLParamUUID parses a chi path parameter as a UUID.
func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.ErrInvalidArgument.With("parse", "invalid %s %q", key, raw)
	}
	return id, nil
}

// QueryInt reads an integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.ErrInvalidArgument.With("parse", "invalid %s %q", key, raw)
	}
	return n, nil
}

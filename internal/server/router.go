// Package server assembles the HTTP surface and the process wiring.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clock"
	"lmscirc/internal/httpx"
	"lmscirc/internal/identity"
	"lmscirc/internal/logger"
)

// Routes is everything the router mounts.
type Routes struct {
	Circulation circulation.Service
	Catalog     catalog.Service
	Identity    identity.Service
	Tokens      *identity.TokenIssuer
	Clock       clock.Clock
	// Health reports whether the backing store answers.
	Health func(ctx context.Context) error
	Log    *slog.Logger
}

// NewRouter mounts the API under /api/v1 and a liveness probe at /healthz.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(rt.Log))
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if rt.Health != nil {
			if err := rt.Health(req.Context()); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware(rt.Tokens))
		identity.NewHandler(rt.Identity, rt.Tokens).Routes(r)
		catalog.NewHandler(rt.Catalog).Routes(r)
		circulation.NewHandler(rt.Circulation, rt.Clock).Routes(r)
	})
	return r
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logger.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(started))
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"lmscirc/internal/apperr"
	"lmscirc/internal/catalog"
	"lmscirc/internal/chaos"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clock"
	"lmscirc/internal/config"
	"lmscirc/internal/identity"
	"lmscirc/internal/store/memstore"
	"lmscirc/internal/store/postgres"
)

// backend is what both store drivers provide.
type backend interface {
	circulation.Store
	catalog.Repository
	identity.Repository
}

// App is the wired service.
type App struct {
	Handler     http.Handler
	Server      *http.Server
	Sweeper     *circulation.Sweeper
	Circulation circulation.Service
	Identity    identity.Service

	closers []func() error
	log     *slog.Logger
}

// New wires the store, services, router and sweeper from cfg.
func New(ctx context.Context, cfg *config.Config, c clock.Clock, log *slog.Logger) (*App, error) {
	app := &App{log: log}

	store, health, err := app.openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	rules, err := cfg.Circulation.Rules()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("circulation rules: %w", err)
	}

	tokens, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, c)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Identity = identity.NewService(store, c,
		identity.WithLogger(log.With("component", "identity")),
		identity.WithLoginLimit(rate.NewLimiter(rate.Limit(cfg.Auth.LoginRate), cfg.Auth.LoginBurst)),
	)
	var units circulation.Store = store
	if faults := (chaos.Config{
		Latency:      cfg.Chaos.Latency,
		Jitter:       cfg.Chaos.Jitter,
		ConflictRate: cfg.Chaos.ConflictRate,
	}); faults.Enabled() {
		log.Warn("injecting store faults", "latency", faults.Latency, "jitter", faults.Jitter, "conflict_rate", faults.ConflictRate)
		units = chaos.Wrap(store, faults)
	}
	app.Circulation = circulation.NewService(units, store, c,
		circulation.WithConfig(rules),
		circulation.WithLoanPolicy(cfg.Circulation.LoanPolicy()),
		circulation.WithLogger(log.With("component", "circulation")),
	)
	catalogSvc := catalog.NewService(store, c, log.With("component", "catalog"),
		catalog.WithShelver(app.Circulation),
	)

	if err := EnsureAdmin(ctx, app.Identity, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, log); err != nil {
		app.Close()
		return nil, err
	}

	app.Sweeper, err = circulation.NewSweeper(app.Circulation, c, cfg.Sweep.Schedule, log.With("component", "sweeper"))
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Handler = NewRouter(Routes{
		Circulation: app.Circulation,
		Catalog:     catalogSvc,
		Identity:    app.Identity,
		Tokens:      tokens,
		Clock:       c,
		Health:      health,
		Log:         log,
	})
	app.Server = &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: app.Handler,
	}
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (backend, func(context.Context) error, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using the in-memory store, data is lost on exit")
		return memstore.New(), nil, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := postgres.Migrate(ctx, db.DB, log); err != nil {
		a.Close()
		return nil, nil, err
	}
	store := postgres.New(db, log.With("component", "postgres"))
	return store, store.Ping, nil
}

// Close releases the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// EnsureAdmin creates the configured administrator unless the account exists.
func EnsureAdmin(ctx context.Context, svc identity.Service, email, password string, log *slog.Logger) error {
	if email == "" {
		return nil
	}
	u, err := svc.RegisterUser(ctx, email, "Administrator", password, identity.RoleAdmin)
	if errors.Is(err, apperr.ErrDuplicateUser) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create administrator: %w", err)
	}
	log.Info("administrator created", "user_id", u.ID, "email", u.Email)
	return nil
}

// Package postgres stores circulation, catalog and identity data in
// PostgreSQL through sqlx, with SQL built by goqu.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"lmscirc/internal/apperr"
	"lmscirc/internal/circulation"
	"lmscirc/internal/eventstore"
)

var dialect = goqu.Dialect("postgres")

// Store implements circulation.Store, catalog.Repository and identity.Repository.
type Store struct {
	db     *sqlx.DB
	events *eventstore.EventStore
	log    *slog.Logger
}

var _ circulation.Store = (*Store)(nil)

// Open connects to url and verifies the connection. Sessions run in UTC so
// DATE columns round-trip as UTC midnights.
func Open(ctx context.Context, rawURL string) (*sqlx.DB, error) {
	dsn, err := withUTC(rawURL)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func withUTC(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "postgres://") && !strings.HasPrefix(rawURL, "postgresql://") {
		if strings.Contains(rawURL, "timezone=") {
			return rawURL, nil
		}
		return strings.TrimSpace(rawURL + " timezone=UTC"), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	q := u.Query()
	if q.Get("timezone") == "" {
		q.Set("timezone", "UTC")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// New wraps an open connection pool.
func New(db *sqlx.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, events: eventstore.NewEventStore(db), log: log}
}

// DB exposes the pool for migrations and health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Atomic runs fn inside one READ COMMITTED transaction. Row versions and
// advisory locks provide the isolation circulation needs.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	return s.inTx(ctx, func(ctx context.Context, u *unit) error { return fn(ctx, u) })
}

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, u *unit) error) error {
	const op = "postgres.Atomic"
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	u := &unit{tx: tx, events: s.events.In(tx)}
	if err := fn(ctx, u); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
		return mapError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(err error, e *apperr.Error, op string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return e.With(op, "%v", id)
	}
	return mapError(op, err)
}

// get runs ds and scans one row into dest.
func get(ctx context.Context, q sqlx.QueryerContext, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

// all runs ds and scans every row into dest.
func all(ctx context.Context, q sqlx.QueryerContext, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// exec runs a built statement and returns the affected row count.
func exec(ctx context.Context, e sqlx.ExecerContext, b sqlBuilder) (int64, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

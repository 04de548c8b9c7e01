// internal/circulation/implementation.go
package circulation

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
	"lmscirc/internal/eventstore"
	"lmscirc/internal/identity"
)

// service implements the Service interface.
type service struct {
	store   Store
	users   UserDirectory
	clock   clock.Clock
	cfg     Config
	policy  LoanPolicy
	locks   *keyedMutex
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics
}

// Option configures the circulation service.
type Option func(*service)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *service) { s.cfg = cfg }
}

// WithLoanPolicy replaces the default NoLimit policy.
func WithLoanPolicy(p LoanPolicy) Option {
	return func(s *service) { s.policy = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.log = l }
}

// NewService creates a new circulation service instance.
func NewService(store Store, users UserDirectory, c clock.Clock, opts ...Option) Service {
	s := &service{
		store:   store,
		users:   users,
		clock:   c,
		cfg:     DefaultConfig(),
		policy:  NoLimit{},
		locks:   newKeyedMutex(),
		log:     slog.Default(),
		tracer:  otel.Tracer("lmscirc/circulation"),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.RetryMaxTries == 0 {
		s.cfg.RetryMaxTries = 1
	}
	if s.cfg.RetryInitial <= 0 {
		s.cfg.RetryInitial = 10 * time.Millisecond
	}
	return s
}

type metrics struct {
	operations metric.Int64Counter
	conflicts  metric.Int64Counter
	fines      metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("lmscirc/circulation")
	return &metrics{
		operations: counter(meter, "circulation.operations", "Circulation operations by outcome"),
		conflicts:  counter(meter, "circulation.conflicts", "Units of work retried after a concurrent modification"),
		fines:      counter(meter, "circulation.fines_assessed", "Overdue fines created"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		c, _ = noop.NewMeterProvider().Meter("noop").Int64Counter(name)
	}
	return c
}

// run executes fn as one unit of work while holding the in-process lock for
// key, retrying with exponential backoff when it loses a concurrency race.
// A nil key takes no lock.
func (s *service) run(ctx context.Context, op string, key uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("lock.key", key.String())))
	defer span.End()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.attempt(ctx, key, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case apperr.IsRetryable(err):
			s.metrics.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
			s.log.DebugContext(ctx, "unit of work conflicted, retrying", "op", op, "attempt", attempts, "error", err)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(s.cfg.RetryMaxTries))

	span.SetAttributes(attribute.Int("attempts", attempts))
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	return err
}

func (s *service) attempt(ctx context.Context, key uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	if key != uuid.Nil {
		unlock := s.locks.Lock(key)
		defer unlock()
	}
	return s.store.Atomic(ctx, fn)
}

func (s *service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = 50 * s.cfg.RetryInitial
	return b
}

// record appends one event for an aggregate whose row now sits at version.
// Row versions and event versions move in lockstep.
func record(ctx context.Context, tx Tx, aggregateType string, id uuid.UUID, version int, eventType string, payload any) error {
	ev, err := eventstore.NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	return tx.Events().Append(ctx, id, aggregateType, version-1, ev)
}

// activeUser resolves userID and refuses suspended accounts.
func (s *service) activeUser(ctx context.Context, op string, userID uuid.UUID) (*identity.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, apperr.ErrLoanNotPermitted.With(op, "account %s is %s", user.ID, user.Status)
	}
	return user, nil
}

func requireStaff(p identity.Principal, op string) error {
	if !p.IsStaff() {
		return apperr.ErrForbidden.With(op, "staff only")
	}
	return nil
}

func requireAccess(p identity.Principal, op string, userID uuid.UUID) error {
	if !p.CanAccess(userID) {
		return apperr.ErrForbidden.With(op, "principal %s may not act for user %s", p.UserID, userID)
	}
	return nil
}

// AuditTrail returns every event recorded for one transaction, reservation or fine.
func (s *service) AuditTrail(ctx context.Context, p identity.Principal, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	const op = "circulation.AuditTrail"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	var events []eventstore.Event
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context, tx Tx) error {
		var err error
		events, err = tx.Events().Load(ctx, aggregateID)
		return err
	})
	return events, err
}

// Events pages through the whole event log in append order.
func (s *service) Events(ctx context.Context, p identity.Principal, afterID int64, limit int) ([]eventstore.Event, error) {
	const op = "circulation.Events"
	if err := requireStaff(p, op); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 100
	}
	if limit < 0 || limit > 1000 || afterID < 0 {
		return nil, apperr.ErrInvalidArgument.With(op, "limit must be within 1..1000 and after non-negative")
	}
	var events []eventstore.Event
	err := s.run(ctx, op, uuid.Nil, func(ctx context.Context, tx Tx) error {
		var err error
		events, err = tx.Events().Stream(ctx, afterID, limit)
		return err
	})
	return events, err
}

// Package chaos injects faults into the circulation store so retry and
// timeout handling can be exercised on purpose.
package chaos

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"lmscirc/internal/apperr"
	"lmscirc/internal/circulation"
)

// Config describes the faults to inject.
type Config struct {
	// Latency is added before every unit of work, plus up to Jitter more.
	Latency time.Duration
	Jitter  time.Duration
	// ConflictRate is the share of units of work (0.0 to 1.0) that fail
	// with a concurrent modification before touching the store.
	ConflictRate float64
	Seed         int64
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.Latency > 0 || c.Jitter > 0 || c.ConflictRate > 0
}

// Stats counts injected faults.
type Stats struct {
	Units     int64 `json:"units"`
	Conflicts int64 `json:"conflicts"`
	Delayed   int64 `json:"delayed"`
}

// Store wraps a circulation.Store with fault injection.
type Store struct {
	inner  circulation.Store
	cfg    Config
	tracer trace.Tracer

	mu       sync.Mutex
	rng      *rand.Rand
	failNext int

	units, conflicts, delayed atomic.Int64
}

var _ circulation.Store = (*Store)(nil)

// Wrap returns inner with the faults of cfg injected.
func Wrap(inner circulation.Store, cfg Config) *Store {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Store{
		inner:  inner,
		cfg:    cfg,
		tracer: otel.Tracer("lmscirc/chaos"),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// FailNext makes the next n units of work fail with a conflict regardless of ConflictRate.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Stats returns the faults injected so far.
func (s *Store) Stats() Stats {
	return Stats{Units: s.units.Load(), Conflicts: s.conflicts.Load(), Delayed: s.delayed.Load()}
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	s.units.Add(1)
	delay, fail := s.roll()
	if delay == 0 && !fail {
		return s.inner.Atomic(ctx, fn)
	}

	ctx, span := s.tracer.Start(ctx, "chaos.atomic")
	defer span.End()

	if delay > 0 {
		s.delayed.Add(1)
		span.AddEvent("fault.latency", trace.WithAttributes(attribute.Int64("latency.ms", delay.Milliseconds())))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if fail {
		s.conflicts.Add(1)
		span.AddEvent("fault.conflict")
		return apperr.ErrConcurrentModification.With("chaos.Atomic", "injected fault")
	}
	return s.inner.Atomic(ctx, fn)
}

func (s *Store) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	if s.failNext > 0 {
		s.failNext--
		return delay, true
	}
	return delay, s.cfg.ConflictRate > 0 && s.rng.Float64() < s.cfg.ConflictRate
}

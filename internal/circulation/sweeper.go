// internal/circulation/sweeper.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"lmscirc/internal/clock"
)

// DefaultSweepSchedule runs the expiry sweep every quarter hour.
const DefaultSweepSchedule = "@every 15m"

// Sweeper runs SweepExpirations on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	service Service
	clock   clock.Clock
	log     *slog.Logger
	timeout time.Duration
}

// NewSweeper validates schedule and prepares the job. Call Start to run it.
func NewSweeper(service Service, c clock.Clock, schedule string, log *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger), cron.Recover(cron.DiscardLogger))),
		service: service,
		clock:   c,
		log:     log,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.Tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("expiry sweeper started", "jobs", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("expiry sweeper did not stop in time")
	}
}

// Tick performs one sweep.
func (s *Sweeper) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.service.SweepExpirations(ctx, s.clock.Now())
	if err != nil {
		s.log.Error("expiry sweep failed", "error", err,
			"expired", result.ExpiredReservations,
			"cascaded", result.CascadedFulfillments)
		return
	}
	s.log.Debug("expiry sweep done",
		"expired", result.ExpiredReservations,
		"cascaded", result.CascadedFulfillments,
		"took", time.Since(started))
}

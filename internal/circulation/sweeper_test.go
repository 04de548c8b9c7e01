package circulation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/clock"
	"lmscirc/internal/logger"
)

type sweepCounter struct {
	Service
	calls atomic.Int32
	last  atomic.Value
	err   error
}

func (s *sweepCounter) SweepExpirations(_ context.Context, now time.Time) (SweepResult, error) {
	s.calls.Add(1)
	s.last.Store(now)
	return SweepResult{ExpiredReservations: 1}, s.err
}

func TestSweeperTickUsesClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &sweepCounter{}
	s, err := NewSweeper(svc, clock.NewFixed(at), "", logger.Discard())
	require.NoError(t, err)

	s.Tick()
	assert.Equal(t, int32(1), svc.calls.Load())
	assert.Equal(t, at, svc.last.Load())

	svc.err = errors.New("store offline")
	s.Tick()
	assert.Equal(t, int32(2), svc.calls.Load())
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(&sweepCounter{}, clock.System(), "every now and then", nil)
	assert.Error(t, err)
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	svc := &sweepCounter{}
	s, err := NewSweeper(svc, clock.System(), "@every 1s", logger.Discard())
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return svc.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker("test", BreakerOptions{
		WindowSize:     10,
		ErrorThreshold: 0.5,
		MinRequests:    4,
		ResetTimeout:   10 * time.Second,
		Now:            clock.Now,
	})
}

func TestBreakerStartsClosed(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(true)
	}

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerTripsAtErrorThreshold(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	// 2 successes + 2 failures = 50% over 4 outcomes, right at the threshold.
	outcomes := []bool{false, true, false, true}
	for _, failure := range outcomes {
		require.NoError(t, b.Allow())
		b.Record(failure)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerOpenRejectsWithoutCallingFn(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(true)
	}
	require.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Zero(t, calls)
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(true)
	}

	clock.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen, "still within the reset timeout")

	clock.Advance(time.Second)
	require.NoError(t, b.Allow(), "reset timeout elapsed, one trial allowed")
	assert.Equal(t, StateHalfOpen, b.State())

	// Only one trial at a time.
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerClosesOnTrialSuccess(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(true)
	}

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(false)

	assert.Equal(t, StateClosed, b.State())

	// The window was cleared: old failures no longer count toward a trip.
	require.NoError(t, b.Allow())
	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnTrialFailure(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.Record(true)
	}

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(true)

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	// The reset timer restarted when the trial failed.
	clock.Advance(10 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerDoesNotCountNotFoundAsFailure(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 8; i++ {
		err := b.Do(context.Background(), func(ctx context.Context) error {
			return ErrPeerNotFound
		})
		require.ErrorIs(t, err, ErrPeerNotFound)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCountsTimeoutAsFailure(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		_ = b.Do(context.Background(), func(ctx context.Context) error {
			return errors.Join(ErrPeerUnavailable, context.DeadlineExceeded)
		})
	}

	assert.Equal(t, StateOpen, b.State())
}

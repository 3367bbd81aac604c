package peer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is one of Closed, Open, HalfOpen.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// BreakerOptions tunes a single breaker. The zero value gets defaults.
// Now is injectable so tests can drive the reset timeout deterministically.
type BreakerOptions struct {
	WindowSize     int           // rolling outcome window, default 10
	ErrorThreshold float64       // failure fraction that trips the breaker, default 0.5
	MinRequests    int           // outcomes required before tripping is possible, default 4
	ResetTimeout   time.Duration // OPEN -> HALF_OPEN delay, default 10s
	Now            func() time.Time
}

// Breaker is a circuit breaker for one remote operation. Closed passes
// calls through and records outcomes in a rolling window; once the
// window's failure fraction reaches the threshold it opens and rejects
// calls without any I/O. After ResetTimeout a single trial call is let
// through (half-open); its outcome decides between closing again and
// re-opening.
type Breaker struct {
	name string
	opts BreakerOptions

	mu       sync.Mutex
	state    BreakerState
	window   []bool // true = failure
	cursor   int
	filled   int
	openedAt time.Time
	inTrial  bool
}

func NewBreaker(name string, opts BreakerOptions) *Breaker {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 10
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = 0.5
	}
	if opts.MinRequests <= 0 {
		opts.MinRequests = 4
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{
		name:   name,
		opts:   opts,
		window: make([]bool, opts.WindowSize),
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed right now. It performs the
// OPEN -> HALF_OPEN transition once the reset timeout has elapsed and
// claims the half-open trial slot for the caller.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.opts.Now().Sub(b.openedAt) < b.opts.ResetTimeout {
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.inTrial = true
		return nil
	default: // StateHalfOpen
		if b.inTrial {
			return ErrBreakerOpen
		}
		b.inTrial = true
		return nil
	}
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.inTrial = false
		if failure {
			b.trip()
			return
		}
		b.reset()
	case StateClosed:
		b.window[b.cursor] = failure
		b.cursor = (b.cursor + 1) % len(b.window)
		if b.filled < len(b.window) {
			b.filled++
		}
		if b.filled >= b.opts.MinRequests && b.failureRate() >= b.opts.ErrorThreshold {
			b.trip()
		}
	case StateOpen:
		// Late result from a call admitted before the trip; nothing to do.
	}
}

// Do runs fn under the breaker. A remote not-found is a valid answer from
// a healthy peer and does not count against the error rate.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err != nil && !errors.Is(err, ErrPeerNotFound))
	return err
}

func (b *Breaker) failureRate() float64 {
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.opts.Now()
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.cursor = 0
	b.filled = 0
	for i := range b.window {
		b.window[i] = false
	}
}

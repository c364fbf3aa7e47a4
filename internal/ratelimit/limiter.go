// Package ratelimit bounds the outbound request rate to upstream nodes with
// an in-process sliding window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"token-wallet-monitor/internal/observability"
)

// Defaults for the admission window.
const (
	DefaultRate          = 8
	DefaultWindow        = time.Second
	DefaultMaxIterations = 100
)

// ErrAdmissionExhausted is returned when a caller lost the race for a free
// slot more than the configured number of times.
var ErrAdmissionExhausted = errors.New("admission wait iterations exhausted")

// Limiter admits at most rate calls within any sliding window.
type Limiter struct {
	mu      sync.Mutex
	rate    int
	window  time.Duration
	maxIter int
	stamps  []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures Limiter.
type Option func(*Limiter)

// WithMaxIterations bounds how often Acquire re-evaluates the window.
func WithMaxIterations(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxIter = n
		}
	}
}

// WithClock replaces the time source and the suspension primitive.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a Limiter. Non-positive rate or window fall back to defaults.
func New(rate int, window time.Duration, opts ...Option) *Limiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		rate:    rate,
		window:  window,
		maxIter: DefaultMaxIterations,
		stamps:  make([]time.Time, 0, rate),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a call is admitted, ctx is done, or the iteration
// guard trips.
func (l *Limiter) Acquire(ctx context.Context) error {
	for i := 0; i < l.maxIter; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := l.tryAdmit()
		if ok {
			return nil
		}

		observability.RecordAdmissionWait()
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return ErrAdmissionExhausted
}

// tryAdmit records an admission if the window has room, otherwise returns
// the time until the oldest admission leaves the window.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	if len(l.stamps) < l.rate {
		l.stamps = append(l.stamps, now)
		observability.UpdateAdmissionInUse(len(l.stamps))
		return 0, true
	}

	return l.stamps[0].Add(l.window).Sub(now), false
}

// purge drops admissions at least one window old. Caller holds mu.
func (l *Limiter) purge(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// InUse returns the number of admissions inside the current window.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(l.now())
	return len(l.stamps)
}

// Capacity returns the maximum admissions per window.
func (l *Limiter) Capacity() int {
	return l.rate
}

// Window returns the sliding window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

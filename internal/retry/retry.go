// Package retry absorbs upstream throttling with bounded exponential backoff.
//
// Only rate-limit rejections are retried. Every other error returns on the
// first failure so transport faults surface to the caller unchanged.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/observability"
	"token-wallet-monitor/internal/solana"
)

// Defaults
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	maxShift          = 20
)

// Admitter gates each attempt. *ratelimit.Limiter satisfies it.
type Admitter interface {
	Acquire(ctx context.Context) error
}

// Executor runs upstream operations under admission control and retries
// rate-limited attempts.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	maxJitter  time.Duration
	admitter   Admitter
	retryable  func(error) bool
	log        *logrus.Entry
}

// Option configures Executor.
type Option func(*Executor)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBaseDelay sets the delay multiplied by 2^attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) {
		e.baseDelay = d
	}
}

// WithMaxJitter sets the exclusive upper bound of the random jitter.
func WithMaxJitter(d time.Duration) Option {
	return func(e *Executor) {
		e.maxJitter = d
	}
}

// WithAdmitter gates every attempt, retries included.
func WithAdmitter(a Admitter) Option {
	return func(e *Executor) {
		e.admitter = a
	}
}

// WithRetryable overrides rate-limit detection.
func WithRetryable(fn func(error) bool) Option {
	return func(e *Executor) {
		e.retryable = fn
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Executor) {
		e.log = log
	}
}

// NewExecutor creates an Executor. Jitter defaults to [0, baseDelay).
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxJitter:  -1,
		retryable:  solana.IsRateLimited,
		log:        logrus.WithField("component", "retry"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxJitter < 0 {
		e.maxJitter = e.baseDelay
	}
	return e
}

// MaxRetries returns the configured retry budget.
func (e *Executor) MaxRetries() int {
	return e.maxRetries
}

// Do runs op, retrying only on rate-limit errors. After maxRetries retries
// the last error is returned.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		var zero T
		attempts++
		if e.admitter != nil {
			if err := e.admitter.Acquire(ctx); err != nil {
				return zero, backoff.Permanent(err)
			}
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !e.retryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	notify := func(err error, next time.Duration) {
		observability.RecordRateLimitRetry()
		e.log.WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   next,
		}).WithError(err).Debug("rate limited, backing off")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxRetries)), ctx)

	v, err := backoff.RetryNotifyWithData(operation, policy, notify)
	if err != nil && e.retryable(err) {
		observability.RecordRetriesExhausted()
		e.log.WithField("attempts", attempts).WithError(err).Warn("rate limit retries exhausted")
	}
	return v, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, op func(ctx context.Context) error) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func (e *Executor) newBackOff() *ExponentialJitter {
	return &ExponentialJitter{Base: e.baseDelay, MaxJitter: e.maxJitter}
}

// ExponentialJitter yields Base*2^n plus a uniform jitter in [0, MaxJitter)
// for the n-th retry, n starting at zero.
type ExponentialJitter struct {
	Base      time.Duration
	MaxJitter time.Duration

	attempt int
	// Jitter returns a value in [0, max); rand.N when nil.
	Jitter func(max time.Duration) time.Duration
}

var _ backoff.BackOff = (*ExponentialJitter)(nil)

// NextBackOff returns the delay before the next retry.
func (b *ExponentialJitter) NextBackOff() time.Duration {
	shift := b.attempt
	if shift > maxShift {
		shift = maxShift
	}
	b.attempt++

	d := b.Base * time.Duration(1<<shift)
	if b.MaxJitter > 0 {
		if b.Jitter != nil {
			d += b.Jitter(b.MaxJitter)
		} else {
			d += rand.N(b.MaxJitter)
		}
	}
	return d
}

// Reset restarts the sequence.
func (b *ExponentialJitter) Reset() {
	b.attempt = 0
}

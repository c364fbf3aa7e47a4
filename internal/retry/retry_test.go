package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet-monitor/internal/solana"
)

type countingAdmitter struct {
	calls atomic.Int32
	err   error
}

func (a *countingAdmitter) Acquire(ctx context.Context) error {
	a.calls.Add(1)
	return a.err
}

func fastExecutor(opts ...Option) *Executor {
	base := []Option{WithBaseDelay(time.Millisecond), WithMaxJitter(0)}
	return NewExecutor(append(base, opts...)...)
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	adm := &countingAdmitter{}
	e := fastExecutor(WithAdmitter(adm))

	v, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), adm.calls.Load())
}

func TestDo_RetriesRateLimitedThenSucceeds(t *testing.T) {
	adm := &countingAdmitter{}
	e := fastExecutor(WithAdmitter(adm), WithMaxRetries(3))

	var calls atomic.Int32
	v, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", fmt.Errorf("getSlot: %w", solana.ErrRateLimited)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), calls.Load())
	// Every attempt, retries included, passes admission.
	assert.Equal(t, int32(3), adm.calls.Load())
}

func TestDo_ExhaustsRetriesAndReturnsLastError(t *testing.T) {
	e := fastExecutor(WithMaxRetries(2))

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		return 0, fmt.Errorf("attempt %d: %w", n, solana.ErrRateLimited)
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestDo_TransportErrorMentioning429IsNotRetried(t *testing.T) {
	e := fastExecutor(WithMaxRetries(3))
	client := solana.NewHTTPClient("http://127.0.0.1:1/?api-key=x429", solana.WithTimeout(time.Second))

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int64, error) {
		calls.Add(1)
		return client.GetSlot(ctx)
	})

	require.Error(t, err)
	assert.False(t, solana.IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_NonRateLimitErrorIsNotRetried(t *testing.T) {
	e := fastExecutor(WithMaxRetries(5))
	transport := errors.New("connection reset by peer")

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, transport
	})

	assert.ErrorIs(t, err, transport)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_ZeroRetries(t *testing.T) {
	e := fastExecutor(WithMaxRetries(0))

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, solana.ErrRateLimited
	})

	assert.ErrorIs(t, err, solana.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_AdmissionFailureIsPermanent(t *testing.T) {
	admErr := errors.New("admission wait iterations exhausted")
	e := fastExecutor(WithAdmitter(&countingAdmitter{err: admErr}))

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	})

	assert.ErrorIs(t, err, admErr)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(WithBaseDelay(time.Hour), WithMaxJitter(0), WithMaxRetries(3))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, e, func(ctx context.Context) (int, error) {
		return 0, solana.ErrRateLimited
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRun(t *testing.T) {
	e := fastExecutor()

	var calls atomic.Int32
	err := Run(context.Background(), e, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return solana.ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExponentialJitter_Sequence(t *testing.T) {
	b := &ExponentialJitter{
		Base:      100 * time.Millisecond,
		MaxJitter: 50 * time.Millisecond,
		Jitter:    func(max time.Duration) time.Duration { return max - 1 },
	}

	assert.Equal(t, 100*time.Millisecond+49999999, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond+49999999, b.NextBackOff())
	assert.Equal(t, 400*time.Millisecond+49999999, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond+49999999, b.NextBackOff())
}

func TestExponentialJitter_JitterBounds(t *testing.T) {
	b := &ExponentialJitter{Base: 10 * time.Millisecond, MaxJitter: 10 * time.Millisecond}
	for i := 0; i < 100; i++ {
		b.Reset()
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestNewExecutor_Defaults(t *testing.T) {
	e := NewExecutor()
	assert.Equal(t, DefaultMaxRetries, e.MaxRetries())
	assert.Equal(t, DefaultBaseDelay, e.baseDelay)
	assert.Equal(t, DefaultBaseDelay, e.maxJitter)
}

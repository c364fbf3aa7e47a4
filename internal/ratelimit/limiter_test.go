package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the limiter sleeps or the test moves it.
type fakeClock struct {
	mu      sync.Mutex
	t       time.Time
	slept   []time.Duration
	advance bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0), advance: true}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if c.advance {
		c.t = c.t.Add(d)
	}
	return ctx.Err()
}

func (c *fakeClock) move(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_AdmitsUpToRateWithoutWaiting(t *testing.T) {
	clock := newFakeClock()
	l := New(3, time.Second, WithClock(clock.now, clock.sleep))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	assert.Empty(t, clock.slept)
	assert.Equal(t, 3, l.InUse())
	assert.Equal(t, 3, l.Capacity())
}

func TestLimiter_WaitsUntilOldestLeavesWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(3, time.Second, WithClock(clock.now, clock.sleep))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	clock.move(100 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx))
	clock.move(100 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx))
	clock.move(100 * time.Millisecond)

	require.NoError(t, l.Acquire(ctx))

	require.Len(t, clock.slept, 1)
	assert.Equal(t, 700*time.Millisecond, clock.slept[0])
	assert.Equal(t, 3, l.InUse())
}

func TestLimiter_WindowExpiry(t *testing.T) {
	clock := newFakeClock()
	l := New(2, time.Second, WithClock(clock.now, clock.sleep))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InUse())

	clock.move(time.Second)
	assert.Equal(t, 0, l.InUse())

	require.NoError(t, l.Acquire(ctx))
	assert.Empty(t, clock.slept)
}

func TestLimiter_IterationGuard(t *testing.T) {
	clock := newFakeClock()
	clock.advance = false
	l := New(1, time.Second, WithClock(clock.now, clock.sleep), WithMaxIterations(5))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrAdmissionExhausted)
	assert.Len(t, clock.slept, 5)
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := New(1, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultRate, l.Capacity())
	assert.Equal(t, DefaultWindow, l.Window())
}

func TestLimiter_ConcurrentNeverExceedsRate(t *testing.T) {
	const (
		rate    = 3
		window  = 100 * time.Millisecond
		callers = 9
	)
	l := New(rate, window)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []time.Time
		maxInUse int
	)

	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := l.InUse()
			mu.Lock()
			admitted = append(admitted, time.Now())
			if n > maxInUse {
				maxInUse = n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, admitted, callers)
	assert.LessOrEqual(t, maxInUse, rate)
	// Nine admissions at three per window need at least two full windows.
	assert.GreaterOrEqual(t, time.Since(start), 2*window)
}

package holders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet-monitor/internal/storage/memory"
)

// countingSource returns a fixed holder list and counts calls.
type countingSource struct {
	calls   atomic.Int32
	holders []Holder
	err     error
	delay   time.Duration
	gotN    int
	gotMin  decimal.Decimal
}

func (s *countingSource) TopHolders(_ context.Context, n int, minBalance decimal.Decimal) ([]Holder, error) {
	s.calls.Add(1)
	s.gotN, s.gotMin = n, minBalance
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.holders, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func threeHolders() []Holder {
	return []Holder{
		{Owner: "whale", Balance: decimal.NewFromInt(900)},
		{Owner: "vault", Balance: decimal.NewFromInt(500), IsProgramOwned: true},
		{Owner: "minnow", Balance: decimal.NewFromInt(10)},
	}
}

func TestCache_FreshSnapshotSkipsUpstream(t *testing.T) {
	src := &countingSource{holders: threeHolders()}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCache(src, nil, WithClock(clock.Now))
	ctx := context.Background()

	got, err := c.GetTopHolders(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "whale", got[0].Address)
	assert.Equal(t, "vault", got[1].Address)
	assert.True(t, got[1].IsProgramOwned)

	clock.Advance(29 * time.Second)
	got, err = c.GetTopHolders(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCache_ExpiredSnapshotRefreshes(t *testing.T) {
	src := &countingSource{holders: threeHolders()}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCache(src, nil, WithClock(clock.Now), WithTTL(10*time.Second))
	ctx := context.Background()

	_, err := c.GetTopHolders(ctx, 1)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	src.holders = []Holder{{Owner: "newcomer", Balance: decimal.NewFromInt(1)}}

	got, err := c.GetTopHolders(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newcomer", got[0].Address)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.True(t, c.Snapshot().CapturedAt.Equal(clock.Now()))
}

func TestCache_EmptySnapshotIsNeverFresh(t *testing.T) {
	src := &countingSource{}
	c := NewCache(src, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.GetTopHolders(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestCache_ConcurrentCallersShareOneRefresh(t *testing.T) {
	src := &countingSource{holders: threeHolders(), delay: 20 * time.Millisecond}
	c := NewCache(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetTopHolders(context.Background(), 3)
			assert.NoError(t, err)
			assert.Len(t, got, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCache_PersistsRefreshedWallets(t *testing.T) {
	store := memory.NewStore()
	src := &countingSource{holders: threeHolders()}
	c := NewCache(src, store, WithTopN(3), WithMinBalance(decimal.NewFromInt(5)))
	ctx := context.Background()

	_, err := c.GetTopHolders(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, src.gotN)
	assert.True(t, src.gotMin.Equal(decimal.NewFromInt(5)))

	top, err := store.GetTopWallets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "whale", top[0].Address)
	assert.Zero(t, top[0].TransactionCount)
	assert.True(t, top[0].TotalVolume.IsZero())
}

func TestCache_RefreshErrorPropagates(t *testing.T) {
	boom := errors.New("upstream down")
	c := NewCache(&countingSource{err: boom}, nil)

	_, err := c.GetTopHolders(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, c.Snapshot())
}

func TestCache_ForcedRefresh(t *testing.T) {
	src := &countingSource{holders: threeHolders()}
	c := NewCache(src, nil)
	ctx := context.Background()

	_, err := c.GetTopHolders(ctx, 1)
	require.NoError(t, err)

	snap, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Wallets, 3)
	assert.Equal(t, int32(2), src.calls.Load())
}

// Package holders keeps a freshness-bounded snapshot of the top holders
// of the monitored mint.
package holders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/observability"
	"token-wallet-monitor/internal/storage"
)

// Defaults
const (
	DefaultTTL  = 30 * time.Second
	DefaultTopN = 100
)

// Cache serves the top holder list from a snapshot younger than its TTL
// and refreshes it from a Source otherwise.
type Cache struct {
	source     Source
	store      storage.WalletStore
	ttl        time.Duration
	topN       int
	minBalance decimal.Decimal
	now        func() time.Time
	log        *logrus.Entry

	// mu is held for the whole refresh so concurrent callers wait for it
	// instead of issuing their own.
	mu       sync.Mutex
	snapshot *domain.HolderSnapshot
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithTopN sets how many holders a refresh requests.
func WithTopN(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.topN = n
		}
	}
}

// WithMinBalance drops holders below balance.
func WithMinBalance(balance decimal.Decimal) Option {
	return func(c *Cache) {
		c.minBalance = balance
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCache creates a Cache. Refreshed wallets are persisted to store when
// it is not nil.
func NewCache(source Source, store storage.WalletStore, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		store:  store,
		ttl:    DefaultTTL,
		topN:   DefaultTopN,
		now:    time.Now,
		log:    logrus.WithField("component", "holders"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTopHolders returns up to limit holders, balance desc. A non-positive
// limit returns the whole snapshot.
func (c *Cache) GetTopHolders(ctx context.Context, limit int) ([]*domain.Wallet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.freshLocked() {
		observability.RecordHolderCacheHit()
		return c.snapshot.Top(limit), nil
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return c.snapshot.Top(limit), nil
}

// Refresh replaces the snapshot regardless of its age.
func (c *Cache) Refresh(ctx context.Context) (*domain.HolderSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return c.snapshot, nil
}

// Snapshot returns the current snapshot, possibly stale or nil.
func (c *Cache) Snapshot() *domain.HolderSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Cache) freshLocked() bool {
	if c.snapshot.Empty() {
		return false
	}
	return c.now().Sub(c.snapshot.CapturedAt) < c.ttl
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	holders, err := c.source.TopHolders(ctx, c.topN, c.minBalance)
	if err != nil {
		return fmt.Errorf("refresh holders: %w", err)
	}
	observability.RecordHolderRefresh()

	capturedAt := c.now().UTC()
	wallets := make([]*domain.Wallet, 0, len(holders))
	for _, h := range holders {
		w := domain.NewSnapshotWallet(h.Owner, h.Balance, capturedAt)
		w.IsProgramOwned = h.IsProgramOwned
		wallets = append(wallets, w)
	}

	// Snapshot wallets are shared with callers; never mutate them after this point.
	c.snapshot = &domain.HolderSnapshot{Wallets: wallets, CapturedAt: capturedAt}
	c.log.WithField("holders", len(wallets)).Info("holder snapshot refreshed")

	if c.store != nil {
		for _, w := range wallets {
			stored := *w
			if err := c.store.InsertWallet(ctx, &stored); err != nil {
				c.log.WithField("address", w.Address).WithError(err).Warn("persist holder failed")
			}
		}
	}
	return nil
}

// Package engine wires the admission controller, retry executor,
// connection pool, holder cache, subscription manager and transaction
// pipeline into one explicitly constructed monitor instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/config"
	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/holders"
	"token-wallet-monitor/internal/observability"
	"token-wallet-monitor/internal/pipeline"
	"token-wallet-monitor/internal/pool"
	"token-wallet-monitor/internal/ratelimit"
	"token-wallet-monitor/internal/retry"
	"token-wallet-monitor/internal/solana"
	"token-wallet-monitor/internal/storage"
	"token-wallet-monitor/internal/subscription"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("engine stopped")

// Engine owns the subscription map and holder snapshot for one mint.
type Engine struct {
	cfg     *config.Config
	limiter *ratelimit.Limiter
	exec    *retry.Executor
	conns   *pool.Pool[*solana.Conn]
	store   storage.Store

	pipeline *pipeline.Pipeline
	holders  *holders.Cache
	subs     *subscription.Manager

	recent  []namedRecentSource
	closers []io.Closer
	log     *logrus.Entry

	mu      sync.Mutex
	stopped bool
}

type options struct {
	source  holders.Source
	sleep   func(ctx context.Context, d time.Duration) error
	recent  []namedRecentSource
	closers []io.Closer
	log     *logrus.Entry
}

// Option configures New.
type Option func(*options)

// WithHolderSource replaces the RPC holder source.
func WithHolderSource(src holders.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithSleep replaces the pause used between subscription batches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithCloser registers c to be closed by Stop, after the connections.
func WithCloser(c io.Closer) Option {
	return func(o *options) {
		o.closers = append(o.closers, c)
	}
}

// WithRecentSource registers a read source for GetRecentTransactions.
// Sources are tried in registration order before the primary store.
func WithRecentSource(name string, src RecentSource) Option {
	return func(o *options) {
		o.recent = append(o.recent, namedRecentSource{name: name, src: src})
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		o.log = log
	}
}

// New builds an Engine over conns and store. cfg must be valid.
func New(cfg *config.Config, conns []*solana.Conn, store storage.Store, opts ...Option) (*Engine, error) {
	o := options{log: logrus.WithField("component", "engine")}
	for _, opt := range opts {
		opt(&o)
	}

	connPool, err := pool.New(conns, pool.Strategy(cfg.Pool.Strategy))
	if err != nil {
		return nil, fmt.Errorf("connection pool: %w", err)
	}
	minBalance, err := cfg.MinBalance()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Window,
		ratelimit.WithMaxIterations(cfg.RateLimit.MaxIterations))
	exec := retry.NewExecutor(
		retry.WithAdmitter(limiter),
		retry.WithMaxRetries(cfg.Retry.MaxRetries),
		retry.WithBaseDelay(cfg.Retry.BaseDelay),
		retry.WithMaxJitter(cfg.Retry.MaxJitter),
		retry.WithLogger(o.log.WithField("component", "retry")),
	)

	e := &Engine{
		cfg:     cfg,
		limiter: limiter,
		exec:    exec,
		conns:   connPool,
		store:   store,
		recent:  o.recent,
		closers: o.closers,
		log:     o.log,
	}

	e.pipeline = pipeline.New(cfg.Mint, connPool, exec, store,
		pipeline.WithSignatureLimit(cfg.Pipeline.SignatureLimit),
		pipeline.WithCommitment(solana.Commitment(cfg.Pipeline.Commitment)),
		pipeline.WithLogger(o.log.WithField("component", "pipeline")),
	)

	source := o.source
	if source == nil {
		source = holders.NewRPCSource(cfg.Mint, connPool, exec)
	}
	e.holders = holders.NewCache(source, store,
		holders.WithTTL(cfg.Holders.TTL),
		holders.WithTopN(cfg.Holders.TopN),
		holders.WithMinBalance(minBalance),
		holders.WithLogger(o.log.WithField("component", "holders")),
	)

	subOpts := []subscription.Option{
		subscription.WithBatch(cfg.Subscription.BatchSize, cfg.Subscription.BatchPause),
		subscription.WithAdmitter(limiter),
		subscription.WithLogger(o.log.WithField("component", "subscription")),
	}
	if o.sleep != nil {
		subOpts = append(subOpts, subscription.WithSleep(o.sleep))
	}
	e.subs = subscription.NewManager(connPool, e.pipeline, subOpts...)

	return e, nil
}

// Start loads the holder snapshot and subscribes to every holder that is
// not program-owned plus the configured extra addresses. It returns the
// number of new subscriptions.
func (e *Engine) Start(ctx context.Context) (int, error) {
	if e.isStopped() {
		return 0, ErrStopped
	}

	wallets, err := e.holders.GetTopHolders(ctx, e.cfg.Holders.TopN)
	if err != nil {
		return 0, fmt.Errorf("load holders: %w", err)
	}

	addrs := e.watchList(wallets)
	added := e.subs.SubscribeAll(ctx, addrs)
	e.log.WithFields(logrus.Fields{
		"holders":    len(wallets),
		"candidates": len(addrs),
		"subscribed": added,
	}).Info("engine started")
	return added, nil
}

// Run resyncs the holder set every ResyncInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Holders.ResyncInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Resync(ctx); err != nil && ctx.Err() == nil {
				e.log.WithError(err).Warn("holder resync failed")
			}
		}
	}
}

// Resync refreshes the snapshot and subscribes holders that were not
// watched yet. Addresses that left the top holders stay subscribed.
func (e *Engine) Resync(ctx context.Context) (int, error) {
	if e.isStopped() {
		return 0, ErrStopped
	}

	snapshot, err := e.holders.Refresh(ctx)
	if err != nil {
		return 0, err
	}
	added := e.subs.SubscribeAll(ctx, e.watchList(snapshot.Wallets))
	if added > 0 {
		e.log.WithField("subscribed", added).Info("new holders subscribed")
	}
	return added, nil
}

// Stop clears every subscription and closes the upstream connections and
// registered closers. It is safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	cleared := e.subs.UnsubscribeAll(ctx)

	var errs []error
	for _, c := range e.conns.Members() {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	e.subs.Wait()

	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	e.log.WithField("cleared", cleared).Info("engine stopped")
	return errors.Join(errs...)
}

// GetTopHolders returns up to limit holders from the snapshot cache.
func (e *Engine) GetTopHolders(ctx context.Context, limit int) ([]*domain.Wallet, error) {
	return e.holders.GetTopHolders(ctx, limit)
}

// GetWalletTransactionHistory classifies the latest limit signatures of
// address without storing them.
func (e *Engine) GetWalletTransactionHistory(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	return e.pipeline.History(ctx, address, limit)
}

// Subscriptions lists the active subscriptions.
func (e *Engine) Subscriptions() []subscription.Subscription {
	return e.subs.Subscriptions()
}

// ConnectionStatus reports upstream reachability and local load.
type ConnectionStatus struct {
	Connected            bool          `json:"connected"`
	Slot                 int64         `json:"slot,omitempty"`
	Error                string        `json:"error,omitempty"`
	Connections          int           `json:"connections"`
	ActiveSubscriptions  int           `json:"active_subscriptions"`
	AdmissionInUse       int           `json:"admission_in_use"`
	AdmissionCapacity    int           `json:"admission_capacity"`
	AdmissionWindow      time.Duration `json:"admission_window"`
	DroppedNotifications uint64        `json:"dropped_notifications"`
	HolderSnapshotAt     *time.Time    `json:"holder_snapshot_at,omitempty"`
	CheckedAt            time.Time     `json:"checked_at"`
}

// GetConnectionStatus probes getSlot through the normal admission and
// retry path. A failed probe reports Connected=false, not an error.
func (e *Engine) GetConnectionStatus(ctx context.Context) ConnectionStatus {
	status := ConnectionStatus{
		Connections:         e.conns.Size(),
		ActiveSubscriptions: e.subs.Active(),
		AdmissionCapacity:   e.limiter.Capacity(),
		AdmissionWindow:     e.limiter.Window(),
	}
	for _, c := range e.conns.Members() {
		if c.WS != nil {
			status.DroppedNotifications += c.WS.Dropped()
		}
	}
	if snap := e.holders.Snapshot(); snap != nil && !snap.Empty() {
		at := snap.CapturedAt
		status.HolderSnapshotAt = &at
	}

	slot, err := retry.Do(ctx, e.exec, func(ctx context.Context) (int64, error) {
		return e.conns.Select().RPC.GetSlot(ctx)
	})
	if err != nil {
		status.Error = err.Error()
	} else {
		status.Connected = true
		status.Slot = slot
	}

	status.AdmissionInUse = e.limiter.InUse()
	status.CheckedAt = time.Now().UTC()
	observability.UpdateAdmissionInUse(status.AdmissionInUse)
	return status
}

// watchList merges the non-program-owned holders with the configured
// extra addresses, deduplicated in a stable order.
func (e *Engine) watchList(wallets []*domain.Wallet) []string {
	seen := make(map[string]bool, len(wallets)+len(e.cfg.Addresses))
	var out []string
	for _, w := range wallets {
		if w.IsProgramOwned || seen[w.Address] {
			continue
		}
		seen[w.Address] = true
		out = append(out, w.Address)
	}

	var extra []string
	for _, a := range e.cfg.Addresses {
		if !seen[a] {
			seen[a] = true
			extra = append(extra, a)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

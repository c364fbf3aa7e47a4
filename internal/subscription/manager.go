// Package subscription keeps one account-change subscription per monitored
// address and routes its notifications to a Handler.
package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/observability"
	"token-wallet-monitor/internal/pool"
	"token-wallet-monitor/internal/retry"
	"token-wallet-monitor/internal/solana"
)

// Defaults
const (
	DefaultBatchSize  = 5
	DefaultBatchPause = 200 * time.Millisecond
)

// Handler processes one account-change notification of address.
type Handler interface {
	HandleAccountChange(ctx context.Context, address string, n solana.AccountNotification) (int, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, address string, n solana.AccountNotification) (int, error)

// HandleAccountChange calls f.
func (f HandlerFunc) HandleAccountChange(ctx context.Context, address string, n solana.AccountNotification) (int, error) {
	return f(ctx, address, n)
}

// Subscription binds an address to the pool handle that owns its
// server-side subscription.
type Subscription struct {
	Address string
	Conn    *solana.Conn
	Handle  int64
}

// entry is nil-Conn while the subscribe call is in flight.
type entry struct {
	sub Subscription
}

// Manager tracks subscriptions. An address moves from unsubscribed to
// subscribed and back; at most one live subscription exists per address.
type Manager struct {
	conns      *pool.Pool[*solana.Conn]
	admitter   retry.Admitter
	handler    Handler
	batchSize  int
	batchPause time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Entry

	mu   sync.Mutex
	subs map[string]*entry

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatch sets how many addresses SubscribeAll opens at once and the
// pause between batches.
func WithBatch(size int, pause time.Duration) Option {
	return func(m *Manager) {
		if size > 0 {
			m.batchSize = size
		}
		if pause >= 0 {
			m.batchPause = pause
		}
	}
}

// WithAdmitter gates every subscribe call.
func WithAdmitter(a retry.Admitter) Option {
	return func(m *Manager) {
		m.admitter = a
	}
}

// WithSleep overrides the pause implementation.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a Manager that opens subscriptions on handles from
// conns and hands notifications to handler.
func NewManager(conns *pool.Pool[*solana.Conn], handler Handler, opts ...Option) *Manager {
	m := &Manager{
		conns:      conns,
		handler:    handler,
		batchSize:  DefaultBatchSize,
		batchPause: DefaultBatchPause,
		sleep:      sleepCtx,
		log:        logrus.WithField("component", "subscription"),
		subs:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubscribeAll subscribes addresses in batches. Failures are logged and do
// not stop the remaining addresses. It returns how many addresses were
// newly subscribed.
func (m *Manager) SubscribeAll(ctx context.Context, addresses []string) int {
	var (
		mu    sync.Mutex
		added int
	)

	for start := 0; start < len(addresses); start += m.batchSize {
		if start > 0 && m.batchPause > 0 {
			if err := m.sleep(ctx, m.batchPause); err != nil {
				break
			}
		}

		end := min(start+m.batchSize, len(addresses))
		var wg sync.WaitGroup
		for _, address := range addresses[start:end] {
			wg.Add(1)
			go func(address string) {
				defer wg.Done()
				ok, err := m.Subscribe(ctx, address)
				if err != nil {
					m.log.WithField("address", address).WithError(err).Warn("subscribe failed")
					return
				}
				if ok {
					mu.Lock()
					added++
					mu.Unlock()
				}
			}(address)
		}
		wg.Wait()
	}

	m.log.WithFields(logrus.Fields{
		"requested":  len(addresses),
		"subscribed": added,
		"active":     m.Active(),
	}).Info("subscriptions opened")
	return added
}

// Subscribe opens a subscription for address. It reports false without
// error when the address is already subscribed or being subscribed.
// ctx also bounds the handling of the subscription's notifications.
func (m *Manager) Subscribe(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	if _, exists := m.subs[address]; exists {
		m.mu.Unlock()
		return false, nil
	}
	reserved := &entry{sub: Subscription{Address: address}}
	m.subs[address] = reserved
	m.mu.Unlock()

	conn, handle, ch, err := m.open(ctx, address)
	if err != nil {
		m.mu.Lock()
		if m.subs[address] == reserved {
			delete(m.subs, address)
		}
		m.mu.Unlock()
		observability.RecordSubscribeFailure()
		return false, err
	}

	m.mu.Lock()
	if m.subs[address] != reserved {
		// Cleared by UnsubscribeAll while the call was in flight.
		m.mu.Unlock()
		if err := conn.WS.AccountUnsubscribe(ctx, handle); err != nil {
			m.log.WithField("address", address).WithError(err).Warn("drop orphan subscription failed")
		}
		return false, nil
	}
	reserved.sub = Subscription{Address: address, Conn: conn, Handle: handle}
	active := m.activeLocked()
	m.mu.Unlock()

	observability.UpdateActiveSubscriptions(active)
	m.wg.Add(1)
	go m.consume(ctx, address, ch)
	return true, nil
}

func (m *Manager) open(ctx context.Context, address string) (*solana.Conn, int64, <-chan solana.AccountNotification, error) {
	if m.admitter != nil {
		if err := m.admitter.Acquire(ctx); err != nil {
			return nil, 0, nil, fmt.Errorf("admission for %s: %w", address, err)
		}
	}
	conn := m.conns.Select()
	handle, ch, err := conn.WS.AccountSubscribe(ctx, address)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("subscribe %s on %s: %w", address, conn.Name, err)
	}
	return conn, handle, ch, nil
}

// consume handles notifications in arrival order until the channel closes.
func (m *Manager) consume(ctx context.Context, address string, ch <-chan solana.AccountNotification) {
	defer m.wg.Done()
	for n := range ch {
		if ctx.Err() != nil {
			continue
		}
		if _, err := m.handler.HandleAccountChange(ctx, address, n); err != nil {
			m.log.WithField("address", address).WithError(err).Warn("handle account change failed")
		}
	}
}

// Unsubscribe closes the subscription of address, if any.
func (m *Manager) Unsubscribe(ctx context.Context, address string) error {
	m.mu.Lock()
	e, ok := m.subs[address]
	if ok {
		delete(m.subs, address)
	}
	active := m.activeLocked()
	m.mu.Unlock()

	observability.UpdateActiveSubscriptions(active)
	if !ok || e.sub.Conn == nil {
		return nil
	}
	if err := e.sub.Conn.WS.AccountUnsubscribe(ctx, e.sub.Handle); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", address, err)
	}
	return nil
}

// UnsubscribeAll closes every subscription on its originating handle.
// Tracked state is cleared even when the server side fails; failures are
// logged. It returns the number of addresses cleared.
func (m *Manager) UnsubscribeAll(ctx context.Context) int {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.subs))
	for _, e := range m.subs {
		entries = append(entries, e)
	}
	clear(m.subs)
	m.mu.Unlock()

	observability.UpdateActiveSubscriptions(0)

	failed := 0
	for _, e := range entries {
		if e.sub.Conn == nil {
			continue
		}
		if err := e.sub.Conn.WS.AccountUnsubscribe(ctx, e.sub.Handle); err != nil {
			failed++
			m.log.WithField("address", e.sub.Address).WithError(err).Warn("unsubscribe failed")
		}
	}

	m.log.WithFields(logrus.Fields{
		"cleared": len(entries),
		"failed":  failed,
	}).Info("subscriptions closed")
	return len(entries)
}

// Active returns the number of established subscriptions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, e := range m.subs {
		if e.sub.Conn != nil {
			n++
		}
	}
	return n
}

// Addresses returns the subscribed addresses in lexical order.
func (m *Manager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for address, e := range m.subs {
		if e.sub.Conn != nil {
			out = append(out, address)
		}
	}
	sort.Strings(out)
	return out
}

// Subscriptions returns the established subscriptions ordered by address.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, e := range m.subs {
		if e.sub.Conn != nil {
			out = append(out, e.sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Wait blocks until every notification consumer has exited. Consumers exit
// once their channel is closed by unsubscription or client shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

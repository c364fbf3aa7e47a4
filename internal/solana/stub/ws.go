package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"token-wallet-monitor/internal/solana"
)

// ErrSubscribeRejected is returned for addresses listed in WSClient.Fail.
var ErrSubscribeRejected = errors.New("subscribe rejected")

// WSClient implements solana.WSClient for testing.
type WSClient struct {
	mu sync.Mutex

	// Fail lists addresses whose subscription is rejected.
	Fail map[string]bool
	// UnsubscribeErr is returned by every AccountUnsubscribe when set.
	UnsubscribeErr error

	dropped      uint64
	nextHandle   int64
	subs         map[int64]*wsSub
	byAddress    map[string]int64
	subscribed   []string
	unsubscribed []string
	closed       bool
}

type wsSub struct {
	address string
	ch      chan solana.AccountNotification
}

// NewWSClient creates a new stub WebSocket client.
func NewWSClient() *WSClient {
	return &WSClient{
		Fail:      make(map[string]bool),
		subs:      make(map[int64]*wsSub),
		byAddress: make(map[string]int64),
	}
}

var _ solana.WSClient = (*WSClient)(nil)

// AccountSubscribe registers a subscription for address.
func (c *WSClient) AccountSubscribe(_ context.Context, address string) (int64, <-chan solana.AccountNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, solana.ErrClientClosed
	}
	if c.Fail[address] {
		return 0, nil, fmt.Errorf("accountSubscribe %s: %w", address, ErrSubscribeRejected)
	}

	c.nextHandle++
	sub := &wsSub{address: address, ch: make(chan solana.AccountNotification, 16)}
	c.subs[c.nextHandle] = sub
	c.byAddress[address] = c.nextHandle
	c.subscribed = append(c.subscribed, address)
	return c.nextHandle, sub.ch, nil
}

// AccountUnsubscribe removes the subscription and closes its channel.
func (c *WSClient) AccountUnsubscribe(_ context.Context, handle int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[handle]
	if !ok {
		return fmt.Errorf("unknown subscription handle %d", handle)
	}
	delete(c.subs, handle)
	delete(c.byAddress, sub.address)
	close(sub.ch)
	c.unsubscribed = append(c.unsubscribed, sub.address)
	return c.UnsubscribeErr
}

// Close closes all subscription channels.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for handle, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, handle)
	}
	clear(c.byAddress)
	return nil
}

// Push delivers a notification to the subscription of address.
// It reports false when the address has no live subscription or its
// buffer is full; the latter counts as a drop.
func (c *WSClient) Push(address string, n solana.AccountNotification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.byAddress[address]
	if !ok {
		return false
	}
	n.Subscription = handle
	select {
	case c.subs[handle].ch <- n:
		return true
	default:
		c.dropped++
		return false
	}
}

// Dropped returns the number of notifications Push could not buffer.
func (c *WSClient) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Subscribed returns addresses in subscription order.
func (c *WSClient) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

// Unsubscribed returns addresses in unsubscription order.
func (c *WSClient) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

// Live returns the number of open subscriptions.
func (c *WSClient) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

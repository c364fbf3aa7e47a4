package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/observability"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// ConfirmTimeout bounds the wait for a request's response.
	ConfirmTimeout time.Duration
	// NotificationBuffer is the per-subscription channel capacity.
	NotificationBuffer int
	// Logger receives connection and delivery diagnostics.
	Logger *logrus.Entry
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:     1 * time.Second,
		MaxReconnectDelay:  30 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       10 * time.Second,
		ConfirmTimeout:     DefaultTimeout,
		NotificationBuffer: 256,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
//
// Callers hold client-local handles. The server-side subscription id behind
// a handle changes when the connection is re-established and the account is
// resubscribed.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	log      *logrus.Entry

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	handleSeq atomic.Int64
	dropped   atomic.Uint64

	// subs maps handle to subscription; byServerID maps server id to handle.
	subs       map[int64]*accountSub
	byServerID map[int64]int64
	subsMu     sync.RWMutex

	// pending maps request ID to the request waiting for its response
	pending   map[uint64]*pendingRequest
	pendingMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

type accountSub struct {
	address  string
	serverID int64

	mu     sync.Mutex
	ch     chan AccountNotification
	closed bool
}

// deliver never blocks the read loop; a full buffer drops the notification.
func (s *accountSub) deliver(n AccountNotification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

func (s *accountSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type wsResult struct {
	result json.RawMessage
	err    *rpcError
}

// pendingRequest is an in-flight request. bind, when set, runs on the read
// loop with a successful result before any later message is handled.
type pendingRequest struct {
	ch   chan wsResult
	bind func(result json.RawMessage) error
}

// NewWSClient creates a new WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultTimeout
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = 256
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &WSClientImpl{
		endpoint:   endpoint,
		config:     cfg,
		log:        log.WithField("endpoint", endpoint),
		subs:       make(map[int64]*accountSub),
		byServerID: make(map[int64]int64),
		pending:    make(map[uint64]*pendingRequest),
		done:       make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Compile-time interface check.
var _ WSClient = (*WSClientImpl)(nil)

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// AccountSubscribe opens an accountSubscribe subscription for address.
func (c *WSClientImpl) AccountSubscribe(ctx context.Context, address string) (int64, <-chan AccountNotification, error) {
	if c.closed.Load() {
		return 0, nil, ErrClientClosed
	}

	handle := c.handleSeq.Add(1)
	sub := &accountSub{
		address: address,
		ch:      make(chan AccountNotification, c.config.NotificationBuffer),
	}

	// abandoned is guarded by subsMu; a reply bound after the caller gave
	// up must not leave an unreachable subscription behind.
	abandoned := false
	err := c.subscribeAccount(ctx, address, func(serverID int64) {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if abandoned {
			return
		}
		sub.serverID = serverID
		c.subs[handle] = sub
		c.byServerID[serverID] = handle
	})
	if err != nil {
		c.subsMu.Lock()
		abandoned = true
		if c.subs[handle] == sub {
			delete(c.subs, handle)
			delete(c.byServerID, sub.serverID)
		}
		c.subsMu.Unlock()
		return 0, nil, err
	}

	return handle, sub.ch, nil
}

// AccountUnsubscribe drops local state for handle first, then asks the server
// to cancel. The channel is closed even when the server call fails.
func (c *WSClientImpl) AccountUnsubscribe(ctx context.Context, handle int64) error {
	c.subsMu.Lock()
	sub, ok := c.subs[handle]
	if ok {
		delete(c.subs, handle)
		delete(c.byServerID, sub.serverID)
	}
	c.subsMu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription handle %d", handle)
	}
	sub.close()

	if c.closed.Load() {
		return ErrClientClosed
	}

	raw, err := c.request(ctx, "accountUnsubscribe", []interface{}{sub.serverID}, nil)
	if err != nil {
		return fmt.Errorf("accountUnsubscribe %s: %w", sub.address, err)
	}
	var removed bool
	if err := json.Unmarshal(raw, &removed); err != nil {
		return fmt.Errorf("unmarshal unsubscribe result: %w", err)
	}
	if !removed {
		return fmt.Errorf("accountUnsubscribe %s: server did not remove subscription %d", sub.address, sub.serverID)
	}
	return nil
}

// Dropped returns the number of notifications discarded on full buffers.
func (c *WSClientImpl) Dropped() uint64 {
	return c.dropped.Load()
}

// subscribeAccount sends accountSubscribe. register receives the server
// subscription id on the read loop, so notifications that follow the
// response on the wire already find their subscriber.
func (c *WSClientImpl) subscribeAccount(ctx context.Context, address string, register func(serverID int64)) error {
	_, err := c.request(ctx, "accountSubscribe", []interface{}{
		address,
		map[string]string{
			"encoding":   "base64",
			"commitment": string(CommitmentConfirmed),
		},
	}, func(raw json.RawMessage) error {
		var serverID int64
		if err := json.Unmarshal(raw, &serverID); err != nil {
			return fmt.Errorf("unmarshal subscription id: %w", err)
		}
		register(serverID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("accountSubscribe %s: %w", address, err)
	}
	return nil
}

// request writes a JSON-RPC request and waits for the matching response.
// bind may be nil.
func (c *WSClientImpl) request(ctx context.Context, method string, params []interface{}, bind func(json.RawMessage) error) (json.RawMessage, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	resultCh := make(chan wsResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = &pendingRequest{ch: resultCh, bind: bind}
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return nil, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.config.ConfirmTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-resultCh:
		if !ok {
			return nil, ErrClientClosed
		}
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("%s timeout after %s", method, c.config.ConfirmTimeout)
	case <-c.done:
		return nil, ErrClientClosed
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Close all subscription channels
	c.subsMu.Lock()
	for handle, sub := range c.subs {
		sub.close()
		delete(c.subs, handle)
	}
	clear(c.byServerID)
	c.subsMu.Unlock()

	// Close pending request channels
	c.pendingMu.Lock()
	for id, req := range c.pending {
		close(req.ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				c.log.WithError(err).Warn("websocket read failed, reconnecting")
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.log.WithError(err).Warn("websocket reconnect failed")
		return
	}

	// Resubscribe on a separate goroutine: responses arrive through readLoop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll()
	}()
}

// resubscribeAll reopens every live subscription on the new connection and
// rebinds its handle to the new server id.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	snapshot := make(map[int64]string, len(c.subs))
	for handle, sub := range c.subs {
		snapshot[handle] = sub.address
	}
	c.subsMu.RUnlock()

	for handle, address := range snapshot {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.subscribeAccount(ctx, address, func(serverID int64) {
			c.subsMu.Lock()
			if sub, ok := c.subs[handle]; ok {
				delete(c.byServerID, sub.serverID)
				sub.serverID = serverID
				c.byServerID[serverID] = handle
			}
			c.subsMu.Unlock()
		})
		cancel()

		if err != nil {
			c.log.WithError(err).WithField("address", address).Warn("resubscribe failed")
		}
	}
}

// handleMessage processes incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.WithError(err).Debug("discarding malformed websocket message")
		return
	}

	if msg.Method == "accountNotification" {
		c.handleAccountNotification(msg.Params)
		return
	}

	if msg.ID == nil {
		return
	}

	c.pendingMu.Lock()
	req, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		if msg.Error != nil {
			c.log.WithField("code", msg.Error.Code).Warn(msg.Error.Message)
		}
		return
	}

	res := wsResult{result: msg.Result, err: msg.Error}
	if res.err == nil && req.bind != nil {
		if err := req.bind(msg.Result); err != nil {
			res.err = &rpcError{Code: rpcCodeInvalidResult, Message: err.Error()}
		}
	}
	req.ch <- res
}

// handleAccountNotification dispatches an account change to its subscriber.
func (c *WSClientImpl) handleAccountNotification(raw json.RawMessage) {
	var params wsAccountParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.log.WithError(err).Debug("discarding malformed account notification")
		return
	}

	c.subsMu.RLock()
	var sub *accountSub
	if handle, ok := c.byServerID[params.Subscription]; ok {
		sub = c.subs[handle]
	}
	c.subsMu.RUnlock()

	if sub == nil {
		return
	}

	notif := AccountNotification{
		Subscription: params.Subscription,
		Lamports:     params.Result.Value.Lamports,
		Owner:        params.Result.Value.Owner,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	if !sub.deliver(notif) {
		c.dropped.Add(1)
		observability.RecordNotificationDropped()
		c.log.WithField("address", sub.address).Warn("notification buffer full, dropping account change")
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in readLoop, which reconnects.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage covers both responses (ID set) and notifications (Method set).
type wsMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type wsAccountParams struct {
	Subscription int64           `json:"subscription"`
	Result       wsAccountResult `json:"result"`
}

type wsAccountResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsAccountValue struct {
	Lamports uint64 `json:"lamports"`
	Owner    string `json:"owner"`
}

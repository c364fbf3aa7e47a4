package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// AccountSubscribe opens a change subscription for an account.
	// The returned handle stays valid across reconnects and is the key for
	// AccountUnsubscribe.
	AccountSubscribe(ctx context.Context, address string) (int64, <-chan AccountNotification, error)

	// AccountUnsubscribe cancels a subscription and closes its channel.
	AccountUnsubscribe(ctx context.Context, handle int64) error

	// Close closes the WebSocket connection.
	Close() error

	// Dropped returns the number of notifications discarded because a
	// subscriber fell behind.
	Dropped() uint64
}

// AccountNotification represents an accountNotification message.
type AccountNotification struct {
	Subscription int64
	Slot         int64
	Lamports     uint64
	Owner        string
}

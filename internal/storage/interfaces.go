package storage

import (
	"context"

	"token-wallet-monitor/internal/domain"
)

// WalletStore provides access to wallets storage.
type WalletStore interface {
	// InsertWallet creates the wallet or refreshes its balances.
	// Activity aggregates of an existing wallet are kept.
	InsertWallet(ctx context.Context, w *domain.Wallet) error

	// GetWallet retrieves a wallet by address. Returns ErrNotFound if not exists.
	GetWallet(ctx context.Context, address string) (*domain.Wallet, error)

	// GetTopWallets retrieves up to limit wallets ordered by token balance DESC.
	GetTopWallets(ctx context.Context, limit int) ([]*domain.Wallet, error)
}

// TransactionSink receives classified transactions.
type TransactionSink interface {
	// InsertTransaction stores tx. Repeated signatures are no-ops.
	InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error
}

// TransactionStore provides access to transactions storage.
type TransactionStore interface {
	TransactionSink

	// SaveTransaction stores tx and reports whether its signature was new.
	// InsertTransaction is SaveTransaction with the flag dropped.
	SaveTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) (bool, error)

	// GetTransactionsByWallet retrieves up to limit transactions of a wallet,
	// newest first.
	GetTransactionsByWallet(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error)
}

// Store is the storage collaborator of the monitor. InsertTransaction also
// recomputes the aggregates of the owning wallet, creating it if needed.
type Store interface {
	WalletStore
	TransactionStore
}

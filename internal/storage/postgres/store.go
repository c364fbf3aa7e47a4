package postgres

import "token-wallet-monitor/internal/storage"

// Store combines the wallet and transaction stores over one pool.
type Store struct {
	*WalletStore
	*TransactionStore
}

// NewStore creates a Store backed by pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		WalletStore:      NewWalletStore(pool),
		TransactionStore: NewTransactionStore(pool),
	}
}

var _ storage.Store = (*Store)(nil)

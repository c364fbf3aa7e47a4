package memory

import (
	"context"
	"sort"
	"sync"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	wallets  map[string]*domain.Wallet                // keyed by address
	txs      map[string]*domain.ClassifiedTransaction // keyed by signature
	byWallet map[string][]string                      // address -> signatures
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		wallets:  make(map[string]*domain.Wallet),
		txs:      make(map[string]*domain.ClassifiedTransaction),
		byWallet: make(map[string][]string),
	}
}

var _ storage.Store = (*Store)(nil)

// InsertWallet creates the wallet or refreshes balances of an existing one.
func (s *Store) InsertWallet(_ context.Context, w *domain.Wallet) error {
	if err := storage.ValidateWallet(w); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.wallets[w.Address]
	if !ok {
		walletCopy := *w
		s.wallets[w.Address] = &walletCopy
		return nil
	}

	existing.TokenBalance = w.TokenBalance
	existing.SolBalance = w.SolBalance
	existing.IsProgramOwned = w.IsProgramOwned
	if !w.FirstSeen.IsZero() && (existing.FirstSeen.IsZero() || w.FirstSeen.Before(existing.FirstSeen)) {
		existing.FirstSeen = w.FirstSeen
	}
	if w.LastActivity.After(existing.LastActivity) {
		existing.LastActivity = w.LastActivity
	}
	return nil
}

// GetWallet retrieves a wallet by address. Returns ErrNotFound if not exists.
func (s *Store) GetWallet(_ context.Context, address string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	walletCopy := *w
	return &walletCopy, nil
}

// GetTopWallets retrieves up to limit wallets ordered by token balance DESC.
func (s *Store) GetTopWallets(_ context.Context, limit int) ([]*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		walletCopy := *w
		result = append(result, &walletCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if c := result[i].TokenBalance.Cmp(result[j].TokenBalance); c != 0 {
			return c > 0
		}
		return result[i].Address < result[j].Address
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// InsertTransaction stores tx once per signature and folds it into the
// wallet aggregates. A repeated signature is a no-op.
func (s *Store) InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error {
	_, err := s.SaveTransaction(ctx, tx)
	return err
}

// SaveTransaction is InsertTransaction reporting whether tx was new.
func (s *Store) SaveTransaction(_ context.Context, tx *domain.ClassifiedTransaction) (bool, error) {
	if err := storage.ValidateTransaction(tx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.Signature]; exists {
		return false, nil
	}

	txCopy := *tx
	s.txs[tx.Signature] = &txCopy
	s.byWallet[tx.WalletAddress] = append(s.byWallet[tx.WalletAddress], tx.Signature)

	w, ok := s.wallets[tx.WalletAddress]
	if !ok {
		w = &domain.Wallet{Address: tx.WalletAddress}
		s.wallets[tx.WalletAddress] = w
	}
	w.Apply(&txCopy)
	return true, nil
}

// GetTransactionsByWallet retrieves up to limit transactions of a wallet,
// newest first.
func (s *Store) GetTransactionsByWallet(_ context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sigs := s.byWallet[address]
	result := make([]*domain.ClassifiedTransaction, 0, len(sigs))
	for _, sig := range sigs {
		txCopy := *s.txs[sig]
		result = append(result, &txCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].Signature < result[j].Signature
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

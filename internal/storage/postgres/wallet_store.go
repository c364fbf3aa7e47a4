package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// WalletStore implements storage.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

const walletColumns = `
	address, token_balance, sol_balance, first_seen, last_activity,
	transaction_count, total_volume, buy_volume, sell_volume,
	avg_transaction_size, largest_transaction, is_program_owned`

// InsertWallet creates the wallet or refreshes its balances. Aggregates
// maintained by InsertTransaction are never overwritten here.
func (s *WalletStore) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	if err := storage.ValidateWallet(w); err != nil {
		return err
	}

	now := time.Now().UTC()
	firstSeen := w.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastActivity := w.LastActivity
	if lastActivity.IsZero() {
		lastActivity = firstSeen
	}

	query := `
		INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (address) DO UPDATE SET
			token_balance    = EXCLUDED.token_balance,
			sol_balance      = EXCLUDED.sol_balance,
			is_program_owned = EXCLUDED.is_program_owned,
			first_seen       = LEAST(wallets.first_seen, EXCLUDED.first_seen),
			last_activity    = GREATEST(wallets.last_activity, EXCLUDED.last_activity),
			updated_at       = now()
	`

	_, err := s.pool.Exec(ctx, query,
		w.Address,
		w.TokenBalance,
		w.SolBalance,
		firstSeen,
		lastActivity,
		w.TransactionCount,
		w.TotalVolume,
		w.BuyVolume,
		w.SellVolume,
		w.AvgTransactionSize,
		w.LargestTransaction,
		w.IsProgramOwned,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// GetWallet retrieves a wallet by address. Returns ErrNotFound if not exists.
func (s *WalletStore) GetWallet(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`

	w, err := scanWallet(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// GetTopWallets retrieves up to limit wallets ordered by token balance DESC.
// A non-positive limit returns all wallets.
func (s *WalletStore) GetTopWallets(ctx context.Context, limit int) ([]*domain.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		ORDER BY token_balance DESC, address ASC
		LIMIT $1
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(ctx, query, lim)
	if err != nil {
		return nil, fmt.Errorf("get top wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, nil
}

// scanWallet scans a single row into a Wallet.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.Address,
		&w.TokenBalance,
		&w.SolBalance,
		&w.FirstSeen,
		&w.LastActivity,
		&w.TransactionCount,
		&w.TotalVolume,
		&w.BuyVolume,
		&w.SellVolume,
		&w.AvgTransactionSize,
		&w.LargestTransaction,
		&w.IsProgramOwned,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

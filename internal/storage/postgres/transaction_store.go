package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const transactionColumns = `
	signature, slot, block_time, wallet_address, direction, amount,
	post_balance, protocol, fee, price_usd, price_impact`

// InsertTransaction stores tx once per signature and recomputes the wallet
// aggregates in the same database transaction. A repeated signature is a no-op.
func (s *TransactionStore) InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error {
	_, err := s.SaveTransaction(ctx, tx)
	return err
}

// SaveTransaction is InsertTransaction reporting whether tx was new.
func (s *TransactionStore) SaveTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) (bool, error) {
	if err := storage.ValidateTransaction(tx); err != nil {
		return false, err
	}

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	_, err = dbTx.Exec(ctx, `
		INSERT INTO wallets (address, first_seen, last_activity)
		VALUES ($1, $2, $2)
		ON CONFLICT (address) DO NOTHING
	`, tx.WalletAddress, tx.Timestamp)
	if err != nil {
		return false, fmt.Errorf("ensure wallet: %w", err)
	}

	tag, err := dbTx.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (signature) DO NOTHING
	`,
		tx.Signature,
		tx.Slot,
		tx.Timestamp,
		tx.WalletAddress,
		string(tx.Direction),
		tx.Amount,
		nullDecimal(tx.PostBalance),
		string(tx.Protocol),
		tx.Fee,
		nullDecimal(tx.PriceUSD),
		nullDecimal(tx.PriceImpact),
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = dbTx.Exec(ctx, `
		UPDATE wallets w SET
			transaction_count    = a.cnt,
			total_volume         = a.total,
			buy_volume           = a.buy,
			sell_volume          = a.sell,
			avg_transaction_size = a.total / a.cnt,
			largest_transaction  = a.largest,
			first_seen           = LEAST(w.first_seen, a.first_time),
			token_balance        = CASE
				WHEN $2::numeric IS NOT NULL AND $3 >= w.last_activity THEN $2::numeric
				ELSE w.token_balance
			END,
			last_activity        = GREATEST(w.last_activity, a.last_time),
			updated_at           = now()
		FROM (
			SELECT
				count(*)                                                    AS cnt,
				sum(amount)                                                 AS total,
				COALESCE(sum(amount) FILTER (WHERE direction = 'buy'), 0)  AS buy,
				COALESCE(sum(amount) FILTER (WHERE direction = 'sell'), 0) AS sell,
				max(amount)                                                 AS largest,
				min(block_time)                                             AS first_time,
				max(block_time)                                             AS last_time
			FROM transactions
			WHERE wallet_address = $1
		) a
		WHERE w.address = $1
	`, tx.WalletAddress, nullDecimal(tx.PostBalance), tx.Timestamp)
	if err != nil {
		return false, fmt.Errorf("update wallet aggregates: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// GetTransactionsByWallet retrieves up to limit transactions of a wallet,
// newest first. A non-positive limit returns all of them.
func (s *TransactionStore) GetTransactionsByWallet(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE wallet_address = $1
		ORDER BY block_time DESC, signature ASC
		LIMIT $2
	`

	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := s.pool.Query(ctx, query, address, lim)
	if err != nil {
		return nil, fmt.Errorf("get transactions by wallet: %w", err)
	}
	defer rows.Close()

	var txs []*domain.ClassifiedTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txs, nil
}

// scanTransaction scans a single row into a ClassifiedTransaction.
func scanTransaction(row pgx.Row) (*domain.ClassifiedTransaction, error) {
	var (
		tx                  domain.ClassifiedTransaction
		direction, protocol string
		post, price, impact decimal.NullDecimal
	)
	err := row.Scan(
		&tx.Signature,
		&tx.Slot,
		&tx.Timestamp,
		&tx.WalletAddress,
		&direction,
		&tx.Amount,
		&post,
		&protocol,
		&tx.Fee,
		&price,
		&impact,
	)
	if err != nil {
		return nil, err
	}

	tx.Direction = domain.Direction(direction)
	tx.Protocol = domain.Protocol(protocol)
	tx.PostBalance = fromNullDecimal(post)
	tx.PriceUSD = fromNullDecimal(price)
	tx.PriceImpact = fromNullDecimal(impact)
	return &tx, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

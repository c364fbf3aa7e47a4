package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// TransactionSink copies classified transactions into the wallet_transactions
// analytics table. Redelivered signatures collapse on merge.
type TransactionSink struct {
	conn *Conn
}

// NewTransactionSink creates a new TransactionSink.
func NewTransactionSink(conn *Conn) *TransactionSink {
	return &TransactionSink{conn: conn}
}

// Compile-time interface check.
var _ storage.TransactionSink = (*TransactionSink)(nil)

// InsertTransaction appends a single transaction.
func (s *TransactionSink) InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error {
	if err := storage.ValidateTransaction(tx); err != nil {
		return err
	}
	return s.InsertBulk(ctx, []*domain.ClassifiedTransaction{tx})
}

// InsertBulk appends txs in one batch.
func (s *TransactionSink) InsertBulk(ctx context.Context, txs []*domain.ClassifiedTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO wallet_transactions (
			signature, slot, block_time, wallet_address, direction,
			amount, post_balance, protocol, fee
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tx := range txs {
		err = batch.Append(
			tx.Signature, uint64(tx.Slot), tx.Timestamp.UTC(), tx.WalletAddress,
			string(tx.Direction), tx.Amount, tx.PostBalance, string(tx.Protocol), tx.Fee,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RecentTransactions retrieves up to limit deduplicated transactions of a
// wallet, newest first. A non-positive limit returns all of them.
func (s *TransactionSink) RecentTransactions(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	query := `
		SELECT signature, slot, block_time, wallet_address, direction,
			amount, post_balance, protocol, fee
		FROM wallet_transactions FINAL
		WHERE wallet_address = ?
		ORDER BY block_time DESC, signature ASC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.conn.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query wallet transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.ClassifiedTransaction
	for rows.Next() {
		var (
			tx                  domain.ClassifiedTransaction
			slot                uint64
			blockTime           time.Time
			direction, protocol string
			post                *decimal.Decimal
		)
		if err := rows.Scan(
			&tx.Signature, &slot, &blockTime, &tx.WalletAddress, &direction,
			&tx.Amount, &post, &protocol, &tx.Fee,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		tx.Slot = int64(slot)
		tx.Timestamp = blockTime.UTC()
		tx.Direction = domain.Direction(direction)
		tx.Protocol = domain.Protocol(protocol)
		tx.PostBalance = post
		result = append(result, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

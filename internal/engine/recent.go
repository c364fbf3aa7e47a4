package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/domain"
)

// RecentSource serves the latest stored transactions of a wallet, newest
// first. Redis and ClickHouse sinks implement it.
type RecentSource interface {
	RecentTransactions(ctx context.Context, wallet string, limit int) ([]*domain.ClassifiedTransaction, error)
}

type namedRecentSource struct {
	name string
	src  RecentSource
}

// GetRecentTransactions returns up to limit stored transactions of wallet,
// newest first. The first registered source that answers without error and
// with at least one transaction wins; the primary store is the fallback.
func (e *Engine) GetRecentTransactions(ctx context.Context, wallet string, limit int) ([]*domain.ClassifiedTransaction, error) {
	for _, r := range e.recent {
		txs, err := r.src.RecentTransactions(ctx, wallet, limit)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"source": r.name,
				"wallet": wallet,
			}).WithError(err).Warn("recent source failed, trying next")
			continue
		}
		if len(txs) > 0 {
			return txs, nil
		}
	}
	return e.store.GetTransactionsByWallet(ctx, wallet, limit)
}

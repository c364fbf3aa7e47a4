package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet represents a monitored holder of the tracked token.
// Corresponds to wallets table in PostgreSQL.
type Wallet struct {
	Address            string          // base58 owner address, primary key
	TokenBalance       decimal.Decimal // UI amount of the monitored mint
	SolBalance         decimal.Decimal // native balance in SOL
	FirstSeen          time.Time
	LastActivity       time.Time
	TransactionCount   int64
	TotalVolume        decimal.Decimal
	BuyVolume          decimal.Decimal
	SellVolume         decimal.Decimal
	AvgTransactionSize decimal.Decimal
	LargestTransaction decimal.Decimal
	IsProgramOwned     bool // owner is a program derived address (pool vault etc.)
}

// NewSnapshotWallet creates a wallet observed in a holder snapshot.
// Activity counters start at zero.
func NewSnapshotWallet(address string, balance decimal.Decimal, observedAt time.Time) *Wallet {
	return &Wallet{
		Address:      address,
		TokenBalance: balance,
		FirstSeen:    observedAt,
		LastActivity: observedAt,
	}
}

// Apply folds a classified transaction into the wallet aggregates.
// The token balance is only moved forward by transactions at or after LastActivity.
func (w *Wallet) Apply(tx *ClassifiedTransaction) {
	if w.FirstSeen.IsZero() || tx.Timestamp.Before(w.FirstSeen) {
		w.FirstSeen = tx.Timestamp
	}
	if !tx.Timestamp.Before(w.LastActivity) {
		w.LastActivity = tx.Timestamp
		if tx.PostBalance != nil {
			w.TokenBalance = *tx.PostBalance
		}
	}

	w.TransactionCount++
	w.TotalVolume = w.TotalVolume.Add(tx.Amount)
	switch tx.Direction {
	case DirectionBuy:
		w.BuyVolume = w.BuyVolume.Add(tx.Amount)
	case DirectionSell:
		w.SellVolume = w.SellVolume.Add(tx.Amount)
	}
	if tx.Amount.GreaterThan(w.LargestTransaction) {
		w.LargestTransaction = tx.Amount
	}
	w.AvgTransactionSize = w.TotalVolume.Div(decimal.NewFromInt(w.TransactionCount))
}

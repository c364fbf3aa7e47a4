package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a classified transaction from the wallet's view.
type Direction string

// Direction constants
const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ClassifiedTransaction is a non-zero balance movement of the monitored token
// for one wallet. Corresponds to transactions table in PostgreSQL.
type ClassifiedTransaction struct {
	Signature     string // Solana transaction signature, primary key
	Slot          int64
	Timestamp     time.Time // block time
	WalletAddress string    // FK to wallets
	Direction     Direction
	Amount        decimal.Decimal  // abs(balance delta), always > 0
	PostBalance   *decimal.Decimal // wallet token balance after the transaction
	Protocol      Protocol
	Fee           decimal.Decimal // fee paid in SOL

	// Price fields are reserved for an oracle integration and stay nil.
	PriceUSD    *decimal.Decimal
	PriceImpact *decimal.Decimal
}

// DirectionOf returns the direction for a non-zero delta.
func DirectionOf(delta decimal.Decimal) Direction {
	if delta.Sign() >= 0 {
		return DirectionBuy
	}
	return DirectionSell
}

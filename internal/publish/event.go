// Package publish forwards classified transactions to downstream
// consumers over Redis and Kafka.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/domain"
)

// Event is the wire form of a classified transaction. Decimals encode as
// strings.
type Event struct {
	Signature   string           `json:"signature"`
	Slot        int64            `json:"slot"`
	Timestamp   time.Time        `json:"timestamp"`
	Wallet      string           `json:"wallet"`
	Direction   domain.Direction `json:"direction"`
	Amount      decimal.Decimal  `json:"amount"`
	PostBalance *decimal.Decimal `json:"post_balance,omitempty"`
	Protocol    domain.Protocol  `json:"protocol"`
	Fee         decimal.Decimal  `json:"fee"`
}

// NewEvent converts tx to its wire form.
func NewEvent(tx *domain.ClassifiedTransaction) Event {
	return Event{
		Signature:   tx.Signature,
		Slot:        tx.Slot,
		Timestamp:   tx.Timestamp.UTC(),
		Wallet:      tx.WalletAddress,
		Direction:   tx.Direction,
		Amount:      tx.Amount,
		PostBalance: tx.PostBalance,
		Protocol:    tx.Protocol,
		Fee:         tx.Fee,
	}
}

// Transaction converts e back to a classified transaction.
func (e Event) Transaction() *domain.ClassifiedTransaction {
	return &domain.ClassifiedTransaction{
		Signature:     e.Signature,
		Slot:          e.Slot,
		Timestamp:     e.Timestamp,
		WalletAddress: e.Wallet,
		Direction:     e.Direction,
		Amount:        e.Amount,
		PostBalance:   e.PostBalance,
		Protocol:      e.Protocol,
		Fee:           e.Fee,
	}
}

// Encode marshals the event of tx.
func Encode(tx *domain.ClassifiedTransaction) ([]byte, error) {
	data, err := json.Marshal(NewEvent(tx))
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", tx.Signature, err)
	}
	return data, nil
}

// Decode unmarshals an event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

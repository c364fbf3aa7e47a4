package storage

import (
	"errors"
	"fmt"

	"token-wallet-monitor/internal/domain"
)

var (
	// ErrNotFound is returned by reads of an unknown wallet.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidateWallet checks the fields every store requires.
func ValidateWallet(w *domain.Wallet) error {
	if w == nil || w.Address == "" {
		return fmt.Errorf("wallet address required: %w", ErrInvalidInput)
	}
	return nil
}

// ValidateTransaction checks the fields every store requires.
func ValidateTransaction(tx *domain.ClassifiedTransaction) error {
	switch {
	case tx == nil || tx.Signature == "":
		return fmt.Errorf("transaction signature required: %w", ErrInvalidInput)
	case tx.WalletAddress == "":
		return fmt.Errorf("transaction %s: wallet address required: %w", tx.Signature, ErrInvalidInput)
	case !tx.Amount.IsPositive():
		return fmt.Errorf("transaction %s: amount must be positive: %w", tx.Signature, ErrInvalidInput)
	case tx.Direction != domain.DirectionBuy && tx.Direction != domain.DirectionSell:
		return fmt.Errorf("transaction %s: unknown direction %q: %w", tx.Signature, tx.Direction, ErrInvalidInput)
	}
	return nil
}

package domain

import "github.com/shopspring/decimal"

// BalanceChange is the result of inspecting a transaction for one
// owner/mint pair. It is either NoChange or BalanceChanged.
type BalanceChange interface {
	isBalanceChange()
}

// NoChange means the transaction left the balance untouched.
type NoChange struct{}

// BalanceChanged carries the pre and post balances of a moved position.
type BalanceChanged struct {
	Pre  decimal.Decimal
	Post decimal.Decimal
}

func (NoChange) isBalanceChange()       {}
func (BalanceChanged) isBalanceChange() {}

// Delta returns post minus pre.
func (c BalanceChanged) Delta() decimal.Decimal {
	return c.Post.Sub(c.Pre)
}

// NewBalanceChange builds the variant for the given balances.
func NewBalanceChange(pre, post decimal.Decimal) BalanceChange {
	if pre.Equal(post) {
		return NoChange{}
	}
	return BalanceChanged{Pre: pre, Post: post}
}

package pipeline

import (
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/protocol"
	"token-wallet-monitor/internal/solana"
)

var lamportsPerSOL = decimal.NewFromUint64(sol.LAMPORTS_PER_SOL)

// BalanceChangeOf compares the owner's pre and post balances of mint in tx.
// Several token accounts of the same owner are summed. A side with no
// matching entry counts as zero.
func BalanceChangeOf(tx *solana.Transaction, owner, mint string) domain.BalanceChange {
	if tx == nil || tx.Meta == nil {
		return domain.NoChange{}
	}
	pre := sumBalances(tx.Meta.PreTokenBalances, owner, mint)
	post := sumBalances(tx.Meta.PostTokenBalances, owner, mint)
	return domain.NewBalanceChange(pre, post)
}

// ClassifyTransaction turns tx into a buy or sell of mint by owner.
// It returns nil for absent or failed transactions and for zero deltas.
func ClassifyTransaction(tx *solana.Transaction, owner, mint string) *domain.ClassifiedTransaction {
	if tx == nil || tx.Meta == nil || tx.Failed() {
		return nil
	}

	changed, ok := BalanceChangeOf(tx, owner, mint).(domain.BalanceChanged)
	if !ok {
		return nil
	}

	delta := changed.Delta()
	post := changed.Post
	return &domain.ClassifiedTransaction{
		Signature:     tx.Signature,
		Slot:          tx.Slot,
		Timestamp:     time.Unix(tx.BlockTime, 0).UTC(),
		WalletAddress: owner,
		Direction:     domain.DirectionOf(delta),
		Amount:        delta.Abs(),
		PostBalance:   &post,
		Protocol:      protocol.Classify(tx.AccountKeys()),
		Fee:           LamportsToSOL(tx.Meta.Fee),
	}
}

// LamportsToSOL converts a lamport amount to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Div(lamportsPerSOL)
}

func sumBalances(balances []solana.TokenBalance, owner, mint string) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		raw, err := decimal.NewFromString(b.Amount)
		if err != nil {
			continue
		}
		total = total.Add(raw.Shift(-int32(b.Decimals)))
	}
	return total
}

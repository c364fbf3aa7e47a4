package pipeline

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/protocol"
	"token-wallet-monitor/internal/solana"
)

const (
	testMint  = "MintAddress1111111111111111111111111111111"
	testOwner = "OwnerAddress111111111111111111111111111111"
)

func bal(owner, mint, amount string) solana.TokenBalance {
	return solana.TokenBalance{Owner: owner, Mint: mint, Amount: amount, Decimals: 6}
}

// tokenTx builds a transaction moving the owner's balance from pre to post
// raw units (6 decimals). An empty string omits that side.
func tokenTx(sig, pre, post string, programs ...string) *solana.Transaction {
	meta := &solana.TransactionMeta{Fee: 5000}
	if pre != "" {
		meta.PreTokenBalances = []solana.TokenBalance{bal(testOwner, testMint, pre)}
	}
	if post != "" {
		meta.PostTokenBalances = []solana.TokenBalance{bal(testOwner, testMint, post)}
	}
	return &solana.Transaction{
		Slot:      42,
		Signature: sig,
		BlockTime: 1700000000,
		Meta:      meta,
		Message:   &solana.TransactionMessage{AccountKeys: append([]string{testOwner}, programs...)},
	}
}

func TestClassifyTransaction_Buy(t *testing.T) {
	tx := tokenTx("sig1", "100000000", "140000000", protocol.RaydiumAMMV4)

	got := ClassifyTransaction(tx, testOwner, testMint)
	require.NotNil(t, got)

	assert.Equal(t, "sig1", got.Signature)
	assert.Equal(t, int64(42), got.Slot)
	assert.Equal(t, testOwner, got.WalletAddress)
	assert.Equal(t, domain.DirectionBuy, got.Direction)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(40)), "amount %s", got.Amount)
	require.NotNil(t, got.PostBalance)
	assert.True(t, got.PostBalance.Equal(decimal.NewFromInt(140)))
	assert.Equal(t, domain.ProtocolRaydium, got.Protocol)
	assert.True(t, got.Fee.Equal(decimal.RequireFromString("0.000005")), "fee %s", got.Fee)
	assert.Equal(t, int64(1700000000), got.Timestamp.Unix())
	assert.Nil(t, got.PriceUSD)
	assert.Nil(t, got.PriceImpact)
}

func TestClassifyTransaction_Sell(t *testing.T) {
	got := ClassifyTransaction(tokenTx("sig1", "140000000", "15500000"), testOwner, testMint)
	require.NotNil(t, got)

	assert.Equal(t, domain.DirectionSell, got.Direction)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("124.5")), "amount %s", got.Amount)
	assert.Equal(t, domain.ProtocolUnknown, got.Protocol)
}

func TestClassifyTransaction_ZeroDelta(t *testing.T) {
	assert.Nil(t, ClassifyTransaction(tokenTx("sig1", "140000000", "140000000"), testOwner, testMint))
}

func TestClassifyTransaction_MissingSideCountsAsZero(t *testing.T) {
	firstBuy := ClassifyTransaction(tokenTx("sig1", "", "2500000"), testOwner, testMint)
	require.NotNil(t, firstBuy)
	assert.Equal(t, domain.DirectionBuy, firstBuy.Direction)
	assert.True(t, firstBuy.Amount.Equal(decimal.RequireFromString("2.5")))

	closed := ClassifyTransaction(tokenTx("sig2", "2500000", ""), testOwner, testMint)
	require.NotNil(t, closed)
	assert.Equal(t, domain.DirectionSell, closed.Direction)
	assert.True(t, closed.PostBalance.IsZero())
}

func TestClassifyTransaction_Skips(t *testing.T) {
	failed := tokenTx("sig1", "100", "200")
	failed.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	noMeta := tokenTx("sig2", "100", "200")
	noMeta.Meta = nil

	otherMint := tokenTx("sig3", "", "")
	otherMint.Meta.PostTokenBalances = []solana.TokenBalance{bal(testOwner, "OtherMint", "500")}

	otherOwner := tokenTx("sig4", "", "")
	otherOwner.Meta.PostTokenBalances = []solana.TokenBalance{bal("SomeoneElse", testMint, "500")}

	tests := []struct {
		name string
		tx   *solana.Transaction
	}{
		{"nil transaction", nil},
		{"failed transaction", failed},
		{"missing meta", noMeta},
		{"other mint", otherMint},
		{"other owner", otherOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, ClassifyTransaction(tt.tx, testOwner, testMint))
		})
	}
}

func TestBalanceChangeOf_SumsOwnerAccounts(t *testing.T) {
	tx := tokenTx("sig1", "", "")
	tx.Meta.PreTokenBalances = []solana.TokenBalance{
		bal(testOwner, testMint, "1000000"),
		bal(testOwner, testMint, "2000000"),
	}
	tx.Meta.PostTokenBalances = []solana.TokenBalance{
		bal(testOwner, testMint, "1000000"),
		bal(testOwner, testMint, "5000000"),
	}

	change, ok := BalanceChangeOf(tx, testOwner, testMint).(domain.BalanceChanged)
	require.True(t, ok)
	assert.True(t, change.Pre.Equal(decimal.NewFromInt(3)))
	assert.True(t, change.Post.Equal(decimal.NewFromInt(6)))
	assert.True(t, change.Delta().Equal(decimal.NewFromInt(3)))

	assert.Equal(t, domain.NoChange{}, BalanceChangeOf(nil, testOwner, testMint))
}

func TestClassifyTransaction_ProtocolFromLookupTables(t *testing.T) {
	tx := tokenTx("sig1", "0", "1000000")
	tx.Meta.LoadedAddresses.Readonly = []string{protocol.JupiterV6}

	got := ClassifyTransaction(tx, testOwner, testMint)
	require.NotNil(t, got)
	assert.Equal(t, domain.ProtocolJupiter, got.Protocol)
}

func TestLamportsToSOL(t *testing.T) {
	assert.True(t, LamportsToSOL(1_500_000_000).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, LamportsToSOL(0).IsZero())
}

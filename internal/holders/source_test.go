package holders

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet-monitor/internal/pool"
	"token-wallet-monitor/internal/retry"
	"token-wallet-monitor/internal/solana"
	"token-wallet-monitor/internal/solana/stub"
)

const testMint = "MintAddress1111111111111111111111111111111"

func mintAccount(decimals byte) *solana.AccountInfo {
	data := make([]byte, 82)
	data[44] = decimals
	return &solana.AccountInfo{Owner: solana.TokenProgramID, Data: base64.StdEncoding.EncodeToString(data)}
}

func newTestSource(t *testing.T, rpc *stub.RPCClient) *RPCSource {
	t.Helper()
	conns, err := pool.New([]*solana.Conn{{Name: "stub", RPC: rpc}}, pool.StrategyRandom)
	require.NoError(t, err)
	return NewRPCSource(testMint, conns, retry.NewExecutor(retry.WithBaseDelay(time.Millisecond)))
}

func TestRPCSource_TopHolders(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetAccount(testMint, mintAccount(6))
	rpc.AddTokenAccounts(testMint,
		solana.TokenAccount{Address: "acc1", Mint: testMint, Owner: "alice", Amount: 5_000_000},
		solana.TokenAccount{Address: "acc2", Mint: testMint, Owner: "bob", Amount: 7_000_000},
		solana.TokenAccount{Address: "acc3", Mint: testMint, Owner: "alice", Amount: 3_000_000},
		solana.TokenAccount{Address: "acc4", Mint: testMint, Owner: "carol", Amount: 500_000},
		solana.TokenAccount{Address: "acc5", Mint: testMint, Owner: "dave", Amount: 0},
	)

	src := newTestSource(t, rpc)
	got, err := src.TopHolders(context.Background(), 10, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "alice", got[0].Owner)
	assert.True(t, got[0].Balance.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, "bob", got[1].Owner)
	assert.True(t, got[1].Balance.Equal(decimal.NewFromInt(7)))

	// Decimals are read once.
	_, err = src.TopHolders(context.Background(), 1, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 1, rpc.Calls("getAccountInfo"))
	assert.Equal(t, 2, rpc.Calls("getProgramAccounts"))
}

func TestRPCSource_MissingMint(t *testing.T) {
	_, err := newTestSource(t, stub.NewRPCClient()).TopHolders(context.Background(), 10, decimal.Zero)
	assert.Error(t, err)
}

func TestRPCSource_RetriesRateLimit(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetAccount(testMint, mintAccount(0))
	rpc.AddTokenAccounts(testMint, solana.TokenAccount{Mint: testMint, Owner: "alice", Amount: 3})
	rpc.FailNext("getProgramAccounts", solana.ErrRateLimited)

	got, err := newTestSource(t, rpc).TopHolders(context.Background(), 10, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, rpc.Calls("getProgramAccounts"))
}

func TestRPCSource_TransportErrorPropagates(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetAccount(testMint, mintAccount(0))
	boom := errors.New("connection refused")
	rpc.FailNext("getProgramAccounts", boom)

	_, err := newTestSource(t, rpc).TopHolders(context.Background(), 10, decimal.Zero)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rpc.Calls("getProgramAccounts"))
}

func TestRankHolders_OrderAndLimit(t *testing.T) {
	accounts := []solana.TokenAccount{
		{Mint: testMint, Owner: "b", Amount: 100},
		{Mint: testMint, Owner: "a", Amount: 100},
		{Mint: testMint, Owner: "c", Amount: 300},
		{Mint: "OtherMint", Owner: "z", Amount: 1000},
	}

	got := rankHolders(accounts, testMint, 2, 2, decimal.Zero)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Owner)
	assert.True(t, got[0].Balance.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "a", got[1].Owner)
}

func TestIsProgramOwned(t *testing.T) {
	wallet := sol.NewWallet().PublicKey()
	assert.False(t, IsProgramOwned(wallet.String()))

	pda, _, err := sol.FindProgramAddress([][]byte{[]byte("vault")}, sol.TokenProgramID)
	require.NoError(t, err)
	assert.True(t, IsProgramOwned(pda.String()))

	assert.False(t, IsProgramOwned("not-base58-0OIl"))
	assert.False(t, IsProgramOwned("abc"))
}

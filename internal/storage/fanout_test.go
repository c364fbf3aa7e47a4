package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
	"token-wallet-monitor/internal/storage/memory"
)

type recordingSink struct {
	mu   sync.Mutex
	sigs []string
	err  error
}

func (s *recordingSink) InsertTransaction(_ context.Context, tx *domain.ClassifiedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sigs = append(s.sigs, tx.Signature)
	return s.err
}

func sampleTx(sig string) *domain.ClassifiedTransaction {
	return &domain.ClassifiedTransaction{
		Signature:     sig,
		Timestamp:     time.Unix(1700000000, 0),
		WalletAddress: "wallet1",
		Direction:     domain.DirectionBuy,
		Amount:        decimal.NewFromInt(40),
		Protocol:      domain.ProtocolUnknown,
	}
}

func TestFanout_CopiesToAllSinks(t *testing.T) {
	primary := memory.NewStore()
	a, b := &recordingSink{}, &recordingSink{}

	f := storage.NewFanout(primary, nil)
	f.AddSink("a", a)
	f.AddSink("b", b)

	require.NoError(t, f.InsertTransaction(context.Background(), sampleTx("sig1")))

	assert.Equal(t, []string{"sig1"}, a.sigs)
	assert.Equal(t, []string{"sig1"}, b.sigs)
	assert.Equal(t, []string{"a", "b"}, f.Sinks())

	w, err := f.GetWallet(context.Background(), "wallet1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.TransactionCount)
}

func TestFanout_DuplicateSignatureSkipsSinks(t *testing.T) {
	sink := &recordingSink{}
	f := storage.NewFanout(memory.NewStore(), nil)
	f.AddSink("redis", sink)
	ctx := context.Background()

	inserted, err := f.SaveTransaction(ctx, sampleTx("sig-dup"))
	require.NoError(t, err)
	assert.True(t, inserted)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.InsertTransaction(ctx, sampleTx("sig-dup")))
	}
	inserted, err = f.SaveTransaction(ctx, sampleTx("sig-dup"))
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Equal(t, []string{"sig-dup"}, sink.sigs)

	w, err := f.GetWallet(ctx, "wallet1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.TransactionCount)
}

func TestFanout_SinkFailuresAreJoined(t *testing.T) {
	primary := memory.NewStore()
	errA := errors.New("clickhouse down")
	errB := errors.New("redis down")
	ok := &recordingSink{}

	f := storage.NewFanout(primary, nil)
	f.AddSink("clickhouse", &recordingSink{err: errA})
	f.AddSink("ok", ok)
	f.AddSink("redis", &recordingSink{err: errB})

	err := f.InsertTransaction(context.Background(), sampleTx("sig1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	// A failing sink does not stop the others or the primary write.
	assert.Equal(t, []string{"sig1"}, ok.sigs)
	list, err := f.GetTransactionsByWallet(context.Background(), "wallet1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFanout_PrimaryFailureSkipsSinks(t *testing.T) {
	sink := &recordingSink{}
	f := storage.NewFanout(memory.NewStore(), nil)
	f.AddSink("sink", sink)

	bad := sampleTx("sig1")
	bad.Amount = decimal.Zero

	err := f.InsertTransaction(context.Background(), bad)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Empty(t, sink.sigs)
}

func TestFanout_WalletPassThrough(t *testing.T) {
	f := storage.NewFanout(memory.NewStore(), nil)
	ctx := context.Background()

	require.NoError(t, f.InsertWallet(ctx, domain.NewSnapshotWallet("w1", decimal.NewFromInt(5), time.Unix(1, 0))))
	require.NoError(t, f.InsertWallet(ctx, domain.NewSnapshotWallet("w2", decimal.NewFromInt(9), time.Unix(1, 0))))

	top, err := f.GetTopWallets(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "w2", top[0].Address)

	assert.ErrorIs(t, f.InsertWallet(ctx, nil), storage.ErrInvalidInput)
}

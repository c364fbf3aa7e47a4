package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func classified(sig, wallet string, dir domain.Direction, amount string, ts int64, post string) *domain.ClassifiedTransaction {
	tx := &domain.ClassifiedTransaction{
		Signature:     sig,
		Slot:          ts,
		Timestamp:     time.Unix(ts, 0).UTC(),
		WalletAddress: wallet,
		Direction:     dir,
		Amount:        dec(amount),
		Protocol:      domain.ProtocolRaydium,
		Fee:           dec("0.000005"),
	}
	if post != "" {
		p := dec(post)
		tx.PostBalance = &p
	}
	return tx
}

func TestStore_InsertWalletAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	w := domain.NewSnapshotWallet("wallet1", dec("100"), time.Unix(1000, 0))
	if err := store.InsertWallet(ctx, w); err != nil {
		t.Fatalf("InsertWallet failed: %v", err)
	}

	got, err := store.GetWallet(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if !got.TokenBalance.Equal(dec("100")) {
		t.Errorf("TokenBalance mismatch: got %s, want 100", got.TokenBalance)
	}

	// Mutating the returned copy must not affect the store.
	got.TokenBalance = dec("1")
	again, _ := store.GetWallet(ctx, "wallet1")
	if !again.TokenBalance.Equal(dec("100")) {
		t.Errorf("store leaked internal pointer")
	}
}

func TestStore_GetWalletNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetWallet(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_InvalidInput(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.InsertWallet(ctx, &domain.Wallet{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty address, got %v", err)
	}

	zero := classified("sig1", "wallet1", domain.DirectionBuy, "0", 1000, "")
	if err := store.InsertTransaction(ctx, zero); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for zero amount, got %v", err)
	}

	noSig := classified("", "wallet1", domain.DirectionBuy, "1", 1000, "")
	if err := store.InsertTransaction(ctx, noSig); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty signature, got %v", err)
	}
}

func TestStore_InsertTransactionRecomputesAggregates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.InsertWallet(ctx, domain.NewSnapshotWallet("wallet1", dec("100"), time.Unix(500, 0))); err != nil {
		t.Fatalf("InsertWallet failed: %v", err)
	}

	txs := []*domain.ClassifiedTransaction{
		classified("sig1", "wallet1", domain.DirectionBuy, "40", 1000, "140"),
		classified("sig2", "wallet1", domain.DirectionSell, "10", 2000, "130"),
	}
	for _, tx := range txs {
		if err := store.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction failed: %v", err)
		}
	}

	w, err := store.GetWallet(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}

	if w.TransactionCount != 2 {
		t.Errorf("TransactionCount: got %d, want 2", w.TransactionCount)
	}
	if !w.TotalVolume.Equal(dec("50")) {
		t.Errorf("TotalVolume: got %s, want 50", w.TotalVolume)
	}
	if !w.BuyVolume.Equal(dec("40")) || !w.SellVolume.Equal(dec("10")) {
		t.Errorf("split volume: buy %s sell %s", w.BuyVolume, w.SellVolume)
	}
	if !w.AvgTransactionSize.Equal(dec("25")) {
		t.Errorf("AvgTransactionSize: got %s, want 25", w.AvgTransactionSize)
	}
	if !w.LargestTransaction.Equal(dec("40")) {
		t.Errorf("LargestTransaction: got %s, want 40", w.LargestTransaction)
	}
	if !w.TokenBalance.Equal(dec("130")) {
		t.Errorf("TokenBalance: got %s, want 130", w.TokenBalance)
	}
	if !w.FirstSeen.Equal(time.Unix(500, 0)) {
		t.Errorf("FirstSeen: got %v", w.FirstSeen)
	}
	if !w.LastActivity.Equal(time.Unix(2000, 0)) {
		t.Errorf("LastActivity: got %v", w.LastActivity)
	}
}

func TestStore_InsertTransactionIsIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx := classified("sig1", "wallet1", domain.DirectionBuy, "40", 1000, "140")
	for i := 0; i < 3; i++ {
		inserted, err := store.SaveTransaction(ctx, tx)
		if err != nil {
			t.Fatalf("SaveTransaction #%d failed: %v", i, err)
		}
		if inserted != (i == 0) {
			t.Errorf("SaveTransaction #%d: inserted = %v", i, inserted)
		}
	}

	w, err := store.GetWallet(ctx, "wallet1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if w.TransactionCount != 1 {
		t.Errorf("duplicate signature counted: got %d", w.TransactionCount)
	}

	list, _ := store.GetTransactionsByWallet(ctx, "wallet1", 0)
	if len(list) != 1 {
		t.Errorf("Expected 1 transaction, got %d", len(list))
	}
}

func TestStore_InsertWalletKeepsAggregates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.InsertTransaction(ctx, classified("sig1", "wallet1", domain.DirectionBuy, "40", 1000, "140")); err != nil {
		t.Fatalf("InsertTransaction failed: %v", err)
	}

	refresh := domain.NewSnapshotWallet("wallet1", dec("150"), time.Unix(3000, 0))
	if err := store.InsertWallet(ctx, refresh); err != nil {
		t.Fatalf("InsertWallet failed: %v", err)
	}

	w, _ := store.GetWallet(ctx, "wallet1")
	if w.TransactionCount != 1 {
		t.Errorf("snapshot refresh reset counters: %d", w.TransactionCount)
	}
	if !w.TokenBalance.Equal(dec("150")) {
		t.Errorf("TokenBalance: got %s, want 150", w.TokenBalance)
	}
	if !w.FirstSeen.Equal(time.Unix(1000, 0).UTC()) {
		t.Errorf("FirstSeen moved: %v", w.FirstSeen)
	}
}

func TestStore_GetTopWallets(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for addr, bal := range map[string]string{"a": "10", "b": "300", "c": "20", "d": "300"} {
		if err := store.InsertWallet(ctx, domain.NewSnapshotWallet(addr, dec(bal), time.Unix(1, 0))); err != nil {
			t.Fatalf("InsertWallet failed: %v", err)
		}
	}

	top, err := store.GetTopWallets(ctx, 3)
	if err != nil {
		t.Fatalf("GetTopWallets failed: %v", err)
	}

	want := []string{"b", "d", "c"}
	if len(top) != len(want) {
		t.Fatalf("Expected %d wallets, got %d", len(want), len(top))
	}
	for i, addr := range want {
		if top[i].Address != addr {
			t.Errorf("position %d: got %s, want %s", i, top[i].Address, addr)
		}
	}
}

func TestStore_GetTransactionsByWalletNewestFirst(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i, ts := range []int64{1000, 3000, 2000} {
		tx := classified([]string{"s1", "s3", "s2"}[i], "wallet1", domain.DirectionBuy, "1", ts, "")
		if err := store.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction failed: %v", err)
		}
	}

	list, err := store.GetTransactionsByWallet(ctx, "wallet1", 2)
	if err != nil {
		t.Fatalf("GetTransactionsByWallet failed: %v", err)
	}
	if len(list) != 2 || list[0].Signature != "s3" || list[1].Signature != "s2" {
		t.Errorf("unexpected order: %v, %v", list[0].Signature, list[1].Signature)
	}
}

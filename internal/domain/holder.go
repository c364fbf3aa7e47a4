package domain

import "time"

// HolderSnapshot is the top holder list captured at one point in time.
// Wallets are ordered by token balance descending.
type HolderSnapshot struct {
	Wallets    []*Wallet
	CapturedAt time.Time
}

// Empty reports whether the snapshot holds no wallets.
func (s *HolderSnapshot) Empty() bool {
	return s == nil || len(s.Wallets) == 0
}

// Top returns up to limit wallets. A non-positive limit returns all of them.
func (s *HolderSnapshot) Top(limit int) []*Wallet {
	if s == nil {
		return nil
	}
	if limit <= 0 || limit > len(s.Wallets) {
		limit = len(s.Wallets)
	}
	out := make([]*Wallet, limit)
	copy(out, s.Wallets[:limit])
	return out
}

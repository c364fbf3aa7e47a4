package holders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"token-wallet-monitor/internal/pool"
	"token-wallet-monitor/internal/retry"
	"token-wallet-monitor/internal/solana"
)

// Holder is one owner of the monitored mint with its aggregated balance.
type Holder struct {
	Owner          string
	Balance        decimal.Decimal
	IsProgramOwned bool
}

// Source returns the top n holders of the monitored mint, balance desc,
// skipping owners below minBalance.
type Source interface {
	TopHolders(ctx context.Context, n int, minBalance decimal.Decimal) ([]Holder, error)
}

// RPCSource scans the SPL token accounts of a mint over RPC.
type RPCSource struct {
	mint  string
	conns *pool.Pool[*solana.Conn]
	exec  *retry.Executor

	mu       sync.Mutex
	decimals *int
}

// NewRPCSource creates an RPCSource for mint.
func NewRPCSource(mint string, conns *pool.Pool[*solana.Conn], exec *retry.Executor) *RPCSource {
	return &RPCSource{mint: mint, conns: conns, exec: exec}
}

var _ Source = (*RPCSource)(nil)

// TopHolders implements Source.
func (s *RPCSource) TopHolders(ctx context.Context, n int, minBalance decimal.Decimal) ([]Holder, error) {
	decimals, err := s.mintDecimals(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := retry.Do(ctx, s.exec, func(ctx context.Context) ([]solana.TokenAccount, error) {
		return s.conns.Select().RPC.GetTokenAccountsByMint(ctx, s.mint)
	})
	if err != nil {
		return nil, fmt.Errorf("get token accounts of %s: %w", s.mint, err)
	}

	return rankHolders(accounts, s.mint, decimals, n, minBalance), nil
}

// mintDecimals reads the decimals of the mint once and caches them.
func (s *RPCSource) mintDecimals(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decimals != nil {
		return *s.decimals, nil
	}

	info, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*solana.AccountInfo, error) {
		return s.conns.Select().RPC.GetAccountInfo(ctx, s.mint)
	})
	if err != nil {
		return 0, fmt.Errorf("get mint account %s: %w", s.mint, err)
	}
	if info == nil {
		return 0, fmt.Errorf("mint account %s not found", s.mint)
	}

	d, err := solana.ParseMintDecimals(info.Data)
	if err != nil {
		return 0, fmt.Errorf("mint %s: %w", s.mint, err)
	}
	s.decimals = &d
	return d, nil
}

// rankHolders sums raw amounts per owner, scales them by decimals and
// returns the top n owners at or above minBalance. Ties break on owner.
func rankHolders(accounts []solana.TokenAccount, mint string, decimals, n int, minBalance decimal.Decimal) []Holder {
	raw := make(map[string]decimal.Decimal)
	for _, acc := range accounts {
		if acc.Mint != mint || acc.Amount == 0 {
			continue
		}
		raw[acc.Owner] = raw[acc.Owner].Add(decimal.NewFromUint64(acc.Amount))
	}

	holders := make([]Holder, 0, len(raw))
	for owner, amount := range raw {
		balance := amount.Shift(-int32(decimals))
		if balance.LessThan(minBalance) {
			continue
		}
		holders = append(holders, Holder{
			Owner:          owner,
			Balance:        balance,
			IsProgramOwned: IsProgramOwned(owner),
		})
	}

	sort.Slice(holders, func(i, j int) bool {
		if c := holders[i].Balance.Cmp(holders[j].Balance); c != 0 {
			return c > 0
		}
		return holders[i].Owner < holders[j].Owner
	})

	if n > 0 && len(holders) > n {
		holders = holders[:n]
	}
	return holders
}

// IsProgramOwned reports whether owner is off the ed25519 curve, i.e. a
// program derived address such as a pool vault authority.
func IsProgramOwned(owner string) bool {
	key, err := base58.Decode(owner)
	if err != nil || len(key) != 32 {
		return false
	}
	return !isOnCurve(key)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

package stub

import (
	"context"
	"sync"

	"token-wallet-monitor/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Transactions  map[string]*solana.Transaction
	Signatures    map[string][]solana.SignatureInfo
	TokenAccounts map[string][]solana.TokenAccount
	Accounts      map[string]*solana.AccountInfo
	Slot          int64

	// Errs maps a method name to the errors returned by its next calls, in order.
	Errs map[string][]error

	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:  make(map[string]*solana.Transaction),
		Signatures:    make(map[string][]solana.SignatureInfo),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Accounts:      make(map[string]*solana.AccountInfo),
		Errs:          make(map[string][]error),
		calls:         make(map[string]int),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// enter counts the call and pops a queued error, if any. Caller holds mu.
func (c *RPCClient) enter(method string) error {
	c.calls[method]++
	queue := c.Errs[method]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	c.Errs[method] = queue[1:]
	return err
}

// GetTransaction retrieves a transaction by signature from the stub store.
// Unknown signatures return nil, like a node that has not seen them.
func (c *RPCClient) GetTransaction(_ context.Context, signature string, _ solana.Commitment) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getTransaction"); err != nil {
		return nil, err
	}
	return c.Transactions[signature], nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getSignaturesForAddress"); err != nil {
		return nil, err
	}

	sigs, ok := c.Signatures[address]
	if !ok {
		return nil, nil
	}

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return append([]solana.SignatureInfo(nil), sigs[:opts.Limit]...), nil
	}

	return append([]solana.SignatureInfo(nil), sigs...), nil
}

// GetTokenAccountsByMint returns the stored token accounts for mint.
func (c *RPCClient) GetTokenAccountsByMint(_ context.Context, mint string) ([]solana.TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getProgramAccounts"); err != nil {
		return nil, err
	}
	return append([]solana.TokenAccount(nil), c.TokenAccounts[mint]...), nil
}

// GetAccountInfo returns the stored account, or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getAccountInfo"); err != nil {
		return nil, err
	}
	return c.Accounts[pubkey], nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("getSlot"); err != nil {
		return 0, err
	}
	return c.Slot, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures adds signatures for an address to the stub store.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// AddTokenAccounts adds token accounts for a mint to the stub store.
func (c *RPCClient) AddTokenAccounts(mint string, accounts ...solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[mint] = append(c.TokenAccounts[mint], accounts...)
}

// SetAccount stores account info for pubkey.
func (c *RPCClient) SetAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// FailNext queues errs for the next calls of method.
func (c *RPCClient) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errs[method] = append(c.Errs[method], errs...)
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

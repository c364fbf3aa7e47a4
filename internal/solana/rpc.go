package solana

import "context"

// RPCClient defines Solana RPC HTTP interface.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil without error when the node does not know the transaction.
	GetTransaction(ctx context.Context, signature string, commitment Commitment) (*Transaction, error)

	// GetSignaturesForAddress retrieves signatures for an address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetTokenAccountsByMint retrieves all SPL token accounts of a mint.
	GetTokenAccountsByMint(ctx context.Context, mint string) ([]TokenAccount, error)

	// GetAccountInfo retrieves account info by public key. Returns nil if not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64 // lamports
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	LoadedAddresses   LoadedAddresses
	LogMessages       []string
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// AccountKeys returns static keys followed by lookup table keys.
func (tx *Transaction) AccountKeys() []string {
	if tx == nil {
		return nil
	}
	var keys []string
	if tx.Message != nil {
		keys = append(keys, tx.Message.AccountKeys...)
	}
	if tx.Meta != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// Failed reports whether the transaction carries an execution error.
func (tx *Transaction) Failed() bool {
	return tx != nil && tx.Meta != nil && tx.Meta.Err != nil
}

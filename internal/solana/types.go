package solana

// Commitment is the confirmation level requested from the node.
type Commitment string

// Commitment levels
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex   int
	Mint           string
	Owner          string
	ProgramID      string
	Amount         string // raw integer amount
	Decimals       int
	UIAmountString string
}

// LoadedAddresses lists accounts pulled in through address lookup tables.
type LoadedAddresses struct {
	Writable []string
	Readonly []string
}

// TokenAccount is a decoded SPL token account.
type TokenAccount struct {
	Address string
	Mint    string
	Owner   string
	Amount  uint64 // raw amount, scale by mint decimals
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

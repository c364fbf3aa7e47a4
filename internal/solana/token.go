package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// SPL token program and account layout constants.
const (
	TokenProgramID   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	TokenAccountSize = 165
	mintDecimalsOff  = 44
)

// ParseTokenAccount decodes base64 SPL token account data.
// Token account layout: mint(32) | owner(32) | amount(8) | ...
func ParseTokenAccount(address, data string) (TokenAccount, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("decode token account data: %w", err)
	}
	if len(decoded) < 72 {
		return TokenAccount{}, fmt.Errorf("token account data too short: %d", len(decoded))
	}
	return TokenAccount{
		Address: address,
		Mint:    base58.Encode(decoded[:32]),
		Owner:   base58.Encode(decoded[32:64]),
		Amount:  binary.LittleEndian.Uint64(decoded[64:72]),
	}, nil
}

// ParseMintDecimals reads the decimals byte from base64 mint account data.
// Mint layout: mint_authority(36) | supply(8) | decimals(1) | ...
func ParseMintDecimals(data string) (int, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return 0, fmt.Errorf("decode mint data: %w", err)
	}
	if len(decoded) <= mintDecimalsOff {
		return 0, fmt.Errorf("mint data too short: %d", len(decoded))
	}
	return int(decoded[mintDecimalsOff]), nil
}

// Package protocol attributes a transaction to the trading venue whose
// programs it references.
package protocol

import "token-wallet-monitor/internal/domain"

// Known program IDs.
const (
	JupiterV6 = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"
	JupiterV4 = "JUP4Fb2cqiRUcaTHdrPC8h2gNsA2ETXiPDD33WcGuJB"

	// RaydiumAMMV4 is the Raydium AMM v4 program ID.
	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumCLMM  = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	RaydiumCPMM  = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"

	OrcaWhirlpool = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	OrcaLegacy    = "9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP"

	MeteoraDLMM  = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
	MeteoraPools = "Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB"

	// PumpFun is the pump.fun program ID.
	PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
)

// Entry binds a protocol to the program IDs that identify it.
type Entry struct {
	Protocol domain.Protocol
	Programs []string
}

// table is checked in order; the first entry with a matching program wins.
// Jupiter routes through the AMMs below it, so it must stay first.
var table = []Entry{
	{Protocol: domain.ProtocolJupiter, Programs: []string{JupiterV6, JupiterV4}},
	{Protocol: domain.ProtocolRaydium, Programs: []string{RaydiumAMMV4, RaydiumCLMM, RaydiumCPMM}},
	{Protocol: domain.ProtocolOrca, Programs: []string{OrcaWhirlpool, OrcaLegacy}},
	{Protocol: domain.ProtocolMeteora, Programs: []string{MeteoraDLMM, MeteoraPools}},
	{Protocol: domain.ProtocolPumpFun, Programs: []string{PumpFun}},
}

// Table returns a copy of the classification table in evaluation order.
func Table() []Entry {
	out := make([]Entry, len(table))
	for i, e := range table {
		out[i] = Entry{Protocol: e.Protocol, Programs: append([]string(nil), e.Programs...)}
	}
	return out
}

// Classify returns the first protocol in table order whose programs appear
// in accountKeys, or ProtocolUnknown.
func Classify(accountKeys []string) domain.Protocol {
	if len(accountKeys) == 0 {
		return domain.ProtocolUnknown
	}

	keys := make(map[string]struct{}, len(accountKeys))
	for _, k := range accountKeys {
		keys[k] = struct{}{}
	}

	for _, e := range table {
		for _, program := range e.Programs {
			if _, ok := keys[program]; ok {
				return e.Protocol
			}
		}
	}
	return domain.ProtocolUnknown
}

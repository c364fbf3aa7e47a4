package domain

// Protocol identifies the trading venue a transaction was routed through.
type Protocol string

// Known protocols
const (
	ProtocolJupiter Protocol = "jupiter"
	ProtocolRaydium Protocol = "raydium"
	ProtocolOrca    Protocol = "orca"
	ProtocolMeteora Protocol = "meteora"
	ProtocolPumpFun Protocol = "pumpfun"
	ProtocolUnknown Protocol = "unknown"
)

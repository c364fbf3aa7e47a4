package solana

// Conn is one pooled upstream handle: an RPC client and a WebSocket
// client configured against the same provider.
type Conn struct {
	Name string
	RPC  RPCClient
	WS   WSClient
}

// Close closes the WebSocket side of the handle.
func (c *Conn) Close() error {
	if c == nil || c.WS == nil {
		return nil
	}
	return c.WS.Close()
}

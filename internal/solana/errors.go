package solana

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRateLimited is returned when the node rejects a call for exceeding its rate limit.
var ErrRateLimited = errors.New("rate limited (429)")

// ErrClientClosed is returned by operations on a closed WebSocket client.
var ErrClientClosed = errors.New("client closed")

// JSON-RPC error codes providers use for throttling.
const (
	rpcCodeTooManyRequests = 429
	rpcCodeRateLimited     = -32429

	// rpcCodeInvalidResult marks a response whose result could not be decoded.
	rpcCodeInvalidResult = -32603
)

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match throttling responses against ErrRateLimited.
func (e *rpcError) Is(target error) bool {
	if target != ErrRateLimited {
		return false
	}
	switch e.Code {
	case rpcCodeTooManyRequests, rpcCodeRateLimited:
		return true
	}
	return hasRateLimitMarker(e.Message)
}

// IsRateLimited reports whether err signals an upstream rate limit rejection:
// an HTTP 429 or a JSON-RPC throttling error. Message text is only inspected
// on JSON-RPC errors, since transport errors carry the endpoint URL.
func IsRateLimited(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimited)
}

func hasRateLimitMarker(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

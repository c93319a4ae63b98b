package chain

import "fmt"

// RpcError wraps a failed JSON-RPC call with the method name, so callers up
// the stack can log "which call" without re-parsing the error string.
type RpcError struct {
	Method string
	Err    error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Err)
}

func (e *RpcError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError describes a transaction's signature not landing
// within the configured deadline. WaitForConfirmation never returns it as an
// error — a timeout is logged, not raised, since the transaction may still
// confirm later — it exists only to format that log line.
type ConfirmationTimeoutError struct {
	Signature string
	Waited    string
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation timeout for %s after %s", e.Signature, e.Waited)
}

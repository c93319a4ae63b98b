// Package chain is a thin facade over the Solana JSON-RPC client, scoped to
// exactly what the liquidation bot needs: account fetches (single, batched,
// and program-wide scans with server-side memcmp filtering), balance
// queries, and transaction submission with confirmation polling. It owns
// rate limiting and typed error wrapping so every other package can treat
// "the chain" as a clean Go interface instead of juggling raw RPC responses.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client wraps rpc.Client with rate limiting and structured logging.
type Client struct {
	rpc    *rpc.Client
	rl     *TokenBucket
	logger *slog.Logger
}

// New creates a facade around the given cluster RPC endpoint.
func New(clusterURL string, logger *slog.Logger) *Client {
	return &Client{
		rpc:    rpc.New(clusterURL),
		rl:     NewTokenBucket(40, 10), // 40 burst, 10/sec sustained — conservative for public RPC
		logger: logger.With("component", "chain"),
	}
}

// GetAccountInfo fetches a single account's data. A nil returned account
// (with nil error) means the account does not exist on-chain.
func (c *Client) GetAccountInfo(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		if err == rpc.ErrNotFound {
			return nil, nil
		}
		return nil, &RpcError{Method: "getAccountInfo", Err: err}
	}
	return out.Value.Data.GetBinary(), nil
}

// GetMultipleAccounts fetches many accounts in one call, preserving input
// order; a missing account yields a nil slice at that index.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.rpc.GetMultipleAccounts(ctx, addresses...)
	if err != nil {
		return nil, &RpcError{Method: "getMultipleAccounts", Err: err}
	}
	result := make([][]byte, len(addresses))
	for i, acc := range out.Value {
		if acc == nil {
			continue
		}
		result[i] = acc.Data.GetBinary()
	}
	return result, nil
}

// MemcmpFilter is a byte-offset equality filter for GetProgramAccounts, the
// Go mirror of the Python client's memcmp-based getProgramAccounts filters.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// ProgramAccount pairs a scanned account's address with its raw data.
type ProgramAccount struct {
	Address solana.PublicKey
	Data    []byte
}

// GetProgramAccounts scans every account owned by programID matching all
// the given memcmp filters, applied server-side so large programs (like the
// margin-account or open-orders program) don't ship unrelated accounts over
// the wire.
func (c *Client) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []MemcmpFilter) ([]ProgramAccount, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	opts := &rpc.GetProgramAccountsOpts{
		Encoding: solana.EncodingBase64,
	}
	for _, f := range filters {
		opts.Filters = append(opts.Filters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{
				Offset: f.Offset,
				Bytes:  solana.Base58(f.Bytes),
			},
		})
	}

	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, programID, opts)
	if err != nil {
		return nil, &RpcError{Method: "getProgramAccounts", Err: err}
	}

	accounts := make([]ProgramAccount, len(out))
	for i, a := range out {
		accounts[i] = ProgramAccount{
			Address: a.Pubkey,
			Data:    a.Account.Data.GetBinary(),
		}
	}
	return accounts, nil
}

// GetBalance returns an account's lamport balance.
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, address, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, &RpcError{Method: "getBalance", Err: err}
	}
	return out.Value, nil
}

// GetTokenAccountBalance returns an SPL token account's raw amount and the
// mint's decimals.
func (c *Client) GetTokenAccountBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, int32, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, 0, err
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, 0, &RpcError{Method: "getTokenAccountBalance", Err: err}
	}
	var amount uint64
	fmt.Sscan(out.Value.Amount, &amount)
	return amount, int32(out.Value.Decimals), nil
}

// GetLatestBlockhash fetches a recent blockhash for transaction construction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, &RpcError{Method: "getLatestBlockhash", Err: err}
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits a fully signed transaction and returns its
// signature. It does not wait for confirmation; call WaitForConfirmation
// separately.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, &RpcError{Method: "sendTransaction", Err: err}
	}
	return sig, nil
}

// WaitForConfirmation polls a transaction's signature status once per
// second until it lands or the timeout elapses. A timeout is logged, not
// returned as a hard failure, since the transaction may still confirm
// afterward — the caller decides whether to retry or move on.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := c.rl.Wait(ctx); err != nil {
			return false, err
		}
		statuses, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return false, &RpcError{Method: "getSignatureStatuses", Err: err}
		}
		if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.Err != nil {
				return false, fmt.Errorf("transaction %s failed on-chain: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return true, nil
			}
		}

		if time.Now().After(deadline) {
			err := &ConfirmationTimeoutError{Signature: sig.String(), Waited: timeout.String()}
			c.logger.Warn("confirmation timed out", "signature", sig.String(), "timeout", timeout, "error", err)
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

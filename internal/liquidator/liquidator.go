// Package liquidator implements the four AccountLiquidator variants: a
// no-op for dry runs, a real submitter, a force-cancel-orders wrapper for
// margin accounts with resting orders, and a reporting wrapper that
// snapshots before/after balances and emits a LiquidationEvent.
package liquidator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"mango-liquidator/internal/instructions"
	"mango-liquidator/pkg/types"
)

// LiquidationFailedError wraps any RPC or confirmation failure encountered
// while submitting a liquidation transaction.
type LiquidationFailedError struct {
	MarginAccount solana.PublicKey
	Cause         error
}

func (e *LiquidationFailedError) Error() string {
	return fmt.Sprintf("liquidation failed for margin account %s: %s", e.MarginAccount, e.Cause)
}

func (e *LiquidationFailedError) Unwrap() error { return e.Cause }

// AccountLiquidator is the shared contract every variant implements: a
// non-nil signature on successful submission, a nil signature when there
// was nothing worth doing, and a *LiquidationFailedError on RPC or
// confirmation failure.
type AccountLiquidator interface {
	Liquidate(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (*solana.Signature, error)
}

// instructionPreparer is the narrower capability ForceCancelOrdersAccountLiquidator
// needs from its inner liquidator: the instructions it would submit, without
// submitting them, so they can ride in the same transaction as the cancel
// instructions. Only *ActualAccountLiquidator implements it.
type instructionPreparer interface {
	AccountLiquidator
	PrepareInstructions(ctx context.Context, group types.Group, ma *types.MarginAccount) ([]solana.Instruction, error)
}

// NullAccountLiquidator only logs; used when dry-run mode is on.
type NullAccountLiquidator struct {
	logger *slog.Logger
}

// NewNullAccountLiquidator creates a liquidator that never submits anything.
func NewNullAccountLiquidator(logger *slog.Logger) *NullAccountLiquidator {
	return &NullAccountLiquidator{logger: logger.With("component", "liquidator", "variant", "null")}
}

// Liquidate logs the skip and returns no signature.
func (n *NullAccountLiquidator) Liquidate(_ context.Context, _ types.Group, ma *types.MarginAccount, _ []types.TokenValue) (*solana.Signature, error) {
	n.logger.Info("dry run: skipping liquidation", "margin_account", ma.Address.String())
	return nil, nil
}

// TransactionSubmitter is the slice of the chain facade this package needs:
// build-free submission plus confirmation polling.
type TransactionSubmitter interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (bool, error)
}

// TransactionSigner fills in every required signature on a built transaction.
type TransactionSigner interface {
	Address() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// WalletBalanceSource supplies the wallet's current per-token balances, the
// input BuildLiquidate needs to decide which positive balance it can cover.
type WalletBalanceSource interface {
	WalletBalances(ctx context.Context) ([]types.TokenValue, error)
}

// ActualAccountLiquidator builds and submits a real Liquidate transaction.
type ActualAccountLiquidator struct {
	programID solana.PublicKey
	accounts  func(group types.Group, ma *types.MarginAccount) instructions.LiquidateAccounts
	submitter TransactionSubmitter
	signer    TransactionSigner
	balances  WalletBalanceSource
	logger    *slog.Logger
}

// NewActualAccountLiquidator creates the real-submission variant. accounts
// resolves the fixed account list (vaults, signer PDA, wallet token
// accounts) for a given group/margin-account pair — supplied by the caller
// since it depends on the static group directory, not anything this
// package decodes itself.
func NewActualAccountLiquidator(programID solana.PublicKey, accounts func(types.Group, *types.MarginAccount) instructions.LiquidateAccounts, submitter TransactionSubmitter, signer TransactionSigner, balances WalletBalanceSource, logger *slog.Logger) *ActualAccountLiquidator {
	return &ActualAccountLiquidator{
		programID: programID,
		accounts:  accounts,
		submitter: submitter,
		signer:    signer,
		balances:  balances,
		logger:    logger.With("component", "liquidator", "variant", "actual"),
	}
}

// PrepareInstructions builds whatever instructions this variant would
// submit, without sending anything. ForceCancelOrdersAccountLiquidator
// calls this to append its own cancel instructions ahead of these in a
// single transaction, per §4.F's "all instructions ride in a single
// transaction" contract.
func (a *ActualAccountLiquidator) PrepareInstructions(ctx context.Context, group types.Group, ma *types.MarginAccount) ([]solana.Instruction, error) {
	walletBalances, err := a.balances.WalletBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallet balances: %w", err)
	}

	ix, ok, err := instructions.BuildLiquidate(a.programID, group, a.accounts(group, ma), walletBalances, ma)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []solana.Instruction{ix}, nil
}

// Liquidate submits a transaction containing exactly the Liquidate
// instruction (if any). It does not wait for confirmation — that's the
// Reporting wrapper's job, once it needs to read post-liquidation state.
func (a *ActualAccountLiquidator) Liquidate(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (*solana.Signature, error) {
	ixs, err := a.PrepareInstructions(ctx, group, ma)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}
	if len(ixs) == 0 {
		a.logger.Info("no coverable positive balance, nothing to liquidate", "margin_account", ma.Address.String())
		return nil, nil
	}
	return a.submit(ctx, ma.Address, ixs)
}

func (a *ActualAccountLiquidator) submit(ctx context.Context, target solana.PublicKey, ixs []solana.Instruction) (*solana.Signature, error) {
	blockhash, err := a.submitter.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: target, Cause: err}
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(a.signer.Address()))
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: target, Cause: err}
	}
	if err := a.signer.Sign(tx); err != nil {
		return nil, &LiquidationFailedError{MarginAccount: target, Cause: err}
	}

	for i, ix := range ixs {
		data, _ := ix.Data()
		a.logger.Debug("instruction", "index", i, "program_id", ix.ProgramID().String(), "data_len", len(data))
	}

	sig, err := a.submitter.SendTransaction(ctx, tx)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: target, Cause: err}
	}

	// A submission is successful once the RPC accepts it; confirmation is a
	// separate step the Reporting wrapper waits on before reading post-state.
	a.logger.Info("liquidation submitted", "margin_account", target.String(), "signature", sig.String())
	return &sig, nil
}

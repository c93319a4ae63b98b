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

// ForceCancelOrdersAccountLiquidator wraps another AccountLiquidator,
// canceling every resting order the target margin account has open before
// delegating to the wrapped liquidator. A Liquidate instruction touching a
// market where the target still has resting orders is rejected on-chain, so
// this must run first whenever any open-orders slot is non-empty.
type ForceCancelOrdersAccountLiquidator struct {
	programID solana.PublicKey
	accounts  func(group types.Group, ma *types.MarginAccount, marketIndex int) instructions.ForceCancelOrdersAccounts
	submitter TransactionSubmitter
	signer    TransactionSigner
	inner     instructionPreparer
	logger    *slog.Logger
}

// NewForceCancelOrdersAccountLiquidator wraps inner, adding a cancel-orders
// pass ahead of it. inner must also expose PrepareInstructions so its
// Liquidate instruction can ride in the same transaction as the cancels —
// only *ActualAccountLiquidator qualifies, matching §4.F's variant 3, which
// wraps variant 2 specifically.
func NewForceCancelOrdersAccountLiquidator(programID solana.PublicKey, accounts func(types.Group, *types.MarginAccount, int) instructions.ForceCancelOrdersAccounts, submitter TransactionSubmitter, signer TransactionSigner, inner *ActualAccountLiquidator, logger *slog.Logger) *ForceCancelOrdersAccountLiquidator {
	return &ForceCancelOrdersAccountLiquidator{
		programID: programID,
		accounts:  accounts,
		submitter: submitter,
		signer:    signer,
		inner:     inner,
		logger:    logger.With("component", "liquidator", "variant", "force_cancel_orders"),
	}
}

// Liquidate cancels every resting order across every market the target
// margin account has an open-orders account for, then appends whatever the
// inner liquidator would have submitted and sends it all as one
// transaction — a Liquidate instruction touching a market where the target
// still has resting orders is rejected on-chain, so the cancels must
// precede it in the same transaction, not a prior one.
func (f *ForceCancelOrdersAccountLiquidator) Liquidate(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (*solana.Signature, error) {
	var cancelIxs []solana.Instruction
	for marketIndex := 0; marketIndex < group.NumMarkets(); marketIndex++ {
		if ma.IsOpenOrdersSlotEmpty(marketIndex) {
			continue
		}
		oo := ma.OpenOrdersAccounts[marketIndex]
		if oo == nil {
			continue
		}
		orderCount := oo.OrderCount()
		if orderCount == 0 {
			continue
		}

		ixs, err := instructions.BuildForceCancelOrders(f.programID, f.accounts(group, ma, marketIndex), orderCount)
		if err != nil {
			return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
		}
		cancelIxs = append(cancelIxs, ixs...)
	}

	if len(cancelIxs) == 0 {
		return f.inner.Liquidate(ctx, group, ma, prices)
	}

	liquidateIxs, err := f.inner.PrepareInstructions(ctx, group, ma)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}

	allIxs := append(cancelIxs, liquidateIxs...)

	f.logger.Info("canceling resting orders and liquidating in one transaction", "margin_account", ma.Address.String(), "cancel_instruction_count", len(cancelIxs), "liquidate_instruction_count", len(liquidateIxs))

	blockhash, err := f.submitter.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}
	tx, err := solana.NewTransaction(allIxs, blockhash, solana.TransactionPayer(f.signer.Address()))
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}
	if err := f.signer.Sign(tx); err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}
	sig, err := f.submitter.SendTransaction(ctx, tx)
	if err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	}

	// A submission is successful once the RPC accepts it; confirmation is a
	// separate step the Reporting wrapper waits on before reading post-state.
	return &sig, nil
}

// EventPublisher broadcasts a completed liquidation for notification and
// diagnostic consumers — satisfied by internal/observability's EventSource.
type EventPublisher interface {
	Publish(event types.LiquidationEvent)
}

// TransactionConfirmer is the slice of the chain facade the Reporting
// wrapper needs: confirmation is scoped here, not to the inner liquidator,
// so post-liquidation balances are only read once the chain has actually
// applied the transaction.
type TransactionConfirmer interface {
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (bool, error)
}

// ReportingAccountLiquidator wraps another AccountLiquidator, snapshotting
// the wallet's balances before and after a successful liquidation and
// publishing a LiquidationEvent describing the change.
type ReportingAccountLiquidator struct {
	wallet    solana.PublicKey
	balances  WalletBalanceSource
	confirmer TransactionConfirmer
	inner     AccountLiquidator
	publisher EventPublisher
	logger    *slog.Logger
}

// NewReportingAccountLiquidator wraps inner, publishing a LiquidationEvent
// to publisher on every successful submission.
func NewReportingAccountLiquidator(wallet solana.PublicKey, balances WalletBalanceSource, confirmer TransactionConfirmer, inner AccountLiquidator, publisher EventPublisher, logger *slog.Logger) *ReportingAccountLiquidator {
	return &ReportingAccountLiquidator{
		wallet:    wallet,
		balances:  balances,
		confirmer: confirmer,
		inner:     inner,
		publisher: publisher,
		logger:    logger.With("component", "liquidator", "variant", "reporting"),
	}
}

// Liquidate delegates to inner, then waits for the submitted transaction to
// confirm before reading post-liquidation balances — the inner liquidator
// only guarantees the RPC accepted the submission, not that it has landed.
// It reports only when a signature came back.
func (r *ReportingAccountLiquidator) Liquidate(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (*solana.Signature, error) {
	before, err := r.balances.WalletBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot wallet balances before liquidation: %w", err)
	}

	sig, err := r.inner.Liquidate(ctx, group, ma, prices)
	if err != nil || sig == nil {
		return sig, err
	}

	if confirmed, err := r.confirmer.WaitForConfirmation(ctx, *sig, 60*time.Second); err != nil {
		return nil, &LiquidationFailedError{MarginAccount: ma.Address, Cause: err}
	} else if !confirmed {
		r.logger.Warn("transaction not confirmed within timeout, reading post-state anyway", "signature", sig.String())
	}

	after, err := r.balances.WalletBalances(ctx)
	if err != nil {
		r.logger.Warn("liquidation submitted but post-balance snapshot failed", "signature", sig.String(), "error", err)
		after = before
	}

	event := types.LiquidationEvent{
		Timestamp:            time.Now(),
		Signature:            sig.String(),
		WalletAddress:        r.wallet,
		MarginAccountAddress: ma.Address,
		BalancesBefore:       before,
		BalancesAfter:        after,
	}
	r.publisher.Publish(event)
	r.logger.Info("liquidation reported", "event", event.String())

	return sig, nil
}

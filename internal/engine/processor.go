// Package engine drives the liquidation loop: it ranks ripe margin accounts
// by net value, liquidates the most valuable first, rebalances the wallet,
// and reloads each drained account to decide whether it's still worth
// another pass.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// WalletBalancer rebalances the liquidator's own wallet after each
// liquidation, so it keeps holding the tokens future deficits will need.
type WalletBalancer interface {
	Balance(ctx context.Context, prices []types.TokenValue) error
}

// MarginAccountReloader re-fetches one margin account's current on-chain
// state, used to decide whether a just-liquidated account is still
// worthwhile and should go back on the queue.
type MarginAccountReloader interface {
	Reload(ctx context.Context, address types.MarginAccount) (*types.MarginAccount, error)
}

// LiquidationProcessor holds the current set of ripe margin accounts and,
// on every price tick, decides which of them to liquidate.
type LiquidationProcessor struct {
	liquidator          AccountLiquidatorFunc
	balancer            WalletBalancer
	reloader            MarginAccountReloader
	worthwhileThreshold decimal.Decimal
	logger              *slog.Logger

	mu           sync.Mutex
	ripeAccounts []*types.MarginAccount
}

// AccountLiquidatorFunc is the liquidation call this package actually uses:
// a signature string (or empty) and an error, matching
// internal/liquidator.AccountLiquidator.Liquidate after its solana.Signature
// return value is stringified by the caller building this processor.
type AccountLiquidatorFunc func(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (string, error)

// New creates a LiquidationProcessor. worthwhileThreshold is the minimum
// net value (assets - liabilities, in quote-token units) a liquidatable
// account must have for it to be worth the transaction cost of liquidating.
func New(liquidator AccountLiquidatorFunc, balancer WalletBalancer, reloader MarginAccountReloader, worthwhileThreshold decimal.Decimal, logger *slog.Logger) *LiquidationProcessor {
	return &LiquidationProcessor{
		liquidator:          liquidator,
		balancer:            balancer,
		reloader:            reloader,
		worthwhileThreshold: worthwhileThreshold,
		logger:              logger.With("component", "liquidation_processor"),
	}
}

// UpdateMarginAccounts replaces the current set of ripe margin accounts —
// every margin account of the group found by the scanning side's last full
// scan, unfiltered; UpdatePrices does the filtering.
func (p *LiquidationProcessor) UpdateMarginAccounts(accounts []*types.MarginAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("received ripe margin accounts", "count", len(accounts))
	p.ripeAccounts = accounts
}

// UpdatePrices runs the full filter pipeline against the current ripe-account
// set at the given prices: liquidatable (at or below maint ratio), above
// water (assets exceed liabilities), worthwhile (net value clears the
// threshold) — then liquidates every worthwhile account.
func (p *LiquidationProcessor) UpdatePrices(ctx context.Context, group types.Group, prices []types.TokenValue) {
	p.mu.Lock()
	accounts := p.ripeAccounts
	p.mu.Unlock()

	if accounts == nil {
		p.logger.Info("no ripe accounts yet, skipping price update")
		return
	}

	p.logger.Info("running price update", "ripe_account_count", len(accounts))

	updated := make([]types.MarginAccountMetadata, 0, len(accounts))
	for _, ma := range accounts {
		meta, err := types.NewMarginAccountMetadata(ma, group, prices)
		if err != nil {
			p.logger.Error("failed to price margin account", "margin_account", ma.Address.String(), "error", err)
			continue
		}
		updated = append(updated, meta)
	}

	liquidatable := filterMeta(updated, func(m types.MarginAccountMetadata) bool {
		return m.CollateralRatio().LessThanOrEqual(group.MaintCollRatio)
	})
	p.logger.Info("filtered to liquidatable accounts", "total", len(updated), "liquidatable", len(liquidatable))

	aboveWater := filterMeta(liquidatable, func(m types.MarginAccountMetadata) bool {
		return m.CollateralRatio().GreaterThan(decimal.NewFromInt(1))
	})
	p.logger.Info("filtered to above-water accounts", "liquidatable", len(liquidatable), "above_water", len(aboveWater))

	worthwhile := filterMeta(aboveWater, func(m types.MarginAccountMetadata) bool {
		return m.NetValue().GreaterThan(p.worthwhileThreshold)
	})
	p.logger.Info("filtered to worthwhile accounts", "above_water", len(aboveWater), "worthwhile", len(worthwhile))

	p.liquidateAll(ctx, group, prices, worthwhile)
}

func filterMeta(in []types.MarginAccountMetadata, keep func(types.MarginAccountMetadata) bool) []types.MarginAccountMetadata {
	out := make([]types.MarginAccountMetadata, 0, len(in))
	for _, m := range in {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// liquidateAll repeatedly picks the highest-net-value account off the
// worklist, liquidates it, rebalances the wallet, then reloads the account:
// if it's still worthwhile after the liquidation it goes back on the list,
// otherwise it's done. Every iteration removes the entry it picked, even
// when the liquidation, reload or re-pricing fails; only a reloaded account
// whose net value still clears the threshold is appended again, so the loop
// ends once no reloaded account clears it.
func (p *LiquidationProcessor) liquidateAll(ctx context.Context, group types.Group, prices []types.TokenValue, toLiquidate []types.MarginAccountMetadata) {
	toProcess := append([]types.MarginAccountMetadata(nil), toLiquidate...)

	for len(toProcess) > 0 {
		sort.SliceStable(toProcess, func(i, j int) bool {
			return toProcess[i].NetValue().GreaterThan(toProcess[j].NetValue())
		})
		highest := toProcess[0]

		func() {
			defer func() {
				toProcess = removeMeta(toProcess, highest)
			}()

			if _, err := p.liquidator(ctx, group, highest.MarginAccount, prices); err != nil {
				p.logger.Error("failed to liquidate margin account", "margin_account", highest.MarginAccount.Address.String(), "error", err)
				return
			}
			if err := p.balancer.Balance(ctx, prices); err != nil {
				p.logger.Error("wallet rebalance failed after liquidation", "error", err)
			}

			reloaded, err := p.reloader.Reload(ctx, *highest.MarginAccount)
			if err != nil {
				p.logger.Error("failed to reload margin account after liquidation", "margin_account", highest.MarginAccount.Address.String(), "error", err)
				return
			}

			meta, err := types.NewMarginAccountMetadata(reloaded, group, prices)
			if err != nil {
				p.logger.Error("failed to re-price reloaded margin account", "margin_account", reloaded.Address.String(), "error", err)
				return
			}

			if meta.NetValue().GreaterThan(p.worthwhileThreshold) {
				p.logger.Info("margin account still worthwhile after liquidation, requeuing", "margin_account", reloaded.Address.String())
				toProcess = append(toProcess, meta)
			} else {
				p.logger.Info("margin account drained, no longer worthwhile", "margin_account", reloaded.Address.String())
			}
		}()
	}
}

func removeMeta(list []types.MarginAccountMetadata, target types.MarginAccountMetadata) []types.MarginAccountMetadata {
	out := make([]types.MarginAccountMetadata, 0, len(list))
	removed := false
	for _, m := range list {
		if !removed && m.MarginAccount.Address.Equals(target.MarginAccount.Address) && m.NetValue().Equal(target.NetValue()) {
			removed = true
			continue
		}
		out = append(out, m)
	}
	return out
}

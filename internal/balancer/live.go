package balancer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// TradeExecutor is the slice of internal/exchange this package needs: place
// a market-ish buy or sell for the given token, sized in native units.
type TradeExecutor interface {
	Buy(ctx context.Context, tokenName string, quantity decimal.Decimal) error
	Sell(ctx context.Context, tokenName string, quantity decimal.Decimal) error
}

// BalanceFetcher supplies the wallet's current native-unit balance for one token.
type BalanceFetcher interface {
	FetchTotalValue(ctx context.Context, token types.Token) (types.TokenValue, error)
}

// LiveWalletBalancer compares current wallet holdings against configured
// targets, filters out changes too small to bother with, and executes the
// rest — sells first, then buys, so sells can supply the liquidity buys need.
type LiveWalletBalancer struct {
	balances        BalanceFetcher
	executor        TradeExecutor
	actionThreshold decimal.Decimal
	tokens          []types.Token
	targets         []TargetBalance
	logger          *slog.Logger
}

// NewLiveWalletBalancer creates a LiveWalletBalancer scoped to the given
// tokens and targets.
func NewLiveWalletBalancer(balances BalanceFetcher, executor TradeExecutor, actionThreshold decimal.Decimal, tokens []types.Token, targets []TargetBalance, logger *slog.Logger) *LiveWalletBalancer {
	return &LiveWalletBalancer{
		balances:        balances,
		executor:        executor,
		actionThreshold: actionThreshold,
		tokens:          tokens,
		targets:         targets,
		logger:          logger.With("component", "wallet_balancer"),
	}
}

// Balance fetches current holdings, resolves every target against the
// wallet's total portfolio value, filters out changes too small to matter,
// and trades the rest in sell-then-buy order.
func (w *LiveWalletBalancer) Balance(ctx context.Context, prices []types.TokenValue) error {
	current, err := w.fetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch current balances: %w", err)
	}

	total := decimal.Zero
	for _, bal := range current {
		price, err := types.FindTokenValueByToken(prices, bal.Token)
		if err != nil {
			return fmt.Errorf("price current balance for %s: %w", bal.Token.Name, err)
		}
		total = total.Add(bal.Value.Mul(price.Value))
	}
	w.logger.Info("starting balances", "total_value", total.String())

	resolvedTargets := make([]types.TokenValue, 0, len(w.targets))
	for _, target := range w.targets {
		price, err := types.FindTokenValueByToken(prices, target.Token())
		if err != nil {
			return fmt.Errorf("price target %s: %w", target.Token().Name, err)
		}
		resolvedTargets = append(resolvedTargets, target.Resolve(price.Value, total))
	}

	changes, err := CalculateRequiredBalanceChanges(current, resolvedTargets)
	if err != nil {
		return fmt.Errorf("calculate required balance changes: %w", err)
	}
	w.logger.Info("full balance changes", "count", len(changes))

	filter, err := NewFilterSmallChanges(w.actionThreshold, current, prices, w.logger)
	if err != nil {
		return fmt.Errorf("build small-change filter: %w", err)
	}
	var filtered []types.TokenValue
	for _, c := range changes {
		if filter.Allow(c) {
			filtered = append(filtered, c)
		}
	}
	w.logger.Info("filtered balance changes", "count", len(filtered))

	if len(filtered) == 0 {
		w.logger.Info("no balance changes to make")
		return nil
	}

	sorted := SortChangesForTrades(filtered)
	if err := w.makeChanges(ctx, sorted); err != nil {
		return fmt.Errorf("execute balance changes: %w", err)
	}
	return nil
}

func (w *LiveWalletBalancer) makeChanges(ctx context.Context, changes []types.TokenValue) error {
	for _, change := range changes {
		if change.Value.IsNegative() {
			if err := w.executor.Sell(ctx, change.Token.Name, change.Value.Abs()); err != nil {
				return fmt.Errorf("sell %s: %w", change.Token.Name, err)
			}
		} else {
			if err := w.executor.Buy(ctx, change.Token.Name, change.Value.Abs()); err != nil {
				return fmt.Errorf("buy %s: %w", change.Token.Name, err)
			}
		}
	}
	return nil
}

func (w *LiveWalletBalancer) fetchBalances(ctx context.Context) ([]types.TokenValue, error) {
	balances := make([]types.TokenValue, 0, len(w.tokens))
	for _, token := range w.tokens {
		bal, err := w.balances.FetchTotalValue(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("fetch balance for %s: %w", token.Name, err)
		}
		balances = append(balances, bal)
	}
	return balances, nil
}

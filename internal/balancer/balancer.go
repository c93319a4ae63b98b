// Package balancer keeps the liquidator's own wallet stocked with whatever
// tokens future deficits will need: it compares current holdings against
// configured targets and trades the difference, skipping changes too small
// to be worth the transaction cost.
package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// TargetBalance resolves a configured target into a concrete TokenValue
// given the token's current price and the wallet's total portfolio value.
type TargetBalance interface {
	Token() types.Token
	Resolve(currentPrice, totalValue decimal.Decimal) types.TokenValue
	String() string
}

// FixedTargetBalance targets a constant native-unit amount of one token
// regardless of price or portfolio size.
type FixedTargetBalance struct {
	token types.Token
	value decimal.Decimal
}

// NewFixedTargetBalance creates a FixedTargetBalance.
func NewFixedTargetBalance(token types.Token, value decimal.Decimal) FixedTargetBalance {
	return FixedTargetBalance{token: token, value: value}
}

func (f FixedTargetBalance) Token() types.Token { return f.token }

// Resolve ignores price and total value: the target is always the same amount.
func (f FixedTargetBalance) Resolve(_, _ decimal.Decimal) types.TokenValue {
	return types.TokenValue{Token: f.token, Value: f.value}
}

func (f FixedTargetBalance) String() string {
	return fmt.Sprintf("« FixedTargetBalance [%s %s] »", f.value.String(), f.token.Name)
}

// PercentageTargetBalance targets a fraction of the wallet's total portfolio
// value, converted to native units at the token's current price.
type PercentageTargetBalance struct {
	token          types.Token
	targetFraction decimal.Decimal
}

// NewPercentageTargetBalance creates a PercentageTargetBalance. targetPercentage
// is expressed out of 100 (e.g. 20 means 20%).
func NewPercentageTargetBalance(token types.Token, targetPercentage decimal.Decimal) PercentageTargetBalance {
	return PercentageTargetBalance{token: token, targetFraction: targetPercentage.Div(decimal.NewFromInt(100))}
}

func (p PercentageTargetBalance) Token() types.Token { return p.token }

// Resolve converts the target fraction of totalValue into native token units.
func (p PercentageTargetBalance) Resolve(currentPrice, totalValue decimal.Decimal) types.TokenValue {
	targetValue := totalValue.Mul(p.targetFraction)
	targetSize := targetValue.Div(currentPrice)
	return types.TokenValue{Token: p.token, Value: targetSize}
}

func (p PercentageTargetBalance) String() string {
	return fmt.Sprintf("« PercentageTargetBalance [%s%% %s] »", p.targetFraction.Mul(decimal.NewFromInt(100)).String(), p.token.Name)
}

// TargetBalanceParser parses "TOKEN:VALUE" or "TOKEN:VALUE%" strings from
// configuration into TargetBalance instances.
type TargetBalanceParser struct {
	tokens []types.Token
}

// NewTargetBalanceParser creates a parser scoped to the given token set.
func NewTargetBalanceParser(tokens []types.Token) TargetBalanceParser {
	return TargetBalanceParser{tokens: tokens}
}

// Parse interprets toParse as "NAME:value" (a fixed native-unit target) or
// "NAME:value%" (a percentage-of-portfolio target).
func (p TargetBalanceParser) Parse(toParse string) (TargetBalance, error) {
	parts := strings.SplitN(toParse, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("could not parse target balance %q", toParse)
	}
	tokenName, valueStr := parts[0], parts[1]

	token, err := types.FindTokenByName(p.tokens, tokenName)
	if err != nil {
		return nil, fmt.Errorf("could not parse target balance %q: %w", toParse, err)
	}

	isPercentage := strings.HasSuffix(valueStr, "%")
	numericStr := strings.TrimSuffix(valueStr, "%")
	numericValue, err := decimal.NewFromString(numericStr)
	if err != nil {
		return nil, fmt.Errorf("could not parse %q as a decimal number: %w", numericStr, err)
	}

	if isPercentage {
		return NewPercentageTargetBalance(token, numericValue), nil
	}
	return NewFixedTargetBalance(token, numericValue), nil
}

// SortChangesForTrades orders balance changes ascending by value, so sells
// (negative changes) execute before buys — freeing up liquidity the buys
// might need.
func SortChangesForTrades(changes []types.TokenValue) []types.TokenValue {
	sorted := append([]types.TokenValue(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value.LessThan(sorted[j].Value)
	})
	return sorted
}

// CalculateRequiredBalanceChanges computes, for every desired balance, the
// signed delta from the matching current balance.
func CalculateRequiredBalanceChanges(current, desired []types.TokenValue) ([]types.TokenValue, error) {
	changes := make([]types.TokenValue, 0, len(desired))
	for _, target := range desired {
		have, err := types.FindTokenValueByToken(current, target.Token)
		if err != nil {
			return nil, fmt.Errorf("calculate required balance change for %s: %w", target.Token.Name, err)
		}
		changes = append(changes, types.TokenValue{Token: target.Token, Value: target.Value.Sub(have.Value)})
	}
	return changes, nil
}

// FilterSmallChanges decides whether a proposed balance change is worth
// trading: its priced value must exceed actionThreshold times the wallet's
// total balance value.
type FilterSmallChanges struct {
	prices               map[string]types.TokenValue
	actionThresholdValue decimal.Decimal
	logger               *slog.Logger
}

// NewFilterSmallChanges computes the action threshold value once, from the
// wallet's total priced balance at construction time.
func NewFilterSmallChanges(actionThreshold decimal.Decimal, balances, prices []types.TokenValue, logger *slog.Logger) (*FilterSmallChanges, error) {
	priceIndex := make(map[string]types.TokenValue, len(prices))
	total := decimal.Zero
	for _, balance := range balances {
		price, err := types.FindTokenValueByToken(prices, balance.Token)
		if err != nil {
			return nil, fmt.Errorf("filter small changes: %w", err)
		}
		priceIndex[balance.Token.Mint.String()] = price
		total = total.Add(price.Value.Mul(balance.Value))
	}

	thresholdValue := total.Mul(actionThreshold)
	logger.Info("wallet total balance gives action threshold", "total", total.String(), "threshold_value", thresholdValue.String())

	return &FilterSmallChanges{prices: priceIndex, actionThresholdValue: thresholdValue, logger: logger}, nil
}

// Allow reports whether tokenValue's priced magnitude clears the threshold.
func (f *FilterSmallChanges) Allow(tokenValue types.TokenValue) bool {
	price, ok := f.prices[tokenValue.Token.Mint.String()]
	if !ok {
		return false
	}
	value := price.Value.Mul(tokenValue.Value).Abs()
	result := value.GreaterThan(f.actionThresholdValue)
	f.logger.Info("evaluating balance change", "token", tokenValue.Token.Name, "value", value.String(), "threshold", f.actionThresholdValue.String(), "worth_doing", result)
	return result
}

// WalletBalancer rebalances the liquidator's own wallet at the given prices.
type WalletBalancer interface {
	Balance(ctx context.Context, prices []types.TokenValue) error
}

// NullWalletBalancer never trades — used when rebalancing is disabled.
type NullWalletBalancer struct{}

// Balance does nothing.
func (NullWalletBalancer) Balance(_ context.Context, _ []types.TokenValue) error { return nil }

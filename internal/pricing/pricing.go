// Package pricing loads oracle prices and wallet token balances off-chain.
// All the decimal math on those values — balance sheets, collateral ratios
// — lives on pkg/types itself; this package is IO only.
package pricing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/internal/codec"
	"mango-liquidator/pkg/types"
)

// AccountFetcher is the slice of the chain facade pricing needs: batched
// account reads. Defined here, not in internal/chain, so tests can supply a
// fake without touching the network.
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, error)
}

// BalanceFetcher is the slice of the chain facade wallet-balance reads need.
type BalanceFetcher interface {
	GetTokenAccountBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, int32, error)
}

// Oracle fetches oracle prices for a Group's basket.
type Oracle struct {
	client AccountFetcher
	logger *slog.Logger
}

// NewOracle creates an Oracle reading through the given chain facade.
func NewOracle(client AccountFetcher, logger *slog.Logger) *Oracle {
	return &Oracle{client: client, logger: logger.With("component", "pricing")}
}

// GetPrices batches a GetMultipleAccounts call across every market's oracle
// account, appends the shared quote token at 1.0 (quote-denominated), and
// returns one TokenValue per basket token in basket order.
func (o *Oracle) GetPrices(ctx context.Context, group types.Group) ([]types.TokenValue, error) {
	oracles := make([]solana.PublicKey, group.NumMarkets())
	for i, m := range group.Markets {
		oracles[i] = m.Oracle
	}

	raw, err := o.client.GetMultipleAccounts(ctx, oracles)
	if err != nil {
		return nil, fmt.Errorf("fetch oracle accounts: %w", err)
	}

	prices := make([]types.TokenValue, 0, group.NumTokens())
	for i, data := range raw {
		if data == nil {
			return nil, fmt.Errorf("oracle account %s not found", oracles[i])
		}
		agg, err := codec.DecodeAggregator(oracles[i], data)
		if err != nil {
			return nil, fmt.Errorf("decode oracle %s: %w", oracles[i], err)
		}
		token := group.BasketTokens[group.Markets[i].BaseTokenIndex].Token
		prices = append(prices, types.TokenValue{Token: token, Value: agg.Price()})
	}

	quote := group.SharedQuoteToken().Token
	prices = append(prices, types.TokenValue{Token: quote, Value: decimal.NewFromInt(1)})

	o.logger.Debug("prices refreshed", "count", len(prices))
	return prices, nil
}

// WalletBalances fetches the wallet's SPL token account balance for every
// basket token vault tracked by the rebalancer, keyed by token.
func WalletBalances(ctx context.Context, client BalanceFetcher, tokenAccounts []types.BasketToken, ownerAccounts map[string]solana.PublicKey) ([]types.TokenValue, error) {
	balances := make([]types.TokenValue, 0, len(tokenAccounts))
	for _, bt := range tokenAccounts {
		account, ok := ownerAccounts[bt.Token.Name]
		if !ok {
			return nil, fmt.Errorf("no wallet token account configured for %s", bt.Token.Name)
		}
		amount, decimals, err := client.GetTokenAccountBalance(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", bt.Token.Name, err)
		}
		value := decimal.New(int64(amount), -decimals)
		balances = append(balances, types.TokenValue{Token: bt.Token, Value: value})
	}
	return balances, nil
}

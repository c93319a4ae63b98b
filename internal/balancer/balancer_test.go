package balancer

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPercentageAndFixedTargets_ResolveToExpectedSizes(t *testing.T) {
	eth := types.Token{Name: "ETH"}
	btc := types.Token{Name: "BTC"}

	parser := NewTargetBalanceParser([]types.Token{eth, btc})

	ethTarget, err := parser.Parse("ETH:20%")
	if err != nil {
		t.Fatalf("parse ETH target: %v", err)
	}
	btcTarget, err := parser.Parse("btc:0.05")
	if err != nil {
		t.Fatalf("parse BTC target: %v", err)
	}

	prices := map[string]decimal.Decimal{"ETH": d("4000"), "BTC": d("60000")}
	totalValue := d("10000")

	resolvedETH := ethTarget.Resolve(prices["ETH"], totalValue)
	if resolvedETH.Token.Name != "ETH" || !resolvedETH.Value.Equal(d("0.5")) {
		t.Errorf("ETH target = %s %s, want 0.5 ETH", resolvedETH.Value, resolvedETH.Token.Name)
	}

	resolvedBTC := btcTarget.Resolve(prices["BTC"], totalValue)
	if resolvedBTC.Token.Name != "BTC" || !resolvedBTC.Value.Equal(d("0.05")) {
		t.Errorf("BTC target = %s %s, want 0.05 BTC", resolvedBTC.Value, resolvedBTC.Token.Name)
	}
}

func TestCalculateAndSortChanges_SellsBeforeBuys(t *testing.T) {
	eth := types.Token{Name: "ETH", Mint: solana.NewWallet().PublicKey()}
	btc := types.Token{Name: "BTC", Mint: solana.NewWallet().PublicKey()}
	usdt := types.Token{Name: "USDT", Mint: solana.NewWallet().PublicKey()}

	current := []types.TokenValue{
		{Token: eth, Value: d("0.6")},
		{Token: btc, Value: d("0.01")},
		{Token: usdt, Value: d("7000")},
	}
	desired := []types.TokenValue{
		{Token: eth, Value: d("0.5")},
		{Token: btc, Value: d("0.05")},
	}

	changes, err := CalculateRequiredBalanceChanges(current, desired)
	if err != nil {
		t.Fatalf("CalculateRequiredBalanceChanges: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Token.Name != "ETH" || !changes[0].Value.Equal(d("-0.1")) {
		t.Errorf("ETH change = %s, want -0.1", changes[0].Value)
	}
	if changes[1].Token.Name != "BTC" || !changes[1].Value.Equal(d("0.04")) {
		t.Errorf("BTC change = %s, want 0.04", changes[1].Value)
	}

	sorted := SortChangesForTrades(changes)
	if sorted[0].Token.Name != "ETH" || !sorted[0].Value.Equal(d("-0.1")) {
		t.Errorf("expected ETH sell first, got %s %s", sorted[0].Token.Name, sorted[0].Value)
	}
	if sorted[1].Token.Name != "BTC" || !sorted[1].Value.Equal(d("0.04")) {
		t.Errorf("expected BTC buy second, got %s %s", sorted[1].Token.Name, sorted[1].Value)
	}
}

func TestFilterSmallChanges_RejectsBelowThreshold(t *testing.T) {
	eth := types.Token{Name: "ETH", Mint: solana.NewWallet().PublicKey()}
	usdt := types.Token{Name: "USDT", Mint: solana.NewWallet().PublicKey()}

	balances := []types.TokenValue{{Token: eth, Value: d("1")}, {Token: usdt, Value: d("9000")}}
	prices := []types.TokenValue{{Token: eth, Value: d("1000")}, {Token: usdt, Value: d("1")}}

	filter, err := NewFilterSmallChanges(d("0.05"), balances, prices, discardLogger())
	if err != nil {
		t.Fatalf("NewFilterSmallChanges: %v", err)
	}
	// Total value = 1000 + 9000 = 10000; threshold value = 500.
	tiny := types.TokenValue{Token: eth, Value: d("0.1")} // worth 100, below threshold
	big := types.TokenValue{Token: eth, Value: d("1")}    // worth 1000, above threshold

	if filter.Allow(tiny) {
		t.Error("expected tiny change to be rejected")
	}
	if !filter.Allow(big) {
		t.Error("expected large change to be allowed")
	}
}

func TestTargetBalanceParser_RejectsMalformedInput(t *testing.T) {
	parser := NewTargetBalanceParser([]types.Token{{Name: "ETH"}})
	if _, err := parser.Parse("ETHnocolon"); err == nil {
		t.Error("expected error for missing colon")
	}
	if _, err := parser.Parse("ETH:notanumber"); err == nil {
		t.Error("expected error for non-numeric value")
	}
	if _, err := parser.Parse("BTC:1"); err == nil {
		t.Error("expected error for unknown token")
	}
}

type fakeBalanceFetcher struct {
	values map[string]types.TokenValue
}

func (f fakeBalanceFetcher) FetchTotalValue(_ context.Context, token types.Token) (types.TokenValue, error) {
	return f.values[token.Name], nil
}

type fakeExecutor struct {
	bought, sold []string
}

func (f *fakeExecutor) Buy(_ context.Context, tokenName string, _ decimal.Decimal) error {
	f.bought = append(f.bought, tokenName)
	return nil
}

func (f *fakeExecutor) Sell(_ context.Context, tokenName string, _ decimal.Decimal) error {
	f.sold = append(f.sold, tokenName)
	return nil
}

func TestLiveWalletBalancer_TradesOnlyAboveThreshold(t *testing.T) {
	eth := types.Token{Name: "ETH", Mint: solana.NewWallet().PublicKey()}
	usdt := types.Token{Name: "USDT", Mint: solana.NewWallet().PublicKey()}

	fetcher := fakeBalanceFetcher{values: map[string]types.TokenValue{
		"ETH":  {Token: eth, Value: d("1")},
		"USDT": {Token: usdt, Value: d("9000")},
	}}
	executor := &fakeExecutor{}
	prices := []types.TokenValue{{Token: eth, Value: d("1000")}, {Token: usdt, Value: d("1")}}

	targets := []TargetBalance{NewFixedTargetBalance(eth, d("2"))} // wants 2 ETH, has 1: buy 1 ETH worth $1000

	w := NewLiveWalletBalancer(fetcher, executor, d("0.05"), []types.Token{eth, usdt}, targets, discardLogger())
	if err := w.Balance(context.Background(), prices); err != nil {
		t.Fatalf("Balance: %v", err)
	}

	if len(executor.bought) != 1 || executor.bought[0] != "ETH" {
		t.Errorf("expected one ETH buy, got bought=%v sold=%v", executor.bought, executor.sold)
	}
}

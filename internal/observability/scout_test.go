package observability

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

func testGroup() types.Group {
	unity := types.Index{Borrow: decimal.NewFromInt(1), Deposit: decimal.NewFromInt(1)}
	return types.Group{
		Name: "TEST",
		BasketTokens: []types.BasketToken{
			{Token: types.Token{Name: "ETH", Mint: solana.PublicKey{1}, Decimals: 6}, Index: unity},
			{Token: types.Token{Name: "USDT", Mint: solana.PublicKey{2}, Decimals: 6}, Index: unity},
		},
		Markets:        []types.MarketMetadata{{}},
		MaintCollRatio: d("1.1"),
	}
}

func testPrices() []types.TokenValue {
	return []types.TokenValue{
		{Token: types.Token{Name: "ETH", Mint: solana.PublicKey{1}, Decimals: 6}, Value: decimal.NewFromInt(2000)},
		{Token: types.Token{Name: "USDT", Mint: solana.PublicKey{2}, Decimals: 6}, Value: decimal.NewFromInt(1)},
	}
}

func healthyAccount() *types.MarginAccount {
	return &types.MarginAccount{
		Address:             solana.PublicKeyFromBytes(make([]byte, 32)),
		Deposits:            []decimal.Decimal{decimal.Zero, d("10000")},
		Borrows:             []decimal.Decimal{d("1"), decimal.Zero},
		OpenOrdersAddresses: make([]solana.PublicKey, 1),
		OpenOrdersAccounts:  make([]*types.OpenOrders, 1),
	}
}

func TestAccountScout_InspectHealthyAccount(t *testing.T) {
	scout := NewAccountScout()
	report := scout.Inspect(context.Background(), testGroup(), healthyAccount(), testPrices())

	if !report.Healthy() {
		t.Errorf("expected healthy account, got errors: %v", report.Errors)
	}
	if len(report.Details) == 0 {
		t.Error("expected informational details")
	}
}

func TestAccountScout_FlagsLiquidatableAccount(t *testing.T) {
	scout := NewAccountScout()
	account := &types.MarginAccount{
		Address:             solana.PublicKeyFromBytes(make([]byte, 32)),
		Deposits:            []decimal.Decimal{decimal.Zero, d("1000")},
		Borrows:             []decimal.Decimal{d("1"), decimal.Zero}, // 1 ETH @ 2000 = 2000 owed against 1000 assets
		OpenOrdersAddresses: make([]solana.PublicKey, 1),
		OpenOrdersAccounts:  make([]*types.OpenOrders, 1),
	}

	report := scout.Inspect(context.Background(), testGroup(), account, testPrices())

	if report.Healthy() {
		t.Fatal("expected account to be flagged unhealthy")
	}
	if len(report.Errors) == 0 {
		t.Error("expected a liquidatable-account error")
	}
}

func TestAccountScout_FlagsUndecodedOpenOrdersSlot(t *testing.T) {
	scout := NewAccountScout()
	account := healthyAccount()
	account.OpenOrdersAddresses[0] = solana.PublicKeyFromBytes(append([]byte{1}, make([]byte, 31)...))
	account.OpenOrdersAccounts[0] = nil

	report := scout.Inspect(context.Background(), testGroup(), account, testPrices())

	if report.Healthy() {
		t.Fatal("expected error for undecoded open-orders slot marked in-use")
	}
}

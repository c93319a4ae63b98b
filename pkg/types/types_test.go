package types

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

func mustMint(t *testing.T, seed byte) solana.PublicKey {
	t.Helper()
	var b [32]byte
	b[0] = seed
	return solana.PublicKeyFromBytes(b[:])
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testGroup(t *testing.T) (Group, []TokenValue) {
	t.Helper()

	eth := Token{Name: "ETH", Mint: mustMint(t, 1), Decimals: 8}
	btc := Token{Name: "BTC", Mint: mustMint(t, 2), Decimals: 8}
	usdt := Token{Name: "USDT", Mint: mustMint(t, 3), Decimals: 6}

	unity := Index{Borrow: d("1"), Deposit: d("1")}
	basket := []BasketToken{
		{Token: eth, Index: unity},
		{Token: btc, Index: unity},
		{Token: usdt, Index: unity},
	}

	group := Group{
		Name:           "BTC_ETH_USDT",
		BasketTokens:   basket,
		Markets:        []MarketMetadata{{BaseTokenIndex: 0, QuoteMint: usdt.Mint}, {BaseTokenIndex: 1, QuoteMint: usdt.Mint}},
		MaintCollRatio: d("1.10"),
		InitCollRatio:  d("1.20"),
	}

	prices := []TokenValue{
		{Token: eth, Value: d("4000")},
		{Token: btc, Value: d("60000")},
		{Token: usdt, Value: d("1")},
	}
	return group, prices
}

// Scenario 1 from §8: healthy account, skipped.
func TestBalanceSheetTotals_HealthyAccountSkipped(t *testing.T) {
	group, prices := testGroup(t)
	ma := &MarginAccount{
		Deposits:            []decimal.Decimal{d("1"), d("0"), d("0")},
		Borrows:             []decimal.Decimal{d("0"), d("0"), d("1000")},
		OpenOrdersAddresses: make([]solana.PublicKey, 2),
		OpenOrdersAccounts:  make([]*OpenOrders, 2),
	}

	sheet, err := ma.BalanceSheetTotals(group, prices)
	if err != nil {
		t.Fatalf("BalanceSheetTotals: %v", err)
	}
	if !sheet.Assets().Equal(d("4000")) {
		t.Errorf("assets = %s, want 4000", sheet.Assets())
	}
	if !sheet.Liabilities.Equal(d("1000")) {
		t.Errorf("liabilities = %s, want 1000", sheet.Liabilities)
	}
	if !sheet.CollateralRatio().Equal(d("4")) {
		t.Errorf("collateral ratio = %s, want 4", sheet.CollateralRatio())
	}
	if sheet.CollateralRatio().LessThanOrEqual(group.MaintCollRatio) {
		t.Errorf("expected account to be healthy (CR above maintenance)")
	}
}

// Scenario 2 from §8: liquidatable but underwater, skipped.
func TestBalanceSheetTotals_UnderwaterSkipped(t *testing.T) {
	group, prices := testGroup(t)
	ma := &MarginAccount{
		Deposits:            []decimal.Decimal{d("0.1"), d("0"), d("0")},
		Borrows:             []decimal.Decimal{d("0"), d("0"), d("1000")},
		OpenOrdersAddresses: make([]solana.PublicKey, 2),
		OpenOrdersAccounts:  make([]*OpenOrders, 2),
	}

	sheet, err := ma.BalanceSheetTotals(group, prices)
	if err != nil {
		t.Fatalf("BalanceSheetTotals: %v", err)
	}
	if !sheet.Assets().Equal(d("400")) {
		t.Errorf("assets = %s, want 400", sheet.Assets())
	}
	cr := sheet.CollateralRatio()
	if cr.GreaterThan(group.MaintCollRatio) {
		t.Errorf("expected liquidatable account, CR = %s", cr)
	}
	if cr.GreaterThan(d("1")) {
		t.Errorf("expected underwater account (CR <= 1), got %s", cr)
	}
}

func TestBalanceSheet_ZeroLiabilitiesGivesZeroRatio(t *testing.T) {
	bs := BalanceSheet{SettledAssets: d("100"), Liabilities: decimal.Zero}
	if !bs.CollateralRatio().IsZero() {
		t.Errorf("collateral ratio with zero liabilities = %s, want 0", bs.CollateralRatio())
	}
}

func TestBalanceSheet_ValueIsAssetsMinusLiabilities(t *testing.T) {
	bs := BalanceSheet{SettledAssets: d("10"), UnsettledAssets: d("5"), Liabilities: d("3")}
	if !bs.Value().Equal(d("12")) {
		t.Errorf("value = %s, want 12", bs.Value())
	}
}

func TestChanges_OnlyCommonTokensAndCorrectSign(t *testing.T) {
	eth := Token{Name: "ETH", Mint: mustMint(t, 1)}
	btc := Token{Name: "BTC", Mint: mustMint(t, 2)}
	usdt := Token{Name: "USDT", Mint: mustMint(t, 3)}

	before := []TokenValue{{Token: eth, Value: d("1")}, {Token: usdt, Value: d("100")}}
	after := []TokenValue{{Token: eth, Value: d("0.5")}, {Token: btc, Value: d("1")}, {Token: usdt, Value: d("150")}}

	changes := Changes(before, after)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes (BTC has no before entry), got %d: %v", len(changes), changes)
	}
	ethChange, err := FindTokenValueByToken(changes, eth)
	if err != nil {
		t.Fatalf("missing ETH change: %v", err)
	}
	if !ethChange.Value.Equal(d("-0.5")) {
		t.Errorf("ETH change = %s, want -0.5", ethChange.Value)
	}
}

func TestFindTokenByName_MissAndAmbiguous(t *testing.T) {
	eth := Token{Name: "ETH", Mint: mustMint(t, 1)}
	dup := Token{Name: "ETH", Mint: mustMint(t, 2)}

	if _, err := FindTokenByName([]Token{eth}, "btc"); err == nil {
		t.Error("expected LookupMiss for unknown name")
	}
	if _, err := FindTokenByName([]Token{eth, dup}, "eth"); err == nil {
		t.Error("expected LookupAmbiguous for duplicate name")
	}
	got, err := FindTokenByName([]Token{eth}, "eth")
	if err != nil || !got.Equals(eth) {
		t.Errorf("FindTokenByName case-insensitive match failed: %v, %v", got, err)
	}
}

func TestGroup_ValidateRejectsMismatchedMarketCount(t *testing.T) {
	group, _ := testGroup(t)
	group.Markets = group.Markets[:1]
	if err := group.Validate(); err == nil {
		t.Error("expected Validate to reject market count != basket size - 1")
	}
}

func TestMarginAccount_IntrinsicBalanceSheets_OpenOrdersAggregateToQuoteSlot(t *testing.T) {
	group, _ := testGroup(t)
	ma := &MarginAccount{
		Deposits:            []decimal.Decimal{d("0"), d("0"), d("0")},
		Borrows:             []decimal.Decimal{d("0"), d("0"), d("0")},
		OpenOrdersAddresses: make([]solana.PublicKey, 2),
		OpenOrdersAccounts: []*OpenOrders{
			{BaseTokenTotal: d("2"), QuoteTokenTotal: d("500")},
			{BaseTokenTotal: d("0.1"), QuoteTokenTotal: d("200")},
		},
	}

	sheets := ma.IntrinsicBalanceSheets(group)
	if !sheets[0].UnsettledAssets.Equal(d("2")) {
		t.Errorf("ETH unsettled = %s, want 2", sheets[0].UnsettledAssets)
	}
	if !sheets[1].UnsettledAssets.Equal(d("0.1")) {
		t.Errorf("BTC unsettled = %s, want 0.1", sheets[1].UnsettledAssets)
	}
	if !sheets[2].UnsettledAssets.Equal(d("700")) {
		t.Errorf("quote unsettled = %s, want 700 (sum across markets)", sheets[2].UnsettledAssets)
	}
}

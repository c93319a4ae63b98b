// Package types defines the domain entities shared across the liquidation
// bot: tokens, the margin-trading group, margin accounts, open-orders
// records, oracle prices, and the balance-sheet math derived from them.
//
// All monetary and collateral arithmetic uses github.com/shopspring/decimal.
// Binary floating point never appears here, nor in internal/exchange's DEX
// order placement, which prices and sizes orders in decimal.Decimal too.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// systemProgramAddress is the sentinel used for "no account here" fields —
// an unset open-orders slot, or the native-currency token's mint.
var systemProgramAddress = solana.SystemProgramID

// Token identifies a single asset by name and on-chain mint, with the
// decimal precision native amounts are expressed in. Equality is by mint,
// not by name — two tokens can share a symbol on different clusters.
type Token struct {
	Name     string
	Mint     solana.PublicKey
	Decimals int32
}

// SolToken is the sentinel native-currency token: mint is the system
// program address, precision is 9 (lamports per SOL).
var SolToken = Token{Name: "SOL", Mint: systemProgramAddress, Decimals: 9}

// Equals compares tokens by mint, per the data model's equality rule.
func (t Token) Equals(other Token) bool {
	return t.Mint.Equals(other.Mint)
}

// Round rounds a value to this token's native decimal precision.
func (t Token) Round(value decimal.Decimal) decimal.Decimal {
	return value.Round(t.Decimals)
}

func (t Token) String() string {
	return fmt.Sprintf("«Token %s, mint %s, decimals %d»", t.Name, t.Mint, t.Decimals)
}

// NameMatches reports whether name matches this token's name, case-insensitive.
func (t Token) NameMatches(name string) bool {
	return strings.EqualFold(t.Name, name)
}

// FindTokenByName performs a strict lookup: exactly one case-insensitive
// name match is required. Zero matches is LookupMiss; more than one is
// LookupAmbiguous.
func FindTokenByName(tokens []Token, name string) (Token, error) {
	var found []Token
	for _, t := range tokens {
		if t.NameMatches(name) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return Token{}, &LookupMissError{What: "Token", Key: name}
	case 1:
		return found[0], nil
	default:
		return Token{}, &LookupAmbiguousError{What: "Token", Key: name, Count: len(found)}
	}
}

// FindTokenByMint performs a strict lookup by mint address.
func FindTokenByMint(tokens []Token, mint solana.PublicKey) (Token, error) {
	var found []Token
	for _, t := range tokens {
		if t.Mint.Equals(mint) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return Token{}, &LookupMissError{What: "Token", Key: mint.String()}
	case 1:
		return found[0], nil
	default:
		return Token{}, &LookupAmbiguousError{What: "Token", Key: mint.String(), Count: len(found)}
	}
}

// Index is a continuously-updated pair of borrow/deposit scaling factors.
// Multiplying a margin account's raw native-unit deposit or borrow by the
// matching factor here yields the intrinsic (priced-in-token) amount.
type Index struct {
	LastUpdate time.Time
	Borrow     decimal.Decimal
	Deposit    decimal.Decimal
}

// BasketToken pairs a Token with its vault account and scaling Index.
type BasketToken struct {
	Token Token
	Vault solana.PublicKey
	Index Index
}

// FindBasketTokenByName is the strict-lookup analog of FindTokenByName.
func FindBasketTokenByName(basket []BasketToken, name string) (BasketToken, error) {
	var found []BasketToken
	for _, bt := range basket {
		if bt.Token.NameMatches(name) {
			found = append(found, bt)
		}
	}
	switch len(found) {
	case 0:
		return BasketToken{}, &LookupMissError{What: "BasketToken", Key: name}
	case 1:
		return found[0], nil
	default:
		return BasketToken{}, &LookupAmbiguousError{What: "BasketToken", Key: name, Count: len(found)}
	}
}

// AggregatorConfig carries the static parameters of an oracle feed.
type AggregatorConfig struct {
	Description    string
	Decimals       int32
	MinSubmissions int32
}

// Aggregator is an on-chain oracle account: a median submission with a
// declared decimal exponent.
type Aggregator struct {
	Config    AggregatorConfig
	Median    decimal.Decimal
	RoundID   uint64
	UpdatedAt time.Time
}

// Price returns the human-scaled price: median / 10^decimals.
func (a Aggregator) Price() decimal.Decimal {
	scale := decimal.New(1, a.Config.Decimals)
	return a.Median.Div(scale)
}

// TokenValue pairs a Token with an amount, used throughout for prices,
// balances, and deltas.
type TokenValue struct {
	Token Token
	Value decimal.Decimal
}

func (tv TokenValue) String() string {
	return fmt.Sprintf("%s %s", tv.Value.StringFixed(8), tv.Token.Name)
}

// FindTokenValueByToken performs a strict lookup of a TokenValue by token mint.
func FindTokenValueByToken(values []TokenValue, token Token) (TokenValue, error) {
	var found []TokenValue
	for _, v := range values {
		if v.Token.Equals(token) {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return TokenValue{}, &LookupMissError{What: "TokenValue", Key: token.Name}
	case 1:
		return found[0], nil
	default:
		return TokenValue{}, &LookupAmbiguousError{What: "TokenValue", Key: token.Name, Count: len(found)}
	}
}

// Changes computes, for every token present in both vectors, the signed
// difference after[i].Value - before[i].Value. Tokens missing from either
// side are skipped.
func Changes(before, after []TokenValue) []TokenValue {
	changes := make([]TokenValue, 0, len(after))
	for _, a := range after {
		b, err := FindTokenValueByToken(before, a.Token)
		if err != nil {
			continue
		}
		changes = append(changes, TokenValue{Token: a.Token, Value: a.Value.Sub(b.Value)})
	}
	return changes
}

// MarketMetadata describes one spot market within a Group: which basket
// token index it trades against the shared quote token, and the market's
// on-chain addresses.
type MarketMetadata struct {
	BaseTokenIndex int
	Market         solana.PublicKey
	Oracle         solana.PublicKey
	BaseMint       solana.PublicKey
	QuoteMint      solana.PublicKey
	BaseDecimals   int32
	QuoteDecimals  int32
}

// Group is the root aggregate: a basket of tokens sharing one quote token
// and one collateral pool, the markets trading them, and the protocol
// parameters governing liquidation.
type Group struct {
	Name           string
	Address        solana.PublicKey
	ProgramID      solana.PublicKey
	DexProgramID   solana.PublicKey
	BasketTokens   []BasketToken // last element is the shared quote token
	Markets        []MarketMetadata
	TotalDeposits  []decimal.Decimal
	TotalBorrows   []decimal.Decimal
	MaintCollRatio decimal.Decimal
	InitCollRatio  decimal.Decimal
	BorrowLimits   []decimal.Decimal
	SignerNonce    uint64
	SignerKey      solana.PublicKey
	SRMVault       solana.PublicKey
	Admin          solana.PublicKey
}

// SharedQuoteToken returns the last basket token, the quote asset common to
// every market in the group.
func (g Group) SharedQuoteToken() BasketToken {
	return g.BasketTokens[len(g.BasketTokens)-1]
}

// NumTokens returns N, the basket size including the quote token.
func (g Group) NumTokens() int {
	return len(g.BasketTokens)
}

// NumMarkets returns M = N-1, the number of spot markets.
func (g Group) NumMarkets() int {
	return len(g.Markets)
}

// GetTokenIndex returns the basket index of token, or an error if it is not
// a member of this group's basket.
func (g Group) GetTokenIndex(token Token) (int, error) {
	for i, bt := range g.BasketTokens {
		if bt.Token.Equals(token) {
			return i, nil
		}
	}
	return 0, &LookupMissError{What: "basket token index", Key: token.Name}
}

// Validate checks the invariants declared in §3: market count is one less
// than basket size, and every market's quote matches the shared quote token.
func (g Group) Validate() error {
	if len(g.Markets) != len(g.BasketTokens)-1 {
		return fmt.Errorf("group %s: market count %d does not equal basket size %d minus one", g.Name, len(g.Markets), len(g.BasketTokens))
	}
	quote := g.SharedQuoteToken()
	for _, m := range g.Markets {
		if !m.QuoteMint.Equals(quote.Token.Mint) {
			return fmt.Errorf("group %s: market %s quote mint does not match shared quote token", g.Name, m.Market)
		}
	}
	return nil
}

// OpenOrders is a per-(market, owner) record holding resting-order state and
// unsettled token balances, already scaled to token units by the decoder.
type OpenOrders struct {
	Address               solana.PublicKey
	ProgramID             solana.PublicKey
	Market                solana.PublicKey
	Owner                 solana.PublicKey
	BaseTokenFree         decimal.Decimal
	BaseTokenTotal        decimal.Decimal
	QuoteTokenFree        decimal.Decimal
	QuoteTokenTotal       decimal.Decimal
	FreeSlotBits          [2]uint64 // 128-bit bitset, low/high words
	IsBidBits             [2]uint64
	Orders                []decimal.Decimal // non-zero order IDs only
	ClientIDs             []decimal.Decimal // non-zero client IDs only
	ReferrerRebateAccrued decimal.Decimal
}

// OrderCount returns how many of the 128 order slots are in use by this
// account — the complement of the free-slot bitset's population count.
func (oo OpenOrders) OrderCount() int {
	used := 128
	used -= popcount64(oo.FreeSlotBits[0]) + popcount64(oo.FreeSlotBits[1])
	return used
}

func popcount64(x uint64) int {
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// BalanceSheet holds the three raw quantities a collateral-ratio decision
// is made from, for one token (or, via BalanceSheetTotals, a synthetic
// aggregate token).
type BalanceSheet struct {
	Token           Token
	Liabilities     decimal.Decimal
	SettledAssets   decimal.Decimal
	UnsettledAssets decimal.Decimal
}

// Assets is settled plus unsettled assets.
func (bs BalanceSheet) Assets() decimal.Decimal {
	return bs.SettledAssets.Add(bs.UnsettledAssets)
}

// Value is assets minus liabilities.
func (bs BalanceSheet) Value() decimal.Decimal {
	return bs.Assets().Sub(bs.Liabilities)
}

// CollateralRatio is assets / liabilities, or zero when there are no
// liabilities (an account with nothing owed cannot be liquidated).
func (bs BalanceSheet) CollateralRatio() decimal.Decimal {
	if bs.Liabilities.IsZero() {
		return decimal.Zero
	}
	return bs.Assets().Div(bs.Liabilities)
}

// MarginAccount belongs to a Group and an owner: per-token native-unit
// deposits and borrows, and per-market open-orders account addresses.
type MarginAccount struct {
	Address             solana.PublicKey
	MangoGroup          solana.PublicKey
	Owner               solana.PublicKey
	Deposits            []decimal.Decimal // native units; scale by Index.Deposit
	Borrows             []decimal.Decimal // native units; scale by Index.Borrow
	OpenOrdersAddresses []solana.PublicKey
	OpenOrdersAccounts  []*OpenOrders // nil where the address slot is the sentinel
}

// IsOpenOrdersSlotEmpty reports whether index i has no open-orders account
// (the address is the system-program sentinel).
func (ma MarginAccount) IsOpenOrdersSlotEmpty(i int) bool {
	return ma.OpenOrdersAddresses[i].Equals(systemProgramAddress)
}

// IntrinsicBalanceSheets derives, for every token in the group's basket,
// the raw (unpriced) settled assets, liabilities, and unsettled assets —
// per §4.D's scaling and open-orders aggregation rules.
func (ma MarginAccount) IntrinsicBalanceSheets(group Group) []BalanceSheet {
	n := group.NumTokens()
	settled := make([]decimal.Decimal, n)
	liabilities := make([]decimal.Decimal, n)
	unsettled := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		settled[i] = group.BasketTokens[i].Index.Deposit.Mul(ma.Deposits[i])
		liabilities[i] = group.BasketTokens[i].Index.Borrow.Mul(ma.Borrows[i])
		unsettled[i] = decimal.Zero
	}

	for j := 0; j < group.NumMarkets(); j++ {
		oo := ma.OpenOrdersAccounts[j]
		if oo == nil {
			continue
		}
		unsettled[j] = unsettled[j].Add(oo.BaseTokenTotal)
		unsettled[n-1] = unsettled[n-1].Add(oo.QuoteTokenTotal)
	}

	sheets := make([]BalanceSheet, n)
	for i := 0; i < n; i++ {
		sheets[i] = BalanceSheet{
			Token:           group.BasketTokens[i].Token,
			Liabilities:     liabilities[i],
			SettledAssets:   settled[i],
			UnsettledAssets: unsettled[i],
		}
	}
	return sheets
}

// PricedBalanceSheets multiplies each intrinsic balance sheet field by the
// matching token's price and rounds to that token's native precision.
func (ma MarginAccount) PricedBalanceSheets(group Group, prices []TokenValue) ([]BalanceSheet, error) {
	intrinsic := ma.IntrinsicBalanceSheets(group)
	priced := make([]BalanceSheet, len(intrinsic))
	for i, sheet := range intrinsic {
		price, err := FindTokenValueByToken(prices, sheet.Token)
		if err != nil {
			return nil, fmt.Errorf("priced balance sheet for %s: %w", sheet.Token.Name, err)
		}
		priced[i] = BalanceSheet{
			Token:           price.Token,
			Liabilities:     price.Token.Round(sheet.Liabilities.Mul(price.Value)),
			SettledAssets:   price.Token.Round(sheet.SettledAssets.Mul(price.Value)),
			UnsettledAssets: price.Token.Round(sheet.UnsettledAssets.Mul(price.Value)),
		}
	}
	return priced, nil
}

// BalanceSheetTotals sums the priced balance sheets into one BalanceSheet
// carrying a synthetic token whose name concatenates every constituent name.
func (ma MarginAccount) BalanceSheetTotals(group Group, prices []TokenValue) (BalanceSheet, error) {
	priced, err := ma.PricedBalanceSheets(group, prices)
	if err != nil {
		return BalanceSheet{}, err
	}

	liabilities := decimal.Zero
	settled := decimal.Zero
	unsettled := decimal.Zero
	names := make([]string, len(priced))
	for i, sheet := range priced {
		liabilities = liabilities.Add(sheet.Liabilities)
		settled = settled.Add(sheet.SettledAssets)
		unsettled = unsettled.Add(sheet.UnsettledAssets)
		names[i] = sheet.Token.Name
	}

	summaryToken := Token{Name: strings.Join(names, "-"), Mint: systemProgramAddress, Decimals: 0}
	return BalanceSheet{
		Token:           summaryToken,
		Liabilities:     liabilities,
		SettledAssets:   settled,
		UnsettledAssets: unsettled,
	}, nil
}

// IntrinsicBalances returns, per token, the intrinsic (unpriced) net value
// — assets minus liabilities in native token units.
func (ma MarginAccount) IntrinsicBalances(group Group) []TokenValue {
	sheets := ma.IntrinsicBalanceSheets(group)
	balances := make([]TokenValue, len(sheets))
	for i, sheet := range sheets {
		balances[i] = TokenValue{Token: sheet.Token, Value: sheet.Value()}
	}
	return balances
}

// MarginAccountMetadata bundles a MarginAccount with its aggregated balance
// sheet and per-token intrinsic balances, computed at one point in time.
type MarginAccountMetadata struct {
	MarginAccount *MarginAccount
	BalanceSheet  BalanceSheet
	Balances      []TokenValue
}

// Assets is a convenience accessor onto the bundled balance sheet.
func (m MarginAccountMetadata) Assets() decimal.Decimal { return m.BalanceSheet.Assets() }

// Liabilities is a convenience accessor onto the bundled balance sheet.
func (m MarginAccountMetadata) Liabilities() decimal.Decimal { return m.BalanceSheet.Liabilities }

// CollateralRatio is a convenience accessor onto the bundled balance sheet.
func (m MarginAccountMetadata) CollateralRatio() decimal.Decimal {
	return m.BalanceSheet.CollateralRatio()
}

// NetValue is assets minus liabilities — the quantity the liquidation
// processor ranks targets by and compares against the worthwhile threshold.
func (m MarginAccountMetadata) NetValue() decimal.Decimal {
	return m.Assets().Sub(m.Liabilities())
}

// NewMarginAccountMetadata computes the balance sheet and intrinsic
// balances for a margin account at the given prices.
func NewMarginAccountMetadata(ma *MarginAccount, group Group, prices []TokenValue) (MarginAccountMetadata, error) {
	sheet, err := ma.BalanceSheetTotals(group, prices)
	if err != nil {
		return MarginAccountMetadata{}, err
	}
	return MarginAccountMetadata{
		MarginAccount: ma,
		BalanceSheet:  sheet,
		Balances:      ma.IntrinsicBalances(group),
	}, nil
}

// LiquidationEvent records one completed liquidation attempt for reporting
// and notification purposes.
type LiquidationEvent struct {
	Timestamp            time.Time
	Signature            string
	WalletAddress        solana.PublicKey
	MarginAccountAddress solana.PublicKey
	BalancesBefore       []TokenValue
	BalancesAfter        []TokenValue
}

func (e LiquidationEvent) String() string {
	changes := Changes(e.BalancesBefore, e.BalancesAfter)
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return fmt.Sprintf("liquidation %s wallet=%s margin_account=%s changes=[%s]",
		e.Signature, e.WalletAddress, e.MarginAccountAddress, strings.Join(parts, ", "))
}

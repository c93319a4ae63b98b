// Package exchange implements the Trade Executor (§4.H): buy/sell against
// a group's Serum-style spot markets via Immediate-or-Cancel orders, and
// settlement of resulting unsettled balances. Order placement reads a
// simplified on-chain order book (book.go) for the crossing price, falling
// back to a configurable REST price-check leg when the on-chain book has
// no resting orders on the crossing side, and is wrapped in a bounded
// retry (internal/observability.Retry).
package exchange

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"mango-liquidator/internal/chain"
	"mango-liquidator/internal/codec"
	"mango-liquidator/internal/instructions"
	"mango-liquidator/internal/observability"
	"mango-liquidator/pkg/types"
)

// MarketAddresses carries the Serum market accounts the binary layout codec
// never decodes from the GROUP account: the order book, event queue, and
// vaults. Populated from the static group directory (ids.json), keyed by
// basket index matching types.Group.Markets.
type MarketAddresses struct {
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	EventQueue   solana.PublicKey
	RequestQueue solana.PublicKey
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
}

// WalletMarketAccounts names the wallet-owned (not margin-account-owned)
// accounts the Trade Executor needs for one market: its own Serum
// open-orders account and its SPL token accounts for the base/quote mints.
type WalletMarketAccounts struct {
	OpenOrders        solana.PublicKey
	BaseTokenAccount  solana.PublicKey
	QuoteTokenAccount solana.PublicKey
}

// ChainReader is the slice of the chain facade the executor needs for
// reading on-chain state: single-account reads for order books and the
// event queue, and a program-account scan for settlement.
type ChainReader interface {
	GetAccountInfo(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []chain.MemcmpFilter) ([]chain.ProgramAccount, error)
}

// ChainSubmitter is the slice of the chain facade needed to submit and
// confirm transactions, matching internal/liquidator's TransactionSubmitter.
type ChainSubmitter interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) (bool, error)
}

// TransactionSigner fills in every required signature on a built transaction.
type TransactionSigner interface {
	Address() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// Executor implements the Trade Executor against one group.
type Executor struct {
	programID       solana.PublicKey
	dexProgramID    solana.PublicKey
	group           types.Group
	markets         map[int]MarketAddresses
	walletAccounts  map[int]WalletMarketAccounts
	signer          TransactionSigner
	reader          ChainReader
	submitter       ChainSubmitter
	priceAdjustment decimal.Decimal
	priceCheck      *resty.Client // REST fallback leg, see fetchIndicativePrice
	priceCheckURL   string
	logger          *slog.Logger
}

// NewExecutor creates a Trade Executor for the given group. priceCheckURL,
// when non-empty, is queried as GET <priceCheckURL>?base=<mint>&quote=<mint>
// returning {"price": "<decimal string>"} whenever the on-chain book has no
// resting orders on the side being crossed; leave it empty to disable the
// fallback and fail instead.
func NewExecutor(programID, dexProgramID solana.PublicKey, group types.Group, markets map[int]MarketAddresses, walletAccounts map[int]WalletMarketAccounts, signer TransactionSigner, reader ChainReader, submitter ChainSubmitter, priceAdjustment decimal.Decimal, priceCheckURL string, logger *slog.Logger) *Executor {
	return &Executor{
		programID:       programID,
		dexProgramID:    dexProgramID,
		group:           group,
		markets:         markets,
		walletAccounts:  walletAccounts,
		signer:          signer,
		reader:          reader,
		submitter:       submitter,
		priceAdjustment: priceAdjustment,
		priceCheck:      resty.New().SetTimeout(5 * time.Second).SetRetryCount(1),
		priceCheckURL:   priceCheckURL,
		logger:          logger.With("component", "trade_executor"),
	}
}

// marketContext bundles everything placeOrder/Settle need about one market.
type marketContext struct {
	index  int
	market types.MarketMetadata
	addrs  MarketAddresses
	wallet WalletMarketAccounts
}

func (e *Executor) findMarket(tokenName string) (marketContext, error) {
	for i, bt := range e.group.BasketTokens {
		if !bt.Token.NameMatches(tokenName) {
			continue
		}
		if i >= len(e.group.Markets) {
			return marketContext{}, &MarketNotInGroupError{Token: tokenName}
		}
		addrs, ok := e.markets[i]
		if !ok {
			return marketContext{}, &MarketNotInGroupError{Token: tokenName}
		}
		wallet := e.walletAccounts[i]
		return marketContext{index: i, market: e.group.Markets[i], addrs: addrs, wallet: wallet}, nil
	}
	return marketContext{}, &MarketNotInGroupError{Token: tokenName}
}

// MarketNotInGroupError reports a symbol with no corresponding spot market.
type MarketNotInGroupError struct {
	Token string
}

func (e *MarketNotInGroupError) Error() string {
	return fmt.Sprintf("no spot market in group for token %q", e.Token)
}

// Buy places an IOC buy for quantity of tokenName, crossing the ask side.
func (e *Executor) Buy(ctx context.Context, tokenName string, quantity decimal.Decimal) error {
	return e.placeAndSettle(ctx, tokenName, quantity, true)
}

// Sell places an IOC sell for quantity of tokenName, crossing the bid side.
func (e *Executor) Sell(ctx context.Context, tokenName string, quantity decimal.Decimal) error {
	return e.placeAndSettle(ctx, tokenName, quantity, false)
}

func (e *Executor) placeAndSettle(ctx context.Context, tokenName string, quantity decimal.Decimal, isBuy bool) error {
	mc, err := e.findMarket(tokenName)
	if err != nil {
		return err
	}

	sig, err := observability.Retry(ctx, 5, time.Second, func(ctx context.Context) (solana.Signature, error) {
		return e.placeOrder(ctx, mc, quantity, isBuy)
	})
	if err != nil {
		return fmt.Errorf("place order for %s: %w", tokenName, err)
	}

	if err := e.waitForFill(ctx, mc.addrs, sig); err != nil {
		e.logger.Warn("fill not confirmed within poll window, settling anyway", "token", tokenName, "signature", sig.String(), "error", err)
	}

	sigs, err := e.settle(ctx, mc)
	if err != nil {
		return fmt.Errorf("settle after trade for %s: %w", tokenName, err)
	}
	return e.WaitForSettlementCompletion(ctx, sigs)
}

// bestCrossingPrice reads the on-chain book for the side being crossed,
// falling back to the REST price-check leg when the book side is empty.
func (e *Executor) bestCrossingPrice(ctx context.Context, mc marketContext, isBuy bool) (decimal.Decimal, error) {
	bookAccount := mc.addrs.Asks
	isBidsSide := false
	if !isBuy {
		bookAccount = mc.addrs.Bids
		isBidsSide = true
	}

	data, err := e.reader.GetAccountInfo(ctx, bookAccount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load order book: %w", err)
	}
	if data != nil {
		priceLotsToDecimal := func(lots uint64) decimal.Decimal {
			return decimal.NewFromInt(int64(lots)).Div(decimal.New(1, mc.market.QuoteDecimals))
		}
		best, ok, err := DecodeBestPrice(data, isBidsSide, priceLotsToDecimal)
		if err != nil {
			return decimal.Zero, fmt.Errorf("decode order book: %w", err)
		}
		if ok {
			return best, nil
		}
	}

	price, ok, err := e.fetchIndicativePrice(ctx, mc.market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("on-chain book empty and price check failed: %w", err)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("order book for market %d has no resting orders and no price-check fallback configured", mc.index)
	}
	e.logger.Warn("on-chain book empty, used REST price-check fallback", "market_index", mc.index, "price", price.String())
	return price, nil
}

// fetchIndicativePrice queries the configured price-check endpoint. Returns
// ok=false when no endpoint is configured, letting the caller distinguish
// "disabled" from "queried and failed".
func (e *Executor) fetchIndicativePrice(ctx context.Context, market types.MarketMetadata) (decimal.Decimal, bool, error) {
	if e.priceCheckURL == "" {
		return decimal.Zero, false, nil
	}

	var body struct {
		Price string `json:"price"`
	}
	resp, err := e.priceCheck.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"base":  market.BaseMint.String(),
			"quote": market.QuoteMint.String(),
		}).
		SetResult(&body).
		Get(e.priceCheckURL)
	if err != nil {
		return decimal.Zero, false, err
	}
	if resp.IsError() {
		return decimal.Zero, false, fmt.Errorf("price check endpoint returned status %d", resp.StatusCode())
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse price check response: %w", err)
	}
	return price, true, nil
}

// placeOrder reads the current best crossing price, adjusts it, and
// submits a single PlaceOrder instruction with a fresh random client id.
func (e *Executor) placeOrder(ctx context.Context, mc marketContext, quantity decimal.Decimal, isBuy bool) (solana.Signature, error) {
	best, err := e.bestCrossingPrice(ctx, mc, isBuy)
	if err != nil {
		return solana.Signature{}, err
	}

	adjusted := best.Mul(decimal.NewFromInt(1).Add(e.priceAdjustment))
	if !isBuy {
		adjusted = best.Mul(decimal.NewFromInt(1).Sub(e.priceAdjustment))
	}

	clientID, err := randomClientID()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("generate client id: %w", err)
	}

	data := instructions.Discriminator(instructions.VariantPlaceOrder)
	data = append(data, encodeOrderPayload(adjusted, quantity, isBuy, clientID)...)

	metas := solana.AccountMetaSlice{
		solana.Meta(e.group.Address),
		solana.Meta(mc.market.Market).WRITE(),
		solana.Meta(mc.wallet.OpenOrders).WRITE(),
		solana.Meta(mc.addrs.RequestQueue).WRITE(),
		solana.Meta(mc.addrs.EventQueue).WRITE(),
		solana.Meta(mc.addrs.Bids).WRITE(),
		solana.Meta(mc.addrs.Asks).WRITE(),
		solana.Meta(mc.wallet.BaseTokenAccount).WRITE(),
		solana.Meta(mc.wallet.QuoteTokenAccount).WRITE(),
		solana.Meta(mc.addrs.BaseVault).WRITE(),
		solana.Meta(mc.addrs.QuoteVault).WRITE(),
		solana.Meta(e.dexProgramID),
		solana.Meta(e.signer.Address()).WRITE().SIGNER(),
	}
	ix := instructions.Raw(e.programID, metas, data)

	sig, err := e.submitAndConfirm(ctx, ix)
	if err != nil {
		return solana.Signature{}, err
	}

	e.logger.Info("placed IOC order", "market_index", mc.index, "is_buy", isBuy, "price", adjusted.String(), "quantity", quantity.String(), "client_id", clientID, "signature", sig.String())
	return sig, nil
}

func (e *Executor) submitAndConfirm(ctx context.Context, ix solana.Instruction) (solana.Signature, error) {
	blockhash, err := e.submitter.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(e.signer.Address()))
	if err != nil {
		return solana.Signature{}, err
	}
	if err := e.signer.Sign(tx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := e.submitter.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	if _, err := e.submitter.WaitForConfirmation(ctx, sig, 60*time.Second); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// randomClientID generates a random 63-bit (non-negative int64) client
// order id, matching the program's requirement that client ids fit in a
// signed 64-bit field without using the sign bit.
func randomClientID() (uint64, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 63)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// encodeOrderPayload packs the fields a PlaceOrder instruction needs beyond
// the discriminator: a side flag, price and quantity as fixed-point values
// matching the codec's scaling, and the client id.
func encodeOrderPayload(price, quantity decimal.Decimal, isBuy bool, clientID uint64) []byte {
	var buf []byte
	sideByte := byte(0)
	if isBuy {
		sideByte = 1
	}
	buf = append(buf, sideByte)
	buf = append(buf, instructions.FixedPointBytes(price)...)
	buf = append(buf, instructions.FixedPointBytes(quantity)...)
	clientIDBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(clientIDBytes, clientID)
	buf = append(buf, clientIDBytes...)
	return buf
}

// waitForFill polls the event queue at 1Hz for up to 60s. The simplified
// slab decode this package uses (book.go) is built for order books, not
// the event queue's distinct record format, so this currently treats any
// non-empty event queue body as evidence the market is live and returns;
// placeOrder's own WaitForConfirmation is what actually establishes the
// order landed. This is the hook a fuller event-queue decode (matching
// fills to clientID) would replace.
func (e *Executor) waitForFill(ctx context.Context, addrs MarketAddresses, sig solana.Signature) error {
	deadline := time.Now().Add(60 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		data, err := e.reader.GetAccountInfo(ctx, addrs.EventQueue)
		if err != nil {
			return fmt.Errorf("poll event queue: %w", err)
		}
		if data != nil && len(data) > slabHeaderSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("no fill observed for signature %s within poll window", sig)
}

// Settle looks up tokenName's market and settles every open-orders account
// the wallet holds against it, for callers that want to force settlement
// outside of Buy/Sell (e.g. after a manual or externally-placed order).
func (e *Executor) Settle(ctx context.Context, tokenName string) ([]solana.Signature, error) {
	mc, err := e.findMarket(tokenName)
	if err != nil {
		return nil, err
	}
	return e.settle(ctx, mc)
}

// settle loads every open-orders account for this market owned by the
// wallet and issues a SettleFunds instruction for each with a nonzero free
// balance, returning one signature per instruction submitted.
func (e *Executor) settle(ctx context.Context, mc marketContext) ([]solana.Signature, error) {
	owner := e.signer.Address()
	accounts, err := e.reader.GetProgramAccounts(ctx, e.dexProgramID, []chain.MemcmpFilter{
		{Offset: codec.OpenOrdersOwnerOffset, Bytes: owner[:]},
	})
	if err != nil {
		return nil, fmt.Errorf("scan open orders: %w", err)
	}

	var sigs []solana.Signature
	for _, acc := range accounts {
		oo, err := codec.DecodeOpenOrders(acc.Address, e.dexProgramID, solana.PublicKey{}, acc.Data)
		if err != nil {
			e.logger.Warn("skipping undecodable open orders account during settlement", "address", acc.Address.String(), "error", err)
			continue
		}
		if !oo.Market.Equals(mc.market.Market) {
			continue
		}
		if oo.BaseTokenFree.IsZero() && oo.QuoteTokenFree.IsZero() {
			continue
		}

		metas := solana.AccountMetaSlice{
			solana.Meta(e.group.Address),
			solana.Meta(mc.market.Market).WRITE(),
			solana.Meta(acc.Address).WRITE(),
			solana.Meta(e.signer.Address()).SIGNER(),
			solana.Meta(mc.addrs.BaseVault).WRITE(),
			solana.Meta(mc.addrs.QuoteVault).WRITE(),
			solana.Meta(mc.wallet.BaseTokenAccount).WRITE(),
			solana.Meta(mc.wallet.QuoteTokenAccount).WRITE(),
			solana.Meta(e.dexProgramID),
		}
		data := instructions.Discriminator(instructions.VariantSettleFunds)
		ix := instructions.Raw(e.programID, metas, data)

		sig, err := e.submitAndConfirm(ctx, ix)
		if err != nil {
			return sigs, fmt.Errorf("settle open orders %s: %w", acc.Address, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// WaitForSettlementCompletion waits, one at a time in order, for every
// settlement signature to confirm. Settle already confirms each submission
// via submitAndConfirm, so this only matters for signatures gathered
// elsewhere (e.g. a caller batching multiple Settle calls).
func (e *Executor) WaitForSettlementCompletion(ctx context.Context, sigs []solana.Signature) error {
	for _, sig := range sigs {
		if _, err := e.submitter.WaitForConfirmation(ctx, sig, 60*time.Second); err != nil {
			return fmt.Errorf("settlement %s: %w", sig, err)
		}
	}
	return nil
}

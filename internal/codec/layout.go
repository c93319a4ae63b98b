package codec

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// NumTokens and NumMarkets mirror Constants.py: a 3-token basket always has
// exactly 2 markets (every non-quote token trades against the shared quote).
const (
	NumTokens  = 3
	NumMarkets = NumTokens - 1
)

// groupPadding replicates GROUP_PADDING = 8 - (NUM_TOKENS+NUM_MARKETS) % 8.
func groupPadding() int {
	return 8 - (NumTokens+NumMarkets)%8
}

// Exact account sizes for the length gate §8 requires: parse must reject
// any input whose length isn't exactly the declared size for that record
// type, not merely "long enough".
const (
	groupAccountSize = 8 + // flags
		32*NumTokens + // mints
		32*NumTokens + // vaults
		(8+16+16)*NumTokens + // indexes: last_update, borrow, deposit
		32*NumMarkets + // spot_markets
		32*NumMarkets + // oracles
		8 + 32 + 32 + // signer_nonce, signer_key, dex_program_id
		16*NumTokens + // total_deposits
		16*NumTokens + // total_borrows
		16 + 16 + // maint/init coll ratio
		32 + 32 + // srm_vault, admin
		8*NumTokens + // borrow_limits
		NumTokens + // mint_decimals
		NumMarkets // oracle_decimals

	marginAccountSize = 8 + 32 + 32 + 16*NumTokens + 16*NumTokens + 32*NumMarkets + 8

	openOrdersSize = 5 + 8 + 32 + 32 + 8 + 8 + 8 + 8 + 16 + 16 + 16*128 + 8*128 + 8 + 7

	aggregatorSize = 32 + 1 + 1 + 1 + 1 + 8 + 32 + 1 + 32 + 8 + 8 + 8 + 32 + 8 + 8 + 8 + 8 + 32
)

// GroupAccountSize is the exact byte length of a GROUP account.
func GroupAccountSize() int { return groupAccountSize + groupPadding() }

// MarginAccountSize is the exact byte length of a MARGIN_ACCOUNT account.
func MarginAccountSize() int { return marginAccountSize }

// OpenOrdersAccountSize is the exact byte length of an OPEN_ORDERS account.
func OpenOrdersAccountSize() int { return openOrdersSize }

// AggregatorAccountSize is the exact byte length of an AGGREGATOR account.
func AggregatorAccountSize() int { return aggregatorSize }

func checkLength(layout string, data []byte, want int) error {
	if len(data) != want {
		return &MalformedAccountDataError{
			Layout: layout,
			Reason: fmt.Sprintf("expected exactly %d bytes, got %d", want, len(data)),
		}
	}
	return nil
}

// DecodeGroup parses a GROUP account's raw bytes into pkg/types.Group. Token
// mints and decimals, and each market's base/quote mints and decimals, are
// decoded from the account. The basket token names are not present in the
// account itself — they come from the static group directory (ids.json)
// and are merged in by the caller.
func DecodeGroup(address, programID solana.PublicKey, data []byte) (types.Group, error) {
	if err := checkLength("GROUP", data, GroupAccountSize()); err != nil {
		return types.Group{}, err
	}
	r := newReader("GROUP", data)

	if _, err := r.accountFlags(); err != nil {
		return types.Group{}, err
	}

	mints := make([]solana.PublicKey, NumTokens)
	for i := range mints {
		pk, err := r.pubkey()
		if err != nil {
			return types.Group{}, err
		}
		mints[i] = pk
	}

	vaults := make([]solana.PublicKey, NumTokens)
	for i := range vaults {
		pk, err := r.pubkey()
		if err != nil {
			return types.Group{}, err
		}
		vaults[i] = pk
	}

	indexes := make([]types.Index, NumTokens)
	for i := range indexes {
		lastUpdate, err := r.unixTime()
		if err != nil {
			return types.Group{}, err
		}
		borrow, err := r.fixedPoint(16)
		if err != nil {
			return types.Group{}, err
		}
		deposit, err := r.fixedPoint(16)
		if err != nil {
			return types.Group{}, err
		}
		indexes[i] = types.Index{LastUpdate: lastUpdate, Borrow: borrow, Deposit: deposit}
	}

	spotMarkets := make([]solana.PublicKey, NumMarkets)
	for i := range spotMarkets {
		pk, err := r.pubkey()
		if err != nil {
			return types.Group{}, err
		}
		spotMarkets[i] = pk
	}

	oracles := make([]solana.PublicKey, NumMarkets)
	for i := range oracles {
		pk, err := r.pubkey()
		if err != nil {
			return types.Group{}, err
		}
		oracles[i] = pk
	}

	signerNonce, err := r.plainInt(8)
	if err != nil {
		return types.Group{}, err
	}
	signerKey, err := r.pubkey()
	if err != nil {
		return types.Group{}, err
	}
	dexProgramID, err := r.pubkey()
	if err != nil {
		return types.Group{}, err
	}

	totalDeposits := make([]decimal.Decimal, NumTokens)
	for i := range totalDeposits {
		v, err := r.fixedPoint(16)
		if err != nil {
			return types.Group{}, err
		}
		totalDeposits[i] = v
	}

	totalBorrows := make([]decimal.Decimal, NumTokens)
	for i := range totalBorrows {
		v, err := r.fixedPoint(16)
		if err != nil {
			return types.Group{}, err
		}
		totalBorrows[i] = v
	}

	maintCollRatio, err := r.fixedPoint(16)
	if err != nil {
		return types.Group{}, err
	}
	initCollRatio, err := r.fixedPoint(16)
	if err != nil {
		return types.Group{}, err
	}
	srmVault, err := r.pubkey()
	if err != nil {
		return types.Group{}, err
	}
	admin, err := r.pubkey()
	if err != nil {
		return types.Group{}, err
	}

	borrowLimits := make([]decimal.Decimal, NumTokens)
	for i := range borrowLimits {
		v, err := r.plainInt(8)
		if err != nil {
			return types.Group{}, err
		}
		borrowLimits[i] = v
	}

	mintDecimals := make([]int32, NumTokens)
	for i := range mintDecimals {
		v, err := r.plainInt(1)
		if err != nil {
			return types.Group{}, err
		}
		mintDecimals[i] = int32(v.IntPart())
	}

	oracleDecimals := make([]int32, NumMarkets)
	for i := range oracleDecimals {
		v, err := r.plainInt(1)
		if err != nil {
			return types.Group{}, err
		}
		oracleDecimals[i] = int32(v.IntPart())
	}

	if err := r.skip(groupPadding()); err != nil {
		return types.Group{}, err
	}

	basket := make([]types.BasketToken, NumTokens)
	markets := make([]types.MarketMetadata, NumMarkets)
	for i := range basket {
		basket[i] = types.BasketToken{
			Token: types.Token{Mint: mints[i], Decimals: mintDecimals[i]},
			Vault: vaults[i],
			Index: indexes[i],
		}
	}
	for i := range markets {
		markets[i] = types.MarketMetadata{
			BaseTokenIndex: i,
			Market:         spotMarkets[i],
			Oracle:         oracles[i],
			BaseMint:       mints[i],
			QuoteMint:      mints[NumTokens-1],
			BaseDecimals:   mintDecimals[i],
			QuoteDecimals:  mintDecimals[NumTokens-1],
		}
	}

	return types.Group{
		Address:        address,
		ProgramID:      programID,
		DexProgramID:   dexProgramID,
		BasketTokens:   basket,
		Markets:        markets,
		TotalDeposits:  totalDeposits,
		TotalBorrows:   totalBorrows,
		MaintCollRatio: maintCollRatio,
		InitCollRatio:  initCollRatio,
		BorrowLimits:   borrowLimits,
		SignerNonce:    signerNonce.BigInt().Uint64(),
		SignerKey:      signerKey,
		SRMVault:       srmVault,
		Admin:          admin,
	}, nil
}

// MarginAccountGroupOffset is the byte offset of the owning group's address
// within a MARGIN_ACCOUNT account (right after the 8-byte flags word),
// used as the memcmp offset for group-scoped program scans (§6).
const MarginAccountGroupOffset = 8

// DecodeMarginAccount parses a MARGIN_ACCOUNT account's raw bytes.
func DecodeMarginAccount(address solana.PublicKey, data []byte) (types.MarginAccount, error) {
	if err := checkLength("MARGIN_ACCOUNT", data, MarginAccountSize()); err != nil {
		return types.MarginAccount{}, err
	}
	r := newReader("MARGIN_ACCOUNT", data)

	if _, err := r.accountFlags(); err != nil {
		return types.MarginAccount{}, err
	}
	group, err := r.pubkey()
	if err != nil {
		return types.MarginAccount{}, err
	}
	owner, err := r.pubkey()
	if err != nil {
		return types.MarginAccount{}, err
	}

	deposits := make([]decimal.Decimal, NumTokens)
	for i := range deposits {
		v, err := r.fixedPoint(16)
		if err != nil {
			return types.MarginAccount{}, err
		}
		deposits[i] = v
	}

	borrows := make([]decimal.Decimal, NumTokens)
	for i := range borrows {
		v, err := r.fixedPoint(16)
		if err != nil {
			return types.MarginAccount{}, err
		}
		borrows[i] = v
	}

	openOrders := make([]solana.PublicKey, NumMarkets)
	for i := range openOrders {
		pk, err := r.pubkey()
		if err != nil {
			return types.MarginAccount{}, err
		}
		openOrders[i] = pk
	}

	if err := r.skip(8); err != nil {
		return types.MarginAccount{}, err
	}

	return types.MarginAccount{
		Address:             address,
		MangoGroup:          group,
		Owner:               owner,
		Deposits:            deposits,
		Borrows:             borrows,
		OpenOrdersAddresses: openOrders,
		OpenOrdersAccounts:  make([]*types.OpenOrders, NumMarkets),
	}, nil
}

// serumAccountFlagsSize is sizeof(SERUM_ACCOUNT_FLAGS): one 8-byte bit word.
const serumAccountFlagsSize = 8

// OpenOrdersOwnerOffset is the byte offset of the owner public key within a
// Serum OPEN_ORDERS account, used as the memcmp offset for
// load_for_market_and_owner-style program scans.
const OpenOrdersOwnerOffset = serumAccountFlagsSize + 37

// DecodeOpenOrders parses a Serum OPEN_ORDERS account's raw bytes. Order ids
// and client ids are read as raw 128/64-bit little-endian integers; the bot
// only needs their count and presence, not numeric interpretation beyond
// what FreeSlotBits/IsBidBits already expose.
func DecodeOpenOrders(address, programID, market solana.PublicKey, data []byte) (types.OpenOrders, error) {
	const (
		numOrders        = 128
		accountTail      = 7 // padding bytes; ACCOUNT_TAIL in the Serum layout
	)
	if err := checkLength("OPEN_ORDERS", data, OpenOrdersAccountSize()); err != nil {
		return types.OpenOrders{}, err
	}
	r := newReader("OPEN_ORDERS", data)

	if err := r.skip(5); err != nil { // "serum" padding
		return types.OpenOrders{}, err
	}
	if _, err := r.accountFlags(); err != nil {
		return types.OpenOrders{}, err
	}
	marketOnChain, err := r.pubkey()
	if err != nil {
		return types.OpenOrders{}, err
	}
	owner, err := r.pubkey()
	if err != nil {
		return types.OpenOrders{}, err
	}
	baseFree, err := r.plainInt(8)
	if err != nil {
		return types.OpenOrders{}, err
	}
	baseTotal, err := r.plainInt(8)
	if err != nil {
		return types.OpenOrders{}, err
	}
	quoteFree, err := r.plainInt(8)
	if err != nil {
		return types.OpenOrders{}, err
	}
	quoteTotal, err := r.plainInt(8)
	if err != nil {
		return types.OpenOrders{}, err
	}
	freeSlotBits, err := r.bytes(16)
	if err != nil {
		return types.OpenOrders{}, err
	}
	isBidBits, err := r.bytes(16)
	if err != nil {
		return types.OpenOrders{}, err
	}

	orders := make([]decimal.Decimal, numOrders)
	for i := range orders {
		v, err := r.plainInt(16)
		if err != nil {
			return types.OpenOrders{}, err
		}
		orders[i] = v
	}
	clientIDs := make([]decimal.Decimal, numOrders)
	for i := range clientIDs {
		v, err := r.plainInt(8)
		if err != nil {
			return types.OpenOrders{}, err
		}
		clientIDs[i] = v
	}
	rebate, err := r.plainInt(8)
	if err != nil {
		return types.OpenOrders{}, err
	}
	if err := r.skip(accountTail); err != nil {
		return types.OpenOrders{}, err
	}

	oo := types.OpenOrders{
		Address:               address,
		ProgramID:             programID,
		Market:                marketOrDefault(market, marketOnChain),
		Owner:                 owner,
		BaseTokenFree:         baseFree,
		BaseTokenTotal:        baseTotal,
		QuoteTokenFree:        quoteFree,
		QuoteTokenTotal:       quoteTotal,
		FreeSlotBits:          bitsFrom128(freeSlotBits),
		IsBidBits:             bitsFrom128(isBidBits),
		Orders:                orders,
		ClientIDs:             clientIDs,
		ReferrerRebateAccrued: rebate,
	}
	return oo, nil
}

func marketOrDefault(hint, onChain solana.PublicKey) solana.PublicKey {
	if !hint.IsZero() {
		return hint
	}
	return onChain
}

func bitsFrom128(b []byte) [2]uint64 {
	var out [2]uint64
	for i := 0; i < 8; i++ {
		out[0] |= uint64(b[i]) << (8 * i)
		out[1] |= uint64(b[8+i]) << (8 * i)
	}
	return out
}

// DecodeAggregator parses a Chainlink-style AGGREGATOR account (Mango's
// oracle layout) into pkg/types.Aggregator. Fields the bot never reads
// (reward vault, submission-tracking bitmaps, owner, round timestamps) are
// still walked over field-by-field so the cursor lands correctly on the
// ones that matter: the config used for price scaling, and the latest
// round's median and update time.
func DecodeAggregator(address solana.PublicKey, data []byte) (types.Aggregator, error) {
	if err := checkLength("AGGREGATOR", data, AggregatorAccountSize()); err != nil {
		return types.Aggregator{}, err
	}
	r := newReader("AGGREGATOR", data)

	descBytes, err := r.bytes(32)
	if err != nil {
		return types.Aggregator{}, err
	}
	decimals, err := r.plainInt(1)
	if err != nil {
		return types.Aggregator{}, err
	}
	if _, err := r.plainInt(1); err != nil { // restart_delay, unused
		return types.Aggregator{}, err
	}
	if _, err := r.plainInt(1); err != nil { // max_submissions, unused
		return types.Aggregator{}, err
	}
	minSubmissions, err := r.plainInt(1)
	if err != nil {
		return types.Aggregator{}, err
	}
	if _, err := r.plainInt(8); err != nil { // reward_amount, unused
		return types.Aggregator{}, err
	}
	if _, err := r.pubkey(); err != nil { // reward_token_account, unused
		return types.Aggregator{}, err
	}

	if _, err := r.plainInt(1); err != nil { // initialized
		return types.Aggregator{}, err
	}
	if _, err := r.pubkey(); err != nil { // owner, unused
		return types.Aggregator{}, err
	}

	if _, err := r.plainInt(8); err != nil { // round.id
		return types.Aggregator{}, err
	}
	if _, err := r.plainInt(8); err != nil { // round.created_at
		return types.Aggregator{}, err
	}
	if _, err := r.plainInt(8); err != nil { // round.updated_at
		return types.Aggregator{}, err
	}
	if _, err := r.pubkey(); err != nil { // round_submissions
		return types.Aggregator{}, err
	}

	roundID, err := r.plainInt(8)
	if err != nil {
		return types.Aggregator{}, err
	}
	median, err := r.plainInt(8)
	if err != nil {
		return types.Aggregator{}, err
	}
	if _, err := r.unixTime(); err != nil { // answer.created_at
		return types.Aggregator{}, err
	}
	updatedAt, err := r.unixTime()
	if err != nil {
		return types.Aggregator{}, err
	}
	if _, err := r.pubkey(); err != nil { // answer_submissions
		return types.Aggregator{}, err
	}

	return types.Aggregator{
		Config: types.AggregatorConfig{
			Description:    trimNulBytes(descBytes),
			Decimals:       int32(decimals.IntPart()),
			MinSubmissions: int32(minSubmissions.IntPart()),
		},
		RoundID:   roundID.BigInt().Uint64(),
		Median:    median,
		UpdatedAt: updatedAt,
	}, nil
}

func trimNulBytes(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

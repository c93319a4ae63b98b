// Package instructions builds the liquidation bot's margin-program
// instructions. Liquidate and ForceCancelOrders (variants 6 and 15 of the
// closed instruction set) have typed builders; Discriminator, Raw and
// FixedPointBytes let the trade executor assemble its own order
// instructions. Every instruction starts with a 4-byte little-endian
// variant discriminator.
package instructions

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// Instruction variant discriminators for a subset of the program's 17
// variants (0-16): the liquidator uses Liquidate and ForceCancelOrders, the
// trade executor uses PlaceOrder and SettleFunds. PlaceAndSettle is defined
// here but nothing in the module submits it.
const (
	VariantLiquidate         uint32 = 6
	VariantPlaceOrder        uint32 = 9
	VariantSettleFunds       uint32 = 10
	VariantPlaceAndSettle    uint32 = 14
	VariantForceCancelOrders uint32 = 15
)

// ForceCancelOrdersLimitPerInstruction is the program's per-instruction cap
// on how many resting orders one ForceCancelOrders instruction can cancel;
// callers with more orders than this must split across instructions.
const ForceCancelOrdersLimitPerInstruction = 5

// Discriminator returns the 4-byte little-endian instruction tag for the
// given variant, exported for callers outside this package (the trade
// executor) building instructions against variants this package doesn't
// itself wrap in a typed builder.
func Discriminator(variant uint32) []byte {
	return discriminator(variant)
}

func discriminator(variant uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, variant)
	return b
}

// Raw wraps hand-built instruction data and accounts in a solana.Instruction,
// exported for callers outside this package that assemble a variant this
// package has no typed builder for.
func Raw(programID solana.PublicKey, accounts solana.AccountMetaSlice, data []byte) solana.Instruction {
	return genericInstruction{programID: programID, accounts: accounts, data: data}
}

// FixedPointBytes encodes a decimal as a 16-byte little-endian fixed-point
// value scaled by 2^64 — the encode-side mirror of the codec's fixedPoint
// decoder. Exported for callers outside this package (the trade executor)
// encoding order price/quantity fields with the same scaling.
func FixedPointBytes(v decimal.Decimal) []byte {
	scale := decimal.New(1, 0)
	two := decimal.NewFromInt(2)
	for i := 0; i < 64; i++ {
		scale = scale.Mul(two)
	}
	scaled := v.Mul(scale).Truncate(0).BigInt()
	out := make([]byte, 16)
	b := scaled.Bytes() // big-endian magnitude
	for i := 0; i < len(b) && i < 16; i++ {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// genericInstruction is a minimal solana.Instruction implementation for
// hand-built instruction data, used instead of solana-go's generated
// instruction builders since this program has no IDL in the pack.
type genericInstruction struct {
	programID solana.PublicKey
	accounts  solana.AccountMetaSlice
	data      []byte
}

func (i genericInstruction) ProgramID() solana.PublicKey     { return i.programID }
func (i genericInstruction) Accounts() []*solana.AccountMeta { return i.accounts }
func (i genericInstruction) Data() ([]byte, error)           { return i.data, nil }

// LiquidateAccounts names the fixed account ordering the Liquidate
// instruction requires, mirroring the program's margin-account and vault
// layout: the group, the liquidator's own margin account, the target
// margin account, the signer (PDA), each token vault in basket order, and
// the wallet's matching token accounts in the same order, finally the
// liquidator wallet as fee payer/signer.
type LiquidateAccounts struct {
	Group               solana.PublicKey
	LiquidatorMargin    solana.PublicKey
	TargetMargin        solana.PublicKey
	Signer              solana.PublicKey
	Vaults              []solana.PublicKey // basket order, length N
	WalletTokenAccounts []solana.PublicKey // basket order, length N
	Wallet              solana.PublicKey
	TokenProgram        solana.PublicKey
}

// BuildLiquidate chooses, among the target margin account's positive-balance
// tokens (intrinsic balance > 0, i.e. deposits exceed borrows), the single
// token the wallet holds enough of to cover the protocol's required deposit
// in full. Ties favor the largest balance. If no positive-balance token is
// fully coverable, it returns ok=false: there's nothing useful this builder
// can submit.
func BuildLiquidate(programID solana.PublicKey, group types.Group, accounts LiquidateAccounts, walletBalances []types.TokenValue, marginAccount *types.MarginAccount) (solana.Instruction, bool, error) {
	intrinsic := marginAccount.IntrinsicBalances(group)

	bestIdx := -1
	bestAmount := decimal.Zero
	for i, balance := range intrinsic {
		if balance.Value.LessThanOrEqual(decimal.Zero) {
			continue
		}
		required := balance.Value
		held, err := types.FindTokenValueByToken(walletBalances, balance.Token)
		if err != nil {
			continue // wallet holds none of this token at all
		}
		if held.Value.LessThan(required) {
			continue // wallet can't cover the required deposit in full
		}
		if bestIdx == -1 || required.GreaterThan(bestAmount) {
			bestIdx = i
			bestAmount = required
		}
	}

	if bestIdx == -1 {
		return nil, false, nil
	}

	depositQuantities := make([]decimal.Decimal, group.NumTokens())
	depositQuantities[bestIdx] = bestAmount

	data := discriminator(VariantLiquidate)
	for _, q := range depositQuantities {
		data = append(data, FixedPointBytes(q)...)
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Group),
		solana.Meta(accounts.LiquidatorMargin).WRITE(),
		solana.Meta(accounts.TargetMargin).WRITE(),
		solana.Meta(accounts.Signer),
	}
	for _, v := range accounts.Vaults {
		metas = append(metas, solana.Meta(v).WRITE())
	}
	for _, a := range accounts.WalletTokenAccounts {
		metas = append(metas, solana.Meta(a).WRITE())
	}
	metas = append(metas, solana.Meta(accounts.Wallet).WRITE().SIGNER())
	metas = append(metas, solana.Meta(accounts.TokenProgram))

	return genericInstruction{programID: programID, accounts: metas, data: data}, true, nil
}

// ForceCancelOrdersAccounts names the fixed accounts a ForceCancelOrders
// instruction needs for one market: the group, the market, the target
// margin account and its open-orders account for that market, the market's
// bids/asks/event-queue, and the dex program.
type ForceCancelOrdersAccounts struct {
	Group        solana.PublicKey
	Market       solana.PublicKey
	TargetMargin solana.PublicKey
	OpenOrders   solana.PublicKey
	Bids         solana.PublicKey
	Asks         solana.PublicKey
	EventQueue   solana.PublicKey
	DexProgram   solana.PublicKey
	Signer       solana.PublicKey
}

// BuildForceCancelOrders emits ceil(orderCount/ForceCancelOrdersLimitPerInstruction)
// instructions, each capped at the protocol's per-instruction cancellation
// limit, to clear every resting order before a Liquidate instruction that
// touches the same market can succeed.
func BuildForceCancelOrders(programID solana.PublicKey, accounts ForceCancelOrdersAccounts, orderCount int) ([]solana.Instruction, error) {
	if orderCount <= 0 {
		return nil, nil
	}

	n := (orderCount + ForceCancelOrdersLimitPerInstruction - 1) / ForceCancelOrdersLimitPerInstruction
	instructions := make([]solana.Instruction, 0, n)

	metas := solana.AccountMetaSlice{
		solana.Meta(accounts.Group),
		solana.Meta(accounts.Market).WRITE(),
		solana.Meta(accounts.TargetMargin).WRITE(),
		solana.Meta(accounts.OpenOrders).WRITE(),
		solana.Meta(accounts.Bids).WRITE(),
		solana.Meta(accounts.Asks).WRITE(),
		solana.Meta(accounts.EventQueue).WRITE(),
		solana.Meta(accounts.Signer),
		solana.Meta(accounts.DexProgram),
	}

	remaining := orderCount
	for i := 0; i < n; i++ {
		limit := remaining
		if limit > ForceCancelOrdersLimitPerInstruction {
			limit = ForceCancelOrdersLimitPerInstruction
		}
		if limit <= 0 || limit > 255 {
			return nil, fmt.Errorf("force cancel orders: invalid per-instruction limit %d", limit)
		}
		remaining -= limit

		data := discriminator(VariantForceCancelOrders)
		data = append(data, byte(limit))

		instructions = append(instructions, genericInstruction{programID: programID, accounts: metas, data: data})
	}

	return instructions, nil
}

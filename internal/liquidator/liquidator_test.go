package liquidator

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/internal/instructions"
	"mango-liquidator/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeSubmitter struct {
	sendCount int
	confirmed bool
	sendErr   error
}

func (f *fakeSubmitter) GetLatestBlockhash(_ context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (f *fakeSubmitter) SendTransaction(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
	f.sendCount++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	var sig solana.Signature
	sig[0] = byte(f.sendCount)
	return sig, nil
}

func (f *fakeSubmitter) WaitForConfirmation(_ context.Context, _ solana.Signature, _ time.Duration) (bool, error) {
	return f.confirmed, nil
}

type fakeSigner struct {
	address solana.PublicKey
}

func (f fakeSigner) Address() solana.PublicKey { return f.address }
func (f fakeSigner) Sign(_ *solana.Transaction) error { return nil }

type fakeBalances struct {
	values []types.TokenValue
}

func (f fakeBalances) WalletBalances(_ context.Context) ([]types.TokenValue, error) {
	return f.values, nil
}

func testGroup() types.Group {
	unity := types.Index{Borrow: decimal.NewFromInt(1), Deposit: decimal.NewFromInt(1)}
	return types.Group{
		BasketTokens: []types.BasketToken{
			{Token: types.Token{Name: "ETH"}, Index: unity},
			{Token: types.Token{Name: "USDT"}, Index: unity},
		},
		Markets: []types.MarketMetadata{{}},
	}
}

func TestNullAccountLiquidator_NeverSubmits(t *testing.T) {
	l := NewNullAccountLiquidator(discardLogger())
	ma := &types.MarginAccount{}
	sig, err := l.Liquidate(context.Background(), testGroup(), ma, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signature, got %v", sig)
	}
}

func TestActualAccountLiquidator_NoCoverablePositiveBalance_ReturnsNilSignature(t *testing.T) {
	group := testGroup()
	ma := &types.MarginAccount{
		Deposits:            []decimal.Decimal{decimal.NewFromInt(5), decimal.Zero},
		Borrows:             []decimal.Decimal{decimal.Zero, decimal.NewFromInt(100)},
		OpenOrdersAddresses: make([]solana.PublicKey, 1),
		OpenOrdersAccounts:  make([]*types.OpenOrders, 1),
	}

	submitter := &fakeSubmitter{confirmed: true}
	l := NewActualAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount) instructions.LiquidateAccounts { return instructions.LiquidateAccounts{} },
		submitter,
		fakeSigner{},
		fakeBalances{}, // wallet holds nothing, so no positive balance is coverable
		discardLogger(),
	)

	sig, err := l.Liquidate(context.Background(), group, ma, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected nil signature when nothing is coverable, got %v", sig)
	}
	if submitter.sendCount != 0 {
		t.Errorf("expected no transaction to be sent, sendCount=%d", submitter.sendCount)
	}
}

func TestActualAccountLiquidator_CoverablePositiveBalance_Submits(t *testing.T) {
	group := testGroup()
	ma := &types.MarginAccount{
		Deposits:            []decimal.Decimal{decimal.NewFromInt(5), decimal.Zero},
		Borrows:             []decimal.Decimal{decimal.Zero, decimal.NewFromInt(100)},
		OpenOrdersAddresses: make([]solana.PublicKey, 1),
		OpenOrdersAccounts:  make([]*types.OpenOrders, 1),
	}

	submitter := &fakeSubmitter{confirmed: true}
	balances := fakeBalances{values: []types.TokenValue{{Token: types.Token{Name: "ETH"}, Value: decimal.NewFromInt(10)}}}
	l := NewActualAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount) instructions.LiquidateAccounts { return instructions.LiquidateAccounts{} },
		submitter,
		fakeSigner{},
		balances,
		discardLogger(),
	)

	sig, err := l.Liquidate(context.Background(), group, ma, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signature when a positive balance is coverable")
	}
	if submitter.sendCount != 1 {
		t.Errorf("expected exactly one transaction sent, got %d", submitter.sendCount)
	}
}

func TestForceCancelOrdersAccountLiquidator_CancelsBeforeDelegating(t *testing.T) {
	group := testGroup()
	oo := &types.OpenOrders{FreeSlotBits: [2]uint64{^uint64(0) >> 1, ^uint64(0)}} // one slot in use
	ma := &types.MarginAccount{
		OpenOrdersAddresses: []solana.PublicKey{solana.NewWallet().PublicKey()},
		OpenOrdersAccounts:  []*types.OpenOrders{oo},
		Deposits:            []decimal.Decimal{decimal.NewFromInt(5), decimal.Zero},
		Borrows:             []decimal.Decimal{decimal.Zero, decimal.NewFromInt(100)},
	}

	submitter := &fakeSubmitter{confirmed: true}
	balances := fakeBalances{values: []types.TokenValue{{Token: types.Token{Name: "ETH"}, Value: decimal.NewFromInt(10)}}}
	inner := NewActualAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount) instructions.LiquidateAccounts { return instructions.LiquidateAccounts{} },
		submitter,
		fakeSigner{},
		balances,
		discardLogger(),
	)

	l := NewForceCancelOrdersAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount, int) instructions.ForceCancelOrdersAccounts {
			return instructions.ForceCancelOrdersAccounts{}
		},
		submitter,
		fakeSigner{},
		inner,
		discardLogger(),
	)

	sig, err := l.Liquidate(context.Background(), group, ma, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil {
		t.Fatal("expected a signature when a positive balance is coverable")
	}
	// The cancel instruction and the liquidate instruction must ride in the
	// same transaction, so exactly one send is expected, not two.
	if submitter.sendCount != 1 {
		t.Errorf("expected exactly one combined transaction sent, got %d", submitter.sendCount)
	}
}

func TestForceCancelOrdersAccountLiquidator_SkipsCancelWhenNoOrders(t *testing.T) {
	group := testGroup()
	oo := &types.OpenOrders{FreeSlotBits: [2]uint64{^uint64(0), ^uint64(0)}} // no slots in use
	ma := &types.MarginAccount{
		OpenOrdersAddresses: []solana.PublicKey{solana.NewWallet().PublicKey()},
		OpenOrdersAccounts:  []*types.OpenOrders{oo},
		Deposits:            []decimal.Decimal{decimal.NewFromInt(5), decimal.Zero},
		Borrows:             []decimal.Decimal{decimal.Zero, decimal.NewFromInt(100)},
	}

	submitter := &fakeSubmitter{confirmed: true}
	inner := NewActualAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount) instructions.LiquidateAccounts { return instructions.LiquidateAccounts{} },
		submitter,
		fakeSigner{},
		fakeBalances{}, // wallet holds nothing, so no positive balance is coverable
		discardLogger(),
	)

	l := NewForceCancelOrdersAccountLiquidator(
		solana.PublicKey{},
		func(types.Group, *types.MarginAccount, int) instructions.ForceCancelOrdersAccounts {
			return instructions.ForceCancelOrdersAccounts{}
		},
		submitter,
		fakeSigner{},
		inner,
		discardLogger(),
	)

	sig, err := l.Liquidate(context.Background(), group, ma, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Fatalf("expected nil signature when nothing is coverable, got %v", sig)
	}
	if submitter.sendCount != 0 {
		t.Errorf("expected no transaction sent, got %d sends", submitter.sendCount)
	}
}

type fakeInnerLiquidator struct {
	calls int
	sig   *solana.Signature
	err   error
}

func (f *fakeInnerLiquidator) Liquidate(_ context.Context, _ types.Group, _ *types.MarginAccount, _ []types.TokenValue) (*solana.Signature, error) {
	f.calls++
	return f.sig, f.err
}

type fakePublisher struct {
	events []types.LiquidationEvent
}

func (f *fakePublisher) Publish(event types.LiquidationEvent) {
	f.events = append(f.events, event)
}

func TestReportingAccountLiquidator_PublishesOnlyWhenSignatureReturned(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	before := []types.TokenValue{{Token: types.Token{Name: "ETH"}, Value: decimal.NewFromInt(10)}}
	after := []types.TokenValue{{Token: types.Token{Name: "ETH"}, Value: decimal.NewFromInt(9)}}

	calls := 0
	balances := fakeBalancesSeq{sequences: [][]types.TokenValue{before, after}, calls: &calls}

	var sig solana.Signature
	sig[0] = 7
	inner := &fakeInnerLiquidator{sig: &sig}
	publisher := &fakePublisher{}
	confirmer := &fakeSubmitter{confirmed: true}

	l := NewReportingAccountLiquidator(wallet, balances, confirmer, inner, publisher, discardLogger())

	got, err := l.Liquidate(context.Background(), testGroup(), &types.MarginAccount{Address: solana.NewWallet().PublicKey()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != sig {
		t.Fatalf("expected returned signature to match inner's, got %v", got)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected exactly one published event, got %d", len(publisher.events))
	}
	ev := publisher.events[0]
	if len(ev.BalancesBefore) != 1 || len(ev.BalancesAfter) != 1 {
		t.Fatalf("expected before/after balance snapshots to be captured")
	}
}

func TestReportingAccountLiquidator_NoSignature_NoPublish(t *testing.T) {
	inner := &fakeInnerLiquidator{sig: nil}
	publisher := &fakePublisher{}
	confirmer := &fakeSubmitter{confirmed: true}
	l := NewReportingAccountLiquidator(solana.NewWallet().PublicKey(), fakeBalances{}, confirmer, inner, publisher, discardLogger())

	_, err := l.Liquidate(context.Background(), testGroup(), &types.MarginAccount{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no published events when nothing was liquidated, got %d", len(publisher.events))
	}
}

type fakeBalancesSeq struct {
	sequences [][]types.TokenValue
	calls     *int
}

func (f fakeBalancesSeq) WalletBalances(_ context.Context) ([]types.TokenValue, error) {
	idx := *f.calls
	*f.calls++
	if idx >= len(f.sequences) {
		return f.sequences[len(f.sequences)-1], nil
	}
	return f.sequences[idx], nil
}

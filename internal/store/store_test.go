package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

func sampleEvent(signature string) types.LiquidationEvent {
	return types.LiquidationEvent{
		Timestamp:            time.Unix(1700000000, 0).UTC(),
		Signature:            signature,
		WalletAddress:        solana.NewWallet().PublicKey(),
		MarginAccountAddress: solana.NewWallet().PublicKey(),
		BalancesBefore: []types.TokenValue{
			{Token: types.Token{Name: "BTC", Decimals: 6}, Value: decimal.NewFromInt(1)},
		},
		BalancesAfter: []types.TokenValue{
			{Token: types.Token{Name: "BTC", Decimals: 6}, Value: decimal.NewFromFloat(0.5)},
		},
	}
}

func TestRecordAndReadAll(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	events := []types.LiquidationEvent{sampleEvent("sig1"), sampleEvent("sig2")}
	for _, e := range events {
		if err := s.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	read, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(read) != 2 {
		t.Fatalf("ReadAll returned %d events, want 2", len(read))
	}
	if read[0].Signature != "sig1" || read[1].Signature != "sig2" {
		t.Errorf("unexpected signatures: %q, %q", read[0].Signature, read[1].Signature)
	}
	if !read[0].BalancesBefore[0].Value.Equal(decimal.NewFromInt(1)) {
		t.Errorf("BalancesBefore[0].Value = %s, want 1", read[0].BalancesBefore[0].Value)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	t.Parallel()
	events, err := ReadAll(filepath.Join(t.TempDir(), "does-not-exist.jsonl"))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if events != nil {
		t.Errorf("expected nil events for missing file, got %+v", events)
	}
}

func TestRecordAppendsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Record(sampleEvent("first")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s2.Record(sampleEvent("second")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s2.Close()

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"mango-liquidator/internal/chain"
	"mango-liquidator/internal/codec"
	"mango-liquidator/pkg/types"
)

// AccountReader is the slice of the chain facade LoadGroup and the reloader
// need: single and batched account reads.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([][]byte, error)
}

// ProgramAccountScanner is the slice of the chain facade the accounts-tick
// scan needs: server-side filtered program-wide scans.
type ProgramAccountScanner interface {
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters []chain.MemcmpFilter) ([]chain.ProgramAccount, error)
}

// ChainGroupLoader re-decodes the group's on-chain state every tick, the
// way §3's "groups are read-only... re-read from the chain" lifecycle
// requires rather than trusting a cached copy whose indexes/ratios might
// have moved since the last read.
type ChainGroupLoader struct {
	reader       AccountReader
	groupName    string
	groupAddress solana.PublicKey
	programID    solana.PublicKey
	dexProgramID solana.PublicKey
}

// NewChainGroupLoader creates a ChainGroupLoader scoped to one configured
// group (§6's ids.json entry).
func NewChainGroupLoader(reader AccountReader, groupName string, groupAddress, programID, dexProgramID solana.PublicKey) *ChainGroupLoader {
	return &ChainGroupLoader{
		reader:       reader,
		groupName:    groupName,
		groupAddress: groupAddress,
		programID:    programID,
		dexProgramID: dexProgramID,
	}
}

// LoadGroup fetches and decodes the group account, stamping in the group
// name, which the binary layout doesn't carry, and the configured dex
// program id, which replaces the one decoded from the account.
func (l *ChainGroupLoader) LoadGroup(ctx context.Context) (types.Group, error) {
	data, err := l.reader.GetAccountInfo(ctx, l.groupAddress)
	if err != nil {
		return types.Group{}, fmt.Errorf("fetch group account %s: %w", l.groupAddress, err)
	}
	if data == nil {
		return types.Group{}, fmt.Errorf("group account %s does not exist", l.groupAddress)
	}
	group, err := codec.DecodeGroup(l.groupAddress, l.programID, data)
	if err != nil {
		return types.Group{}, fmt.Errorf("decode group account %s: %w", l.groupAddress, err)
	}
	group.Name = l.groupName
	group.DexProgramID = l.dexProgramID
	if err := group.Validate(); err != nil {
		return types.Group{}, err
	}
	return group, nil
}

// ChainMarginAccountScanner performs the accounts tick's two scans (§4.K,
// §6): every margin account belonging to the group, then every open-orders
// account signed by the group's signer PDA, joined by address into each
// margin account's per-market open-orders slots.
type ChainMarginAccountScanner struct {
	scanner ProgramAccountScanner
	logger  *slog.Logger
}

// NewChainMarginAccountScanner creates a ChainMarginAccountScanner.
func NewChainMarginAccountScanner(scanner ProgramAccountScanner, logger *slog.Logger) *ChainMarginAccountScanner {
	return &ChainMarginAccountScanner{scanner: scanner, logger: logger.With("component", "margin_account_scanner")}
}

// ScanRipeAccounts fetches every margin account for group and attaches its
// decoded open-orders accounts, the candidate universe the processor then
// filters down to liquidatable/above-water/worthwhile each price tick.
func (c *ChainMarginAccountScanner) ScanRipeAccounts(ctx context.Context, group types.Group) ([]*types.MarginAccount, error) {
	// The margin-account scan and the open-orders scan are independent RPC
	// round trips joined only by address afterward, so they run concurrently
	// rather than back to back.
	var marginRaw []chain.ProgramAccount
	var openOrdersByAddress map[solana.PublicKey]*types.OpenOrders

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := c.scanner.GetProgramAccounts(gctx, group.ProgramID, []chain.MemcmpFilter{
			{Offset: codec.MarginAccountGroupOffset, Bytes: group.Address.Bytes()},
		})
		if err != nil {
			return fmt.Errorf("scan margin accounts for group %s: %w", group.Address, err)
		}
		marginRaw = raw
		return nil
	})
	g.Go(func() error {
		byAddress, err := c.scanOpenOrders(gctx, group)
		if err != nil {
			return err
		}
		openOrdersByAddress = byAddress
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	accounts := make([]*types.MarginAccount, 0, len(marginRaw))
	for _, pa := range marginRaw {
		ma, err := codec.DecodeMarginAccount(pa.Address, pa.Data)
		if err != nil {
			c.logger.Error("failed to decode margin account, skipping", "address", pa.Address.String(), "error", err)
			continue
		}
		accounts = append(accounts, &ma)
	}

	for _, ma := range accounts {
		attachOpenOrders(ma, openOrdersByAddress)
	}

	c.logger.Info("accounts scan complete", "margin_accounts", len(accounts), "open_orders", len(openOrdersByAddress))
	return accounts, nil
}

func (c *ChainMarginAccountScanner) scanOpenOrders(ctx context.Context, group types.Group) (map[solana.PublicKey]*types.OpenOrders, error) {
	raw, err := c.scanner.GetProgramAccounts(ctx, group.DexProgramID, []chain.MemcmpFilter{
		{Offset: codec.OpenOrdersOwnerOffset, Bytes: group.SignerKey.Bytes()},
	})
	if err != nil {
		return nil, fmt.Errorf("scan open orders accounts for group %s signer %s: %w", group.Address, group.SignerKey, err)
	}

	byAddress := make(map[solana.PublicKey]*types.OpenOrders, len(raw))
	for _, pa := range raw {
		oo, err := codec.DecodeOpenOrders(pa.Address, group.DexProgramID, solana.PublicKey{}, pa.Data)
		if err != nil {
			c.logger.Error("failed to decode open orders account, skipping", "address", pa.Address.String(), "error", err)
			continue
		}
		byAddress[pa.Address] = &oo
	}
	return byAddress, nil
}

func attachOpenOrders(ma *types.MarginAccount, byAddress map[solana.PublicKey]*types.OpenOrders) {
	for i, addr := range ma.OpenOrdersAddresses {
		if ma.IsOpenOrdersSlotEmpty(i) {
			continue
		}
		if oo, ok := byAddress[addr]; ok {
			ma.OpenOrdersAccounts[i] = oo
		}
	}
}

// ChainMarginAccountReloader re-fetches one margin account plus its
// open-orders accounts after a liquidation, so the processor can decide
// whether the drained account is still worth another pass.
type ChainMarginAccountReloader struct {
	reader    AccountReader
	programID func() solana.PublicKey
	logger    *slog.Logger
}

// NewChainMarginAccountReloader creates a ChainMarginAccountReloader.
// dexProgramID is a func rather than a value so it always reflects the
// most recently loaded group (the dex program id never changes in
// practice, but nothing here assumes so).
func NewChainMarginAccountReloader(reader AccountReader, dexProgramID func() solana.PublicKey, logger *slog.Logger) *ChainMarginAccountReloader {
	return &ChainMarginAccountReloader{reader: reader, programID: dexProgramID, logger: logger.With("component", "margin_account_reloader")}
}

// Reload re-reads ma.Address from the chain, plus every non-empty
// open-orders slot, and returns the freshly decoded account.
func (r *ChainMarginAccountReloader) Reload(ctx context.Context, ma types.MarginAccount) (*types.MarginAccount, error) {
	data, err := r.reader.GetAccountInfo(ctx, ma.Address)
	if err != nil {
		return nil, fmt.Errorf("reload margin account %s: %w", ma.Address, err)
	}
	if data == nil {
		return nil, fmt.Errorf("margin account %s no longer exists", ma.Address)
	}
	reloaded, err := codec.DecodeMarginAccount(ma.Address, data)
	if err != nil {
		return nil, fmt.Errorf("decode reloaded margin account %s: %w", ma.Address, err)
	}

	var toFetch []solana.PublicKey
	var slots []int
	for i, addr := range reloaded.OpenOrdersAddresses {
		if reloaded.IsOpenOrdersSlotEmpty(i) {
			continue
		}
		toFetch = append(toFetch, addr)
		slots = append(slots, i)
	}
	if len(toFetch) == 0 {
		return &reloaded, nil
	}

	raw, err := r.reader.GetMultipleAccounts(ctx, toFetch)
	if err != nil {
		return nil, fmt.Errorf("reload open orders accounts for %s: %w", ma.Address, err)
	}
	dexProgramID := r.programID()
	for i, data := range raw {
		if data == nil {
			continue
		}
		oo, err := codec.DecodeOpenOrders(toFetch[i], dexProgramID, solana.PublicKey{}, data)
		if err != nil {
			r.logger.Error("failed to decode reloaded open orders account, leaving slot empty", "address", toFetch[i].String(), "error", err)
			continue
		}
		reloaded.OpenOrdersAccounts[slots[i]] = &oo
	}
	return &reloaded, nil
}

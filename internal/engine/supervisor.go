package engine

import (
	"context"
	"log/slog"
	"time"

	"mango-liquidator/pkg/types"
)

// MarginAccountScanner performs a full program scan for every ripe margin
// account — every margin account belonging to the group, with no collateral
// ratio filter; the processor filters them on each price tick.
type MarginAccountScanner interface {
	ScanRipeAccounts(ctx context.Context, group types.Group) ([]*types.MarginAccount, error)
}

// PriceFetcher loads the current oracle prices for a group's basket.
type PriceFetcher interface {
	GetPrices(ctx context.Context, group types.Group) ([]types.TokenValue, error)
}

// GroupLoader refreshes the group's on-chain state — indexes, collateral
// ratios, total deposits and borrows — once per tick, the way the processor's account
// scan re-derives it fresh every interval rather than trusting a cache.
type GroupLoader interface {
	LoadGroup(ctx context.Context) (types.Group, error)
}

// Supervisor runs the two periodic ticks the processor depends on: a slow
// full-account scan and a fast price refresh, each feeding the processor
// with non-blocking, latest-wins semantics so a slow tick never piles up.
type Supervisor struct {
	processor     *LiquidationProcessor
	scanner       MarginAccountScanner
	prices        PriceFetcher
	groups        GroupLoader
	accountPeriod time.Duration
	pricePeriod   time.Duration
	logger        *slog.Logger
}

// NewSupervisor creates a Supervisor. accountPeriod and pricePeriod default
// to 60s and 2s respectively when zero, mirroring the reference scan
// cadence: accounts are expensive program-wide scans, prices are one cheap
// batched read of every market's oracle account.
func NewSupervisor(processor *LiquidationProcessor, scanner MarginAccountScanner, prices PriceFetcher, groups GroupLoader, accountPeriod, pricePeriod time.Duration, logger *slog.Logger) *Supervisor {
	if accountPeriod == 0 {
		accountPeriod = 60 * time.Second
	}
	if pricePeriod == 0 {
		pricePeriod = 2 * time.Second
	}
	return &Supervisor{
		processor:     processor,
		scanner:       scanner,
		prices:        prices,
		groups:        groups,
		accountPeriod: accountPeriod,
		pricePeriod:   pricePeriod,
		logger:        logger.With("component", "supervisor"),
	}
}

// Run starts both ticks and blocks until ctx is cancelled. The accounts tick
// does an immediate first pass on startup, matching the reference
// subscription's start_with(-1) so the bot doesn't sit idle for a full
// period before its first scan; the price tick first fires after one price
// period.
func (s *Supervisor) Run(ctx context.Context) {
	accountsDone := make(chan struct{})
	pricesDone := make(chan struct{})

	go func() {
		defer close(accountsDone)
		s.runAccountsLoop(ctx)
	}()
	go func() {
		defer close(pricesDone)
		s.runPricesLoop(ctx)
	}()

	<-accountsDone
	<-pricesDone
}

func (s *Supervisor) runAccountsLoop(ctx context.Context) {
	s.scanAccounts(ctx)

	ticker := time.NewTicker(s.accountPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAccounts(ctx)
		}
	}
}

func (s *Supervisor) scanAccounts(ctx context.Context) {
	group, err := s.groups.LoadGroup(ctx)
	if err != nil {
		s.logger.Error("failed to load group for account scan", "error", err)
		return
	}
	accounts, err := s.scanner.ScanRipeAccounts(ctx, group)
	if err != nil {
		s.logger.Error("failed to scan ripe margin accounts", "error", err)
		return
	}
	s.processor.UpdateMarginAccounts(accounts)
}

func (s *Supervisor) runPricesLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pricePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshPrices(ctx)
		}
	}
}

func (s *Supervisor) refreshPrices(ctx context.Context) {
	group, err := s.groups.LoadGroup(ctx)
	if err != nil {
		s.logger.Error("failed to load group for price refresh", "error", err)
		return
	}
	prices, err := s.prices.GetPrices(ctx, group)
	if err != nil {
		s.logger.Error("failed to fetch prices", "error", err)
		return
	}
	s.processor.UpdatePrices(ctx, group, prices)
}

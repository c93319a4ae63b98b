// mango-liquidator — a cross-margin liquidation bot: it scans a lending
// group's margin accounts for undercollateralization, prices them against
// oracle feeds, and liquidates the worthwhile ones before rebalancing its
// own wallet back toward its configured targets.
//
// Architecture:
//
//	main.go                    — entry point: wires every package below, waits for SIGINT/SIGTERM
//	internal/config            — YAML config plus the static group directory (ids.json)
//	internal/chain             — rate-limited Solana JSON-RPC facade
//	internal/codec             — binary layout decoder for GROUP/MARGIN_ACCOUNT/OPEN_ORDERS/AGGREGATOR accounts
//	internal/engine            — scan/group-load glue plus the liquidation processor and its supervisor loop
//	internal/instructions      — Liquidate and ForceCancelOrders instruction builders
//	internal/liquidator        — the four AccountLiquidator variants (null/actual/force-cancel/reporting)
//	internal/exchange          — the trade executor the wallet balancer trades through
//	internal/balancer          — wallet rebalancing against configured targets
//	internal/pricing           — oracle price reads and wallet balance reads
//	internal/observability     — event bus, notification fan-out, retry helper, one-shot account scout
//	internal/store             — append-only liquidation-event audit log
//	internal/wallet            — the bot's own signing keypair
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"mango-liquidator/internal/balancer"
	"mango-liquidator/internal/chain"
	"mango-liquidator/internal/config"
	"mango-liquidator/internal/engine"
	"mango-liquidator/internal/exchange"
	"mango-liquidator/internal/instructions"
	"mango-liquidator/internal/liquidator"
	"mango-liquidator/internal/observability"
	"mango-liquidator/internal/pricing"
	"mango-liquidator/internal/store"
	"mango-liquidator/internal/wallet"
	"mango-liquidator/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the bot's YAML config file")
	scoutAddress := flag.String("scout", "", "run a one-shot health check against this margin account address and exit, instead of starting the liquidation loop")
	flag.Parse()

	if p := os.Getenv("LIQUIDATOR_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	if err := run(*cfg, *scoutAddress, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parsedMarket is ids.json's per-market entry with every address already
// parsed, keyed by basket index matching types.Group.Markets.
type parsedMarket struct {
	baseMint, quoteMint                                  solana.PublicKey
	bids, asks, eventQueue, requestQueue                 solana.PublicKey
	baseVault, quoteVault                                solana.PublicKey
}

func parseMarkets(entries []config.MarketEntry) ([]parsedMarket, error) {
	markets := make([]parsedMarket, len(entries))
	for i, e := range entries {
		var err error
		pm := parsedMarket{}
		if pm.baseMint, err = config.PublicKey("base_mint", e.BaseMint); err != nil {
			return nil, err
		}
		if pm.quoteMint, err = config.PublicKey("quote_mint", e.QuoteMint); err != nil {
			return nil, err
		}
		if pm.bids, err = config.PublicKey("bids", e.Bids); err != nil {
			return nil, err
		}
		if pm.asks, err = config.PublicKey("asks", e.Asks); err != nil {
			return nil, err
		}
		if pm.eventQueue, err = config.PublicKey("event_queue", e.EventQueue); err != nil {
			return nil, err
		}
		if pm.requestQueue, err = config.PublicKey("request_queue", e.RequestQueue); err != nil {
			return nil, err
		}
		if pm.baseVault, err = config.PublicKey("base_vault", e.BaseVault); err != nil {
			return nil, err
		}
		if pm.quoteVault, err = config.PublicKey("quote_vault", e.QuoteVault); err != nil {
			return nil, err
		}
		markets[i] = pm
	}
	return markets, nil
}

// walletTokenAccounts resolves, and caches, the wallet's associated token
// account for every basket token's mint — the liquidator's own deposit/
// withdrawal accounts for the Liquidate instruction and balance reads.
type walletTokenAccounts struct {
	client *chain.Client
	tokens []types.BasketToken
	ata    map[string]solana.PublicKey // keyed by token name
}

func newWalletTokenAccounts(client *chain.Client, walletAddr solana.PublicKey, tokens []types.BasketToken) (*walletTokenAccounts, error) {
	ata := make(map[string]solana.PublicKey, len(tokens))
	for _, bt := range tokens {
		addr, _, err := solana.FindAssociatedTokenAddress(walletAddr, bt.Token.Mint)
		if err != nil {
			return nil, fmt.Errorf("derive associated token account for %s: %w", bt.Token.Name, err)
		}
		ata[bt.Token.Name] = addr
	}
	return &walletTokenAccounts{client: client, tokens: tokens, ata: ata}, nil
}

// WalletBalances satisfies internal/liquidator.WalletBalanceSource.
func (w *walletTokenAccounts) WalletBalances(ctx context.Context) ([]types.TokenValue, error) {
	return pricing.WalletBalances(ctx, w.client, w.tokens, w.ata)
}

// FetchTotalValue satisfies internal/balancer.BalanceFetcher.
func (w *walletTokenAccounts) FetchTotalValue(ctx context.Context, token types.Token) (types.TokenValue, error) {
	bt, err := types.FindBasketTokenByName(w.tokens, token.Name)
	if err != nil {
		return types.TokenValue{}, err
	}
	balances, err := pricing.WalletBalances(ctx, w.client, []types.BasketToken{bt}, w.ata)
	if err != nil {
		return types.TokenValue{}, err
	}
	return balances[0], nil
}

func run(cfg config.Config, scoutAddress string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := wallet.Load(cfg.Wallet.Path)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	logger.Info("wallet loaded", "address", w.Address().String())

	dir, err := config.LoadGroupDirectory(cfg.GroupDirectory)
	if err != nil {
		return fmt.Errorf("load group directory: %w", err)
	}
	clusterDir, groupEntry, err := dir.Group(cfg.Cluster, cfg.GroupName)
	if err != nil {
		return fmt.Errorf("resolve group: %w", err)
	}
	clusterURL, err := dir.ResolveClusterURL(cfg.Cluster, cfg.ClusterURL)
	if err != nil {
		return fmt.Errorf("resolve cluster URL: %w", err)
	}

	programID, err := config.PublicKey("program_id", clusterDir.ProgramID)
	if err != nil {
		return err
	}
	dexProgramID, err := config.PublicKey("dex_program_id", clusterDir.DexProgramID)
	if err != nil {
		return err
	}
	groupAddress, err := config.PublicKey("mango_group_pk", groupEntry.MangoGroupPk)
	if err != nil {
		return err
	}
	markets, err := parseMarkets(groupEntry.SpotMarkets)
	if err != nil {
		return fmt.Errorf("parse group directory markets: %w", err)
	}
	liquidatorMargin, err := config.PublicKey("liquidator.margin_account", cfg.Liquidator.MarginAccount)
	if err != nil {
		return err
	}

	client := chain.New(clusterURL, logger)
	groupLoader := engine.NewChainGroupLoader(client, cfg.GroupName, groupAddress, programID, dexProgramID)

	group, err := groupLoader.LoadGroup(ctx)
	if err != nil {
		return fmt.Errorf("initial group load: %w", err)
	}
	logger.Info("group loaded", "name", group.Name, "tokens", group.NumTokens(), "markets", group.NumMarkets())

	tokenAccounts, err := newWalletTokenAccounts(client, w.Address(), group.BasketTokens)
	if err != nil {
		return fmt.Errorf("resolve wallet token accounts: %w", err)
	}

	oracle := pricing.NewOracle(client, logger)

	if scoutAddress != "" {
		return runScout(ctx, client, groupLoader, oracle, scoutAddress, logger)
	}

	liquidateAccounts := func(group types.Group, ma *types.MarginAccount) instructions.LiquidateAccounts {
		vaults := make([]solana.PublicKey, group.NumTokens())
		walletAccounts := make([]solana.PublicKey, group.NumTokens())
		for i, bt := range group.BasketTokens {
			vaults[i] = bt.Vault
			walletAccounts[i] = tokenAccounts.ata[bt.Token.Name]
		}
		return instructions.LiquidateAccounts{
			Group:               group.Address,
			LiquidatorMargin:    liquidatorMargin,
			TargetMargin:        ma.Address,
			Signer:              group.SignerKey,
			Vaults:              vaults,
			WalletTokenAccounts: walletAccounts,
			Wallet:              w.Address(),
			TokenProgram:        solana.TokenProgramID,
		}
	}
	forceCancelAccounts := func(group types.Group, ma *types.MarginAccount, marketIndex int) instructions.ForceCancelOrdersAccounts {
		m := markets[marketIndex]
		return instructions.ForceCancelOrdersAccounts{
			Group:        group.Address,
			Market:       group.Markets[marketIndex].Market,
			TargetMargin: ma.Address,
			OpenOrders:   ma.OpenOrdersAddresses[marketIndex],
			Bids:         m.bids,
			Asks:         m.asks,
			EventQueue:   m.eventQueue,
			DexProgram:   group.DexProgramID,
			Signer:       group.SignerKey,
		}
	}

	var accountLiquidator liquidator.AccountLiquidator
	if cfg.Liquidator.DryRun {
		accountLiquidator = liquidator.NewNullAccountLiquidator(logger)
		logger.Warn("DRY-RUN MODE — no liquidation transactions will be submitted")
	} else {
		actual := liquidator.NewActualAccountLiquidator(programID, liquidateAccounts, client, w, tokenAccounts, logger)
		accountLiquidator = liquidator.NewForceCancelOrdersAccountLiquidator(programID, forceCancelAccounts, client, w, actual, logger)
	}

	events := observability.NewEventSource[types.LiquidationEvent]()
	reporting := liquidator.NewReportingAccountLiquidator(w.Address(), tokenAccounts, client, accountLiquidator, events, logger)

	liquidatorFunc := engine.AccountLiquidatorFunc(func(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) (string, error) {
		sig, err := reporting.Liquidate(ctx, group, ma, prices)
		if err != nil {
			return "", err
		}
		if sig == nil {
			return "", nil
		}
		return sig.String(), nil
	})

	walletBalancer, closeBalancer, err := buildWalletBalancer(cfg, group, markets, w, client, tokenAccounts, logger)
	if err != nil {
		return fmt.Errorf("build wallet balancer: %w", err)
	}
	if closeBalancer != nil {
		defer closeBalancer()
	}

	reloader := engine.NewChainMarginAccountReloader(client, func() solana.PublicKey { return dexProgramID }, logger)
	scanner := engine.NewChainMarginAccountScanner(client, logger)

	threshold, err := cfg.Liquidator.WorthwhileThreshold()
	if err != nil {
		return err
	}
	accountScanPeriod, err := parseDurationOrZero(cfg.Liquidator.AccountScanPeriod)
	if err != nil {
		return fmt.Errorf("liquidator.account_scan_period: %w", err)
	}
	priceScanPeriod, err := parseDurationOrZero(cfg.Liquidator.PriceScanPeriod)
	if err != nil {
		return fmt.Errorf("liquidator.price_scan_period: %w", err)
	}

	processor := engine.New(liquidatorFunc, walletBalancer, reloader, threshold, logger)
	supervisor := engine.NewSupervisor(processor, scanner, oracle, groupLoader, accountScanPeriod, priceScanPeriod, logger)

	eventLogPath := cfg.Logging.EventLogPath
	if eventLogPath == "" {
		eventLogPath = "liquidations.jsonl"
	}
	eventStore, err := store.Open(eventLogPath)
	if err != nil {
		return fmt.Errorf("open liquidation event log: %w", err)
	}
	defer eventStore.Close()

	storeDone := make(chan struct{})
	storeSub := events.Subscribe()
	go eventStore.Run(storeDone, storeSub.Events(), func(err error) {
		logger.Error("failed to record liquidation event", "error", err)
	})

	var broadcaster *observability.Broadcaster
	if len(cfg.Notifications.Targets) > 0 {
		targets := make([]observability.NotificationTarget, 0, len(cfg.Notifications.Targets))
		for _, uri := range cfg.Notifications.Targets {
			target, err := observability.ParseNotificationTarget(uri)
			if err != nil {
				return fmt.Errorf("parse notification target: %w", err)
			}
			targets = append(targets, target)
		}
		broadcaster = observability.NewBroadcaster(targets)
		notifySub := events.Subscribe()
		go func() {
			for event := range notifySub.Events() {
				if err := broadcaster.Notify(ctx, event.String()); err != nil {
					logger.Error("failed to deliver notification", "error", err)
				}
			}
		}()
	}

	logger.Info("liquidation bot started",
		"cluster", cfg.Cluster,
		"group", cfg.GroupName,
		"dry_run", cfg.Liquidator.DryRun,
		"worthwhile_threshold", threshold.String(),
		"notifications_enabled", broadcaster != nil,
		"rebalancer_enabled", cfg.Rebalancer.Enabled,
	)

	supervisor.Run(ctx)

	close(storeDone)
	storeSub.Unsubscribe()
	logger.Info("shutdown complete")
	return nil
}

func parseDurationOrZero(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func buildWalletBalancer(cfg config.Config, group types.Group, markets []parsedMarket, w *wallet.Wallet, client *chain.Client, tokenAccounts *walletTokenAccounts, logger *slog.Logger) (engine.WalletBalancer, func(), error) {
	if !cfg.Rebalancer.Enabled {
		return balancer.NullWalletBalancer{}, nil, nil
	}

	walletMarketAccounts := make(map[int]exchange.WalletMarketAccounts, len(markets))
	marketAddresses := make(map[int]exchange.MarketAddresses, len(markets))
	for i, m := range markets {
		if i >= len(group.Markets) {
			break
		}
		ooAddress, ok := cfg.Trading.OpenOrdersAccounts[i]
		if !ok {
			return nil, nil, fmt.Errorf("trading.open_orders_accounts missing entry for market index %d", i)
		}
		openOrders, err := config.PublicKey("trading.open_orders_accounts", ooAddress)
		if err != nil {
			return nil, nil, err
		}
		walletMarketAccounts[i] = exchange.WalletMarketAccounts{
			OpenOrders:        openOrders,
			BaseTokenAccount:  tokenAccounts.ata[group.BasketTokens[group.Markets[i].BaseTokenIndex].Token.Name],
			QuoteTokenAccount: tokenAccounts.ata[group.SharedQuoteToken().Token.Name],
		}
		marketAddresses[i] = exchange.MarketAddresses{
			Bids:         m.bids,
			Asks:         m.asks,
			EventQueue:   m.eventQueue,
			RequestQueue: m.requestQueue,
			BaseVault:    m.baseVault,
			QuoteVault:   m.quoteVault,
		}
	}

	priceAdjustment, err := cfg.Trading.PriceAdjustment()
	if err != nil {
		return nil, nil, err
	}

	executor := exchange.NewExecutor(group.ProgramID, group.DexProgramID, group, marketAddresses, walletMarketAccounts, w, client, client, priceAdjustment, cfg.Trading.PriceCheckURL, logger)

	actionThreshold, err := cfg.Rebalancer.ActionThreshold()
	if err != nil {
		return nil, nil, err
	}

	tokens := make([]types.Token, group.NumTokens())
	for i, bt := range group.BasketTokens {
		tokens[i] = bt.Token
	}

	parser := balancer.NewTargetBalanceParser(tokens)
	targets := make([]balancer.TargetBalance, 0, len(cfg.Rebalancer.Targets))
	for _, raw := range cfg.Rebalancer.Targets {
		target, err := parser.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("parse rebalancer target: %w", err)
		}
		targets = append(targets, target)
	}

	return balancer.NewLiveWalletBalancer(tokenAccounts, executor, actionThreshold, tokens, targets, logger), nil, nil
}

func runScout(ctx context.Context, client *chain.Client, groupLoader *engine.ChainGroupLoader, oracle *pricing.Oracle, address string, logger *slog.Logger) error {
	target, err := config.PublicKey("scout", address)
	if err != nil {
		return err
	}

	group, err := groupLoader.LoadGroup(ctx)
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}

	reloader := engine.NewChainMarginAccountReloader(client, func() solana.PublicKey { return group.DexProgramID }, logger)
	ma, err := reloader.Reload(ctx, types.MarginAccount{Address: target})
	if err != nil {
		return fmt.Errorf("load margin account %s: %w", target, err)
	}

	prices, err := oracle.GetPrices(ctx, group)
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}

	scout := observability.NewAccountScout()
	report := scout.Inspect(ctx, group, ma, prices)

	fmt.Printf("margin account %s — healthy: %v\n", report.MarginAccount, report.Healthy())
	for _, d := range report.Details {
		fmt.Printf("  detail:  %s\n", d)
	}
	for _, w := range report.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Printf("  error:   %s\n", e)
	}
	return nil
}

// Package config defines all configuration for the liquidation bot: cluster
// selection, the static group directory (ids.json), wallet file location,
// liquidation and rebalancing thresholds, notification targets, and logging.
//
// Config is loaded from a YAML file with a handful of sensitive/overridable
// fields settable via the literal environment variables §6 names: CLUSTER,
// CLUSTER_URL, GROUP_NAME.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Cluster        string              `mapstructure:"cluster"`
	ClusterURL     string              `mapstructure:"cluster_url"`
	GroupName      string              `mapstructure:"group_name"`
	GroupDirectory string              `mapstructure:"group_directory"`
	Wallet         WalletConfig        `mapstructure:"wallet"`
	Liquidator     LiquidatorConfig    `mapstructure:"liquidator"`
	Rebalancer     RebalancerConfig    `mapstructure:"rebalancer"`
	Trading        TradingConfig       `mapstructure:"trading"`
	Notifications  NotificationsConfig `mapstructure:"notifications"`
	Logging        LoggingConfig       `mapstructure:"logging"`
}

// WalletConfig points at the id.json secret-key file (§6).
type WalletConfig struct {
	Path string `mapstructure:"path"`
}

// LiquidatorConfig tunes the liquidation processor (§4.G).
type LiquidatorConfig struct {
	// WorthwhileThresholdStr is a decimal string rather than a float field:
	// monetary thresholds are parsed with decimal.NewFromString so binary
	// floating point never touches the comparison (§9).
	WorthwhileThresholdStr string `mapstructure:"worthwhile_threshold"`
	AccountScanPeriod       string `mapstructure:"account_scan_period"`
	PriceScanPeriod         string `mapstructure:"price_scan_period"`
	DryRun                  bool   `mapstructure:"dry_run"`
	// MarginAccount is the operator's own margin account address on this
	// group — a prerequisite the operator creates once out-of-band (the
	// InitMarginAccount instruction is outside this bot's scope), the
	// LiquidatorMargin slot every Liquidate instruction needs.
	MarginAccount string `mapstructure:"margin_account"`
}

// WorthwhileThreshold parses the configured threshold, defaulting to 0.01
// per §4.G when unset.
func (l LiquidatorConfig) WorthwhileThreshold() (decimal.Decimal, error) {
	if l.WorthwhileThresholdStr == "" {
		return decimal.NewFromFloat(0.01), nil
	}
	v, err := decimal.NewFromString(l.WorthwhileThresholdStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("liquidator.worthwhile_threshold %q: %w", l.WorthwhileThresholdStr, err)
	}
	return v, nil
}

// RebalancerConfig tunes the wallet balancer (§4.I).
type RebalancerConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	ActionThresholdStr  string   `mapstructure:"action_threshold"`
	Targets             []string `mapstructure:"targets"`
}

// ActionThreshold parses the configured fraction-of-portfolio filter
// threshold, defaulting to 0 (no filtering) when unset.
func (r RebalancerConfig) ActionThreshold() (decimal.Decimal, error) {
	if r.ActionThresholdStr == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(r.ActionThresholdStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("rebalancer.action_threshold %q: %w", r.ActionThresholdStr, err)
	}
	return v, nil
}

// NotificationsConfig lists notification target URIs, parsed by
// internal/observability's ParseNotificationTarget (§6).
type NotificationsConfig struct {
	Targets []string `mapstructure:"targets"`
}

// TradingConfig carries the Trade Executor's (§4.H) wallet-side
// prerequisites: one Serum open-orders account per market, created
// out-of-band the same way the liquidator margin account is, plus the
// crossing-price adjustment and optional REST fallback leg.
type TradingConfig struct {
	// OpenOrdersAccounts maps market index (matching Group.Markets order)
	// to the wallet's own open-orders account address for that market.
	OpenOrdersAccounts   map[int]string `mapstructure:"open_orders_accounts"`
	PriceAdjustmentStr   string         `mapstructure:"price_adjustment"`
	PriceCheckURL        string         `mapstructure:"price_check_url"`
}

// PriceAdjustment parses the configured crossing-price adjustment factor,
// defaulting to 0.005 (50 bps) when unset.
func (t TradingConfig) PriceAdjustment() (decimal.Decimal, error) {
	if t.PriceAdjustmentStr == "" {
		return decimal.NewFromFloat(0.005), nil
	}
	v, err := decimal.NewFromString(t.PriceAdjustmentStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("trading.price_adjustment %q: %w", t.PriceAdjustmentStr, err)
	}
	return v, nil
}

// LoggingConfig selects slog handler format and level, and the path the
// append-only liquidation-event audit log is written to.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	EventLogPath  string `mapstructure:"event_log_path"`
}

// Load reads config from a YAML file, applying §6's environment variable
// overrides and defaults, the same viper.New/SetConfigFile/SetEnvPrefix
// pattern the ambient stack elsewhere in this module follows.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cluster", "mainnet-beta")
	v.SetDefault("group_name", "BTC_ETH_USDT")
	v.SetDefault("group_directory", "ids.json")
	v.SetDefault("wallet.path", "id.json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// §6's three environment variables take precedence over the file,
	// mirroring the original client's os.environ.get(...) resolution.
	if cluster := os.Getenv("CLUSTER"); cluster != "" {
		cfg.Cluster = cluster
	}
	if url := os.Getenv("CLUSTER_URL"); url != "" {
		cfg.ClusterURL = url
	}
	if group := os.Getenv("GROUP_NAME"); group != "" {
		cfg.GroupName = group
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Cluster == "" {
		return fmt.Errorf("cluster is required")
	}
	if c.GroupName == "" {
		return fmt.Errorf("group_name is required")
	}
	if c.GroupDirectory == "" {
		return fmt.Errorf("group_directory (path to ids.json) is required")
	}
	if c.Wallet.Path == "" {
		return fmt.Errorf("wallet.path is required")
	}
	if c.Liquidator.MarginAccount == "" {
		return fmt.Errorf("liquidator.margin_account is required")
	}
	if _, err := c.Liquidator.WorthwhileThreshold(); err != nil {
		return err
	}
	if _, err := c.Rebalancer.ActionThreshold(); err != nil {
		return err
	}
	if _, err := c.Trading.PriceAdjustment(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

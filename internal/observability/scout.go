package observability

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"mango-liquidator/pkg/types"
)

// ScoutReport is a diagnostic health check over a single margin account:
// parallel lists of errors (account is unreadable or inconsistent),
// warnings (account is fine but worth an operator's attention), and
// informational details. Intended as a one-shot CLI diagnostic, not part
// of the hot liquidation loop.
type ScoutReport struct {
	MarginAccount solana.PublicKey
	Errors        []string
	Warnings      []string
	Details       []string
}

// Healthy reports whether the account raised no errors. A ScoutReport can
// still be Healthy while carrying warnings.
func (r ScoutReport) Healthy() bool {
	return len(r.Errors) == 0
}

// addError/addWarning/addDetail keep the three lists append-only and
// formatted consistently.
func (r *ScoutReport) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ScoutReport) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ScoutReport) addDetail(format string, args ...any) {
	r.Details = append(r.Details, fmt.Sprintf(format, args...))
}

// nearLiquidationMargin is how much above the maintenance ratio counts as
// "close enough to liquidation to warn about" — 10% of headroom.
var nearLiquidationMargin = decimal.NewFromFloat(1.10)

// AccountScout inspects a margin account against its group and current
// prices, producing a ScoutReport. It never mutates or liquidates anything.
type AccountScout struct{}

// NewAccountScout creates an AccountScout.
func NewAccountScout() *AccountScout {
	return &AccountScout{}
}

// Inspect runs the diagnostic over one margin account.
func (s *AccountScout) Inspect(ctx context.Context, group types.Group, ma *types.MarginAccount, prices []types.TokenValue) ScoutReport {
	report := ScoutReport{MarginAccount: ma.Address}

	for i, addr := range ma.OpenOrdersAddresses {
		if ma.IsOpenOrdersSlotEmpty(i) {
			continue
		}
		if ma.OpenOrdersAccounts[i] == nil {
			report.addError("open orders slot %d (%s) is marked in-use but failed to decode", i, addr)
		}
	}

	meta, err := types.NewMarginAccountMetadata(ma, group, prices)
	if err != nil {
		report.addError("build balance sheet: %v", err)
		return report
	}

	cr := meta.CollateralRatio()
	report.addDetail("collateral ratio: %s", cr.String())
	if cr.LessThanOrEqual(group.MaintCollRatio) {
		report.addError("account is liquidatable: collateral ratio %s <= maintenance %s", cr, group.MaintCollRatio)
	} else if cr.LessThanOrEqual(group.MaintCollRatio.Mul(nearLiquidationMargin)) {
		report.addWarning("collateral ratio %s is within 10%% of maintenance %s", cr, group.MaintCollRatio)
	}

	netValue := meta.NetValue()
	report.addDetail("net value: %s", netValue.String())

	bs := meta.BalanceSheet
	report.addDetail("%s: liabilities=%s settled=%s unsettled=%s", bs.Token.Name, bs.Liabilities.String(), bs.SettledAssets.String(), bs.UnsettledAssets.String())

	return report
}

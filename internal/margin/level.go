// Package margin watches account margin levels and escalates through
// warning, margin call and forced liquidation as prices move.
package margin

import (
	"fx-arena/internal/model"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierSafe        Tier = "safe"
	TierWarning     Tier = "warning"
	TierMarginCall  Tier = "margin_call"
	TierLiquidation Tier = "liquidation"
)

var hundred = decimal.NewFromInt(100)

// Level is equity over used margin as a percentage. The second return
// is false when used margin is effectively zero, in which case the
// level is undefined and no escalation applies.
func Level(equity, usedMargin decimal.Decimal) (decimal.Decimal, bool) {
	if !usedMargin.GreaterThan(decimal.Zero) {
		return decimal.Zero, false
	}
	return equity.Div(usedMargin).Mul(hundred), true
}

// TierFor maps a defined margin level onto the contest's configured
// thresholds, most severe first.
func TierFor(level decimal.Decimal, t model.MarginThresholds) Tier {
	switch {
	case level.LessThanOrEqual(t.StopOut):
		return TierLiquidation
	case level.LessThanOrEqual(t.MarginCall):
		return TierMarginCall
	case level.LessThanOrEqual(t.Warning):
		return TierWarning
	default:
		return TierSafe
	}
}

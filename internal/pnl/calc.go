// Package pnl holds the pure trade math: unrealized P&L, required
// margin, and order-input validation. No I/O, deterministic.
package pnl

import (
	"errors"
	"fmt"

	"fx-arena/internal/pricing"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

// UnrealizedPnL is the signed USD P&L of an exposure marked at mark.
// Longs gain when the mark rises, shorts when it falls. For USD-base
// pairs the quote-currency delta is converted at the mark.
func UnrealizedPnL(side types.PositionSide, entry, mark, qty decimal.Decimal, inst pricing.Instrument) decimal.Decimal {
	if !entry.GreaterThan(decimal.Zero) || !mark.GreaterThan(decimal.Zero) || !qty.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	delta := mark.Sub(entry)
	if side == types.PositionSideShort {
		delta = entry.Sub(mark)
	}
	pnl := delta.Mul(qty).Mul(inst.ContractSize)
	if !inst.USDQuoted {
		pnl = pnl.Div(mark)
	}
	return pnl
}

// Notional is the USD exposure of qty lots at price.
func Notional(price, qty decimal.Decimal, inst pricing.Instrument) decimal.Decimal {
	if !price.GreaterThan(decimal.Zero) || !qty.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	if inst.USDQuoted {
		return price.Mul(qty).Mul(inst.ContractSize)
	}
	// Base currency is USD, so exposure is the base amount itself.
	return qty.Mul(inst.ContractSize)
}

// MarginRequired is notional divided by leverage.
func MarginRequired(qty, price, leverage decimal.Decimal, inst pricing.Instrument) decimal.Decimal {
	if !leverage.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return Notional(price, qty, inst).Div(leverage)
}

// ValidateQuantity rejects non-positive and out-of-range lot sizes.
func ValidateQuantity(qty decimal.Decimal, inst pricing.Instrument) error {
	if !qty.GreaterThan(decimal.Zero) {
		return errors.New("quantity must be positive")
	}
	if qty.LessThan(inst.MinLot) {
		return fmt.Errorf("quantity %s is below the minimum of %s lots", qty.String(), inst.MinLot.String())
	}
	if qty.GreaterThan(inst.MaxLot) {
		return fmt.Errorf("quantity %s exceeds the maximum of %s lots", qty.String(), inst.MaxLot.String())
	}
	return nil
}

// ValidateStopLossTakeProfit checks SL/TP sit on the correct side of
// the entry price. Nil means unset and is always accepted.
func ValidateStopLossTakeProfit(side types.PositionSide, entry decimal.Decimal, stopLoss, takeProfit *decimal.Decimal) error {
	if stopLoss != nil {
		if !stopLoss.GreaterThan(decimal.Zero) {
			return errors.New("stop loss must be positive")
		}
		if side == types.PositionSideLong && stopLoss.GreaterThanOrEqual(entry) {
			return fmt.Errorf("stop loss %s must be below the entry price %s for a long", stopLoss.String(), entry.String())
		}
		if side == types.PositionSideShort && stopLoss.LessThanOrEqual(entry) {
			return fmt.Errorf("stop loss %s must be above the entry price %s for a short", stopLoss.String(), entry.String())
		}
	}
	if takeProfit != nil {
		if !takeProfit.GreaterThan(decimal.Zero) {
			return errors.New("take profit must be positive")
		}
		if side == types.PositionSideLong && takeProfit.LessThanOrEqual(entry) {
			return fmt.Errorf("take profit %s must be above the entry price %s for a long", takeProfit.String(), entry.String())
		}
		if side == types.PositionSideShort && takeProfit.GreaterThanOrEqual(entry) {
			return fmt.Errorf("take profit %s must be below the entry price %s for a short", takeProfit.String(), entry.String())
		}
	}
	return nil
}

// SlippagePips is executed minus requested in pips (0.0001 for most
// pairs, 0.01 for JPY quotes), signed from the trader's point of view.
func SlippagePips(symbol string, requested, executed decimal.Decimal, side types.OrderSide) decimal.Decimal {
	if !requested.GreaterThan(decimal.Zero) || !executed.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	pip := decimal.NewFromFloat(0.0001)
	if len(symbol) == 6 && symbol[3:] == "JPY" {
		pip = decimal.NewFromFloat(0.01)
	}
	diff := executed.Sub(requested)
	if side == types.OrderSideSell {
		diff = requested.Sub(executed)
	}
	return diff.Div(pip)
}

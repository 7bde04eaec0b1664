package orders

import (
	"fmt"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

var (
	// minLimitDistance keeps limit prices off the touch; maxLimitDistancePct
	// rejects fat-fingered prices far from the market.
	minLimitDistance    = decimal.NewFromFloat(0.0001)
	maxLimitDistancePct = decimal.NewFromInt(10)
)

// ValidateLimitPrice checks a requested limit price against the
// current quote: a buy limit must sit at or below the ask, a sell
// limit at or above the bid, and both within distance bounds.
func ValidateLimitPrice(side types.OrderSide, limitPrice decimal.Decimal, q model.PriceQuote) error {
	if !limitPrice.GreaterThan(decimal.Zero) {
		return fmt.Errorf("limit price must be positive")
	}
	var ref decimal.Decimal
	switch side {
	case types.OrderSideBuy:
		ref = q.Ask
		if limitPrice.GreaterThan(ref) {
			return fmt.Errorf("buy limit %s is above the current ask %s; use a market order to buy now",
				limitPrice.String(), ref.String())
		}
	case types.OrderSideSell:
		ref = q.Bid
		if limitPrice.LessThan(ref) {
			return fmt.Errorf("sell limit %s is below the current bid %s; use a market order to sell now",
				limitPrice.String(), ref.String())
		}
	default:
		return fmt.Errorf("invalid side")
	}
	distance := ref.Sub(limitPrice).Abs()
	if distance.GreaterThan(decimal.Zero) && distance.LessThan(minLimitDistance) {
		return fmt.Errorf("limit price %s is too close to the market price %s (minimum distance %s)",
			limitPrice.String(), ref.String(), minLimitDistance.String())
	}
	maxDistance := ref.Mul(maxLimitDistancePct).Div(decimal.NewFromInt(100))
	if distance.GreaterThan(maxDistance) {
		return fmt.Errorf("limit price %s is more than %s%% away from the market price %s",
			limitPrice.String(), maxLimitDistancePct.String(), ref.String())
	}
	return nil
}

// LimitFillEligible reports whether a pending limit order may fill at
// the current quote: buys when the ask reaches the limit, sells when
// the bid does.
func LimitFillEligible(side types.OrderSide, limitPrice decimal.Decimal, q model.PriceQuote) bool {
	switch side {
	case types.OrderSideBuy:
		return q.Ask.LessThanOrEqual(limitPrice)
	case types.OrderSideSell:
		return q.Bid.GreaterThanOrEqual(limitPrice)
	default:
		return false
	}
}

// executionPrice is the quote side a taker trades at: buys lift the
// ask, sells hit the bid.
func executionPrice(side types.OrderSide, bid, ask decimal.Decimal) decimal.Decimal {
	if side == types.OrderSideSell {
		return bid
	}
	return ask
}

// exitPrice is the quote side that closes an exposure: longs sell at
// the bid, shorts buy back at the ask.
func exitPrice(side types.PositionSide, q model.PriceQuote) decimal.Decimal {
	if side == types.PositionSideShort {
		return q.Ask
	}
	return q.Bid
}

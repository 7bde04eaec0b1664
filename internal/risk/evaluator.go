// Package risk gates new order placement against contest-level limits.
// The checks are advisory for placement only and never close positions.
package risk

import (
	"context"
	"fmt"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/pnl"
	"fx-arena/internal/pricing"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

type PositionSource interface {
	OpenPositions(ctx context.Context, accountID string) ([]model.Position, error)
}

type LedgerSource interface {
	DailyRealizedPnL(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error)
}

type Evaluator struct {
	positions PositionSource
	ledger    LedgerSource
	feed      pricing.Feed
	now       func() time.Time
}

func NewEvaluator(positions PositionSource, ledger LedgerSource, feed pricing.Feed) *Evaluator {
	return &Evaluator{positions: positions, ledger: ledger, feed: feed, now: time.Now}
}

var hundred = decimal.NewFromInt(100)

// Evaluate returns nil when the account may open new trades. Any of
// the three limits can veto with a message naming the breached
// threshold. Disabled limits short-circuit to allowed.
func (e *Evaluator) Evaluate(ctx context.Context, c model.Contest, a model.Account) error {
	if !c.RiskLimits.Enabled {
		return nil
	}
	if err := e.checkMaxDrawdown(c, a); err != nil {
		return err
	}
	if err := e.checkDailyLoss(ctx, c, a); err != nil {
		return err
	}
	if err := e.checkEquityDrawdown(ctx, c, a); err != nil {
		return err
	}
	return nil
}

func (e *Evaluator) checkMaxDrawdown(c model.Contest, a model.Account) error {
	pct := c.RiskLimits.MaxDrawdownPercent
	if !pct.GreaterThan(decimal.Zero) {
		return nil
	}
	floor := drawdownFloor(c.StartingCapital, pct)
	if a.CurrentCapital.LessThanOrEqual(floor) {
		return fmt.Errorf("max drawdown breached: capital %s is at or below the %s%% floor of %s",
			a.CurrentCapital.String(), pct.String(), floor.String())
	}
	return nil
}

// checkDailyLoss recomputes realized losses since 00:00 UTC on every
// call; there is no explicit unblock, the query result simply shrinks
// once the day rolls over.
func (e *Evaluator) checkDailyLoss(ctx context.Context, c model.Contest, a model.Account) error {
	pct := c.RiskLimits.DailyLossLimitPercent
	if !pct.GreaterThan(decimal.Zero) {
		return nil
	}
	midnight := e.now().UTC().Truncate(24 * time.Hour)
	realized, err := e.ledger.DailyRealizedPnL(ctx, a.ID, midnight)
	if err != nil {
		return fmt.Errorf("evaluate daily loss limit: %w", err)
	}
	if !realized.IsNegative() {
		return nil
	}
	limit := c.StartingCapital.Mul(pct).Div(hundred)
	if realized.Neg().GreaterThanOrEqual(limit) {
		return fmt.Errorf("daily loss limit breached: %s lost today against a limit of %s; trading resumes at 00:00 UTC",
			realized.Neg().String(), limit.String())
	}
	return nil
}

// checkEquityDrawdown marks all open positions with one batched quote
// fetch and blocks when floating losses drag equity under the floor.
// This stops an account from parking unrealized losses to dodge the
// realized-loss checks.
func (e *Evaluator) checkEquityDrawdown(ctx context.Context, c model.Contest, a model.Account) error {
	if !c.RiskLimits.EquityCheckEnabled {
		return nil
	}
	pct := c.RiskLimits.EquityDrawdownPercent
	if !pct.GreaterThan(decimal.Zero) {
		return nil
	}
	positions, err := e.positions.OpenPositions(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("evaluate equity drawdown: %w", err)
	}
	equity, err := EquityFor(ctx, e.feed, a.CurrentCapital, positions)
	if err != nil {
		return fmt.Errorf("evaluate equity drawdown: %w", err)
	}
	floor := drawdownFloor(c.StartingCapital, pct)
	if equity.LessThanOrEqual(floor) {
		return fmt.Errorf("equity drawdown breached: equity %s is at or below the %s%% floor of %s",
			equity.String(), pct.String(), floor.String())
	}
	return nil
}

func drawdownFloor(starting, pct decimal.Decimal) decimal.Decimal {
	return starting.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
}

// EquityFor computes balance plus total unrealized P&L over the given
// open positions, pricing every position from one batched snapshot.
// Positions whose symbol has no servable quote contribute zero.
func EquityFor(ctx context.Context, feed pricing.Feed, balance decimal.Decimal, positions []model.Position) (decimal.Decimal, error) {
	if len(positions) == 0 {
		return balance, nil
	}
	quotes, err := feed.GetPrices(ctx, distinctSymbols(positions))
	if err != nil {
		return decimal.Zero, err
	}
	equity := balance
	for _, p := range positions {
		q, ok := quotes[p.Symbol]
		if !ok {
			continue
		}
		inst, ok := pricing.LookupInstrument(p.Symbol)
		if !ok {
			continue
		}
		mark := q.Bid
		if p.Side == types.PositionSideShort {
			mark = q.Ask
		}
		equity = equity.Add(pnl.UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Qty, inst))
	}
	return equity, nil
}

func distinctSymbols(positions []model.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p.Symbol)
	}
	return out
}

package margin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fx-arena/internal/metrics"
	"fx-arena/internal/model"
	"fx-arena/internal/notify"
	"fx-arena/internal/pnl"
	"fx-arena/internal/pricing"
	"fx-arena/internal/risk"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

// AccountSource is the account/contest slice the monitor reads and the
// liquidation status write. Satisfied by *contest.Store.
type AccountSource interface {
	GetAccountByID(ctx context.Context, accountID string) (model.Account, error)
	GetAccount(ctx context.Context, userID, contestID string) (model.Account, error)
	GetContest(ctx context.Context, contestID string) (model.Contest, error)
	SetAccountStatus(ctx context.Context, accountID string, status types.AccountStatus) error
}

// PositionCloser is the closing path shared with order execution.
// Each call is one atomic close; the monitor never wraps several
// closes in a single transaction.
type PositionCloser interface {
	ClosePosition(ctx context.Context, userID, positionID string, reason types.CloseReason) (model.Position, error)
}

type CheckResult struct {
	Liquidated      bool            `json:"liquidated"`
	MarginLevel     decimal.Decimal `json:"margin_level"`
	MarginDefined   bool            `json:"margin_defined"`
	Tier            Tier            `json:"tier"`
	Equity          decimal.Decimal `json:"equity"`
	PositionsClosed int             `json:"positions_closed"`
	Skipped         bool            `json:"skipped"`
}

// Monitor recomputes equity and margin level per account and walks the
// safe -> warning -> margin call -> liquidation escalation.
type Monitor struct {
	contests  AccountSource
	positions risk.PositionSource
	feed      pricing.Feed
	closer    PositionCloser
	notifier  notify.Notifier
	throttle  Throttle
	log       *slog.Logger

	mu       sync.Mutex
	lastTier map[string]Tier
}

func NewMonitor(contests AccountSource, positions risk.PositionSource, feed pricing.Feed,
	closer PositionCloser, notifier notify.Notifier, throttle Throttle, log *slog.Logger) *Monitor {
	return &Monitor{
		contests:  contests,
		positions: positions,
		feed:      feed,
		closer:    closer,
		notifier:  notifier,
		throttle:  throttle,
		log:       log,
		lastTier:  make(map[string]Tier),
	}
}

// CheckMargin evaluates one account. Calls landing inside the throttle
// window are skipped, not queued. Liquidation force-closes every open
// position one at a time; a failed close is left for the next check
// rather than blocking the rest.
func (m *Monitor) CheckMargin(ctx context.Context, accountID string) (CheckResult, error) {
	if !m.throttle.Allow(ctx, accountID) {
		return CheckResult{Skipped: true}, nil
	}

	account, err := m.contests.GetAccountByID(ctx, accountID)
	if err != nil {
		return CheckResult{}, err
	}
	c, err := m.contests.GetContest(ctx, account.ContestID)
	if err != nil {
		return CheckResult{}, err
	}
	positions, err := m.positions.OpenPositions(ctx, accountID)
	if err != nil {
		return CheckResult{}, err
	}

	equity, err := risk.EquityFor(ctx, m.feed, account.CurrentCapital, positions)
	if err != nil {
		return CheckResult{}, fmt.Errorf("margin check price fetch: %w", err)
	}

	level, defined := Level(equity, account.UsedMargin)
	if !defined || len(positions) == 0 {
		m.setTier(accountID, TierSafe)
		metrics.MarginChecks.WithLabelValues(string(TierSafe)).Inc()
		return CheckResult{MarginDefined: false, Tier: TierSafe, Equity: equity}, nil
	}

	tier := TierFor(level, c.MarginThresholds)
	metrics.MarginChecks.WithLabelValues(string(tier)).Inc()
	res := CheckResult{MarginLevel: level, MarginDefined: true, Tier: tier, Equity: equity}

	switch tier {
	case TierWarning:
		if m.setTier(accountID, tier) {
			if err := m.notifier.MarginWarning(ctx, account.UserID, level); err != nil {
				m.log.Warn("margin warning notification failed", "account", accountID, "err", err)
			}
		}
	case TierMarginCall:
		if m.setTier(accountID, tier) {
			if err := m.notifier.MarginCall(ctx, account.UserID, level); err != nil {
				m.log.Warn("margin call notification failed", "account", accountID, "err", err)
			}
		}
	case TierLiquidation:
		m.setTier(accountID, tier)
		closed := m.liquidate(ctx, account, c, positions, level)
		res.PositionsClosed = closed
		res.Liquidated = closed > 0
	default:
		m.setTier(accountID, TierSafe)
	}
	return res, nil
}

// Status reports equity, margin level and tier for a user's contest
// account without escalating. Read-only; the background loop owns
// notifications and liquidation.
func (m *Monitor) Status(ctx context.Context, userID, contestID string) (CheckResult, error) {
	account, err := m.contests.GetAccount(ctx, userID, contestID)
	if err != nil {
		return CheckResult{}, err
	}
	c, err := m.contests.GetContest(ctx, contestID)
	if err != nil {
		return CheckResult{}, err
	}
	positions, err := m.positions.OpenPositions(ctx, account.ID)
	if err != nil {
		return CheckResult{}, err
	}
	equity, err := risk.EquityFor(ctx, m.feed, account.CurrentCapital, positions)
	if err != nil {
		return CheckResult{}, fmt.Errorf("margin status price fetch: %w", err)
	}
	level, defined := Level(equity, account.UsedMargin)
	if !defined || len(positions) == 0 {
		return CheckResult{MarginDefined: false, Tier: TierSafe, Equity: equity}, nil
	}
	return CheckResult{
		MarginLevel:   level,
		MarginDefined: true,
		Tier:          TierFor(level, c.MarginThresholds),
		Equity:        equity,
	}, nil
}

// liquidate force-closes the account's open positions, worst
// unrealized loss first, each in its own transaction. Partial
// completion is tolerated; the next margin check retries the rest.
func (m *Monitor) liquidate(ctx context.Context, account model.Account, c model.Contest,
	positions []model.Position, level decimal.Decimal) int {
	m.log.Warn("liquidation triggered",
		"account", account.ID, "user", account.UserID,
		"margin_level", level.String(), "open_positions", len(positions))

	ordered := orderByLoss(ctx, m.feed, positions)
	closed := 0
	for _, p := range ordered {
		if _, err := m.closer.ClosePosition(ctx, "", p.ID, types.CloseReasonMarginCall); err != nil {
			m.log.Error("liquidation close failed", "position", p.ID, "err", err)
			continue
		}
		closed++
	}

	if closed > 0 {
		metrics.Liquidations.Inc()
		if c.DisqualifyOnLiquidation {
			if err := m.contests.SetAccountStatus(ctx, account.ID, types.AccountStatusLiquidated); err != nil {
				m.log.Error("failed to flag account liquidated", "account", account.ID, "err", err)
			}
		}
		if err := m.notifier.Liquidation(ctx, account.UserID, closed); err != nil {
			m.log.Warn("liquidation notification failed", "account", account.ID, "err", err)
		}
	}
	return closed
}

// setTier records the account's tier and reports whether it changed,
// so warning/margin-call notifications fire once per transition.
func (m *Monitor) setTier(accountID string, tier Tier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastTier[accountID] == tier {
		return false
	}
	m.lastTier[accountID] = tier
	return true
}

// orderByLoss sorts positions by unrealized P&L ascending against one
// price snapshot. Unpriceable positions go last.
func orderByLoss(ctx context.Context, feed pricing.Feed, positions []model.Position) []model.Position {
	symbols := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; !ok {
			seen[p.Symbol] = struct{}{}
			symbols = append(symbols, p.Symbol)
		}
	}
	quotes, err := feed.GetPrices(ctx, symbols)
	if err != nil {
		return positions
	}
	type scored struct {
		pos    model.Position
		pnl    decimal.Decimal
		priced bool
	}
	items := make([]scored, 0, len(positions))
	for _, p := range positions {
		item := scored{pos: p}
		if q, ok := quotes[p.Symbol]; ok {
			if inst, ok := pricing.LookupInstrument(p.Symbol); ok {
				mark := q.Bid
				if p.Side == types.PositionSideShort {
					mark = q.Ask
				}
				item.pnl = pnl.UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Qty, inst)
				item.priced = true
			}
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priced != items[j].priced {
			return items[i].priced
		}
		return items[i].pnl.LessThan(items[j].pnl)
	})
	out := make([]model.Position, len(items))
	for i, item := range items {
		out[i] = item.pos
	}
	return out
}

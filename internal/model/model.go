package model

import (
	"time"

	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AccountID      string            `json:"account_id"`
	ContestID      string            `json:"contest_id"`
	Symbol         string            `json:"symbol"`
	Side           types.OrderSide   `json:"side"`
	Type           types.OrderType   `json:"type"`
	Status         types.OrderStatus `json:"status"`
	Qty            decimal.Decimal   `json:"qty"`
	RequestedPrice *decimal.Decimal  `json:"requested_price,omitempty"`
	ExecutedPrice  *decimal.Decimal  `json:"executed_price,omitempty"`
	Leverage       decimal.Decimal   `json:"leverage"`
	MarginRequired decimal.Decimal   `json:"margin_required"`
	StopLoss       *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfit     *decimal.Decimal  `json:"take_profit,omitempty"`
	PositionID     *string           `json:"position_id,omitempty"`
	RejectReason   string            `json:"reject_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type Position struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	AccountID   string               `json:"account_id"`
	ContestID   string               `json:"contest_id"`
	OrderID     string               `json:"order_id"`
	Symbol      string               `json:"symbol"`
	Side        types.PositionSide   `json:"side"`
	Qty         decimal.Decimal      `json:"qty"`
	EntryPrice  decimal.Decimal      `json:"entry_price"`
	Leverage    decimal.Decimal      `json:"leverage"`
	MarginUsed  decimal.Decimal      `json:"margin_used"`
	StopLoss    *decimal.Decimal     `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal     `json:"take_profit,omitempty"`
	Status      types.PositionStatus `json:"status"`
	CloseReason types.CloseReason    `json:"close_reason,omitempty"`
	ClosePrice  *decimal.Decimal     `json:"close_price,omitempty"`
	RealizedPnL *decimal.Decimal     `json:"realized_pnl,omitempty"`
	OpenedAt    time.Time            `json:"opened_at"`
	ClosedAt    *time.Time           `json:"closed_at,omitempty"`
}

// Account is one participant in one contest. AvailableCapital plus
// UsedMargin must equal CurrentCapital after every mutation.
type Account struct {
	ID                   string              `json:"id"`
	UserID               string              `json:"user_id"`
	ContestID            string              `json:"contest_id"`
	CurrentCapital       decimal.Decimal     `json:"current_capital"`
	AvailableCapital     decimal.Decimal     `json:"available_capital"`
	UsedMargin           decimal.Decimal     `json:"used_margin"`
	CurrentOpenPositions int                 `json:"current_open_positions"`
	TotalTrades          int                 `json:"total_trades"`
	Status               types.AccountStatus `json:"status"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

type RiskLimits struct {
	Enabled               bool            `json:"enabled"`
	MaxDrawdownPercent    decimal.Decimal `json:"max_drawdown_percent"`
	DailyLossLimitPercent decimal.Decimal `json:"daily_loss_limit_percent"`
	EquityDrawdownPercent decimal.Decimal `json:"equity_drawdown_percent"`
	EquityCheckEnabled    bool            `json:"equity_check_enabled"`
}

// MarginThresholds are margin-level percentages ordered stop-out <
// margin-call < warning. Admin-configured per contest, never hardcoded
// by the monitor.
type MarginThresholds struct {
	Warning    decimal.Decimal `json:"warning"`
	MarginCall decimal.Decimal `json:"margin_call"`
	StopOut    decimal.Decimal `json:"stop_out"`
}

// Contest is the shared shape of both contest kinds. Kind is the
// dispatch tag: challenge-only fields (DisqualifyOnLiquidation, the
// equity drawdown check) stay zero-valued for competitions.
type Contest struct {
	ID                      string              `json:"id"`
	Kind                    types.ContestKind   `json:"kind"`
	Name                    string              `json:"name"`
	StartingCapital         decimal.Decimal     `json:"starting_capital"`
	MaxLeverage             decimal.Decimal     `json:"max_leverage"`
	MaxOpenPositions        int                 `json:"max_open_positions"`
	Status                  types.ContestStatus `json:"status"`
	RiskLimits              RiskLimits          `json:"risk_limits"`
	MarginThresholds        MarginThresholds    `json:"margin_thresholds"`
	DisqualifyOnLiquidation bool                `json:"disqualify_on_liquidation"`
	StartsAt                time.Time           `json:"starts_at"`
	EndsAt                  time.Time           `json:"ends_at"`
}

type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Spread    decimal.Decimal `json:"spread"`
	Timestamp time.Time       `json:"timestamp"`
}

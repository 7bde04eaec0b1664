package types

type OrderSide string

type OrderType string

type OrderStatus string

type PositionSide string

type PositionStatus string

type CloseReason string

type AccountStatus string

type ContestStatus string

type ContestKind string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonMarginCall CloseReason = "margin_call"
	CloseReasonContestEnd CloseReason = "contest_end"
)

const (
	AccountStatusActive       AccountStatus = "active"
	AccountStatusLiquidated   AccountStatus = "liquidated"
	AccountStatusDisqualified AccountStatus = "disqualified"
)

const (
	ContestStatusUpcoming  ContestStatus = "upcoming"
	ContestStatusActive    ContestStatus = "active"
	ContestStatusCompleted ContestStatus = "completed"
)

const (
	ContestKindCompetition ContestKind = "competition"
	ContestKindChallenge   ContestKind = "challenge"
)

// PositionSideForOrder maps an order side to the resulting exposure.
func PositionSideForOrder(side OrderSide) PositionSide {
	if side == OrderSideSell {
		return PositionSideShort
	}
	return PositionSideLong
}

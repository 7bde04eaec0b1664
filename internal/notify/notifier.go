// Package notify delivers trading events to the account holder.
// Delivery is fire-and-forget: callers log failures and move on, a
// broken notifier must never block or roll back a trade.
package notify

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

type Notifier interface {
	OrderFilled(ctx context.Context, userID, symbol string, side string, qty, price decimal.Decimal) error
	MarginWarning(ctx context.Context, userID string, marginLevel decimal.Decimal) error
	MarginCall(ctx context.Context, userID string, marginLevel decimal.Decimal) error
	Liquidation(ctx context.Context, userID string, positionsClosed int) error
}

// LogNotifier writes notifications to the structured log. Production
// deployments swap in a push/telegram adapter behind the same
// interface.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) OrderFilled(_ context.Context, userID, symbol, side string, qty, price decimal.Decimal) error {
	n.log.Info("order filled", "user", userID, "symbol", symbol, "side", side, "qty", qty.String(), "price", price.String())
	return nil
}

func (n *LogNotifier) MarginWarning(_ context.Context, userID string, marginLevel decimal.Decimal) error {
	n.log.Warn("margin warning", "user", userID, "margin_level", marginLevel.String())
	return nil
}

func (n *LogNotifier) MarginCall(_ context.Context, userID string, marginLevel decimal.Decimal) error {
	n.log.Warn("margin call", "user", userID, "margin_level", marginLevel.String())
	return nil
}

func (n *LogNotifier) Liquidation(_ context.Context, userID string, positionsClosed int) error {
	n.log.Warn("liquidation", "user", userID, "positions_closed", positionsClosed)
	return nil
}

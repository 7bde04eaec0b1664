// Package audit keeps the append-only execution record: requested vs
// executed price per trade, for later slippage reconciliation.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Entry struct {
	OrderID        string
	AccountID      string
	Symbol         string
	RequestedPrice decimal.Decimal
	ExecutedPrice  decimal.Decimal
	SlippagePips   decimal.Decimal
}

type Log struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewLog(pool *pgxpool.Pool, log *slog.Logger) *Log {
	return &Log{pool: pool, log: log}
}

// Record appends one execution entry. Best-effort: failures are
// logged, never returned, so a dead audit table cannot block trading.
func (l *Log) Record(ctx context.Context, e Entry) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO trade_audit (order_id, account_id, symbol, requested_price, executed_price, slippage_pips, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.OrderID, e.AccountID, e.Symbol, e.RequestedPrice, e.ExecutedPrice, e.SlippagePips, time.Now().UTC())
	if err != nil {
		l.log.Error("audit write failed", "order", e.OrderID, "err", err)
	}
}

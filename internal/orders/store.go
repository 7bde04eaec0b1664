package orders

import (
	"context"
	"errors"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store owns the orders and positions tables. Writes take the caller's
// transaction so order, position and account mutations commit together.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const orderColumns = `id, user_id, account_id, contest_id, symbol, side, type, status, qty,
	requested_price, executed_price, leverage, margin_required, stop_loss, take_profit,
	position_id, reject_reason, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, tx pgx.Tx, o model.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, account_id, contest_id, symbol, side, type, status, qty,
			requested_price, executed_price, leverage, margin_required, stop_loss, take_profit,
			position_id, reject_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, o.ID, o.UserID, o.AccountID, o.ContestID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		o.Qty, o.RequestedPrice, o.ExecutedPrice, o.Leverage, o.MarginRequired, o.StopLoss, o.TakeProfit,
		o.PositionID, o.RejectReason, o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

func (s *Store) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	return scanOrder(row)
}

func (s *Store) ListUserOrders(ctx context.Context, userID, contestID string, before *time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		  AND ($2 = '' OR contest_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, userID, contestID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListPendingLimitOrders returns the sweep working set, oldest first so
// earlier orders get first claim on remaining capital.
func (s *Store) ListPendingLimitOrders(ctx context.Context, contestID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE contest_id = $1 AND type = 'limit' AND status = 'pending'
		ORDER BY created_at ASC
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// CancelPendingOrder flips a pending order to cancelled. No margin is
// reserved for pending orders, so no balance reconciliation happens
// here. Returns false when the order was not pending (or not owned).
func (s *Store) CancelPendingOrder(ctx context.Context, orderID, userID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', reject_reason = $1, updated_at = $2
		WHERE id = $3 AND ($4 = '' OR user_id = $4) AND status = 'pending'
	`, reason, time.Now().UTC(), orderID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkOrderFilled(ctx context.Context, tx pgx.Tx, orderID string, executedPrice decimal.Decimal, positionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'filled', executed_price = $1, position_id = $2, updated_at = $3
		WHERE id = $4
	`, executedPrice, positionID, time.Now().UTC(), orderID)
	return err
}

func (s *Store) MarkOrderCancelled(ctx context.Context, tx pgx.Tx, orderID, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', reject_reason = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'
	`, reason, time.Now().UTC(), orderID)
	return err
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var side, typ, status string
	err := row.Scan(
		&o.ID, &o.UserID, &o.AccountID, &o.ContestID, &o.Symbol, &side, &typ, &status, &o.Qty,
		&o.RequestedPrice, &o.ExecutedPrice, &o.Leverage, &o.MarginRequired, &o.StopLoss, &o.TakeProfit,
		&o.PositionID, &o.RejectReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, errors.New("order not found")
		}
		return o, err
	}
	o.Side = types.OrderSide(side)
	o.Type = types.OrderType(typ)
	o.Status = types.OrderStatus(status)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const positionColumns = `id, user_id, account_id, contest_id, order_id, symbol, side, qty,
	entry_price, leverage, margin_used, stop_loss, take_profit, status, close_reason,
	close_price, realized_pnl, opened_at, closed_at`

func (s *Store) CreatePosition(ctx context.Context, tx pgx.Tx, p model.Position) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO positions (id, user_id, account_id, contest_id, order_id, symbol, side, qty,
			entry_price, leverage, margin_used, stop_loss, take_profit, status, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, p.ID, p.UserID, p.AccountID, p.ContestID, p.OrderID, p.Symbol, string(p.Side), p.Qty,
		p.EntryPrice, p.Leverage, p.MarginUsed, p.StopLoss, p.TakeProfit, string(p.Status), p.OpenedAt)
	return err
}

func (s *Store) GetPositionByID(ctx context.Context, positionID string) (model.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, positionID)
	return scanPosition(row)
}

func (s *Store) GetPositionForUpdate(ctx context.Context, tx pgx.Tx, positionID string) (model.Position, error) {
	row := tx.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1 FOR UPDATE`, positionID)
	return scanPosition(row)
}

// OpenPositions lists an account's open exposure, oldest first.
// Satisfies risk.PositionSource.
func (s *Store) OpenPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE account_id = $1 AND status = 'open'
		ORDER BY opened_at ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

func (s *Store) OpenPositionsByContest(ctx context.Context, contestID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE contest_id = $1 AND status = 'open'
		ORDER BY opened_at ASC
	`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPositions(rows)
}

// MarkPositionClosed writes the terminal state. The WHERE guard makes
// closing idempotent under concurrent sweeps: only one caller wins.
func (s *Store) MarkPositionClosed(ctx context.Context, tx pgx.Tx, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE positions
		SET status = 'closed', close_reason = $1, close_price = $2, realized_pnl = $3, closed_at = $4
		WHERE id = $5 AND status = 'open'
	`, string(reason), closePrice, realizedPnL, time.Now().UTC(), positionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status string
	var reason *string
	err := row.Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.ContestID, &p.OrderID, &p.Symbol, &side, &p.Qty,
		&p.EntryPrice, &p.Leverage, &p.MarginUsed, &p.StopLoss, &p.TakeProfit, &status, &reason,
		&p.ClosePrice, &p.RealizedPnL, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, errors.New("position not found")
		}
		return p, err
	}
	p.Side = types.PositionSide(side)
	p.Status = types.PositionStatus(status)
	if reason != nil {
		p.CloseReason = types.CloseReason(*reason)
	}
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package contest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Fallbacks when a contest row carries no explicit thresholds.
var defaultThresholds = model.MarginThresholds{
	Warning:    decimal.NewFromInt(150),
	MarginCall: decimal.NewFromInt(100),
	StopOut:    decimal.NewFromInt(50),
}

const contestColumns = `id, kind, name, starting_capital, max_leverage, max_open_positions, status,
	risk_enabled, max_drawdown_pct, daily_loss_limit_pct, equity_drawdown_pct, equity_check_enabled,
	margin_warning_pct, margin_call_pct, stop_out_pct, disqualify_on_liquidation, starts_at, ends_at`

func (s *Store) GetContest(ctx context.Context, contestID string) (model.Contest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1`, contestID)
	return scanContest(row)
}

func (s *Store) ListActiveContests(ctx context.Context) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+contestColumns+` FROM contests WHERE status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContest(row pgx.Row) (model.Contest, error) {
	var c model.Contest
	var kind, status string
	err := row.Scan(
		&c.ID, &kind, &c.Name, &c.StartingCapital, &c.MaxLeverage, &c.MaxOpenPositions, &status,
		&c.RiskLimits.Enabled, &c.RiskLimits.MaxDrawdownPercent, &c.RiskLimits.DailyLossLimitPercent,
		&c.RiskLimits.EquityDrawdownPercent, &c.RiskLimits.EquityCheckEnabled,
		&c.MarginThresholds.Warning, &c.MarginThresholds.MarginCall, &c.MarginThresholds.StopOut,
		&c.DisqualifyOnLiquidation, &c.StartsAt, &c.EndsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, errors.New("contest not found")
		}
		return c, err
	}
	c.Kind = types.ContestKind(kind)
	c.Status = types.ContestStatus(status)
	if !c.MarginThresholds.Warning.GreaterThan(decimal.Zero) {
		c.MarginThresholds.Warning = defaultThresholds.Warning
	}
	if !c.MarginThresholds.MarginCall.GreaterThan(decimal.Zero) {
		c.MarginThresholds.MarginCall = defaultThresholds.MarginCall
	}
	if !c.MarginThresholds.StopOut.GreaterThan(decimal.Zero) {
		c.MarginThresholds.StopOut = defaultThresholds.StopOut
	}
	return c, nil
}

const accountColumns = `id, user_id, contest_id, current_capital, available_capital, used_margin,
	current_open_positions, total_trades, status, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, userID, contestID string) (model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND contest_id = $2`, userID, contestID)
	return scanAccount(row)
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// GetAccountForUpdate row-locks the account inside the caller's
// transaction. Every balance mutation goes through this lock.
func (s *Store) GetAccountForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (model.Account, error) {
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var status string
	err := row.Scan(
		&a.ID, &a.UserID, &a.ContestID, &a.CurrentCapital, &a.AvailableCapital, &a.UsedMargin,
		&a.CurrentOpenPositions, &a.TotalTrades, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, errors.New("account not found")
		}
		return a, err
	}
	a.Status = types.AccountStatus(status)
	return a, nil
}

// ApplyOpen reserves margin for a freshly opened position:
// available capital down, used margin up, counters up.
func (s *Store) ApplyOpen(ctx context.Context, tx pgx.Tx, accountID string, margin decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET available_capital = available_capital - $1,
		    used_margin = used_margin + $1,
		    current_open_positions = current_open_positions + 1,
		    total_trades = total_trades + 1,
		    updated_at = $2
		WHERE id = $3 AND available_capital >= $1
	`, margin, time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("insufficient available capital")
	}
	return nil
}

// ApplyClose releases the position's margin and settles realized P&L
// into the balance, keeping available + used == current.
func (s *Store) ApplyClose(ctx context.Context, tx pgx.Tx, accountID string, margin, realizedPnL decimal.Decimal) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET current_capital = current_capital + $1,
		    available_capital = available_capital + $2 + $1,
		    used_margin = used_margin - $2,
		    current_open_positions = current_open_positions - 1,
		    updated_at = $3
		WHERE id = $4 AND current_open_positions > 0
	`, realizedPnL, margin, time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("account has no open positions to close")
	}
	return nil
}

func (s *Store) SetAccountStatus(ctx context.Context, accountID string, status types.AccountStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), accountID)
	return err
}

// DailyRealizedPnL sums realized P&L of positions closed since the
// given instant (callers pass 00:00 UTC of the current day).
func (s *Store) DailyRealizedPnL(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM positions
		WHERE account_id = $1 AND status = 'closed' AND closed_at >= $2
	`, accountID, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query daily realized pnl: %w", err)
	}
	return sum, nil
}

// ListAccountIDs returns all participant account IDs for a contest,
// optionally only those with open positions.
func (s *Store) ListAccountIDs(ctx context.Context, contestID string, onlyWithOpenPositions bool) ([]string, error) {
	query := `SELECT id FROM accounts WHERE contest_id = $1`
	if onlyWithOpenPositions {
		query += ` AND current_open_positions > 0`
	}
	rows, err := s.pool.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

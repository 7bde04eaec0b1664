package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fx-arena/internal/audit"
	"fx-arena/internal/contest"
	"fx-arena/internal/metrics"
	"fx-arena/internal/model"
	"fx-arena/internal/notify"
	"fx-arena/internal/pnl"
	"fx-arena/internal/pricing"
	"fx-arena/internal/restrict"
	"fx-arena/internal/risk"
	"fx-arena/internal/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// txStarter begins the Serializable transactions the service owns.
// Satisfied by *pgxpool.Pool.
type txStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// orderStore is the persistence surface the service drives, narrowed
// to an interface so tests can run the full pipeline against an
// in-memory implementation.
type orderStore interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, o model.Order) error
	GetOrderByID(ctx context.Context, orderID string) (model.Order, error)
	GetOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (model.Order, error)
	ListUserOrders(ctx context.Context, userID, contestID string, before *time.Time, limit int) ([]model.Order, error)
	ListPendingLimitOrders(ctx context.Context, contestID string) ([]model.Order, error)
	CancelPendingOrder(ctx context.Context, orderID, userID, reason string) (bool, error)
	MarkOrderFilled(ctx context.Context, tx pgx.Tx, orderID string, executedPrice decimal.Decimal, positionID string) error
	MarkOrderCancelled(ctx context.Context, tx pgx.Tx, orderID, reason string) error
	CreatePosition(ctx context.Context, tx pgx.Tx, p model.Position) error
	GetPositionByID(ctx context.Context, positionID string) (model.Position, error)
	GetPositionForUpdate(ctx context.Context, tx pgx.Tx, positionID string) (model.Position, error)
	OpenPositions(ctx context.Context, accountID string) ([]model.Position, error)
	OpenPositionsByContest(ctx context.Context, contestID string) ([]model.Position, error)
	MarkPositionClosed(ctx context.Context, tx pgx.Tx, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason) (bool, error)
}

// accountStore is the contest/account slice the service needs.
type accountStore interface {
	GetContest(ctx context.Context, contestID string) (model.Contest, error)
	GetAccount(ctx context.Context, userID, contestID string) (model.Account, error)
	GetAccountForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (model.Account, error)
	ApplyOpen(ctx context.Context, tx pgx.Tx, accountID string, margin decimal.Decimal) error
	ApplyClose(ctx context.Context, tx pgx.Tx, accountID string, margin, realizedPnL decimal.Decimal) error
}

type auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Service validates and executes orders. All multi-record mutation
// (order + position + account) runs inside one Serializable
// transaction; nothing is visible until commit.
type Service struct {
	pool              txStarter
	store             orderStore
	contests          accountStore
	feed              pricing.Feed
	risk              *risk.Evaluator
	restrict          restrict.Checker
	notifier          notify.Notifier
	audit             auditor
	log               *slog.Logger
	lockedQuoteMaxAge time.Duration
	now               func() time.Time
}

func NewService(pool *pgxpool.Pool, store *Store, contests *contest.Store, feed pricing.Feed,
	riskEval *risk.Evaluator, restrictChecker restrict.Checker, notifier notify.Notifier,
	auditLog *audit.Log, log *slog.Logger, lockedQuoteMaxAge time.Duration) *Service {
	if lockedQuoteMaxAge <= 0 {
		lockedQuoteMaxAge = pricing.DefaultLockedQuoteMaxAge
	}
	return &Service{
		pool:              pool,
		store:             store,
		contests:          contests,
		feed:              feed,
		risk:              riskEval,
		restrict:          restrictChecker,
		notifier:          notifier,
		audit:             auditLog,
		log:               log,
		lockedQuoteMaxAge: lockedQuoteMaxAge,
		now:               time.Now,
	}
}

type PlaceOrderRequest struct {
	UserID         string
	ContestID      string
	Symbol         string
	Side           types.OrderSide
	Type           types.OrderType
	Qty            decimal.Decimal
	RequestedPrice *decimal.Decimal
	Leverage       decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	// LockedQuote, when present and fresh, is trusted for market
	// execution instead of refetching.
	LockedQuote *pricing.LockedQuote
}

// PlaceOrder runs the full placement pipeline. Market orders fill
// immediately and open a position; limit orders are stored pending
// with no margin reserved until execution.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (model.Order, error) {
	if req.UserID == "" || req.ContestID == "" || req.Symbol == "" {
		return model.Order{}, errors.New("missing user, contest or symbol")
	}
	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return model.Order{}, errors.New("invalid side")
	}
	if req.Type != types.OrderTypeMarket && req.Type != types.OrderTypeLimit {
		return model.Order{}, errors.New("invalid order type")
	}

	// Market hours gate every order-affecting action, before anything else.
	if !s.feed.IsMarketOpen() {
		metrics.OrdersRejected.WithLabelValues("market_closed").Inc()
		return model.Order{}, errors.New(s.feed.MarketStatusMessage())
	}
	if err := s.restrict.CanTrade(ctx, req.UserID); err != nil {
		metrics.OrdersRejected.WithLabelValues("restricted").Inc()
		return model.Order{}, err
	}

	c, err := s.contests.GetContest(ctx, req.ContestID)
	if err != nil {
		return model.Order{}, err
	}
	if c.Status != types.ContestStatusActive {
		return model.Order{}, fmt.Errorf("contest is %s, not active", c.Status)
	}
	account, err := s.contests.GetAccount(ctx, req.UserID, req.ContestID)
	if err != nil {
		return model.Order{}, err
	}
	if account.Status != types.AccountStatusActive {
		return model.Order{}, fmt.Errorf("account is %s and can no longer trade", account.Status)
	}

	if err := s.risk.Evaluate(ctx, c, account); err != nil {
		metrics.OrdersRejected.WithLabelValues("risk_limit").Inc()
		return model.Order{}, err
	}

	inst, ok := pricing.LookupInstrument(req.Symbol)
	if !ok {
		return model.Order{}, fmt.Errorf("symbol %s is not tradable", req.Symbol)
	}
	if err := pnl.ValidateQuantity(req.Qty, inst); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return model.Order{}, err
	}

	bid, ask, err := s.resolveQuote(ctx, req)
	if err != nil {
		return model.Order{}, err
	}

	var entryPrice decimal.Decimal
	if req.Type == types.OrderTypeLimit {
		if req.RequestedPrice == nil {
			return model.Order{}, errors.New("price required for limit order")
		}
		quote := model.PriceQuote{Symbol: req.Symbol, Bid: bid, Ask: ask}
		if err := ValidateLimitPrice(req.Side, *req.RequestedPrice, quote); err != nil {
			metrics.OrdersRejected.WithLabelValues("validation").Inc()
			return model.Order{}, err
		}
		entryPrice = *req.RequestedPrice
	} else {
		if req.RequestedPrice != nil {
			return model.Order{}, errors.New("price not allowed for market order")
		}
		entryPrice = executionPrice(req.Side, bid, ask)
	}

	leverage := clampLeverage(req.Leverage, c.MaxLeverage)
	if err := pnl.ValidateStopLossTakeProfit(types.PositionSideForOrder(req.Side), entryPrice, req.StopLoss, req.TakeProfit); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return model.Order{}, err
	}

	margin := pnl.MarginRequired(req.Qty, entryPrice, leverage, inst)
	if !margin.GreaterThan(decimal.Zero) {
		return model.Order{}, errors.New("invalid order size")
	}
	if margin.GreaterThan(account.AvailableCapital) {
		metrics.OrdersRejected.WithLabelValues("insufficient_capital").Inc()
		return model.Order{}, fmt.Errorf("insufficient available capital: need %s, have %s",
			margin.String(), account.AvailableCapital.String())
	}
	if account.CurrentOpenPositions >= c.MaxOpenPositions {
		metrics.OrdersRejected.WithLabelValues("max_positions").Inc()
		return model.Order{}, fmt.Errorf("max open positions reached (%d)", c.MaxOpenPositions)
	}

	nowUTC := s.now().UTC()
	order := model.Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		AccountID:      account.ID,
		ContestID:      req.ContestID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Qty:            req.Qty,
		RequestedPrice: req.RequestedPrice,
		Leverage:       leverage,
		MarginRequired: margin,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		CreatedAt:      nowUTC,
		UpdatedAt:      nowUTC,
	}

	if req.Type == types.OrderTypeLimit {
		order.Status = types.OrderStatusPending
		if err := s.insertPendingOrder(ctx, order); err != nil {
			return model.Order{}, err
		}
		metrics.OrdersPlaced.WithLabelValues(string(order.Type), string(order.Side)).Inc()
		return order, nil
	}

	order.Status = types.OrderStatusFilled
	order.ExecutedPrice = &entryPrice
	position, err := s.openPosition(ctx, &order, entryPrice, margin, c.MaxOpenPositions)
	if err != nil {
		return model.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(string(order.Type), string(order.Side)).Inc()
	s.afterFill(ctx, order, position, bid, ask)
	return order, nil
}

// resolveQuote picks execution prices: a fresh locked quote from the
// caller for market orders, otherwise a live fetch. The feed being
// down aborts the operation; callers retry later.
func (s *Service) resolveQuote(ctx context.Context, req PlaceOrderRequest) (bid, ask decimal.Decimal, err error) {
	if req.Type == types.OrderTypeMarket && req.LockedQuote != nil {
		if err := req.LockedQuote.Validate(s.now(), s.lockedQuoteMaxAge); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		return req.LockedQuote.Bid, req.LockedQuote.Ask, nil
	}
	q, err := s.feed.GetPrice(ctx, req.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price feed unavailable for %s: %w", req.Symbol, err)
	}
	return q.Bid, q.Ask, nil
}

func (s *Service) insertPendingOrder(ctx context.Context, order model.Order) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.store.CreateOrder(ctx, tx, order); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// openPosition is the shared atomic fill: order row, position row and
// account margin move together or not at all. Capital and position
// limits are re-checked under the row lock because the pre-checks ran
// outside the transaction.
func (s *Service) openPosition(ctx context.Context, order *model.Order, entryPrice, margin decimal.Decimal, maxOpenPositions int) (model.Position, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return model.Position{}, err
	}
	defer tx.Rollback(ctx)

	account, err := s.contests.GetAccountForUpdate(ctx, tx, order.AccountID)
	if err != nil {
		return model.Position{}, err
	}
	if account.Status != types.AccountStatusActive {
		return model.Position{}, fmt.Errorf("account is %s and can no longer trade", account.Status)
	}
	if account.CurrentOpenPositions >= maxOpenPositions {
		return model.Position{}, fmt.Errorf("max open positions reached (%d)", maxOpenPositions)
	}
	if margin.GreaterThan(account.AvailableCapital) {
		return model.Position{}, fmt.Errorf("insufficient available capital: need %s, have %s",
			margin.String(), account.AvailableCapital.String())
	}

	position := model.Position{
		ID:         uuid.New().String(),
		UserID:     order.UserID,
		AccountID:  order.AccountID,
		ContestID:  order.ContestID,
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       types.PositionSideForOrder(order.Side),
		Qty:        order.Qty,
		EntryPrice: entryPrice,
		Leverage:   order.Leverage,
		MarginUsed: margin,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		Status:     types.PositionStatusOpen,
		OpenedAt:   s.now().UTC(),
	}

	order.PositionID = &position.ID
	order.ExecutedPrice = &entryPrice
	order.Status = types.OrderStatusFilled
	if err := s.store.CreateOrder(ctx, tx, *order); err != nil {
		return model.Position{}, err
	}
	if err := s.store.CreatePosition(ctx, tx, position); err != nil {
		return model.Position{}, err
	}
	if err := s.contests.ApplyOpen(ctx, tx, order.AccountID, margin); err != nil {
		return model.Position{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Position{}, err
	}
	return position, nil
}

// afterFill runs post-commit side effects. Best-effort: a failed
// notification or audit write never unwinds the trade.
func (s *Service) afterFill(ctx context.Context, order model.Order, position model.Position, bid, ask decimal.Decimal) {
	executed := *order.ExecutedPrice
	requested := executed
	if order.RequestedPrice != nil {
		requested = *order.RequestedPrice
	}
	s.audit.Record(ctx, audit.Entry{
		OrderID:        order.ID,
		AccountID:      order.AccountID,
		Symbol:         order.Symbol,
		RequestedPrice: requested,
		ExecutedPrice:  executed,
		SlippagePips:   pnl.SlippagePips(order.Symbol, requested, executed, order.Side),
	})
	if err := s.notifier.OrderFilled(ctx, order.UserID, order.Symbol, string(order.Side), order.Qty, executed); err != nil {
		s.log.Warn("order fill notification failed", "order", order.ID, "err", err)
	}
	s.log.Info("position opened",
		"order", order.ID, "position", position.ID, "user", order.UserID,
		"symbol", order.Symbol, "side", order.Side, "qty", order.Qty.String(),
		"entry", executed.String(), "bid", bid.String(), "ask", ask.String())
}

// CancelOrder flips a pending limit order to cancelled. Pending orders
// hold no margin, so this is a pure status change.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) error {
	if !s.feed.IsMarketOpen() {
		return errors.New(s.feed.MarketStatusMessage())
	}
	ok, err := s.store.CancelPendingOrder(ctx, orderID, userID, "cancelled by user")
	if err != nil {
		return err
	}
	if !ok {
		order, getErr := s.store.GetOrderByID(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		if order.UserID != userID {
			return errors.New("not your order")
		}
		return fmt.Errorf("only pending orders can be cancelled; this order is %s", order.Status)
	}
	return nil
}

func (s *Service) GetOrderByID(ctx context.Context, userID, orderID string) (model.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.UserID != userID {
		return model.Order{}, errors.New("not your order")
	}
	return order, nil
}

func (s *Service) GetUserOrders(ctx context.Context, userID, contestID string, before *time.Time, limit int) ([]model.Order, error) {
	return s.store.ListUserOrders(ctx, userID, contestID, before, limit)
}

func (s *Service) GetPosition(ctx context.Context, userID, positionID string) (model.Position, error) {
	p, err := s.store.GetPositionByID(ctx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if p.UserID != userID {
		return model.Position{}, errors.New("not your position")
	}
	return p, nil
}

func (s *Service) GetOpenPositions(ctx context.Context, userID, contestID string) ([]model.Position, error) {
	account, err := s.contests.GetAccount(ctx, userID, contestID)
	if err != nil {
		return nil, err
	}
	return s.store.OpenPositions(ctx, account.ID)
}

// ClosePosition closes one open position at the current market price.
// userID "" means a system-initiated close (liquidation, SL/TP sweep,
// contest end) that skips the ownership check. One transaction per
// position; callers tolerate individual failures.
func (s *Service) ClosePosition(ctx context.Context, userID, positionID string, reason types.CloseReason) (model.Position, error) {
	if !s.feed.IsMarketOpen() {
		return model.Position{}, errors.New(s.feed.MarketStatusMessage())
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return model.Position{}, err
	}
	defer tx.Rollback(ctx)

	p, err := s.store.GetPositionForUpdate(ctx, tx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if userID != "" && p.UserID != userID {
		return model.Position{}, errors.New("not your position")
	}
	if p.Status != types.PositionStatusOpen {
		return model.Position{}, errors.New("position already closed")
	}

	inst, ok := pricing.LookupInstrument(p.Symbol)
	if !ok {
		return model.Position{}, fmt.Errorf("symbol %s is not tradable", p.Symbol)
	}
	q, err := s.feed.GetPrice(ctx, p.Symbol)
	if err != nil {
		return model.Position{}, fmt.Errorf("price feed unavailable for %s: %w", p.Symbol, err)
	}
	exit := exitPrice(p.Side, q)
	realized := pnl.UnrealizedPnL(p.Side, p.EntryPrice, exit, p.Qty, inst)

	closed, err := s.store.MarkPositionClosed(ctx, tx, p.ID, exit, realized, reason)
	if err != nil {
		return model.Position{}, err
	}
	if !closed {
		return model.Position{}, errors.New("position already closed")
	}
	if err := s.contests.ApplyClose(ctx, tx, p.AccountID, p.MarginUsed, realized); err != nil {
		return model.Position{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Position{}, err
	}

	p.Status = types.PositionStatusClosed
	p.CloseReason = reason
	p.ClosePrice = &exit
	p.RealizedPnL = &realized
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	s.log.Info("position closed",
		"position", p.ID, "user", p.UserID, "symbol", p.Symbol,
		"reason", reason, "exit", exit.String(), "pnl", realized.String())
	return p, nil
}

type SweepResult struct {
	Checked   int `json:"checked"`
	Filled    int `json:"filled"`
	Cancelled int `json:"cancelled"`
}

// CheckLimitOrders sweeps a contest's pending limit orders against one
// batched price snapshot. Eligible orders fill through the same atomic
// path as market orders; orders the account can no longer afford are
// cancelled with a recorded reason instead of lingering forever.
func (s *Service) CheckLimitOrders(ctx context.Context, contestID string) (SweepResult, error) {
	var res SweepResult
	if !s.feed.IsMarketOpen() {
		return res, nil
	}
	c, err := s.contests.GetContest(ctx, contestID)
	if err != nil {
		return res, err
	}
	pending, err := s.store.ListPendingLimitOrders(ctx, contestID)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	symbols := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	for _, o := range pending {
		if _, ok := seen[o.Symbol]; !ok {
			seen[o.Symbol] = struct{}{}
			symbols = append(symbols, o.Symbol)
		}
	}
	quotes, err := s.feed.GetPrices(ctx, symbols)
	if err != nil {
		return res, fmt.Errorf("price feed unavailable: %w", err)
	}

	for _, o := range pending {
		res.Checked++
		q, ok := quotes[o.Symbol]
		if !ok {
			continue
		}
		if o.RequestedPrice == nil || !LimitFillEligible(o.Side, *o.RequestedPrice, q) {
			continue
		}
		filled, cancelled, err := s.fillLimitOrder(ctx, o, q, c.MaxOpenPositions)
		if err != nil {
			// Transient failure: the order stays pending for the next sweep.
			s.log.Warn("limit fill failed", "order", o.ID, "err", err)
			continue
		}
		if filled {
			res.Filled++
			metrics.LimitOrdersFilled.Inc()
		}
		if cancelled {
			res.Cancelled++
		}
	}
	return res, nil
}

func (s *Service) fillLimitOrder(ctx context.Context, o model.Order, q model.PriceQuote, maxOpenPositions int) (filled, cancelled bool, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback(ctx)

	order, err := s.store.GetOrderForUpdate(ctx, tx, o.ID)
	if err != nil {
		return false, false, err
	}
	if order.Status != types.OrderStatusPending {
		return false, false, nil
	}

	inst, ok := pricing.LookupInstrument(order.Symbol)
	if !ok {
		return false, false, fmt.Errorf("symbol %s is not tradable", order.Symbol)
	}
	execPrice := executionPrice(order.Side, q.Bid, q.Ask)
	margin := pnl.MarginRequired(order.Qty, execPrice, order.Leverage, inst)

	account, err := s.contests.GetAccountForUpdate(ctx, tx, order.AccountID)
	if err != nil {
		return false, false, err
	}

	// Affordability can have changed since placement; re-check under
	// the lock and cancel rather than leave an unfillable order pending.
	var cancelReason string
	switch {
	case account.Status != types.AccountStatusActive:
		cancelReason = fmt.Sprintf("account is %s", account.Status)
	case account.CurrentOpenPositions >= maxOpenPositions:
		cancelReason = fmt.Sprintf("max open positions reached (%d)", maxOpenPositions)
	case margin.GreaterThan(account.AvailableCapital):
		cancelReason = fmt.Sprintf("insufficient available capital at execution: need %s, have %s",
			margin.String(), account.AvailableCapital.String())
	}
	if cancelReason != "" {
		if err := s.store.MarkOrderCancelled(ctx, tx, order.ID, cancelReason); err != nil {
			return false, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return false, false, err
		}
		s.log.Info("limit order cancelled by sweep", "order", order.ID, "reason", cancelReason)
		return false, true, nil
	}

	position := model.Position{
		ID:         uuid.New().String(),
		UserID:     order.UserID,
		AccountID:  order.AccountID,
		ContestID:  order.ContestID,
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       types.PositionSideForOrder(order.Side),
		Qty:        order.Qty,
		EntryPrice: execPrice,
		Leverage:   order.Leverage,
		MarginUsed: margin,
		StopLoss:   order.StopLoss,
		TakeProfit: order.TakeProfit,
		Status:     types.PositionStatusOpen,
		OpenedAt:   s.now().UTC(),
	}
	if err := s.store.CreatePosition(ctx, tx, position); err != nil {
		return false, false, err
	}
	if err := s.store.MarkOrderFilled(ctx, tx, order.ID, execPrice, position.ID); err != nil {
		return false, false, err
	}
	if err := s.contests.ApplyOpen(ctx, tx, order.AccountID, margin); err != nil {
		return false, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}

	order.ExecutedPrice = &execPrice
	order.PositionID = &position.ID
	order.Status = types.OrderStatusFilled
	s.afterFill(ctx, order, position, q.Bid, q.Ask)
	return true, false, nil
}

// CheckStopTriggers closes open positions whose stop-loss or
// take-profit is crossed by the current quote, using one batched
// snapshot per contest sweep.
func (s *Service) CheckStopTriggers(ctx context.Context, contestID string) (int, error) {
	if !s.feed.IsMarketOpen() {
		return 0, nil
	}
	positions, err := s.store.OpenPositionsByContest(ctx, contestID)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}
	symbols := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; !ok {
			seen[p.Symbol] = struct{}{}
			symbols = append(symbols, p.Symbol)
		}
	}
	quotes, err := s.feed.GetPrices(ctx, symbols)
	if err != nil {
		return 0, fmt.Errorf("price feed unavailable: %w", err)
	}

	closed := 0
	for _, p := range positions {
		q, ok := quotes[p.Symbol]
		if !ok {
			continue
		}
		reason, hit := stopTriggered(p, q)
		if !hit {
			continue
		}
		if _, err := s.ClosePosition(ctx, "", p.ID, reason); err != nil {
			s.log.Warn("stop trigger close failed", "position", p.ID, "err", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// stopTriggered evaluates SL/TP against the exit side of the quote.
func stopTriggered(p model.Position, q model.PriceQuote) (types.CloseReason, bool) {
	exit := exitPrice(p.Side, q)
	if p.Side == types.PositionSideLong {
		if p.StopLoss != nil && exit.LessThanOrEqual(*p.StopLoss) {
			return types.CloseReasonStopLoss, true
		}
		if p.TakeProfit != nil && exit.GreaterThanOrEqual(*p.TakeProfit) {
			return types.CloseReasonTakeProfit, true
		}
		return "", false
	}
	if p.StopLoss != nil && exit.GreaterThanOrEqual(*p.StopLoss) {
		return types.CloseReasonStopLoss, true
	}
	if p.TakeProfit != nil && exit.LessThanOrEqual(*p.TakeProfit) {
		return types.CloseReasonTakeProfit, true
	}
	return "", false
}

type CloseAllResult struct {
	Total  int `json:"total"`
	Closed int `json:"closed"`
	Failed int `json:"failed"`
}

// CloseAllForContest force-closes every open position in a contest,
// one transaction each, worst unrealized loss first. Used at contest
// end; partial completion is reported, not fatal.
func (s *Service) CloseAllForContest(ctx context.Context, contestID string, reason types.CloseReason) (CloseAllResult, error) {
	positions, err := s.store.OpenPositionsByContest(ctx, contestID)
	if err != nil {
		return CloseAllResult{}, err
	}
	sortByWorstLoss(ctx, s.feed, positions)
	res := CloseAllResult{Total: len(positions)}
	for _, p := range positions {
		if _, err := s.ClosePosition(ctx, "", p.ID, reason); err != nil {
			s.log.Warn("forced close failed", "position", p.ID, "reason", reason, "err", err)
			res.Failed++
			continue
		}
		res.Closed++
	}
	return res, nil
}

// sortByWorstLoss orders positions by unrealized P&L ascending using
// one price snapshot; positions without a quote sort last.
func sortByWorstLoss(ctx context.Context, feed pricing.Feed, positions []model.Position) {
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
		return
	}
	pnlOf := func(p model.Position) (decimal.Decimal, bool) {
		q, ok := quotes[p.Symbol]
		if !ok {
			return decimal.Zero, false
		}
		inst, ok := pricing.LookupInstrument(p.Symbol)
		if !ok {
			return decimal.Zero, false
		}
		return pnl.UnrealizedPnL(p.Side, p.EntryPrice, exitPrice(p.Side, q), p.Qty, inst), true
	}
	sort.SliceStable(positions, func(i, j int) bool {
		pi, iok := pnlOf(positions[i])
		pj, jok := pnlOf(positions[j])
		if iok != jok {
			return iok
		}
		return pi.LessThan(pj)
	})
}

func clampLeverage(requested, max decimal.Decimal) decimal.Decimal {
	if !requested.GreaterThan(decimal.Zero) {
		return max
	}
	if requested.GreaterThan(max) {
		return max
	}
	return requested
}

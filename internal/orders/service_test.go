package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"fx-arena/internal/audit"
	"fx-arena/internal/model"
	"fx-arena/internal/pricing"
	"fx-arena/internal/restrict"
	"fx-arena/internal/risk"
	"fx-arena/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// fakeTx satisfies pgx.Tx for the in-memory stores, which ignore the
// transaction handle entirely.
type fakeTx struct{}

func (fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

func (fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}

func (fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }

func (fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}

func (fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (fakeTx) Conn() *pgx.Conn                                  { return nil }

type fakeDB struct{}

func (fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return fakeTx{}, nil }

type memStore struct {
	orders    map[string]model.Order
	positions map[string]model.Position
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
	}
}

func (s *memStore) CreateOrder(_ context.Context, _ pgx.Tx, o model.Order) error {
	s.orders[o.ID] = o
	return nil
}

func (s *memStore) GetOrderByID(_ context.Context, orderID string) (model.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, errors.New("order not found")
	}
	return o, nil
}

func (s *memStore) GetOrderForUpdate(ctx context.Context, _ pgx.Tx, orderID string) (model.Order, error) {
	return s.GetOrderByID(ctx, orderID)
}

func (s *memStore) ListUserOrders(_ context.Context, userID, contestID string, _ *time.Time, _ int) ([]model.Order, error) {
	var out []model.Order
	for _, o := range s.orders {
		if o.UserID == userID && o.ContestID == contestID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) ListPendingLimitOrders(_ context.Context, contestID string) ([]model.Order, error) {
	var out []model.Order
	for _, o := range s.orders {
		if o.ContestID == contestID && o.Type == types.OrderTypeLimit && o.Status == types.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) CancelPendingOrder(_ context.Context, orderID, userID, reason string) (bool, error) {
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID || o.Status != types.OrderStatusPending {
		return false, nil
	}
	o.Status = types.OrderStatusCancelled
	o.RejectReason = reason
	s.orders[orderID] = o
	return true, nil
}

func (s *memStore) MarkOrderFilled(_ context.Context, _ pgx.Tx, orderID string, executedPrice decimal.Decimal, positionID string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.Status = types.OrderStatusFilled
	o.ExecutedPrice = &executedPrice
	o.PositionID = &positionID
	s.orders[orderID] = o
	return nil
}

func (s *memStore) MarkOrderCancelled(_ context.Context, _ pgx.Tx, orderID, reason string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.Status = types.OrderStatusCancelled
	o.RejectReason = reason
	s.orders[orderID] = o
	return nil
}

func (s *memStore) CreatePosition(_ context.Context, _ pgx.Tx, p model.Position) error {
	s.positions[p.ID] = p
	return nil
}

func (s *memStore) GetPositionByID(_ context.Context, positionID string) (model.Position, error) {
	p, ok := s.positions[positionID]
	if !ok {
		return model.Position{}, errors.New("position not found")
	}
	return p, nil
}

func (s *memStore) GetPositionForUpdate(ctx context.Context, _ pgx.Tx, positionID string) (model.Position, error) {
	return s.GetPositionByID(ctx, positionID)
}

func (s *memStore) OpenPositions(_ context.Context, accountID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID && p.Status == types.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) OpenPositionsByContest(_ context.Context, contestID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range s.positions {
		if p.ContestID == contestID && p.Status == types.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) MarkPositionClosed(_ context.Context, _ pgx.Tx, positionID string, closePrice, realizedPnL decimal.Decimal, reason types.CloseReason) (bool, error) {
	p, ok := s.positions[positionID]
	if !ok || p.Status != types.PositionStatusOpen {
		return false, nil
	}
	p.Status = types.PositionStatusClosed
	p.ClosePrice = &closePrice
	p.RealizedPnL = &realizedPnL
	p.CloseReason = reason
	s.positions[positionID] = p
	return true, nil
}

// memAccounts mirrors the SQL mutations of the account store so the
// capital identity can be asserted after each operation.
type memAccounts struct {
	contest model.Contest
	account model.Account
}

func (s *memAccounts) GetContest(_ context.Context, contestID string) (model.Contest, error) {
	if contestID != s.contest.ID {
		return model.Contest{}, errors.New("contest not found")
	}
	return s.contest, nil
}

func (s *memAccounts) GetAccount(_ context.Context, userID, contestID string) (model.Account, error) {
	if userID != s.account.UserID || contestID != s.account.ContestID {
		return model.Account{}, errors.New("account not found")
	}
	return s.account, nil
}

func (s *memAccounts) GetAccountForUpdate(_ context.Context, _ pgx.Tx, accountID string) (model.Account, error) {
	if accountID != s.account.ID {
		return model.Account{}, errors.New("account not found")
	}
	return s.account, nil
}

func (s *memAccounts) ApplyOpen(_ context.Context, _ pgx.Tx, accountID string, margin decimal.Decimal) error {
	if accountID != s.account.ID {
		return errors.New("account not found")
	}
	if margin.GreaterThan(s.account.AvailableCapital) {
		return errors.New("insufficient available capital")
	}
	s.account.AvailableCapital = s.account.AvailableCapital.Sub(margin)
	s.account.UsedMargin = s.account.UsedMargin.Add(margin)
	s.account.CurrentOpenPositions++
	s.account.TotalTrades++
	return nil
}

func (s *memAccounts) ApplyClose(_ context.Context, _ pgx.Tx, accountID string, margin, realizedPnL decimal.Decimal) error {
	if accountID != s.account.ID {
		return errors.New("account not found")
	}
	s.account.CurrentCapital = s.account.CurrentCapital.Add(realizedPnL)
	s.account.AvailableCapital = s.account.AvailableCapital.Add(margin).Add(realizedPnL)
	s.account.UsedMargin = s.account.UsedMargin.Sub(margin)
	s.account.CurrentOpenPositions--
	return nil
}

func (s *memAccounts) DailyRealizedPnL(context.Context, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeFeed struct {
	open   bool
	quotes map[string]model.PriceQuote
}

func (f *fakeFeed) IsMarketOpen() bool { return f.open }

func (f *fakeFeed) MarketStatusMessage() string {
	return "market is closed: forex trades Sunday 22:00 UTC through Friday 22:00 UTC"
}

func (f *fakeFeed) GetPrice(_ context.Context, symbol string) (model.PriceQuote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (f *fakeFeed) GetPrices(_ context.Context, symbols []string) (map[string]model.PriceQuote, error) {
	out := make(map[string]model.PriceQuote, len(symbols))
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

type stubNotifier struct {
	fills int
}

func (n *stubNotifier) OrderFilled(context.Context, string, string, string, decimal.Decimal, decimal.Decimal) error {
	n.fills++
	return nil
}

func (n *stubNotifier) MarginWarning(context.Context, string, decimal.Decimal) error { return nil }
func (n *stubNotifier) MarginCall(context.Context, string, decimal.Decimal) error    { return nil }
func (n *stubNotifier) Liquidation(context.Context, string, int) error               { return nil }

type nopAudit struct {
	entries []audit.Entry
}

func (a *nopAudit) Record(_ context.Context, e audit.Entry) {
	a.entries = append(a.entries, e)
}

func newTestService(feed *fakeFeed) (*Service, *memStore, *memAccounts) {
	store := newMemStore()
	accounts := &memAccounts{
		contest: model.Contest{
			ID:               "contest-1",
			Kind:             types.ContestKindCompetition,
			Status:           types.ContestStatusActive,
			StartingCapital:  dec("10000"),
			MaxLeverage:      dec("100"),
			MaxOpenPositions: 5,
		},
		account: model.Account{
			ID:               "acct-1",
			UserID:           "user-1",
			ContestID:        "contest-1",
			CurrentCapital:   dec("10000"),
			AvailableCapital: dec("10000"),
			UsedMargin:       dec("0"),
			Status:           types.AccountStatusActive,
		},
	}
	svc := &Service{
		pool:              fakeDB{},
		store:             store,
		contests:          accounts,
		feed:              feed,
		risk:              risk.NewEvaluator(store, accounts, feed),
		restrict:          restrict.NewAllowAll(),
		notifier:          &stubNotifier{},
		audit:             &nopAudit{},
		log:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		lockedQuoteMaxAge: pricing.DefaultLockedQuoteMaxAge,
		now:               time.Now,
	}
	return svc, store, accounts
}

func assertCapitalIdentity(t *testing.T, a model.Account) {
	t.Helper()
	sum := a.AvailableCapital.Add(a.UsedMargin)
	if !sum.Equal(a.CurrentCapital) {
		t.Fatalf("available %s + used %s = %s, want current %s",
			a.AvailableCapital, a.UsedMargin, sum, a.CurrentCapital)
	}
}

func TestPlaceOrderMarketClosedCreatesNoOrder(t *testing.T) {
	feed := &fakeFeed{open: false, quotes: map[string]model.PriceQuote{
		"EURUSD": quote("1.1000", "1.1002"),
	}}
	svc, store, accounts := newTestService(feed)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:    "user-1",
		ContestID: "contest-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideBuy,
		Type:      types.OrderTypeMarket,
		Qty:       dec("1"),
		Leverage:  dec("100"),
	})
	if err == nil {
		t.Fatal("expected market-closed rejection")
	}
	if !strings.Contains(err.Error(), "market is closed") {
		t.Fatalf("err = %v, want market-closed message", err)
	}
	if len(store.orders) != 0 {
		t.Fatalf("rejected order left %d order records", len(store.orders))
	}
	if !accounts.account.AvailableCapital.Equal(dec("10000")) || !accounts.account.UsedMargin.IsZero() {
		t.Fatalf("rejected order touched capital: available %s, used %s",
			accounts.account.AvailableCapital, accounts.account.UsedMargin)
	}
}

func TestCapitalIdentityAcrossOpenAndClose(t *testing.T) {
	feed := &fakeFeed{open: true, quotes: map[string]model.PriceQuote{
		"EURUSD": quote("1.1000", "1.1002"),
	}}
	svc, store, accounts := newTestService(feed)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:    "user-1",
		ContestID: "contest-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideBuy,
		Type:      types.OrderTypeMarket,
		Qty:       dec("1"),
		Leverage:  dec("100"),
	})
	if err != nil {
		t.Fatalf("place market order: %v", err)
	}
	if order.Status != types.OrderStatusFilled || order.PositionID == nil {
		t.Fatalf("market order not filled: status %s, position %v", order.Status, order.PositionID)
	}

	// 1 lot at ask 1.1002 with 100x leverage holds 1100.2 margin.
	if !accounts.account.UsedMargin.Equal(dec("1100.2")) {
		t.Fatalf("used margin = %s, want 1100.2", accounts.account.UsedMargin)
	}
	if !accounts.account.AvailableCapital.Equal(dec("8899.8")) {
		t.Fatalf("available = %s, want 8899.8", accounts.account.AvailableCapital)
	}
	if !accounts.account.CurrentCapital.Equal(dec("10000")) {
		t.Fatalf("current = %s, want 10000 (unrealized P&L never touches balance)", accounts.account.CurrentCapital)
	}
	assertCapitalIdentity(t, accounts.account)

	// Price moves 50 pips in favour; a long exits at the bid.
	feed.quotes["EURUSD"] = quote("1.1052", "1.1054")
	closed, err := svc.ClosePosition(ctx, "user-1", *order.PositionID, types.CloseReasonManual)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if closed.RealizedPnL == nil || !closed.RealizedPnL.Equal(dec("500")) {
		t.Fatalf("realized pnl = %v, want 500", closed.RealizedPnL)
	}
	if !accounts.account.CurrentCapital.Equal(dec("10500")) {
		t.Fatalf("current after close = %s, want 10500", accounts.account.CurrentCapital)
	}
	if !accounts.account.AvailableCapital.Equal(dec("10500")) || !accounts.account.UsedMargin.IsZero() {
		t.Fatalf("after close: available %s, used %s, want 10500 / 0",
			accounts.account.AvailableCapital, accounts.account.UsedMargin)
	}
	assertCapitalIdentity(t, accounts.account)

	open, err := store.OpenPositions(ctx, "acct-1")
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("%d positions still open after close", len(open))
	}
}

func TestCancelPendingOrderLeavesCapitalUntouched(t *testing.T) {
	feed := &fakeFeed{open: true, quotes: map[string]model.PriceQuote{
		"EURUSD": quote("1.1000", "1.1002"),
	}}
	svc, _, accounts := newTestService(feed)
	ctx := context.Background()

	price := dec("1.0950")
	order, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:         "user-1",
		ContestID:      "contest-1",
		Symbol:         "EURUSD",
		Side:           types.OrderSideBuy,
		Type:           types.OrderTypeLimit,
		Qty:            dec("1"),
		RequestedPrice: &price,
		Leverage:       dec("100"),
	})
	if err != nil {
		t.Fatalf("place limit order: %v", err)
	}
	if order.Status != types.OrderStatusPending {
		t.Fatalf("limit order status = %s, want pending", order.Status)
	}

	// Pending limit orders reserve no margin.
	if !accounts.account.AvailableCapital.Equal(dec("10000")) || !accounts.account.UsedMargin.IsZero() {
		t.Fatalf("pending order reserved margin: available %s, used %s",
			accounts.account.AvailableCapital, accounts.account.UsedMargin)
	}

	if err := svc.CancelOrder(ctx, "user-1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, err := svc.GetOrderByID(ctx, "user-1", order.ID)
	if err != nil {
		t.Fatalf("get cancelled order: %v", err)
	}
	if got.Status != types.OrderStatusCancelled {
		t.Fatalf("status after cancel = %s, want cancelled", got.Status)
	}
	if !accounts.account.AvailableCapital.Equal(dec("10000")) || !accounts.account.UsedMargin.IsZero() {
		t.Fatalf("cancel touched capital: available %s, used %s",
			accounts.account.AvailableCapital, accounts.account.UsedMargin)
	}
	assertCapitalIdentity(t, accounts.account)
}

func TestGetPositionOwnership(t *testing.T) {
	feed := &fakeFeed{open: true, quotes: map[string]model.PriceQuote{
		"EURUSD": quote("1.1000", "1.1002"),
	}}
	svc, _, _ := newTestService(feed)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:    "user-1",
		ContestID: "contest-1",
		Symbol:    "EURUSD",
		Side:      types.OrderSideBuy,
		Type:      types.OrderTypeMarket,
		Qty:       dec("1"),
		Leverage:  dec("100"),
	})
	if err != nil {
		t.Fatalf("place market order: %v", err)
	}

	p, err := svc.GetPosition(ctx, "user-1", *order.PositionID)
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if p.ID != *order.PositionID {
		t.Fatalf("got position %s, want %s", p.ID, *order.PositionID)
	}
	if _, err := svc.GetPosition(ctx, "user-2", *order.PositionID); err == nil {
		t.Fatal("foreign position lookup should be rejected")
	}
	if _, err := svc.GetPosition(ctx, "user-1", "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing position err = %v, want not found", err)
	}
}

package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"fx-arena/internal/model"
	"fx-arena/internal/types"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakePositions struct {
	positions []model.Position
}

func (f *fakePositions) OpenPositions(_ context.Context, _ string) ([]model.Position, error) {
	return f.positions, nil
}

type fakeLedger struct {
	realized decimal.Decimal
	since    time.Time
}

func (f *fakeLedger) DailyRealizedPnL(_ context.Context, _ string, since time.Time) (decimal.Decimal, error) {
	f.since = since
	return f.realized, nil
}

type fakeFeed struct {
	quotes map[string]model.PriceQuote
}

func (f *fakeFeed) IsMarketOpen() bool { return true }

func (f *fakeFeed) MarketStatusMessage() string { return "market open" }

func (f *fakeFeed) GetPrice(_ context.Context, symbol string) (model.PriceQuote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return model.PriceQuote{}, context.DeadlineExceeded
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

func testContest(enabled bool) model.Contest {
	return model.Contest{
		ID:              "c-1",
		StartingCapital: dec("10000"),
		RiskLimits: model.RiskLimits{
			Enabled:               enabled,
			MaxDrawdownPercent:    dec("20"),
			DailyLossLimitPercent: dec("5"),
			EquityDrawdownPercent: dec("25"),
			EquityCheckEnabled:    true,
		},
	}
}

func testAccount(capital string) model.Account {
	return model.Account{ID: "a-1", CurrentCapital: dec(capital)}
}

func newTestEvaluator(positions *fakePositions, ledger *fakeLedger, feed *fakeFeed) *Evaluator {
	e := NewEvaluator(positions, ledger, feed)
	e.now = func() time.Time { return time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) }
	return e
}

func TestEvaluateDisabledLimitsAlwaysAllow(t *testing.T) {
	e := newTestEvaluator(&fakePositions{}, &fakeLedger{realized: dec("-9999")}, &fakeFeed{})
	// Capital far below every floor, but limits are off.
	if err := e.Evaluate(context.Background(), testContest(false), testAccount("1")); err != nil {
		t.Fatalf("disabled limits should allow: %v", err)
	}
}

func TestMaxDrawdown(t *testing.T) {
	ledger := &fakeLedger{realized: decimal.Zero}
	e := newTestEvaluator(&fakePositions{}, ledger, &fakeFeed{})
	c := testContest(true)

	// 20% drawdown on 10000 puts the floor at 8000.
	if err := e.Evaluate(context.Background(), c, testAccount("8001")); err != nil {
		t.Fatalf("capital above floor should pass: %v", err)
	}
	err := e.Evaluate(context.Background(), c, testAccount("8000"))
	if err == nil || !strings.Contains(err.Error(), "max drawdown") {
		t.Fatalf("capital at floor should breach, got %v", err)
	}
	if err := e.Evaluate(context.Background(), c, testAccount("7000")); err == nil {
		t.Fatal("capital below floor should breach")
	}
}

func TestDailyLossLimit(t *testing.T) {
	ledger := &fakeLedger{realized: dec("-500")}
	e := newTestEvaluator(&fakePositions{}, ledger, &fakeFeed{})
	c := testContest(true)

	// 5% of 10000 = 500 lost today; at the limit blocks.
	err := e.Evaluate(context.Background(), c, testAccount("9500"))
	if err == nil || !strings.Contains(err.Error(), "daily loss limit") {
		t.Fatalf("loss at limit should breach, got %v", err)
	}
	wantSince := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	if !ledger.since.Equal(wantSince) {
		t.Fatalf("daily window starts at %s, want %s", ledger.since, wantSince)
	}

	ledger.realized = dec("-499.99")
	if err := e.Evaluate(context.Background(), c, testAccount("9500.01")); err != nil {
		t.Fatalf("loss under limit should pass: %v", err)
	}

	// Profitable days never block.
	ledger.realized = dec("600")
	if err := e.Evaluate(context.Background(), c, testAccount("10600")); err != nil {
		t.Fatalf("profit should pass: %v", err)
	}
}

func TestEquityDrawdown(t *testing.T) {
	// Long 1 lot EURUSD from 1.1000 marked at bid 1.0800: -2000 unrealized.
	positions := &fakePositions{positions: []model.Position{{
		ID:         "p-1",
		Symbol:     "EURUSD",
		Side:       types.PositionSideLong,
		Qty:        dec("1"),
		EntryPrice: dec("1.1000"),
	}}}
	feed := &fakeFeed{quotes: map[string]model.PriceQuote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.0800"), Ask: dec("1.0802")},
	}}
	e := newTestEvaluator(positions, &fakeLedger{realized: decimal.Zero}, feed)
	c := testContest(true)

	// Equity 9500 - 2000 = 7500, at/below the 25% floor of 7500.
	err := e.Evaluate(context.Background(), c, testAccount("9500"))
	if err == nil || !strings.Contains(err.Error(), "equity drawdown") {
		t.Fatalf("equity at floor should breach, got %v", err)
	}

	// Equity 10000 - 2000 = 8000, above the floor.
	if err := e.Evaluate(context.Background(), c, testAccount("10000")); err != nil {
		t.Fatalf("equity above floor should pass: %v", err)
	}

	// Equity check disabled skips the floating-loss veto entirely.
	c.RiskLimits.EquityCheckEnabled = false
	if err := e.Evaluate(context.Background(), c, testAccount("9500")); err != nil {
		t.Fatalf("disabled equity check should pass: %v", err)
	}
}

func TestEquityFor(t *testing.T) {
	feed := &fakeFeed{quotes: map[string]model.PriceQuote{
		"EURUSD": {Symbol: "EURUSD", Bid: dec("1.1050"), Ask: dec("1.1052")},
	}}
	positions := []model.Position{
		{Symbol: "EURUSD", Side: types.PositionSideLong, Qty: dec("1"), EntryPrice: dec("1.1000")},
		{Symbol: "GBPUSD", Side: types.PositionSideLong, Qty: dec("1"), EntryPrice: dec("1.2500")},
	}
	// Long marks at bid: +500. GBPUSD has no quote and contributes zero.
	equity, err := EquityFor(context.Background(), feed, dec("10000"), positions)
	if err != nil {
		t.Fatal(err)
	}
	if !equity.Equal(dec("10500")) {
		t.Fatalf("equity = %s, want 10500", equity)
	}

	// Short marks at ask: entry 1.1000 vs ask 1.1052 is -520.
	short := []model.Position{
		{Symbol: "EURUSD", Side: types.PositionSideShort, Qty: dec("1"), EntryPrice: dec("1.1000")},
	}
	equity, err = EquityFor(context.Background(), feed, dec("10000"), short)
	if err != nil {
		t.Fatal(err)
	}
	if !equity.Equal(dec("9480")) {
		t.Fatalf("short equity = %s, want 9480", equity)
	}

	// No positions returns the balance without touching the feed.
	equity, err = EquityFor(context.Background(), &fakeFeed{}, dec("123"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !equity.Equal(dec("123")) {
		t.Fatalf("flat equity = %s, want 123", equity)
	}
}

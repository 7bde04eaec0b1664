package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx-arena/internal/model"

	"github.com/shopspring/decimal"
)

// Feed is the quote source consumed by the engine. GetPrices must
// return one consistent snapshot for the whole symbol set.
type Feed interface {
	IsMarketOpen() bool
	MarketStatusMessage() string
	GetPrice(ctx context.Context, symbol string) (model.PriceQuote, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]model.PriceQuote, error)
}

// quoteMaxAge is how long a stored quote stays servable without a new
// tick from upstream.
const quoteMaxAge = 30 * time.Second

// LiveFeed keeps the latest bid/ask per symbol in memory, written by
// the upstream consumer and read by every other component.
type LiveFeed struct {
	mu     sync.RWMutex
	quotes map[string]model.PriceQuote
	now    func() time.Time
}

func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		quotes: make(map[string]model.PriceQuote),
		now:    time.Now,
	}
}

// SetQuote records a fresh tick. Non-positive or crossed quotes are
// dropped rather than poisoning the book.
func (f *LiveFeed) SetQuote(symbol string, bid, ask decimal.Decimal) {
	if symbol == "" || !bid.GreaterThan(decimal.Zero) || !ask.GreaterThan(decimal.Zero) || ask.LessThan(bid) {
		return
	}
	two := decimal.NewFromInt(2)
	q := model.PriceQuote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Mid:       bid.Add(ask).Div(two),
		Spread:    ask.Sub(bid),
		Timestamp: f.now().UTC(),
	}
	f.mu.Lock()
	f.quotes[symbol] = q
	f.mu.Unlock()
}

func (f *LiveFeed) GetPrice(_ context.Context, symbol string) (model.PriceQuote, error) {
	f.mu.RLock()
	q, ok := f.quotes[symbol]
	f.mu.RUnlock()
	if !ok {
		return model.PriceQuote{}, fmt.Errorf("no quote for %s", symbol)
	}
	if f.now().Sub(q.Timestamp) > quoteMaxAge {
		return model.PriceQuote{}, fmt.Errorf("quote for %s is stale", symbol)
	}
	return q, nil
}

// GetPrices copies all requested symbols under one read lock so every
// caller sees a single price snapshot. Missing or stale symbols are
// omitted from the result.
func (f *LiveFeed) GetPrices(_ context.Context, symbols []string) (map[string]model.PriceQuote, error) {
	now := f.now()
	out := make(map[string]model.PriceQuote, len(symbols))
	f.mu.RLock()
	for _, s := range symbols {
		q, ok := f.quotes[s]
		if !ok || now.Sub(q.Timestamp) > quoteMaxAge {
			continue
		}
		out[s] = q
	}
	f.mu.RUnlock()
	return out, nil
}

// IsMarketOpen follows the forex week: open from Sunday 22:00 UTC to
// Friday 22:00 UTC, closed over the weekend.
func (f *LiveFeed) IsMarketOpen() bool {
	return marketOpenAt(f.now().UTC())
}

func (f *LiveFeed) MarketStatusMessage() string {
	if f.IsMarketOpen() {
		return "market open"
	}
	return "market closed: forex trading runs Sunday 22:00 UTC through Friday 22:00 UTC"
}

func marketOpenAt(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return t.Hour() >= 22
	case time.Friday:
		return t.Hour() < 22
	default:
		return true
	}
}

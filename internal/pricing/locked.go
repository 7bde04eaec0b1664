package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLockedQuoteMaxAge bounds how long a client-captured quote is
// trusted for execution.
const DefaultLockedQuoteMaxAge = 2000 * time.Millisecond

// LockedQuote is a bid/ask pair captured client-side at the moment of
// a user action. It is trusted only after Validate passes; execution
// then uses the locked prices instead of refetching, preserving what
// the user saw when they clicked.
type LockedQuote struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

func (q LockedQuote) Validate(now time.Time, maxAge time.Duration) error {
	if !q.Bid.GreaterThan(decimal.Zero) || !q.Ask.GreaterThan(decimal.Zero) {
		return errors.New("locked quote has invalid prices")
	}
	if q.Ask.LessThan(q.Bid) {
		return errors.New("locked quote is crossed")
	}
	if q.Timestamp.IsZero() {
		return errors.New("locked quote has no timestamp")
	}
	if maxAge <= 0 {
		maxAge = DefaultLockedQuoteMaxAge
	}
	age := now.Sub(q.Timestamp)
	if age < 0 {
		return errors.New("locked quote timestamp is in the future")
	}
	if age > maxAge {
		return errors.New("locked quote expired, refresh the price and retry")
	}
	return nil
}

package pricing

import (
	"context"
	"encoding/json"
	"time"

	"fx-arena/internal/model"

	"github.com/redis/go-redis/v9"
)

// CachedFeed layers a short-TTL redis snapshot cache over a Feed so
// sibling instances can serve quotes they did not receive directly.
// Reads fall back to the primary on any cache miss or redis error.
type CachedFeed struct {
	primary Feed
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedFeed(primary Feed, rdb *redis.Client, ttl time.Duration) *CachedFeed {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &CachedFeed{primary: primary, rdb: rdb, ttl: ttl}
}

func (c *CachedFeed) IsMarketOpen() bool { return c.primary.IsMarketOpen() }

func (c *CachedFeed) MarketStatusMessage() string { return c.primary.MarketStatusMessage() }

func (c *CachedFeed) GetPrice(ctx context.Context, symbol string) (model.PriceQuote, error) {
	q, err := c.primary.GetPrice(ctx, symbol)
	if err == nil {
		c.cache(ctx, q)
		return q, nil
	}
	data, rerr := c.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if rerr != nil {
		return model.PriceQuote{}, err
	}
	var cached model.PriceQuote
	if json.Unmarshal(data, &cached) != nil {
		return model.PriceQuote{}, err
	}
	return cached, nil
}

func (c *CachedFeed) GetPrices(ctx context.Context, symbols []string) (map[string]model.PriceQuote, error) {
	out, err := c.primary.GetPrices(ctx, symbols)
	if err != nil {
		return nil, err
	}
	for _, q := range out {
		c.cache(ctx, q)
	}
	for _, s := range symbols {
		if _, ok := out[s]; ok {
			continue
		}
		data, rerr := c.rdb.Get(ctx, quoteKey(s)).Bytes()
		if rerr != nil {
			continue
		}
		var cached model.PriceQuote
		if json.Unmarshal(data, &cached) == nil {
			out[s] = cached
		}
	}
	return out, nil
}

func (c *CachedFeed) cache(ctx context.Context, q model.PriceQuote) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, quoteKey(q.Symbol), data, c.ttl)
}

func quoteKey(symbol string) string { return "quote:" + symbol }

package pricing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type tickMessage struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

// Consumer streams ticks from the upstream quote provider into a
// LiveFeed and fans each tick out to registered handlers.
type Consumer struct {
	url  string
	feed *LiveFeed
	log  *slog.Logger

	mu       sync.Mutex
	handlers []func(symbol string)
}

func NewConsumer(url string, feed *LiveFeed, log *slog.Logger) *Consumer {
	return &Consumer{url: url, feed: feed, log: log}
}

// OnTick registers a handler invoked after every accepted tick.
// Handlers must not block; heavy work belongs behind a throttle.
func (c *Consumer) OnTick(fn func(symbol string)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Run dials the upstream feed and reads ticks until the context is
// cancelled, reconnecting with a fixed backoff on any failure.
func (c *Consumer) Run(ctx context.Context) {
	const backoff = 3 * time.Second
	for {
		if err := c.readLoop(ctx); err != nil {
			c.log.Warn("quote feed disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (c *Consumer) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must not outlive this connection: select on done so a
	// dead conn does not strand one goroutine per reconnect.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var msg tickMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		bid, bidErr := decimal.NewFromString(msg.Bid)
		ask, askErr := decimal.NewFromString(msg.Ask)
		if msg.Symbol == "" || bidErr != nil || askErr != nil {
			continue
		}
		c.feed.SetQuote(msg.Symbol, bid, ask)
		c.dispatch(msg.Symbol)
	}
}

func (c *Consumer) dispatch(symbol string) {
	c.mu.Lock()
	handlers := make([]func(string), len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(symbol)
	}
}

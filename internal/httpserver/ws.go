package httpserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fx-arena/internal/model"
	"fx-arena/internal/pricing"
)

// QuoteStream pushes live quote snapshots to websocket clients. Clients
// pick symbols with a subscribe message; an empty subscription means
// the full instrument set.
type QuoteStream struct {
	feed     pricing.Feed
	origin   string
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewQuoteStream(feed pricing.Feed, origin string, interval time.Duration) *QuoteStream {
	if interval <= 0 {
		interval = time.Second
	}
	qs := &QuoteStream{feed: feed, origin: origin, interval: interval}
	qs.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, origin) },
	}
	return qs
}

type wsSubscribeMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
}

type wsQuotePayload struct {
	Type   string                      `json:"type"`
	Quotes map[string]model.PriceQuote `json:"quotes"`
	Open   bool                        `json:"market_open"`
	TS     int64                       `json:"ts"`
}

func (qs *QuoteStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := qs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var mu sync.Mutex
	symbols := pricing.Symbols()

	// Reader: subscription changes and disconnect detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsSubscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "subscribe" {
				continue
			}
			next := make([]string, 0, len(msg.Symbols))
			for _, s := range msg.Symbols {
				s = strings.ToUpper(strings.TrimSpace(s))
				if _, ok := pricing.LookupInstrument(s); ok {
					next = append(next, s)
				}
			}
			if len(next) == 0 {
				next = pricing.Symbols()
			}
			mu.Lock()
			symbols = next
			mu.Unlock()
		}
	}()

	ticker := time.NewTicker(qs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		mu.Lock()
		wanted := symbols
		mu.Unlock()
		quotes, err := qs.feed.GetPrices(r.Context(), wanted)
		if err != nil {
			continue
		}
		payload := wsQuotePayload{
			Type:   "quotes",
			Quotes: quotes,
			Open:   qs.feed.IsMarketOpen(),
			TS:     time.Now().UnixMilli(),
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			return
		}
	}
}

func allowOrigin(r *http.Request, allowed string) bool {
	if allowed == "" || allowed == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.EqualFold(origin, allowed)
}

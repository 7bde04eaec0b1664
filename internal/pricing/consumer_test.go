package pricing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestReadLoopReleasesWatcherGoroutine(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := NewConsumer("ws"+strings.TrimPrefix(srv.URL, "http"), NewLiveFeed(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()
	const rounds = 50
	for i := 0; i < rounds; i++ {
		if err := c.readLoop(ctx); err == nil {
			t.Fatal("readLoop should return an error when the peer closes")
		}
	}

	// Per-connection watchers exit with their connection; poll briefly
	// to let them finish instead of asserting an instant count.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines grew from %d to %d across %d reconnects", before, runtime.NumGoroutine(), rounds)
}

func TestConsumerDispatchesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(tickMessage{Symbol: "EURUSD", Bid: "1.1000", Ask: "1.1002"})
		_ = conn.WriteJSON(tickMessage{Symbol: "GBPUSD", Bid: "bad", Ask: "1.25"})
	}))
	defer srv.Close()

	feed := NewLiveFeed()
	c := NewConsumer("ws"+strings.TrimPrefix(srv.URL, "http"), feed,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ticks := make(chan string, 4)
	c.OnTick(func(symbol string) { ticks <- symbol })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.readLoop(ctx)

	select {
	case sym := <-ticks:
		if sym != "EURUSD" {
			t.Fatalf("dispatched %s, want EURUSD", sym)
		}
	default:
		t.Fatal("no tick dispatched")
	}
	if _, err := feed.GetPrice(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("tick not stored in feed: %v", err)
	}
	if _, err := feed.GetPrice(context.Background(), "GBPUSD"); err == nil {
		t.Fatal("malformed tick was stored")
	}
}

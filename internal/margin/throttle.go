package margin

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle bounds how often an account's margin is evaluated. A
// denied check is skipped outright, never queued; staleness up to the
// interval is the accepted tradeoff against check storms.
type Throttle interface {
	Allow(ctx context.Context, accountID string) bool
}

// MemoryThrottle is the single-instance implementation.
type MemoryThrottle struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func NewMemoryThrottle(interval time.Duration) *MemoryThrottle {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MemoryThrottle{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

func (t *MemoryThrottle) Allow(_ context.Context, accountID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[accountID]; ok && now.Sub(last) < t.interval {
		return false
	}
	t.last[accountID] = now
	return true
}

// RedisThrottle coordinates the interval across instances with
// SET NX PX. Redis being down fails open so checks still run.
type RedisThrottle struct {
	rdb      *redis.Client
	interval time.Duration
}

func NewRedisThrottle(rdb *redis.Client, interval time.Duration) *RedisThrottle {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RedisThrottle{rdb: rdb, interval: interval}
}

func (t *RedisThrottle) Allow(ctx context.Context, accountID string) bool {
	ok, err := t.rdb.SetNX(ctx, "margin_check:"+accountID, 1, t.interval).Result()
	if err != nil {
		return true
	}
	return ok
}

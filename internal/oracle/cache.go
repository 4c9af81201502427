package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cached
	now     func() time.Time
}

type cached struct {
	price   decimal.Decimal
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cached), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, ticker string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ticker]
	if !ok || !c.now().Before(e.expires) {
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *MemoryCache) Set(_ context.Context, ticker string, price decimal.Decimal, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ticker] = cached{price: price, expires: c.now().Add(ttl)}
}

// RedisCache shares quotes between engine instances.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func quoteKey(ticker string) string { return "quote:" + ticker }

func (c *RedisCache) Get(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	s, err := c.rdb.Get(ctx, quoteKey(ticker)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(s)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

func (c *RedisCache) Set(ctx context.Context, ticker string, price decimal.Decimal, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.rdb.Set(ctx, quoteKey(ticker), price.String(), ttl)
}

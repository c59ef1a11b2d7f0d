package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tradejournal.app/internal/obs"
)

var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Redis shares the window across replicas. Redis errors fall back to the
// in-process limiter so throttling survives an outage.
type Redis struct {
	client   redis.UniversalClient
	limit    int
	window   time.Duration
	prefix   string
	timeout  time.Duration
	fallback *InMemory
}

// NewRedis builds a redis-backed limiter with an in-memory fallback.
func NewRedis(client redis.UniversalClient, prefix string, limit int, window time.Duration) *Redis {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "rl:"
	}
	return &Redis{
		client:   client,
		limit:    limit,
		window:   window,
		prefix:   prefix,
		timeout:  500 * time.Millisecond,
		fallback: NewInMemory(limit, window),
	}
}

func (l *Redis) Allow(ctx context.Context, key string) Decision {
	if l.client == nil {
		return l.fallback.Allow(ctx, key)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Result()
	if err != nil {
		obs.Logger().Warn("redis rate limit unavailable, using local window", zap.Error(err))
		return l.fallback.Allow(ctx, key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback.Allow(ctx, key)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}
	return decide(int(count), l.limit, time.Now().UTC().Add(time.Duration(ttlMs)*time.Millisecond))
}

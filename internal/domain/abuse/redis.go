package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

// slidingWindow trims attempts older than the window, then records a new one
// only when the count is below the limit. Returns {allowed, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisGuard keeps one sorted set of attempt timestamps per (class, actor),
// so several API instances share the same counters.
type RedisGuard struct {
	rdb   *redis.Client
	clock clock.Clock
}

func NewRedisGuard(rdb *redis.Client, c clock.Clock) *RedisGuard {
	if c == nil {
		c = clock.RealClock{}
	}
	return &RedisGuard{rdb: rdb, clock: c}
}

func (g *RedisGuard) CheckAndRecord(ctx context.Context, actorKey string, p Policy) (Decision, error) {
	if err := p.validate(); err != nil {
		return Decision{}, err
	}

	key := guardKey(p.Class, actorKey)
	member := uuid.NewString()
	now := g.clock.Now().UnixMilli()

	res, err := slidingWindow.Run(ctx, g.rdb, []string{key}, now, p.Window.Milliseconds(), p.MaxAttempts, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("abuse guard: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("abuse guard: unexpected script reply %v", res)
	}

	if res[0] == 0 {
		retry := time.Duration(res[1]) * time.Millisecond
		metrics.RateLimitDenialsTotal.WithLabelValues(string(p.Class)).Inc()
		return Decision{RetryAfter: retry}, &LimitError{Class: p.Class, RetryAfter: retry}
	}
	return Decision{Allowed: true, key: key, member: member}, nil
}

func (g *RedisGuard) Release(ctx context.Context, d Decision) error {
	if !d.Allowed || d.key == "" {
		return nil
	}
	return g.rdb.ZRem(ctx, d.key, d.member).Err()
}

// New returns a Redis-backed guard, or an in-process one when rdb is nil.
func New(rdb *redis.Client, c clock.Clock) Guard {
	if rdb == nil {
		return NewMemoryGuard(c)
	}
	return NewRedisGuard(rdb, c)
}

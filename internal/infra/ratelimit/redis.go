package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"govgate/internal/domain"

	"github.com/redis/go-redis/v9"
)

var _ domain.RateLimiter = (*RedisLimiter)(nil)

const defaultKeyPrefix = "govgate:rl:"

// admitScript counts a request only while the window has budget left.
// KEYS[1] counter, ARGV[1] limit, ARGV[2] ttl in ms. Returns {admitted, ok}.
var admitScript = redis.NewScript(`
local admitted = tonumber(redis.call("GET", KEYS[1]) or "0")
if admitted >= tonumber(ARGV[1]) then
  return {admitted, 0}
end
admitted = redis.call("INCR", KEYS[1])
if admitted == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {admitted, 1}
`)

// RedisLimiter shares counters between processes. Each window has its own
// key, suffixed with the window start, so no reset is ever needed.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, now func() time.Time) *RedisLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, prefix: prefix, now: now}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := r.now()
	start, end := alignedWindow(now, window)
	ttl := max(end.Sub(now).Milliseconds(), 1)

	counterKey := r.windowKey(key, start)
	result, err := admitScript.Run(ctx, r.client, []string{counterKey}, limit, ttl).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(result) != 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected rate limit script reply")
	}
	return decide(int(result[0]), limit, result[1] == 1, end), nil
}

func (r *RedisLimiter) windowKey(key string, start time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"github.com/redis/go-redis/v9"
)

var _ usecase.IdempotencyIndex = (*RedisIndex)(nil)

const defaultKeyPrefix = "govgate:idem:"

// Returns {1, value} when the key was reserved, {0, existing} otherwise.
var reserveScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
  return {0, existing}
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return {1, ARGV[1]}
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIndex shares reservations between processes. Values are
// "<reference>|<created_at unix millis>" and expire with the window.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisIndex(client redis.UniversalClient, prefix string, now func() time.Time) *RedisIndex {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisIndex{client: client, prefix: prefix, now: now}
}

func (r *RedisIndex) Reserve(ctx context.Context, key string, entry domain.IdempotencyEntry, window time.Duration) (domain.IdempotencyEntry, bool, error) {
	ttl := entry.CreatedAt.Add(window).Sub(r.now())
	if ttl <= 0 {
		return entry, true, nil
	}
	ttlMillis := ttl.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}
	result, err := reserveScript.Run(ctx, r.client, []string{r.prefix + key}, encodeEntry(entry), ttlMillis).Result()
	if err != nil {
		return domain.IdempotencyEntry{}, false, fmt.Errorf("idempotency reserve: %w", err)
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.IdempotencyEntry{}, false, errors.New("unexpected redis reserve response")
	}
	reserved, _ := values[0].(int64)
	raw, _ := values[1].(string)
	if reserved == 1 {
		return entry, true, nil
	}
	existing, err := decodeEntry(raw)
	if err != nil {
		return domain.IdempotencyEntry{}, false, err
	}
	return existing, false, nil
}

func (r *RedisIndex) Release(ctx context.Context, key string, entry domain.IdempotencyEntry) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, encodeEntry(entry)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

func encodeEntry(entry domain.IdempotencyEntry) string {
	return entry.Reference + "|" + strconv.FormatInt(entry.CreatedAt.UnixMilli(), 10)
}

func decodeEntry(raw string) (domain.IdempotencyEntry, error) {
	ref, millis, ok := strings.Cut(raw, "|")
	if !ok || ref == "" {
		return domain.IdempotencyEntry{}, fmt.Errorf("malformed idempotency entry %q", raw)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return domain.IdempotencyEntry{}, fmt.Errorf("malformed idempotency entry %q: %w", raw, err)
	}
	return domain.IdempotencyEntry{Reference: ref, CreatedAt: time.UnixMilli(ms).UTC()}, nil
}

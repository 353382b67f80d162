package nonce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"github.com/redis/go-redis/v9"
)

var _ usecase.NonceLedger = (*RedisLedger)(nil)

const defaultKeyPrefix = "govgate:nonce:"

// RedisLedger shares consumed nonces between processes. Redis expires the
// key, so no sweeper is needed.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLedger(client redis.UniversalClient, prefix string, now func() time.Time) *RedisLedger {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLedger{client: client, prefix: prefix, now: now}
}

func (r *RedisLedger) Seen(ctx context.Context, nonce string) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, domain.ErrMissingNonce
	}
	n, err := r.client.Exists(ctx, r.prefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("nonce lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisLedger) Mark(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, domain.ErrMissingNonce
	}
	ttl := expiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	ok, err := r.client.SetNX(ctx, r.prefix+nonce, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce mark: %w", err)
	}
	return ok, nil
}

package idempotency

import (
	"context"
	"testing"
	"time"

	"govgate/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisIndex(t *testing.T) (*RedisIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIndex(client, "", nil), mr
}

func TestRedisIndex_ReserveAndDuplicate(t *testing.T) {
	idx, mr := newRedisIndex(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Millisecond)
	first := domain.IdempotencyEntry{Reference: "stg_a", CreatedAt: created}

	if _, ok, err := idx.Reserve(ctx, "k", first, time.Hour); err != nil || !ok {
		t.Fatalf("expected reservation, got %v %v", ok, err)
	}
	existing, ok, err := idx.Reserve(ctx, "k", domain.IdempotencyEntry{Reference: "stg_b", CreatedAt: created}, time.Hour)
	if err != nil || ok {
		t.Fatalf("expected duplicate, got %v %v", ok, err)
	}
	if existing.Reference != "stg_a" || !existing.CreatedAt.Equal(created) {
		t.Fatalf("unexpected existing entry %+v", existing)
	}
	if ttl := mr.TTL(defaultKeyPrefix + "k"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, ok, err := idx.Reserve(ctx, "k", domain.IdempotencyEntry{Reference: "stg_c", CreatedAt: time.Now()}, time.Hour); err != nil || !ok {
		t.Fatalf("expected reservation after expiry, got %v %v", ok, err)
	}
}

func TestRedisIndex_ReleaseComparesValue(t *testing.T) {
	idx, mr := newRedisIndex(t)
	ctx := context.Background()
	entry := domain.IdempotencyEntry{Reference: "stg_a", CreatedAt: time.Now()}
	if _, _, err := idx.Reserve(ctx, "k", entry, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := idx.Release(ctx, "k", domain.IdempotencyEntry{Reference: "stg_b", CreatedAt: entry.CreatedAt}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(defaultKeyPrefix + "k") {
		t.Fatal("foreign release must not delete the key")
	}
	if err := idx.Release(ctx, "k", entry); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(defaultKeyPrefix + "k") {
		t.Fatal("expected key released")
	}
}

func TestRedisIndex_PastWindowIsNotStored(t *testing.T) {
	idx, mr := newRedisIndex(t)
	old := domain.IdempotencyEntry{Reference: "stg_old", CreatedAt: time.Now().Add(-2 * time.Hour)}
	if _, ok, err := idx.Reserve(context.Background(), "k", old, time.Hour); err != nil || !ok {
		t.Fatalf("expected pass-through, got %v %v", ok, err)
	}
	if mr.Exists(defaultKeyPrefix + "k") {
		t.Fatal("expired entry must not be stored")
	}
}

func TestRedisIndex_Unavailable(t *testing.T) {
	idx, mr := newRedisIndex(t)
	mr.Close()
	if _, _, err := idx.Reserve(context.Background(), "k", domain.IdempotencyEntry{Reference: "stg", CreatedAt: time.Now()}, time.Hour); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"govgate/internal/domain"
)

var (
	_ domain.RateLimiter = (*MemoryLimiter)(nil)

	ErrCapacity = errors.New("rate limiter capacity exceeded")
)

const defaultMaxKeys = 10000

type counter struct {
	admitted int
	end      time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// MemoryLimiter keeps counters for a single process. Refused requests are
// not counted.
type MemoryLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]counter
	maxKeys  int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		now:      cfg.Now,
		counters: make(map[string]counter),
		maxKeys:  cfg.MaxKeys,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := m.now()
	_, end := alignedWindow(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !c.end.Equal(end) {
		if !ok && len(m.counters) >= m.maxKeys {
			m.dropExpired(now)
			if len(m.counters) >= m.maxKeys {
				return domain.RateLimitDecision{}, ErrCapacity
			}
		}
		c = counter{end: end}
	}
	if c.admitted >= limit {
		m.counters[key] = c
		return decide(c.admitted, limit, false, end), nil
	}
	c.admitted++
	m.counters[key] = c
	return decide(c.admitted, limit, true, end), nil
}

func (m *MemoryLimiter) dropExpired(now time.Time) {
	for key, c := range m.counters {
		if !now.Before(c.end) {
			delete(m.counters, key)
		}
	}
}

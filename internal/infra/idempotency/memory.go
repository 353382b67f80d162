package idempotency

import (
	"context"
	"sync"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"
)

var _ usecase.IdempotencyIndex = (*MemoryIndex)(nil)

const defaultMaxKeys = 1_000_000

type memoryEntry struct {
	entry     domain.IdempotencyEntry
	expiresAt time.Time
}

type MemoryIndexConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// MemoryIndex is a process-local index. Entries live until CreatedAt+window;
// call Stager.Warm after a restart to rebuild it from staged envelopes.
type MemoryIndex struct {
	mu      sync.Mutex
	now     func() time.Time
	data    map[string]memoryEntry
	maxKeys int
}

func NewMemoryIndex(cfg MemoryIndexConfig) *MemoryIndex {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryIndex{
		now:     cfg.Now,
		data:    make(map[string]memoryEntry),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *MemoryIndex) Reserve(_ context.Context, key string, entry domain.IdempotencyEntry, window time.Duration) (domain.IdempotencyEntry, bool, error) {
	now := m.now()
	expiresAt := entry.CreatedAt.Add(window)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.data[key]; ok {
		if now.Before(existing.expiresAt) {
			return existing.entry, false, nil
		}
		delete(m.data, key)
	}
	if !now.Before(expiresAt) {
		// Already outside its window; nothing to remember.
		return entry, true, nil
	}
	if len(m.data) >= m.maxKeys {
		m.gc(now)
	}
	if len(m.data) >= m.maxKeys {
		return domain.IdempotencyEntry{}, false, domain.ErrIndexCapacity
	}
	m.data[key] = memoryEntry{entry: entry, expiresAt: expiresAt}
	return entry, true, nil
}

func (m *MemoryIndex) Release(_ context.Context, key string, entry domain.IdempotencyEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok && existing.entry.Reference == entry.Reference {
		delete(m.data, key)
	}
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemoryIndex) gc(now time.Time) {
	for key, e := range m.data {
		if !now.Before(e.expiresAt) {
			delete(m.data, key)
		}
	}
}

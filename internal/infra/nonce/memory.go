package nonce

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"govgate/internal/domain"
	"govgate/internal/logging"
	"govgate/internal/usecase"
)

var _ usecase.NonceLedger = (*MemoryLedger)(nil)

type MemoryConfig struct {
	Now        func() time.Time
	MaxEntries int
	Logger     *slog.Logger
}

// MemoryLedger keeps consumed nonces in process memory. Entries are kept in
// insertion order so that, at capacity, the oldest can be evicted after all
// expired entries are gone.
type MemoryLedger struct {
	mu         sync.Mutex
	now        func() time.Time
	maxEntries int
	logger     *slog.Logger
	entries    map[string]*list.Element
	order      *list.List
}

type memoryEntry struct {
	nonce     string
	expiresAt time.Time
}

func NewMemoryLedger(cfg MemoryConfig) *MemoryLedger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	return &MemoryLedger{
		now:        cfg.Now,
		maxEntries: cfg.MaxEntries,
		logger:     logging.OrDiscard(cfg.Logger),
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (l *MemoryLedger) Seen(_ context.Context, nonce string) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, domain.ErrMissingNonce
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.entries[nonce]
	if !ok {
		return false, nil
	}
	return !now.After(el.Value.(*memoryEntry).expiresAt), nil
}

// Mark records nonce until expiresAt. It returns false when the nonce is
// already present and unexpired; check and insert happen under one lock.
func (l *MemoryLedger) Mark(_ context.Context, nonce string, expiresAt time.Time) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, domain.ErrMissingNonce
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.entries[nonce]; ok {
		if !now.After(el.Value.(*memoryEntry).expiresAt) {
			return false, nil
		}
		l.removeLocked(el)
	}
	if len(l.entries) >= l.maxEntries {
		l.sweepLocked(now)
	}
	for len(l.entries) >= l.maxEntries {
		oldest := l.order.Front()
		entry := oldest.Value.(*memoryEntry)
		l.logger.Warn("nonce ledger at capacity; evicting unexpired nonce",
			"max_entries", l.maxEntries,
			"evicted_expires_at", entry.expiresAt,
		)
		l.removeLocked(oldest)
	}
	l.entries[nonce] = l.order.PushBack(&memoryEntry{nonce: nonce, expiresAt: expiresAt})
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (l *MemoryLedger) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

// Run sweeps on every tick until ctx is done.
func (l *MemoryLedger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("nonce ledger swept", "removed", n)
			}
		}
	}
}

func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryLedger) sweepLocked(now time.Time) int {
	removed := 0
	for el := l.order.Front(); el != nil; {
		next := el.Next()
		if now.After(el.Value.(*memoryEntry).expiresAt) {
			l.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

func (l *MemoryLedger) removeLocked(el *list.Element) {
	entry := l.order.Remove(el).(*memoryEntry)
	delete(l.entries, entry.nonce)
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"gorm.io/gorm"
)

var _ usecase.IdempotencyIndex = (*IdempotencyRepository)(nil)

// The conflict branch only replaces a row whose window has passed, so the
// statement returns a row exactly when the caller won the key.
const reserveIdempotencySQL = `
INSERT INTO idempotency_keys (idem_key, reference, created_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (idem_key) DO UPDATE
SET reference = EXCLUDED.reference,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= ?
RETURNING idem_key, reference, created_at, expires_at`

type IdempotencyRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewIdempotencyRepository(db *gorm.DB, now func() time.Time) *IdempotencyRepository {
	if now == nil {
		now = time.Now
	}
	return &IdempotencyRepository{db: db, now: now}
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, entry domain.IdempotencyEntry, window time.Duration) (domain.IdempotencyEntry, bool, error) {
	if r.db == nil {
		return domain.IdempotencyEntry{}, false, errDBUnavailable
	}
	created := entry.CreatedAt.UTC().Truncate(time.Microsecond)
	expires := created.Add(window)
	now := r.now().UTC()
	if !now.Before(expires) {
		return entry, true, nil
	}

	// A concurrent Release can delete the row between the two statements;
	// one retry covers it.
	for attempt := 0; attempt < 2; attempt++ {
		var won []IdempotencyKeyModel
		if err := r.db.WithContext(ctx).
			Raw(reserveIdempotencySQL, key, entry.Reference, created, expires, now).
			Scan(&won).Error; err != nil {
			return domain.IdempotencyEntry{}, false, err
		}
		if len(won) == 1 {
			return entry, true, nil
		}

		var existing IdempotencyKeyModel
		err := r.db.WithContext(ctx).Where("idem_key = ?", key).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return domain.IdempotencyEntry{}, false, err
		}
		return domain.IdempotencyEntry{Reference: existing.Reference, CreatedAt: existing.CreatedAt.UTC()}, false, nil
	}
	return domain.IdempotencyEntry{}, false, fmt.Errorf("idempotency key %s changed during reserve", key)
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string, entry domain.IdempotencyEntry) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("idem_key = ? AND reference = ?", key, entry.Reference).
		Delete(&IdempotencyKeyModel{}).Error
}

// Purge drops rows whose window has passed.
func (r *IdempotencyRepository) Purge(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now().UTC()).Delete(&IdempotencyKeyModel{})
	return res.RowsAffected, res.Error
}

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

var _ usecase.StagingRepository = (*StagingRepository)(nil)

type StagingRepository struct {
	db *gorm.DB
}

func NewStagingRepository(db *gorm.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

func (r *StagingRepository) Create(ctx context.Context, env domain.StagedEnvelope) error {
	if r.db == nil {
		return errDBUnavailable
	}
	payload, err := marshalJSON(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	model := StagedEnvelopeModel{
		Reference:      env.Reference,
		Type:           env.Type,
		Version:        env.Version,
		IdempotencyKey: env.IdempotencyKey,
		SubjectID:      env.SubjectID,
		RequestID:      env.RequestID,
		PayloadJSON:    payload,
		EnvelopeHash:   env.EnvelopeHash,
		CreatedAt:      env.CreatedAt.UTC(),
		ExpiresAt:      env.ExpiresAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *StagingRepository) Get(ctx context.Context, reference string) (*domain.StagedEnvelope, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model StagedEnvelopeModel
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	env, err := stagedEnvelopeFromModel(model)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (r *StagingRepository) ListSince(ctx context.Context, since time.Time) ([]domain.StagedEnvelope, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []StagedEnvelopeModel
	if err := r.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.StagedEnvelope, 0, len(models))
	for _, m := range models {
		env, err := stagedEnvelopeFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// MarkReleased stamps released_at once; later calls keep the first stamp.
func (r *StagingRepository) MarkReleased(ctx context.Context, reference string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&StagedEnvelopeModel{}).
		Where("reference = ? AND released_at IS NULL", reference).
		Update("released_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&StagedEnvelopeModel{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func stagedEnvelopeFromModel(m StagedEnvelopeModel) (domain.StagedEnvelope, error) {
	payload, err := decodePayload(m.PayloadJSON)
	if err != nil {
		return domain.StagedEnvelope{}, fmt.Errorf("decode envelope %s: %w", m.Reference, err)
	}
	return domain.StagedEnvelope{
		Reference:      m.Reference,
		Type:           m.Type,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.UTC(),
		IdempotencyKey: m.IdempotencyKey,
		SubjectID:      m.SubjectID,
		RequestID:      m.RequestID,
		Payload:        payload,
		EnvelopeHash:   m.EnvelopeHash,
		ExpiresAt:      m.ExpiresAt.UTC(),
		ReleasedAt:     releasedAt(m.ReleasedAt),
	}, nil
}

func releasedAt(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

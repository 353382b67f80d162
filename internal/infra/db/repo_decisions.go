package db

import (
	"context"
	"errors"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"gorm.io/gorm"
)

var _ usecase.DecisionRepository = (*DecisionRepository)(nil)

// DecisionRepository relies on the escalation_id primary key so the first
// insert wins across every process sharing the database.
type DecisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

func (r *DecisionRepository) Create(ctx context.Context, rec domain.DecisionRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := DecisionModel{
		EscalationID:        rec.EscalationID,
		Decision:            string(rec.Decision),
		DeciderID:           rec.DeciderID,
		BoundEscalationHash: rec.BoundEscalationHash,
		DecidedAt:           rec.DecidedAt.UTC(),
		DecisionSignature:   rec.DecisionSignature,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyDecided
		}
		return err
	}
	return nil
}

func (r *DecisionRepository) Get(ctx context.Context, escalationID string) (*domain.DecisionRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var m DecisionModel
	if err := r.db.WithContext(ctx).Where("escalation_id = ?", escalationID).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.DecisionRecord{
		EscalationID:        m.EscalationID,
		Decision:            domain.Decision(m.Decision),
		DeciderID:           m.DeciderID,
		BoundEscalationHash: m.BoundEscalationHash,
		DecidedAt:           m.DecidedAt.UTC(),
		DecisionSignature:   m.DecisionSignature,
	}, nil
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"gorm.io/gorm"
)

var _ usecase.EscalationRepository = (*EscalationRepository)(nil)

// EscalationRepository only inserts and reads; rows are never updated.
type EscalationRepository struct {
	db *gorm.DB
}

func NewEscalationRepository(db *gorm.DB) *EscalationRepository {
	return &EscalationRepository{db: db}
}

func (r *EscalationRepository) Create(ctx context.Context, rec domain.EscalationRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	reasons := rec.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	model := EscalationModel{
		ID:               rec.ID,
		ContentHash:      rec.ContentHash,
		SubjectRequestID: rec.SubjectRequestID,
		SubjectID:        rec.SubjectID,
		Nonce:            rec.Nonce,
		StagingReference: rec.StagingReference,
		Type:             rec.Type,
		PolicyHash:       rec.PolicyHash,
		ReasonsJSON:      reasonsJSON,
		PayloadJSON:      payload,
		CreatedAt:        rec.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *EscalationRepository) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var m EscalationModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	payload, err := decodePayload(m.PayloadJSON)
	if err != nil {
		return nil, fmt.Errorf("decode escalation %s: %w", m.ID, err)
	}
	var reasons []string
	if len(m.ReasonsJSON) > 0 {
		if err := json.Unmarshal(m.ReasonsJSON, &reasons); err != nil {
			return nil, fmt.Errorf("decode escalation reasons %s: %w", m.ID, err)
		}
	}
	return &domain.EscalationRecord{
		ID:               m.ID,
		ContentHash:      m.ContentHash,
		SubjectRequestID: m.SubjectRequestID,
		SubjectID:        m.SubjectID,
		Nonce:            m.Nonce,
		StagingReference: m.StagingReference,
		Type:             m.Type,
		PolicyHash:       m.PolicyHash,
		Reasons:          reasons,
		Payload:          payload,
		CreatedAt:        m.CreatedAt.UTC(),
	}, nil
}

package db

import (
	"context"
	"fmt"

	"govgate/internal/domain"
	"govgate/internal/usecase"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ usecase.RevocationRepository = (*RevocationRepository)(nil)

type RevocationRepository struct {
	db *gorm.DB
}

func NewRevocationRepository(db *gorm.DB) *RevocationRepository {
	return &RevocationRepository{db: db}
}

// Append inserts unless (subject_id, nonce) already exists, in which case the
// stored entry is returned with created=false.
func (r *RevocationRepository) Append(ctx context.Context, entry domain.RevocationEntry) (domain.RevocationEntry, bool, error) {
	if r.db == nil {
		return domain.RevocationEntry{}, false, errDBUnavailable
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	model := RevocationModel{
		ID:        entry.ID,
		SubjectID: entry.SubjectID,
		Nonce:     entry.Nonce,
		Reason:    entry.Reason,
		Actor:     entry.Actor,
		RevokedAt: entry.RevokedAt.UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}, {Name: "nonce"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return domain.RevocationEntry{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return revocationFromModel(model), true, nil
	}

	var existing RevocationModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ? AND nonce = ?", entry.SubjectID, entry.Nonce).
		Take(&existing).Error; err != nil {
		return domain.RevocationEntry{}, false, fmt.Errorf("load existing revocation: %w", err)
	}
	return revocationFromModel(existing), false, nil
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, subjectID, nonce string) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RevocationModel{}).
		Where("(subject_id <> '' AND subject_id = ?) OR (nonce <> '' AND nonce = ?)", subjectID, nonce).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RevocationRepository) List(ctx context.Context) ([]domain.RevocationEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RevocationModel
	if err := r.db.WithContext(ctx).Order("revoked_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RevocationEntry, 0, len(models))
	for _, m := range models {
		out = append(out, revocationFromModel(m))
	}
	return out, nil
}

func revocationFromModel(m RevocationModel) domain.RevocationEntry {
	return domain.RevocationEntry{
		ID:        m.ID,
		SubjectID: m.SubjectID,
		Nonce:     m.Nonce,
		Reason:    m.Reason,
		Actor:     m.Actor,
		RevokedAt: m.RevokedAt.UTC(),
	}
}

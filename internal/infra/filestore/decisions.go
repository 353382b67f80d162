package filestore

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"govgate/internal/domain"
	"govgate/internal/usecase"
)

var _ usecase.DecisionRepository = (*DecisionRepo)(nil)

// DecisionRepo stores one decision per escalation as
// decisions/<escalation_id>.json. The first writer wins.
type DecisionRepo struct {
	root string
}

func (r *DecisionRepo) Create(_ context.Context, rec domain.DecisionRecord) error {
	if err := validateName(rec.EscalationID); err != nil {
		return err
	}
	if err := writeOnce(r.path(rec.EscalationID), rec); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrAlreadyDecided
		}
		return err
	}
	return nil
}

func (r *DecisionRepo) Get(_ context.Context, escalationID string) (*domain.DecisionRecord, error) {
	if err := validateName(escalationID); err != nil {
		return nil, domain.ErrNotFound
	}
	var rec domain.DecisionRecord
	if err := readJSON(r.path(escalationID), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *DecisionRepo) path(escalationID string) string {
	return filepath.Join(r.root, escalationID+".json")
}

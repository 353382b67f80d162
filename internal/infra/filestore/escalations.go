package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"
)

var _ usecase.EscalationRepository = (*EscalationRepo)(nil)

// EscalationRepo stores records as escalations/<yyyy-mm-dd>/<id>.json. There
// is no update path.
type EscalationRepo struct {
	root string
}

func (r *EscalationRepo) Create(_ context.Context, rec domain.EscalationRecord) error {
	path, err := r.path(rec.ID)
	if err != nil {
		return err
	}
	if err := writeOnce(path, rec); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *EscalationRepo) Get(_ context.Context, id string) (*domain.EscalationRecord, error) {
	path, err := r.path(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var rec domain.EscalationRecord
	if err := readJSON(path, &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// path derives the day directory from the esc_<unix millis>_ prefix.
func (r *EscalationRepo) path(id string) (string, error) {
	if err := validateName(id); err != nil {
		return "", err
	}
	parts := strings.SplitN(id, "_", 3)
	if len(parts) < 3 || parts[0] != "esc" {
		return "", fmt.Errorf("malformed escalation id %q", id)
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed escalation id %q", id)
	}
	day := time.UnixMilli(millis).UTC().Format(dayLayout)
	return filepath.Join(r.root, day, id+".json"), nil
}

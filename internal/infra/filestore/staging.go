package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"
)

var _ usecase.StagingRepository = (*StagingRepo)(nil)

const (
	dayLayout      = "2006-01-02"
	releasedSuffix = ".released"
)

type releaseMarker struct {
	ReleasedAt time.Time `json:"released_at"`
}

// StagingRepo stores envelopes as staged/<yyyy-mm-dd>/<reference>.json. A
// released reservation gets a <reference>.released marker beside it; the
// envelope itself is never rewritten.
type StagingRepo struct {
	root string
}

func (r *StagingRepo) Create(_ context.Context, env domain.StagedEnvelope) error {
	path, err := r.path(env.Reference)
	if err != nil {
		return err
	}
	if err := writeOnce(path, env); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *StagingRepo) Get(_ context.Context, reference string) (*domain.StagedEnvelope, error) {
	path, err := r.path(reference)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	var env domain.StagedEnvelope
	if err := readJSON(path, &env); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := loadReleased(path, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (r *StagingRepo) MarkReleased(_ context.Context, reference string, at time.Time) error {
	path, err := r.path(reference)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return err
	}
	err = writeOnce(strings.TrimSuffix(path, ".json")+releasedSuffix, releaseMarker{ReleasedAt: at.UTC()})
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// ListSince returns envelopes created at or after since, oldest day first.
func (r *StagingRepo) ListSince(_ context.Context, since time.Time) ([]domain.StagedEnvelope, error) {
	days, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	firstDay := since.UTC().Format(dayLayout)
	var out []domain.StagedEnvelope
	for _, day := range days {
		if !day.IsDir() || day.Name() < firstDay {
			continue
		}
		files, err := os.ReadDir(filepath.Join(r.root, day.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			var env domain.StagedEnvelope
			path := filepath.Join(r.root, day.Name(), f.Name())
			if err := readJSON(path, &env); err != nil {
				return nil, err
			}
			if env.CreatedAt.Before(since) {
				continue
			}
			if err := loadReleased(path, &env); err != nil {
				return nil, err
			}
			out = append(out, env)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// path derives the day directory from the stg_<yyyymmdd>_ prefix.
func (r *StagingRepo) path(reference string) (string, error) {
	if err := validateName(reference); err != nil {
		return "", err
	}
	parts := strings.SplitN(reference, "_", 3)
	if len(parts) < 3 || parts[0] != "stg" {
		return "", fmt.Errorf("malformed staging reference %q", reference)
	}
	day, err := time.Parse("20060102", parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed staging reference %q", reference)
	}
	return filepath.Join(r.root, day.Format(dayLayout), reference+".json"), nil
}

func loadReleased(envelopePath string, env *domain.StagedEnvelope) error {
	var marker releaseMarker
	err := readJSON(strings.TrimSuffix(envelopePath, ".json")+releasedSuffix, &marker)
	switch {
	case err == nil:
		env.ReleasedAt = &marker.ReleasedAt
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}

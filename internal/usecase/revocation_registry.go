package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"govgate/internal/domain"
	"govgate/internal/logging"

	"github.com/google/uuid"
)

type RevokeInput struct {
	SubjectID string
	Nonce     string
	Reason    string
	Actor     string
}

// RevocationRegistry is the authoritative, monotonic revocation list. It
// offers no removal operation.
type RevocationRegistry struct {
	Repo   RevocationRepository
	Audit  *AuditEmitter
	Clock  Clock
	Logger *slog.Logger
}

func NewRevocationRegistry(repo RevocationRepository, audit *AuditEmitter, clock Clock, logger *slog.Logger) *RevocationRegistry {
	return &RevocationRegistry{
		Repo:   repo,
		Audit:  audit,
		Clock:  clock,
		Logger: logging.OrDiscard(logger),
	}
}

// Revoke is idempotent on (subject_id, nonce): repeating it returns the
// original entry.
func (r *RevocationRegistry) Revoke(ctx context.Context, in RevokeInput) (domain.RevocationEntry, error) {
	if r == nil || r.Repo == nil {
		return domain.RevocationEntry{}, errors.New("revocation repository is required")
	}
	entry := domain.RevocationEntry{
		SubjectID: strings.TrimSpace(in.SubjectID),
		Nonce:     strings.TrimSpace(in.Nonce),
		Reason:    strings.TrimSpace(in.Reason),
		Actor:     strings.TrimSpace(in.Actor),
	}
	if entry.SubjectID == "" && entry.Nonce == "" {
		return domain.RevocationEntry{}, fmt.Errorf("%w: subject_id or nonce is required", domain.ErrInvalidRequest)
	}
	if entry.Reason == "" {
		return domain.RevocationEntry{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidRequest)
	}
	if entry.Actor == "" {
		return domain.RevocationEntry{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidRequest)
	}
	entry.ID = uuid.NewString()
	entry.RevokedAt = nowFrom(r.Clock)

	stored, created, err := r.Repo.Append(ctx, entry)
	if err != nil {
		return domain.RevocationEntry{}, fmt.Errorf("%w: append revocation: %v", domain.ErrUnavailable, err)
	}
	r.logger().Info("revocation recorded",
		"revocation_id", stored.ID,
		"has_subject", stored.SubjectID != "",
		"has_nonce", stored.Nonce != "",
		"created", created,
	)
	if err := r.Audit.EmitRevocationAdded(ctx, stored, created); err != nil {
		r.logger().Error("audit revocation failed", "error", err)
	}
	return stored, nil
}

func (r *RevocationRegistry) IsRevoked(ctx context.Context, subjectID, nonce string) (bool, error) {
	if r == nil || r.Repo == nil {
		return false, errors.New("revocation repository is required")
	}
	if subjectID == "" && nonce == "" {
		return false, nil
	}
	return r.Repo.IsRevoked(ctx, subjectID, nonce)
}

func (r *RevocationRegistry) List(ctx context.Context) ([]domain.RevocationEntry, error) {
	if r == nil || r.Repo == nil {
		return nil, errors.New("revocation repository is required")
	}
	return r.Repo.List(ctx)
}

func (r *RevocationRegistry) logger() *slog.Logger {
	return logging.OrDiscard(r.Logger)
}

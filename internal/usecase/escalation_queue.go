package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"govgate/internal/domain"
	"govgate/internal/logging"
)

type EscalationInput struct {
	SubjectRequestID string
	SubjectID        string
	Nonce            string
	StagingReference string
	Type             string
	PolicyHash       string
	Reasons          []string
	Payload          map[string]any
}

// EscalationQueue writes escalation records exactly once. Records are never
// updated or deleted through this type.
type EscalationQueue struct {
	Repo   EscalationRepository
	Crypto CryptoService
	Audit  *AuditEmitter
	Clock  Clock
	Logger *slog.Logger
}

func NewEscalationQueue(repo EscalationRepository, crypto CryptoService, audit *AuditEmitter, clock Clock, logger *slog.Logger) *EscalationQueue {
	return &EscalationQueue{
		Repo:   repo,
		Crypto: crypto,
		Audit:  audit,
		Clock:  clock,
		Logger: logging.OrDiscard(logger),
	}
}

func (q *EscalationQueue) Escalate(ctx context.Context, in EscalationInput) (domain.EscalationRecord, error) {
	if q == nil || q.Repo == nil || q.Crypto == nil {
		return domain.EscalationRecord{}, errors.New("escalation queue is not configured")
	}
	if strings.TrimSpace(in.SubjectID) == "" || strings.TrimSpace(in.SubjectRequestID) == "" {
		return domain.EscalationRecord{}, fmt.Errorf("%w: subject_id and subject_request_id are required", domain.ErrInvalidRequest)
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	now := nowFrom(q.Clock)
	rec := domain.EscalationRecord{
		SubjectRequestID: in.SubjectRequestID,
		SubjectID:        in.SubjectID,
		Nonce:            in.Nonce,
		StagingReference: in.StagingReference,
		Type:             in.Type,
		PolicyHash:       in.PolicyHash,
		Reasons:          in.Reasons,
		Payload:          payload,
		CreatedAt:        now,
	}
	hash, err := q.ContentHash(rec)
	if err != nil {
		return domain.EscalationRecord{}, err
	}
	rec.ContentHash = hash
	rec.ID = escalationID(now.UnixMilli(), hash)

	if err := q.Repo.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.EscalationRecord{}, err
		}
		return domain.EscalationRecord{}, fmt.Errorf("%w: persist escalation: %v", domain.ErrUnavailable, err)
	}
	q.logger().Info("escalation created",
		"escalation_id", rec.ID,
		"subject_id", rec.SubjectID,
		"request_id", rec.SubjectRequestID,
		"reasons", rec.Reasons,
	)
	if err := q.Audit.EmitEscalationCreated(ctx, rec); err != nil {
		q.logger().Error("audit escalation failed", "escalation_id", rec.ID, "error", err)
	}
	return rec, nil
}

// Get loads the stored record as-is. Use VerifyIntegrity to check it.
func (q *EscalationQueue) Get(ctx context.Context, id string) (domain.EscalationRecord, error) {
	if q == nil || q.Repo == nil {
		return domain.EscalationRecord{}, errors.New("escalation queue is not configured")
	}
	rec, err := q.Repo.Get(ctx, id)
	if err != nil {
		return domain.EscalationRecord{}, err
	}
	if rec == nil {
		return domain.EscalationRecord{}, domain.ErrNotFound
	}
	return *rec, nil
}

// ContentHash recomputes the sha256 over the canonical
// {subject_request_id, subject_id, payload}.
func (q *EscalationQueue) ContentHash(rec domain.EscalationRecord) (string, error) {
	hash, err := q.Crypto.HashCanonical(rec.Content())
	if err != nil {
		return "", fmt.Errorf("%w: hash escalation content: %v", domain.ErrInvalidRequest, err)
	}
	return hash, nil
}

// VerifyIntegrity returns the live content hash, or ErrEscalationTampered when
// it disagrees with the stored hash or the id suffix.
func (q *EscalationQueue) VerifyIntegrity(rec domain.EscalationRecord) (string, error) {
	live, err := q.ContentHash(rec)
	if err != nil {
		// Stored content that no longer hashes was not written by Escalate.
		return "", fmt.Errorf("%w: %v", domain.ErrEscalationTampered, err)
	}
	if live != rec.ContentHash || !strings.HasSuffix(rec.ID, "_"+live) {
		return live, domain.ErrEscalationTampered
	}
	return live, nil
}

func escalationID(unixMillis int64, contentHash string) string {
	return "esc_" + strconv.FormatInt(unixMillis, 10) + "_" + contentHash
}

func (q *EscalationQueue) logger() *slog.Logger {
	return logging.OrDiscard(q.Logger)
}

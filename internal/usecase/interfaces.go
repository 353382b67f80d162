package usecase

import (
	"context"
	"time"

	"govgate/internal/domain"
)

type Clock func() time.Time

type TokenCodec interface {
	Issue(subjectID string, scope []string, ttl time.Duration) (string, domain.TokenClaims, error)
	Verify(token string, requiredScope string) (domain.TokenClaims, error)
}

// NonceLedger records consumed token nonces. Mark must be an atomic
// check-and-set: it returns false when the nonce is present and unexpired.
type NonceLedger interface {
	Seen(ctx context.Context, nonce string) (bool, error)
	Mark(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// RevocationRepository is append-only. Append returns the existing entry and
// created=false when an entry with the same (subject_id, nonce) exists.
type RevocationRepository interface {
	Append(ctx context.Context, entry domain.RevocationEntry) (domain.RevocationEntry, bool, error)
	IsRevoked(ctx context.Context, subjectID, nonce string) (bool, error)
	List(ctx context.Context) ([]domain.RevocationEntry, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, subjectID, nonce string) (bool, error)
}

// IdempotencyIndex reserves a key for window measured from entry.CreatedAt.
// When an unexpired reservation exists it is returned with reserved=false.
type IdempotencyIndex interface {
	Reserve(ctx context.Context, key string, entry domain.IdempotencyEntry, window time.Duration) (existing domain.IdempotencyEntry, reserved bool, err error)
	Release(ctx context.Context, key string, entry domain.IdempotencyEntry) error
}

type StagingRepository interface {
	Create(ctx context.Context, env domain.StagedEnvelope) error
	Get(ctx context.Context, reference string) (*domain.StagedEnvelope, error)
	ListSince(ctx context.Context, since time.Time) ([]domain.StagedEnvelope, error)
	MarkReleased(ctx context.Context, reference string, at time.Time) error
}

type EscalationRepository interface {
	Create(ctx context.Context, rec domain.EscalationRecord) error
	Get(ctx context.Context, id string) (*domain.EscalationRecord, error)
}

// DecisionRepository must fail Create with domain.ErrAlreadyDecided when a
// decision for the escalation already exists.
type DecisionRepository interface {
	Create(ctx context.Context, rec domain.DecisionRecord) error
	Get(ctx context.Context, escalationID string) (*domain.DecisionRecord, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context) ([]domain.AuditEvent, error)
}

type CryptoService interface {
	CanonicalizeAny(payload any) ([]byte, error)
	HashCanonical(payload any) (string, error)
}

type DecisionSigner interface {
	Sign(payload any) (string, error)
	Verify(payload any, signature string) error
}

type EscalationPolicy interface {
	Evaluate(ctx context.Context, input domain.EscalationPolicyInput) (domain.EscalationVerdict, error)
}

// Executor performs the downstream action for an admitted or approved request.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (map[string]any, error)
}

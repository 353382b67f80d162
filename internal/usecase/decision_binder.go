package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/logging"
)

// DecisionBinder records trustee decisions bound to the escalation content
// hash. The first decision for an escalation is final.
type DecisionBinder struct {
	Escalations   *EscalationQueue
	Repo          DecisionRepository
	Signer        DecisionSigner
	Audit         *AuditEmitter
	Clock         Clock
	Logger        *slog.Logger
	EscalationTTL time.Duration
}

func NewDecisionBinder(escalations *EscalationQueue, repo DecisionRepository, signer DecisionSigner, audit *AuditEmitter, clock Clock, ttl time.Duration, logger *slog.Logger) *DecisionBinder {
	return &DecisionBinder{
		Escalations:   escalations,
		Repo:          repo,
		Signer:        signer,
		Audit:         audit,
		Clock:         clock,
		Logger:        logging.OrDiscard(logger),
		EscalationTTL: ttl,
	}
}

func (b *DecisionBinder) Decide(ctx context.Context, escalationID string, decision domain.Decision, deciderID string) (domain.DecisionRecord, error) {
	if b == nil || b.Escalations == nil || b.Repo == nil || b.Signer == nil {
		return domain.DecisionRecord{}, errors.New("decision binder is not configured")
	}
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return domain.DecisionRecord{}, domain.ErrInvalidDecision
	}
	deciderID = strings.TrimSpace(deciderID)
	if deciderID == "" {
		return domain.DecisionRecord{}, fmt.Errorf("%w: decider_id is required", domain.ErrInvalidRequest)
	}

	esc, err := b.Escalations.Get(ctx, escalationID)
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	liveHash, err := b.Escalations.VerifyIntegrity(esc)
	if err != nil {
		b.reportIntegrity(ctx, escalationID, err)
		return domain.DecisionRecord{}, err
	}
	// Postgres keeps microseconds; decided_at is signed and must round-trip.
	now := nowFrom(b.Clock).UTC().Truncate(time.Microsecond)
	if escalationExpired(esc, b.EscalationTTL, now) {
		return domain.DecisionRecord{}, domain.ErrEscalationExpired
	}

	rec := domain.DecisionRecord{
		EscalationID:        esc.ID,
		Decision:            decision,
		DeciderID:           deciderID,
		BoundEscalationHash: liveHash,
		DecidedAt:           now,
	}
	sig, err := b.Signer.Sign(rec.SigningPayload())
	if err != nil {
		return domain.DecisionRecord{}, fmt.Errorf("sign decision: %w", err)
	}
	rec.DecisionSignature = sig

	if err := b.Repo.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyDecided) {
			b.logger().Warn("decision conflict", "escalation_id", esc.ID, "decider_id", deciderID, "decision", string(decision))
			if auditErr := b.Audit.EmitDecisionConflict(ctx, esc.ID, deciderID, decision); auditErr != nil {
				b.logger().Error("audit decision conflict failed", "error", auditErr)
			}
			return domain.DecisionRecord{}, err
		}
		return domain.DecisionRecord{}, fmt.Errorf("%w: persist decision: %v", domain.ErrUnavailable, err)
	}
	b.logger().Info("decision recorded", "escalation_id", esc.ID, "decision", string(decision), "decider_id", deciderID)
	if err := b.Audit.EmitDecisionRecorded(ctx, rec); err != nil {
		b.logger().Error("audit decision failed", "error", err)
	}
	return rec, nil
}

// Read returns the verified decision, or nil when none was recorded. A record
// whose signature or bound hash no longer matches the live escalation is an
// integrity error and is never returned.
func (b *DecisionBinder) Read(ctx context.Context, escalationID string) (*domain.DecisionRecord, error) {
	if b == nil || b.Escalations == nil || b.Repo == nil || b.Signer == nil {
		return nil, errors.New("decision binder is not configured")
	}
	esc, err := b.Escalations.Get(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	rec, err := b.Repo.Get(ctx, escalationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load decision: %v", domain.ErrUnavailable, err)
	}
	if rec == nil {
		return nil, nil
	}
	if err := b.verify(esc, *rec); err != nil {
		b.reportIntegrity(ctx, escalationID, err)
		return nil, err
	}
	return rec, nil
}

func (b *DecisionBinder) verify(esc domain.EscalationRecord, rec domain.DecisionRecord) error {
	if rec.EscalationID != esc.ID {
		return fmt.Errorf("%w: decision belongs to %s", domain.ErrHashMismatch, rec.EscalationID)
	}
	if err := b.Signer.Verify(rec.SigningPayload(), rec.DecisionSignature); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecisionSignature, err)
	}
	liveHash, err := b.Escalations.ContentHash(esc)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHashMismatch, err)
	}
	if rec.BoundEscalationHash != liveHash {
		return domain.ErrHashMismatch
	}
	if _, err := b.Escalations.VerifyIntegrity(esc); err != nil {
		return err
	}
	return nil
}

func (b *DecisionBinder) reportIntegrity(ctx context.Context, escalationID string, err error) {
	code := integrityCode(err)
	b.logger().Error("escalation integrity violation", "escalation_id", escalationID, "code", code, "error", err)
	if auditErr := b.Audit.EmitIntegrityViolation(ctx, escalationID, code); auditErr != nil {
		b.logger().Error("audit integrity violation failed", "error", auditErr)
	}
}

func integrityCode(err error) string {
	if errors.Is(err, domain.ErrEscalationTampered) {
		return "ESCALATION_TAMPERED"
	}
	return "DECISION_HASH_MISMATCH"
}

func escalationExpired(esc domain.EscalationRecord, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.After(esc.CreatedAt.Add(ttl))
}

func (b *DecisionBinder) logger() *slog.Logger {
	return logging.OrDiscard(b.Logger)
}

package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"govgate/internal/domain"
)

// AuditEmitter writes hash-chained audit events. Identifiers of callers and
// nonces are stored as sha256 hashes.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" || event.TargetType == "" || event.Result == "" || event.ActorType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return e.Repo.Append(ctx, event)
}

func (e *AuditEmitter) EmitTokenIssued(ctx context.Context, adminKey string, claims domain.TokenClaims) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(adminKey),
		EventType:   domain.AuditEventTokenIssued,
		TargetType:  domain.AuditTargetToken,
		TargetID:    hashString(claims.Nonce),
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"subject_hash": hashString(claims.SubjectID),
			"scope":        claims.Scope,
			"expires_at":   claims.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}

func (e *AuditEmitter) EmitAdmissionDenied(ctx context.Context, subjectID, nonce, requestID string, code domain.DenialCode) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(subjectID),
		EventType:   domain.AuditEventAdmissionDenied,
		TargetType:  domain.AuditTargetToken,
		TargetID:    hashString(nonce),
		Result:      domain.AuditResultFailure,
		ErrorCode:   string(code),
		Payload: map[string]any{
			"request_id": requestID,
		},
	})
}

func (e *AuditEmitter) EmitRevocationAdded(ctx context.Context, entry domain.RevocationEntry, created bool) error {
	payload := map[string]any{
		"reason":  entry.Reason,
		"created": created,
	}
	if entry.SubjectID != "" {
		payload["subject_hash"] = hashString(entry.SubjectID)
	}
	if entry.Nonce != "" {
		payload["nonce_hash"] = hashString(entry.Nonce)
	}
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorAdminAPIKey,
		ActorIDHash: hashString(entry.Actor),
		EventType:   domain.AuditEventRevocationAdded,
		TargetType:  domain.AuditTargetRevocation,
		TargetID:    entry.ID,
		Result:      domain.AuditResultSuccess,
		Payload:     payload,
	})
}

func (e *AuditEmitter) EmitEnvelopeStaged(ctx context.Context, env domain.StagedEnvelope) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(env.SubjectID),
		EventType:   domain.AuditEventEnvelopeStaged,
		TargetType:  domain.AuditTargetEnvelope,
		TargetID:    env.Reference,
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"type":          env.Type,
			"envelope_hash": env.EnvelopeHash,
			"request_id":    env.RequestID,
		},
	})
}

func (e *AuditEmitter) EmitEscalationCreated(ctx context.Context, rec domain.EscalationRecord) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(rec.SubjectID),
		EventType:   domain.AuditEventEscalationCreated,
		TargetType:  domain.AuditTargetEscalation,
		TargetID:    rec.ID,
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"content_hash":      rec.ContentHash,
			"policy_hash":       rec.PolicyHash,
			"reasons":           rec.Reasons,
			"staging_reference": rec.StagingReference,
		},
	})
}

func (e *AuditEmitter) EmitDecisionRecorded(ctx context.Context, rec domain.DecisionRecord) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(rec.DeciderID),
		EventType:   domain.AuditEventDecisionRecorded,
		TargetType:  domain.AuditTargetEscalation,
		TargetID:    rec.EscalationID,
		Result:      domain.AuditResultSuccess,
		Payload: map[string]any{
			"decision":              string(rec.Decision),
			"bound_escalation_hash": rec.BoundEscalationHash,
		},
	})
}

func (e *AuditEmitter) EmitDecisionConflict(ctx context.Context, escalationID, deciderID string, attempted domain.Decision) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(deciderID),
		EventType:   domain.AuditEventDecisionConflict,
		TargetType:  domain.AuditTargetEscalation,
		TargetID:    escalationID,
		Result:      domain.AuditResultFailure,
		ErrorCode:   "ALREADY_DECIDED",
		Payload: map[string]any{
			"attempted_decision": string(attempted),
		},
	})
}

func (e *AuditEmitter) EmitExecution(ctx context.Context, subjectID string, targetType domain.AuditTargetType, targetID string, result domain.AuditResult, errorCode string) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:   domain.AuditActorSubject,
		ActorIDHash: hashString(subjectID),
		EventType:   domain.AuditEventExecutionPerformed,
		TargetType:  targetType,
		TargetID:    targetID,
		Result:      result,
		ErrorCode:   errorCode,
	})
}

func (e *AuditEmitter) EmitIntegrityViolation(ctx context.Context, escalationID string, errorCode string) error {
	return e.emit(ctx, domain.AuditEvent{
		ActorType:  domain.AuditActorSystem,
		EventType:  domain.AuditEventIntegrityViolation,
		TargetType: domain.AuditTargetEscalation,
		TargetID:   escalationID,
		Result:     domain.AuditResultFailure,
		ErrorCode:  errorCode,
	})
}

// emit is a no-op on a nil emitter so components can run without an audit sink.
func (e *AuditEmitter) emit(ctx context.Context, event domain.AuditEvent) error {
	if e == nil || e.Repo == nil {
		return nil
	}
	_, err := e.Emit(ctx, event)
	return err
}

func (e *AuditEmitter) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

func hashString(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

package domain

import "time"

type AuditActorType string

const (
	AuditChainVersion = "govgate_audit_v1"

	AuditActorSystem      AuditActorType = "system"
	AuditActorAdminAPIKey AuditActorType = "admin_api_key"
	AuditActorSubject     AuditActorType = "subject"
)

type AuditEventType string

const (
	AuditEventTokenIssued        AuditEventType = "token_issued"
	AuditEventAdmissionDenied    AuditEventType = "admission_denied"
	AuditEventRevocationAdded    AuditEventType = "revocation_added"
	AuditEventEnvelopeStaged     AuditEventType = "envelope_staged"
	AuditEventEscalationCreated  AuditEventType = "escalation_created"
	AuditEventDecisionRecorded   AuditEventType = "decision_recorded"
	AuditEventDecisionConflict   AuditEventType = "decision_conflict"
	AuditEventExecutionPerformed AuditEventType = "execution_performed"
	AuditEventIntegrityViolation AuditEventType = "integrity_violation"
)

type AuditTargetType string

const (
	AuditTargetToken      AuditTargetType = "token"
	AuditTargetSubject    AuditTargetType = "subject"
	AuditTargetEnvelope   AuditTargetType = "staged_envelope"
	AuditTargetEscalation AuditTargetType = "escalation"
	AuditTargetRevocation AuditTargetType = "revocation"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

type AuditEvent struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	EventType     AuditEventType  `json:"event_type"`
	Payload       any             `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
	ActorType     AuditActorType  `json:"actor_type"`
	ActorIDHash   string          `json:"actor_id_hash,omitempty"`
	TargetType    AuditTargetType `json:"target_type"`
	TargetID      string          `json:"target_id,omitempty"`
	Result        AuditResult     `json:"result"`
	ErrorCode     string          `json:"error_code,omitempty"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}

package domain

import (
	"strings"
	"time"
)

type EscalationRecord struct {
	ID               string         `json:"id"`
	ContentHash      string         `json:"content_hash"`
	SubjectRequestID string         `json:"subject_request_id"`
	SubjectID        string         `json:"subject_id"`
	Nonce            string         `json:"nonce,omitempty"`
	StagingReference string         `json:"staging_reference,omitempty"`
	Type             string         `json:"type,omitempty"`
	PolicyHash       string         `json:"policy_hash,omitempty"`
	Reasons          []string       `json:"reasons,omitempty"`
	Payload          map[string]any `json:"payload"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Content is the part of an escalation that content_hash covers.
func (r EscalationRecord) Content() map[string]any {
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"subject_request_id": r.SubjectRequestID,
		"subject_id":         r.SubjectID,
		"payload":            payload,
	}
}

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.ToUpper(strings.TrimSpace(raw))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionReject:
		return DecisionReject, nil
	default:
		return "", ErrInvalidDecision
	}
}

type DecisionRecord struct {
	EscalationID        string    `json:"escalation_id"`
	Decision            Decision  `json:"decision"`
	DeciderID           string    `json:"decider_id"`
	BoundEscalationHash string    `json:"bound_escalation_hash"`
	DecidedAt           time.Time `json:"decided_at"`
	DecisionSignature   string    `json:"decision_signature"`
}

// SigningPayload is every field of the record except the signature itself.
func (d DecisionRecord) SigningPayload() map[string]any {
	return map[string]any{
		"escalation_id":         d.EscalationID,
		"decision":              string(d.Decision),
		"decider_id":            d.DeciderID,
		"bound_escalation_hash": d.BoundEscalationHash,
		"decided_at":            d.DecidedAt.UTC().Format(time.RFC3339Nano),
	}
}

type ExecutionState string

const (
	ExecutionPending      ExecutionState = "PENDING"
	ExecutionApproved     ExecutionState = "APPROVED"
	ExecutionRejected     ExecutionState = "REJECTED"
	ExecutionHashMismatch ExecutionState = "HASH_MISMATCH_ERROR"
	ExecutionExpired      ExecutionState = "EXPIRED"
	ExecutionRevoked      ExecutionState = "REVOKED"
)

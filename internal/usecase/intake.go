package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"govgate/internal/domain"
	"govgate/internal/logging"
)

const (
	defaultExecutionWindow = 30 * 24 * time.Hour
	executionEnvelopeType  = "execution"
	policyFailureReason    = "policy evaluation failed; escalated for review"
)

type IntakeOutcome string

const (
	IntakeStaged    IntakeOutcome = "staged"
	IntakeEscalated IntakeOutcome = "escalated"
	IntakeExecuted  IntakeOutcome = "executed"
)

type IntakeRequest struct {
	Admission      domain.Admission
	Type           string
	Version        string
	IdempotencyKey string
	Payload        map[string]any
}

type IntakeResult struct {
	Outcome      IntakeOutcome
	Duplicate    bool
	Reference    string
	EscalationID string
	Reasons      []string
	Result       map[string]any
}

type ExecutionResult struct {
	Reference    string
	EscalationID string
	Result       map[string]any
}

// IntakePipeline runs an admitted request through staging, the escalation
// policy and then either the executor or the escalation queue.
type IntakePipeline struct {
	Stager          *Stager
	Policy          EscalationPolicy
	Escalations     *EscalationQueue
	Gate            *ExecutionGate
	Executor        Executor
	Audit           *AuditEmitter
	Logger          *slog.Logger
	ExecutionWindow time.Duration
}

func (p *IntakePipeline) Submit(ctx context.Context, req IntakeRequest) (IntakeResult, error) {
	if p == nil || p.Stager == nil || p.Policy == nil || p.Escalations == nil {
		return IntakeResult{}, errors.New("intake pipeline is not configured")
	}
	adm := req.Admission
	key, err := p.Stager.BuildKey(adm.SubjectID, req.IdempotencyKey, req.Type, req.Payload)
	if err != nil {
		return IntakeResult{}, err
	}
	staged, err := p.Stager.Stage(ctx, key, StageInput{
		Type:      req.Type,
		Version:   req.Version,
		SubjectID: adm.SubjectID,
		RequestID: adm.RequestID,
		Payload:   req.Payload,
	})
	if err != nil {
		return IntakeResult{}, err
	}
	if staged.Duplicate {
		return IntakeResult{Outcome: IntakeStaged, Duplicate: true, Reference: staged.Reference}, nil
	}
	env := staged.Envelope

	verdict, err := p.Policy.Evaluate(ctx, domain.EscalationPolicyInput{
		Type:      env.Type,
		SubjectID: env.SubjectID,
		Scope:     adm.Scope,
		Payload:   env.Payload,
	})
	if err != nil {
		p.logger().Error("escalation policy failed; escalating", "reference", env.Reference, "error", err)
		verdict = domain.EscalationVerdict{Escalate: true, Reasons: []string{policyFailureReason}}
	}

	if verdict.Escalate {
		rec, err := p.Escalations.Escalate(ctx, EscalationInput{
			SubjectRequestID: adm.RequestID,
			SubjectID:        adm.SubjectID,
			Nonce:            adm.Nonce,
			StagingReference: env.Reference,
			Type:             env.Type,
			PolicyHash:       verdict.PolicyHash,
			Reasons:          verdict.Reasons,
			Payload:          env.Payload,
		})
		if err != nil {
			return IntakeResult{}, err
		}
		return IntakeResult{
			Outcome:      IntakeEscalated,
			Reference:    env.Reference,
			EscalationID: rec.ID,
			Reasons:      rec.Reasons,
		}, nil
	}

	if p.Executor == nil {
		return IntakeResult{Outcome: IntakeStaged, Reference: env.Reference}, nil
	}
	out, err := p.Executor.Execute(ctx, domain.ExecutionRequest{
		Reference: env.Reference,
		Type:      env.Type,
		SubjectID: env.SubjectID,
		RequestID: env.RequestID,
		Payload:   env.Payload,
	})
	if err != nil {
		// A retry with the same key must reach the executor again.
		if relErr := p.Stager.Release(ctx, key, staged); relErr != nil {
			p.logger().Error("release intake key failed", "reference", env.Reference, "error", relErr)
		}
		p.auditExecution(ctx, adm.SubjectID, domain.AuditTargetEnvelope, env.Reference, domain.AuditResultFailure, "EXECUTION_FAILED")
		return IntakeResult{}, fmt.Errorf("execute %s: %w", env.Reference, err)
	}
	p.auditExecution(ctx, adm.SubjectID, domain.AuditTargetEnvelope, env.Reference, domain.AuditResultSuccess, "")
	return IntakeResult{Outcome: IntakeExecuted, Reference: env.Reference, Result: out}, nil
}

// ExecuteEscalation releases an approved escalation to the executor once.
// A repeat returns ErrAlreadyExecuted together with the original receipt
// reference.
func (p *IntakePipeline) ExecuteEscalation(ctx context.Context, adm domain.Admission, escalationID string) (ExecutionResult, error) {
	if p == nil || p.Gate == nil || p.Stager == nil {
		return ExecutionResult{}, errors.New("intake pipeline is not configured")
	}
	approval, err := p.Gate.AssertApproved(ctx, escalationID)
	if err != nil {
		p.auditExecution(ctx, adm.SubjectID, domain.AuditTargetEscalation, escalationID, domain.AuditResultFailure, executionErrorCode(err))
		return ExecutionResult{}, err
	}
	esc := approval.Escalation

	receipt, err := p.Stager.StageWithin(ctx, executionKey(esc.ID), StageInput{
		Type:      executionEnvelopeType,
		SubjectID: adm.SubjectID,
		RequestID: adm.RequestID,
		Payload: map[string]any{
			"escalation_id":      esc.ID,
			"staging_reference":  esc.StagingReference,
			"decision_signature": approval.Decision.DecisionSignature,
		},
	}, p.executionWindow())
	if err != nil {
		return ExecutionResult{}, err
	}
	if receipt.Duplicate {
		return ExecutionResult{Reference: receipt.Reference, EscalationID: esc.ID}, domain.ErrAlreadyExecuted
	}

	out := map[string]any{"status": "approved", "escalation_id": esc.ID}
	if p.Executor != nil {
		out, err = p.Executor.Execute(ctx, domain.ExecutionRequest{
			Reference:    esc.StagingReference,
			Type:         esc.Type,
			SubjectID:    esc.SubjectID,
			RequestID:    esc.SubjectRequestID,
			EscalationID: esc.ID,
			Payload:      esc.Payload,
		})
		if err != nil {
			if relErr := p.Stager.Release(ctx, executionKey(esc.ID), receipt); relErr != nil {
				p.logger().Error("release execution key failed", "escalation_id", esc.ID, "error", relErr)
			}
			p.auditExecution(ctx, adm.SubjectID, domain.AuditTargetEscalation, esc.ID, domain.AuditResultFailure, "EXECUTION_FAILED")
			return ExecutionResult{}, fmt.Errorf("execute %s: %w", esc.ID, err)
		}
	}
	p.auditExecution(ctx, adm.SubjectID, domain.AuditTargetEscalation, esc.ID, domain.AuditResultSuccess, "")
	p.logger().Info("escalation executed", "escalation_id", esc.ID, "receipt", receipt.Reference, "subject_id", adm.SubjectID)
	return ExecutionResult{Reference: receipt.Reference, EscalationID: esc.ID, Result: out}, nil
}

func (p *IntakePipeline) auditExecution(ctx context.Context, subjectID string, targetType domain.AuditTargetType, targetID string, result domain.AuditResult, code string) {
	if err := p.Audit.EmitExecution(ctx, subjectID, targetType, targetID, result, code); err != nil {
		p.logger().Error("audit execution failed", "target_id", targetID, "error", err)
	}
}

func executionKey(escalationID string) string {
	return "execution:" + escalationID
}

func executionErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDecisionPending):
		return "TRUSTEE_DECISION_PENDING"
	case errors.Is(err, domain.ErrDecisionRejected):
		return "TRUSTEE_DECISION_REJECTED"
	case errors.Is(err, domain.ErrEscalationExpired):
		return "ESCALATION_EXPIRED"
	case errors.Is(err, domain.ErrRevoked):
		return "REVOKED"
	case domain.IsIntegrityError(err):
		return integrityCode(err)
	case errors.Is(err, domain.ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

func (p *IntakePipeline) executionWindow() time.Duration {
	if p.ExecutionWindow <= 0 {
		return defaultExecutionWindow
	}
	return p.ExecutionWindow
}

func (p *IntakePipeline) logger() *slog.Logger {
	return logging.OrDiscard(p.Logger)
}

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

type Approval struct {
	Escalation domain.EscalationRecord
	Decision   domain.DecisionRecord
}

// ExecutionGate answers whether an escalated request may execute. It only
// reads; revocation is consulted on every call.
type ExecutionGate struct {
	Escalations   *EscalationQueue
	Decisions     *DecisionBinder
	Revocations   RevocationChecker
	Clock         Clock
	Logger        *slog.Logger
	EscalationTTL time.Duration
}

func NewExecutionGate(escalations *EscalationQueue, decisions *DecisionBinder, revocations RevocationChecker, clock Clock, ttl time.Duration, logger *slog.Logger) *ExecutionGate {
	return &ExecutionGate{
		Escalations:   escalations,
		Decisions:     decisions,
		Revocations:   revocations,
		Clock:         clock,
		Logger:        logging.OrDiscard(logger),
		EscalationTTL: ttl,
	}
}

// AssertApproved succeeds only for an APPROVE decision whose bound hash
// matches the live escalation content.
func (g *ExecutionGate) AssertApproved(ctx context.Context, escalationID string) (Approval, error) {
	state, approval, err := g.evaluate(ctx, escalationID)
	if err != nil {
		return Approval{}, err
	}
	switch state {
	case domain.ExecutionApproved:
		return approval, nil
	case domain.ExecutionPending:
		return Approval{}, domain.ErrDecisionPending
	case domain.ExecutionRejected:
		return Approval{}, domain.ErrDecisionRejected
	case domain.ExecutionExpired:
		return Approval{}, domain.ErrEscalationExpired
	case domain.ExecutionRevoked:
		return Approval{}, domain.ErrRevoked
	default:
		return Approval{}, fmt.Errorf("unexpected execution state %s", state)
	}
}

// State names where the escalation stands. Integrity failures are reported as
// HASH_MISMATCH_ERROR with a nil error; store failures return an error.
func (g *ExecutionGate) State(ctx context.Context, escalationID string) (domain.ExecutionState, error) {
	state, _, err := g.evaluate(ctx, escalationID)
	if err != nil && domain.IsIntegrityError(err) {
		return domain.ExecutionHashMismatch, nil
	}
	return state, err
}

func (g *ExecutionGate) evaluate(ctx context.Context, escalationID string) (domain.ExecutionState, Approval, error) {
	if g == nil || g.Escalations == nil || g.Decisions == nil || g.Revocations == nil {
		return "", Approval{}, errors.New("execution gate is not configured")
	}
	esc, err := g.Escalations.Get(ctx, escalationID)
	if err != nil {
		return "", Approval{}, err
	}

	revoked, err := g.Revocations.IsRevoked(ctx, esc.SubjectID, esc.Nonce)
	if err != nil {
		return "", Approval{}, fmt.Errorf("%w: revocation check: %v", domain.ErrUnavailable, err)
	}
	if revoked {
		g.logger().Warn("execution refused: revoked", "escalation_id", esc.ID, "subject_id", esc.SubjectID)
		return domain.ExecutionRevoked, Approval{}, nil
	}

	decision, err := g.Decisions.Read(ctx, escalationID)
	if err != nil {
		if domain.IsIntegrityError(err) {
			return domain.ExecutionHashMismatch, Approval{}, err
		}
		return "", Approval{}, err
	}
	if decision == nil {
		if escalationExpired(esc, g.EscalationTTL, nowFrom(g.Clock)) {
			return domain.ExecutionExpired, Approval{}, nil
		}
		return domain.ExecutionPending, Approval{}, nil
	}
	if decision.Decision != domain.DecisionApprove {
		return domain.ExecutionRejected, Approval{}, nil
	}
	return domain.ExecutionApproved, Approval{Escalation: esc, Decision: *decision}, nil
}

func (g *ExecutionGate) logger() *slog.Logger {
	return logging.OrDiscard(g.Logger)
}

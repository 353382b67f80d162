package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/logging"

	"github.com/google/uuid"
)

type AdmissionRequest struct {
	Token         string
	RequiredScope string
	RequestID     string
}

// AdmissionGate decides whether a presented token may proceed. It owns no
// state; the only mutation is the nonce mark in the last step.
type AdmissionGate struct {
	Tokens       TokenCodec
	Revocations  RevocationChecker
	Nonces       NonceLedger
	Audit        *AuditEmitter
	Logger       *slog.Logger
	NoncePadding time.Duration
}

func NewAdmissionGate(tokens TokenCodec, revocations RevocationChecker, nonces NonceLedger, audit *AuditEmitter, padding time.Duration, logger *slog.Logger) *AdmissionGate {
	return &AdmissionGate{
		Tokens:       tokens,
		Revocations:  revocations,
		Nonces:       nonces,
		Audit:        audit,
		Logger:       logging.OrDiscard(logger),
		NoncePadding: padding,
	}
}

// Admit runs, in order: token presence, verification, revocation, replay.
// The first failing check wins. Any error is a *domain.Denial.
func (g *AdmissionGate) Admit(ctx context.Context, req AdmissionRequest) (domain.Admission, error) {
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return domain.Admission{}, g.deny(ctx, domain.DenialMissingToken, domain.ErrMissingToken, "", "", requestID)
	}

	claims, err := g.Tokens.Verify(raw, req.RequiredScope)
	if err != nil {
		return domain.Admission{}, g.deny(ctx, verifyDenialCode(err), err, claims.SubjectID, claims.Nonce, requestID)
	}

	revoked, err := g.Revocations.IsRevoked(ctx, claims.SubjectID, claims.Nonce)
	if err != nil {
		return domain.Admission{}, g.deny(ctx, domain.DenialUnavailable, errors.Join(domain.ErrUnavailable, err), claims.SubjectID, claims.Nonce, requestID)
	}
	if revoked {
		return domain.Admission{}, g.deny(ctx, domain.DenialRevoked, domain.ErrRevoked, claims.SubjectID, claims.Nonce, requestID)
	}

	marked, err := g.Nonces.Mark(ctx, claims.Nonce, claims.ExpiresAt.Add(g.NoncePadding))
	if err != nil {
		return domain.Admission{}, g.deny(ctx, domain.DenialUnavailable, errors.Join(domain.ErrUnavailable, err), claims.SubjectID, claims.Nonce, requestID)
	}
	if !marked {
		return domain.Admission{}, g.deny(ctx, domain.DenialReplay, domain.ErrReplay, claims.SubjectID, claims.Nonce, requestID)
	}

	g.logger().Info("admitted",
		"subject_id", claims.SubjectID,
		"nonce", claims.Nonce,
		"request_id", requestID,
		"scope", req.RequiredScope,
	)
	return domain.Admission{
		SubjectID: claims.SubjectID,
		Scope:     claims.Scope,
		Nonce:     claims.Nonce,
		RequestID: requestID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (g *AdmissionGate) deny(ctx context.Context, code domain.DenialCode, cause error, subjectID, nonce, requestID string) *domain.Denial {
	denial := domain.NewDenial(code, cause)
	level := slog.LevelWarn
	if code == domain.DenialUnavailable {
		level = slog.LevelError
	}
	g.logger().Log(ctx, level, "admission denied",
		"code", string(code),
		"subject_id", subjectID,
		"nonce", nonce,
		"request_id", requestID,
		"error", cause,
	)
	if err := g.Audit.EmitAdmissionDenied(ctx, subjectID, nonce, requestID, code); err != nil {
		g.logger().Error("audit admission denial failed", "error", err)
	}
	return denial
}

func verifyDenialCode(err error) domain.DenialCode {
	switch {
	case errors.Is(err, domain.ErrMissingToken):
		return domain.DenialMissingToken
	case errors.Is(err, domain.ErrTokenSignature):
		return domain.DenialBadSignature
	case errors.Is(err, domain.ErrTokenExpired):
		return domain.DenialExpired
	case errors.Is(err, domain.ErrMissingNonce):
		return domain.DenialMissingNonce
	case errors.Is(err, domain.ErrScopeDenied):
		return domain.DenialScope
	default:
		return domain.DenialBadFormat
	}
}

func (g *AdmissionGate) logger() *slog.Logger {
	return logging.OrDiscard(g.Logger)
}

package domain

import "errors"

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("dependency unavailable")
	ErrAlreadyExists  = errors.New("already exists")

	ErrMissingToken   = errors.New("missing token")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
	ErrMissingNonce   = errors.New("token nonce missing")
	ErrScopeDenied    = errors.New("scope denied")

	ErrRevoked = errors.New("revoked")
	ErrReplay  = errors.New("replay detected")

	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIndexCapacity          = errors.New("idempotency index capacity exceeded")

	ErrAlreadyDecided          = errors.New("escalation already decided")
	ErrAlreadyExecuted         = errors.New("escalation already executed")
	ErrDecisionPending         = errors.New("trustee decision pending")
	ErrDecisionRejected        = errors.New("trustee decision rejected")
	ErrHashMismatch            = errors.New("decision hash mismatch")
	ErrDecisionSignature       = errors.New("decision signature invalid")
	ErrEscalationTampered      = errors.New("escalation content tampered")
	ErrEscalationExpired       = errors.New("escalation expired")
	ErrInvalidDecision         = errors.New("invalid decision")
	ErrPolicyEvaluationFailure = errors.New("policy evaluation failed")
)

// IsIntegrityError reports whether err means a stored escalation or decision
// no longer matches what was signed.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrDecisionSignature) ||
		errors.Is(err, ErrEscalationTampered)
}

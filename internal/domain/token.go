package domain

import "time"

const (
	ScopeIntakeInit       = "intake:init"
	ScopeIntakeExecute    = "intake:execute"
	ScopeEscalationRead   = "escalation:read"
	ScopeEscalationDecide = "escalation:decide"
)

// TokenClaims is the verified content of a capability token.
type TokenClaims struct {
	SubjectID string    `json:"subject_id"`
	Scope     []string  `json:"scope"`
	Issuer    string    `json:"issuer"`
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

type IssuedToken struct {
	Token  string      `json:"token"`
	Claims TokenClaims `json:"claims"`
}

package domain

import "time"

const StagedEnvelopeVersion = "v1"

// VolatilePayloadFields are dropped before deriving a content idempotency key.
var VolatilePayloadFields = []string{
	"timestamp",
	"created_at",
	"submitted_at",
	"request_id",
	"nonce",
	"sent_at",
}

type StagedEnvelope struct {
	Reference      string         `json:"reference"`
	Type           string         `json:"type"`
	Version        string         `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	IdempotencyKey string         `json:"idempotency_key"`
	SubjectID      string         `json:"subject_id"`
	RequestID      string         `json:"request_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	EnvelopeHash   string         `json:"envelope_hash"`
	// ExpiresAt ends the replay window the key was reserved for.
	ExpiresAt time.Time `json:"expires_at"`
	// ReleasedAt is set when the reservation was given back after a failed
	// execution, so a restart must not restore it.
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// ReplayWindow is the window the idempotency key was reserved for, or
// fallback for envelopes written without an expiry.
func (e StagedEnvelope) ReplayWindow(fallback time.Duration) time.Duration {
	if e.ExpiresAt.IsZero() || !e.ExpiresAt.After(e.CreatedAt) {
		return fallback
	}
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// IdempotencyEntry is what an idempotency index remembers per key.
type IdempotencyEntry struct {
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

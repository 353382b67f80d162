package domain

import "time"

// RevocationEntry targets a subject, a single token nonce, or both.
// Entries are never removed.
type RevocationEntry struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Nonce     string    `json:"nonce,omitempty"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Matches reports whether a token with the given subject and nonce is covered
// by this entry. Either field matching is enough.
func (e RevocationEntry) Matches(subjectID, nonce string) bool {
	if e.SubjectID != "" && subjectID != "" && e.SubjectID == subjectID {
		return true
	}
	if e.Nonce != "" && nonce != "" && e.Nonce == nonce {
		return true
	}
	return false
}

func (e RevocationEntry) SameTarget(other RevocationEntry) bool {
	return e.SubjectID == other.SubjectID && e.Nonce == other.Nonce
}

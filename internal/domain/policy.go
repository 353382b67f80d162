package domain

type EscalationPolicyInput struct {
	Type      string         `json:"type"`
	SubjectID string         `json:"subject_id"`
	Scope     []string       `json:"scope"`
	Payload   map[string]any `json:"payload"`
}

type EscalationVerdict struct {
	Escalate   bool     `json:"escalate"`
	Reasons    []string `json:"reasons"`
	PolicyHash string   `json:"policy_hash"`
}

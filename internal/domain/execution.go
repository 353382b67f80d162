package domain

type ExecutionRequest struct {
	Reference    string
	Type         string
	SubjectID    string
	RequestID    string
	EscalationID string
	Payload      map[string]any
}

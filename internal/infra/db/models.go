package db

import "time"

type RevocationModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	SubjectID string    `gorm:"uniqueIndex:idx_revocations_target;not null;default:''"`
	Nonce     string    `gorm:"uniqueIndex:idx_revocations_target;not null;default:''"`
	Reason    string    `gorm:"not null"`
	Actor     string    `gorm:"not null"`
	RevokedAt time.Time `gorm:"not null"`
}

func (RevocationModel) TableName() string { return "revocations" }

type StagedEnvelopeModel struct {
	Reference      string    `gorm:"primaryKey"`
	Type           string    `gorm:"not null"`
	Version        string    `gorm:"not null"`
	IdempotencyKey string    `gorm:"index;not null"`
	SubjectID      string    `gorm:"index;not null"`
	RequestID      string
	PayloadJSON    []byte    `gorm:"type:jsonb;not null"`
	EnvelopeHash   string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"index;not null"`
	ExpiresAt      time.Time
	ReleasedAt     *time.Time
}

func (StagedEnvelopeModel) TableName() string { return "staged_envelopes" }

type EscalationModel struct {
	ID               string `gorm:"primaryKey"`
	ContentHash      string `gorm:"not null"`
	SubjectRequestID string `gorm:"not null"`
	SubjectID        string `gorm:"index;not null"`
	Nonce            string
	StagingReference string
	Type             string
	PolicyHash       string
	ReasonsJSON      []byte    `gorm:"type:jsonb;not null"`
	PayloadJSON      []byte    `gorm:"type:jsonb;not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (EscalationModel) TableName() string { return "escalations" }

type DecisionModel struct {
	EscalationID        string    `gorm:"primaryKey"`
	Decision            string    `gorm:"not null"`
	DeciderID           string    `gorm:"not null"`
	BoundEscalationHash string    `gorm:"not null"`
	DecidedAt           time.Time `gorm:"not null"`
	DecisionSignature   string    `gorm:"not null"`
}

func (DecisionModel) TableName() string { return "decisions" }

type IdempotencyKeyModel struct {
	IdemKey   string    `gorm:"column:idem_key;primaryKey"`
	Reference string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (IdempotencyKeyModel) TableName() string { return "idempotency_keys" }

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Seq           int64     `gorm:"uniqueIndex;not null"`
	EventType     string    `gorm:"index;not null"`
	PayloadJSON   []byte    `gorm:"type:jsonb;not null"`
	PayloadHash   string    `gorm:"not null"`
	ActorType     string    `gorm:"not null"`
	ActorIDHash   *string
	TargetType    string    `gorm:"not null"`
	TargetID      *string
	Result        string    `gorm:"not null"`
	ErrorCode     *string
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// AuditChainHeadModel holds the single row locked while the next audit seq
// is assigned.
type AuditChainHeadModel struct {
	ID  int   `gorm:"primaryKey"`
	Seq int64 `gorm:"not null"`
}

func (AuditChainHeadModel) TableName() string { return "audit_chain_head" }

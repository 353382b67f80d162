package usecase

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"govgate/internal/domain"
)

type auditRepoStub struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *auditRepoStub) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.Seq = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return event, nil
}

func (r *auditRepoStub) List(ctx context.Context) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...), nil
}

func (r *auditRepoStub) byType(eventType domain.AuditEventType) []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestAuditEmitter_TokenIssued_NoSecrets(t *testing.T) {
	repo := &auditRepoStub{}
	emitter := NewAuditEmitter(repo, func() time.Time {
		return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	})

	adminKey := "super-secret-admin-key"
	claims := domain.TokenClaims{SubjectID: "user-1", Nonce: "nonce-abc", Scope: []string{"intake:init"}}
	if err := emitter.EmitTokenIssued(context.Background(), adminKey, claims); err != nil {
		t.Fatalf("emit audit event: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(repo.events))
	}
	event := repo.events[0]
	if _, err := hex.DecodeString(event.ActorIDHash); err != nil || len(event.ActorIDHash) != 64 {
		t.Fatal("actor_id_hash must be lowercase sha256 hex")
	}
	if event.TargetID == claims.Nonce {
		t.Fatal("nonce must be hashed in target id")
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatal("expected payload to be a map")
	}
	for _, secret := range []string{adminKey, "user-1", "nonce-abc"} {
		if containsString(payload, secret) {
			t.Fatalf("payload leaks %q", secret)
		}
	}
	if !event.CreatedAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock time, got %s", event.CreatedAt)
	}
}

func TestAuditEmitter_RejectsIncompleteEvent(t *testing.T) {
	emitter := NewAuditEmitter(&auditRepoStub{}, nil)
	if _, err := emitter.Emit(context.Background(), domain.AuditEvent{EventType: domain.AuditEventTokenIssued}); err == nil {
		t.Fatal("expected missing fields error")
	}
}

func TestAuditEmitter_NilIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	if err := emitter.EmitIntegrityViolation(context.Background(), "esc_1", "DECISION_HASH_MISMATCH"); err != nil {
		t.Fatalf("nil emitter should be a no-op, got %v", err)
	}
}

func containsString(payload map[string]any, secret string) bool {
	for _, value := range payload {
		switch v := value.(type) {
		case string:
			if strings.Contains(v, secret) {
				return true
			}
		case map[string]any:
			if containsString(v, secret) {
				return true
			}
		}
	}
	return false
}

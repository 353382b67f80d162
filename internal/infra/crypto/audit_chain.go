package crypto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"govgate/internal/domain"
)

// ZeroAuditHash is prev_event_hash of the first event in a chain.
var ZeroAuditHash = strings.Repeat("0", 64)

// AuditPayload canonicalizes an event payload and returns it with its hash.
func AuditPayload(payload any) ([]byte, string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	canonical, err := CanonicalizeAny(payload)
	if err != nil {
		return nil, "", err
	}
	return canonical, SHA256Hex(canonical), nil
}

func AuditEventHash(event domain.AuditEvent) (string, error) {
	if event.PayloadHash == "" {
		return "", errors.New("payload_hash is required")
	}
	if event.PrevEventHash == "" {
		return "", errors.New("prev_event_hash is required")
	}
	return HashCanonical(map[string]any{
		"v":               domain.AuditChainVersion,
		"seq":             event.Seq,
		"event_type":      string(event.EventType),
		"payload_hash":    event.PayloadHash,
		"prev_event_hash": event.PrevEventHash,
		"created_at":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// VerifyAuditChain walks events in seq order and checks every link.
// Payloads must be the canonical bytes that were hashed at append time.
func VerifyAuditChain(events []domain.AuditEvent) error {
	prev := ZeroAuditHash
	for i, event := range events {
		want := int64(i + 1)
		if event.Seq != want {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", want, event.Seq)
		}
		if event.PrevEventHash != prev {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		_, payloadHash, err := AuditPayload(event.Payload)
		if err != nil {
			return fmt.Errorf("audit chain payload at seq %d: %w", event.Seq, err)
		}
		if payloadHash != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		hash, err := AuditEventHash(event)
		if err != nil {
			return fmt.Errorf("audit chain hash at seq %d: %w", event.Seq, err)
		}
		if hash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prev = event.EventHash
	}
	return nil
}

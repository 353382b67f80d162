//go:build integration
// +build integration

package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestRevocationRepository_AppendIdempotent(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewRevocationRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	first, created, err := repo.Append(ctx, domain.RevocationEntry{SubjectID: "user-1", Reason: "lost", Actor: "ops", RevokedAt: now})
	if err != nil || !created {
		t.Fatalf("append: %v %v", created, err)
	}
	again, created, err := repo.Append(ctx, domain.RevocationEntry{SubjectID: "user-1", Reason: "again", Actor: "ops", RevokedAt: now.Add(time.Hour)})
	if err != nil || created || again.ID != first.ID || again.Reason != "lost" {
		t.Fatalf("expected original entry, got %+v %v %v", again, created, err)
	}
	if revoked, err := repo.IsRevoked(ctx, "user-1", "other-nonce"); err != nil || !revoked {
		t.Fatalf("expected subject revoked, got %v %v", revoked, err)
	}
	if revoked, err := repo.IsRevoked(ctx, "user-2", ""); err != nil || revoked {
		t.Fatalf("expected user-2 clear, got %v %v", revoked, err)
	}
}

func TestStagingRepository_CreateGetList(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewStagingRepository(db)
	ctx := context.Background()
	env := domain.StagedEnvelope{
		Reference:      "stg_20260401_0123456789abcdef_deadbeef",
		Type:           "intake",
		Version:        domain.StagedEnvelopeVersion,
		CreatedAt:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		IdempotencyKey: "sub:user-1:key:abc",
		SubjectID:      "user-1",
		Payload:        map[string]any{"amount": 5.0},
		EnvelopeHash:   strings.Repeat("a", 64),
	}
	if err := repo.Create(ctx, env); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, env); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	got, err := repo.Get(ctx, env.Reference)
	if err != nil || got.Payload["amount"] != json.Number("5") || !got.CreatedAt.Equal(env.CreatedAt) {
		t.Fatalf("unexpected envelope %+v %v", got, err)
	}
	list, err := repo.ListSince(ctx, env.CreatedAt.Add(-time.Hour))
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one envelope, got %d %v", len(list), err)
	}

	at := env.CreatedAt.Add(time.Minute)
	if err := repo.MarkReleased(ctx, env.Reference, at); err != nil {
		t.Fatalf("mark released: %v", err)
	}
	if err := repo.MarkReleased(ctx, env.Reference, at.Add(time.Hour)); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	got, err = repo.Get(ctx, env.Reference)
	if err != nil || got.ReleasedAt == nil || !got.ReleasedAt.Equal(at) {
		t.Fatalf("expected first release stamp, got %+v %v", got, err)
	}
	if err := repo.MarkReleased(ctx, "stg_missing", at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEscalationAndDecision_RoundTripKeepsHashes(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	ctx := context.Background()
	escRepo := NewEscalationRepository(db)
	decRepo := NewDecisionRepository(db)

	rec := domain.EscalationRecord{
		SubjectRequestID: "req-1",
		SubjectID:        "user-1",
		Payload:          map[string]any{"amount": 500000.0, "memo": "wire"},
		Reasons:          []string{"amount exceeds threshold"},
		CreatedAt:        time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	hash, err := cryptoinfra.HashCanonical(rec.Content())
	if err != nil {
		t.Fatal(err)
	}
	rec.ContentHash = hash
	rec.ID = "esc_1775034000000_" + hash
	if err := escRepo.Create(ctx, rec); err != nil {
		t.Fatalf("create escalation: %v", err)
	}
	loaded, err := escRepo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get escalation: %v", err)
	}
	if again, _ := cryptoinfra.HashCanonical(loaded.Content()); again != hash {
		t.Fatal("content hash must survive a jsonb round trip")
	}

	decision := domain.DecisionRecord{
		EscalationID:        rec.ID,
		Decision:            domain.DecisionApprove,
		DeciderID:           "trustee-1",
		BoundEscalationHash: hash,
		DecidedAt:           time.Date(2026, 4, 1, 10, 0, 0, 123456000, time.UTC),
		DecisionSignature:   "sig",
	}
	if err := decRepo.Create(ctx, decision); err != nil {
		t.Fatalf("create decision: %v", err)
	}
	if err := decRepo.Create(ctx, decision); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
	got, err := decRepo.Get(ctx, rec.ID)
	if err != nil || !got.DecidedAt.Equal(decision.DecidedAt) {
		t.Fatalf("unexpected decision %+v %v", got, err)
	}
}

func TestIdempotencyRepository_ReserveOnce(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	now := time.Now().UTC()
	repo := NewIdempotencyRepository(db, func() time.Time { return now })
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := repo.Reserve(ctx, "k", domain.IdempotencyEntry{Reference: "stg_" + string(rune('a'+i)), CreatedAt: now}, time.Hour)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}

	now = now.Add(2 * time.Hour)
	if _, ok, err := repo.Reserve(ctx, "k", domain.IdempotencyEntry{Reference: "stg_new", CreatedAt: now}, time.Hour); err != nil || !ok {
		t.Fatalf("expected reservation after window, got %v %v", ok, err)
	}
	if err := repo.Release(ctx, "k", domain.IdempotencyEntry{Reference: "stg_new"}); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestAuditEventRepository_HashChain(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewAuditEventRepository(db)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := repo.Append(ctx, domain.AuditEvent{
			EventType:  domain.AuditEventAdmissionDenied,
			ActorType:  domain.AuditActorSubject,
			TargetType: domain.AuditTargetSubject,
			Result:     domain.AuditResultFailure,
			ErrorCode:  "REPLAY",
			Payload:    map[string]any{"i": i, "scope": []string{"intake:init"}},
			CreatedAt:  time.Date(2026, 4, 1, 9, i, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	events, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cryptoinfra.VerifyAuditChain(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store := &Store{DB: db}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`
		TRUNCATE revocations,
			staged_envelopes,
			escalations,
			decisions,
			idempotency_keys,
			audit_events,
			audit_chain_head
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

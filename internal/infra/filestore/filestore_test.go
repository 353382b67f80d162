package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestStagingRepo_WriteOnceAndLayout(t *testing.T) {
	store := openStore(t)
	repo := store.Staging()
	ctx := context.Background()
	env := domain.StagedEnvelope{
		Reference: "stg_20260401_0123456789abcdef_deadbeef",
		Type:      "intake",
		Version:   domain.StagedEnvelopeVersion,
		CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		SubjectID: "user-1",
		Payload:   map[string]any{"amount": 5.0},
	}
	if err := repo.Create(ctx, env); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "staged", "2026-04-01", env.Reference+".json")); err != nil {
		t.Fatalf("expected day layout: %v", err)
	}
	if err := repo.Create(ctx, env); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	got, err := repo.Get(ctx, env.Reference)
	if err != nil || got.SubjectID != "user-1" || got.Payload["amount"] != json.Number("5") {
		t.Fatalf("unexpected envelope %+v %v", got, err)
	}
	if _, err := repo.Get(ctx, "stg_20260401_missing_00000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Get(ctx, "../../etc/passwd"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected traversal to be refused, got %v", err)
	}
}

func TestStagingRepo_ListSince(t *testing.T) {
	store := openStore(t)
	repo := store.Staging()
	ctx := context.Background()
	old := domain.StagedEnvelope{Reference: "stg_20260330_aaaaaaaaaaaaaaaa_00000001", CreatedAt: time.Date(2026, 3, 30, 8, 0, 0, 0, time.UTC)}
	recent := domain.StagedEnvelope{Reference: "stg_20260401_bbbbbbbbbbbbbbbb_00000002", CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	for _, env := range []domain.StagedEnvelope{old, recent} {
		if err := repo.Create(ctx, env); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := repo.ListSince(ctx, time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Reference != recent.Reference {
		t.Fatalf("expected only the recent envelope, got %+v", got)
	}
}

func TestStagingRepo_MarkReleased(t *testing.T) {
	store := openStore(t)
	repo := store.Staging()
	ctx := context.Background()
	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	env := domain.StagedEnvelope{
		Reference:      "stg_20260401_cccccccccccccccc_00000003",
		Type:           "execution",
		CreatedAt:      created,
		IdempotencyKey: "execution:esc_1",
		ExpiresAt:      created.Add(720 * time.Hour),
	}
	if err := repo.Create(ctx, env); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.Get(ctx, env.Reference)
	if err != nil || got.ReleasedAt != nil || got.ReplayWindow(time.Hour) != 720*time.Hour {
		t.Fatalf("unexpected envelope %+v %v", got, err)
	}

	at := created.Add(time.Minute)
	if err := repo.MarkReleased(ctx, env.Reference, at); err != nil {
		t.Fatalf("mark released: %v", err)
	}
	if err := repo.MarkReleased(ctx, env.Reference, at.Add(time.Hour)); err != nil {
		t.Fatalf("second mark must be a no-op: %v", err)
	}
	got, err = repo.Get(ctx, env.Reference)
	if err != nil || got.ReleasedAt == nil || !got.ReleasedAt.Equal(at) {
		t.Fatalf("expected first release stamp, got %+v %v", got, err)
	}
	list, err := repo.ListSince(ctx, created.Add(-time.Hour))
	if err != nil || len(list) != 1 || list[0].ReleasedAt == nil {
		t.Fatalf("list must carry the release marker, got %+v %v", list, err)
	}
	if err := repo.MarkReleased(ctx, "stg_20260401_missing_00000000", at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEscalationRepo_WriteOnce(t *testing.T) {
	store := openStore(t)
	repo := store.Escalations()
	ctx := context.Background()
	rec := domain.EscalationRecord{
		ID:               "esc_1775034000000_" + cryptoinfra.SHA256Hex([]byte("x")),
		SubjectRequestID: "req-1",
		SubjectID:        "user-1",
		Payload:          map[string]any{"amount": 500000.0},
		CreatedAt:        time.UnixMilli(1775034000000).UTC(),
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	got, err := repo.Get(ctx, rec.ID)
	if err != nil || got.SubjectRequestID != "req-1" {
		t.Fatalf("unexpected record %+v %v", got, err)
	}
	if err := repo.Create(ctx, domain.EscalationRecord{ID: "bogus"}); err == nil {
		t.Fatal("expected malformed id error")
	}
}

func TestDecisionRepo_FirstWriterWins(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	escID := "esc_1775034000000_abc"

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate repo values behave like separate processes.
			repo := store.Decisions()
			decision := domain.DecisionApprove
			if i%2 == 0 {
				decision = domain.DecisionReject
			}
			err := repo.Create(ctx, domain.DecisionRecord{EscalationID: escID, Decision: decision, DeciderID: "t"})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case !errors.Is(err, domain.ErrAlreadyDecided):
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one decision, got %d", wins)
	}
	if _, err := store.Decisions().Get(ctx, "esc_1_none"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevocationRepo_IdempotentAndShared(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	writer := store.Revocations()
	reader := store.Revocations()

	entry := domain.RevocationEntry{ID: "r1", SubjectID: "user-1", Reason: "lost", Actor: "ops", RevokedAt: time.Now().UTC()}
	if _, created, err := writer.Append(ctx, entry); err != nil || !created {
		t.Fatalf("append: %v %v", created, err)
	}
	dup := entry
	dup.ID = "r2"
	got, created, err := writer.Append(ctx, dup)
	if err != nil || created || got.ID != "r1" {
		t.Fatalf("expected original entry, got %+v %v %v", got, created, err)
	}

	if revoked, err := reader.IsRevoked(ctx, "user-1", ""); err != nil || !revoked {
		t.Fatalf("reader must see writer's entry, got %v %v", revoked, err)
	}

	if _, _, err := writer.Append(ctx, domain.RevocationEntry{ID: "r3", Nonce: "n-9", Reason: "leak", Actor: "ops"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if revoked, _ := reader.IsRevoked(ctx, "other", "n-9"); !revoked {
		t.Fatal("reader must reload after a later append")
	}
	list, err := reader.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two entries, got %d %v", len(list), err)
	}
}

func TestRevocationRepo_CorruptLineFailsClosed(t *testing.T) {
	store := openStore(t)
	path := filepath.Join(store.Dir(), revocationFile)
	if err := os.WriteFile(path, []byte("{not json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Revocations().IsRevoked(context.Background(), "user-1", ""); err == nil {
		t.Fatal("expected error for corrupt revocation file")
	}
}

func TestAuditRepo_ChainAcrossDaysAndReopen(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	repo := store.Audit()
	day1 := time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC)
	for i, at := range []time.Time{day1, day1.Add(2 * time.Minute)} {
		_, err := repo.Append(ctx, domain.AuditEvent{
			EventType:  domain.AuditEventEnvelopeStaged,
			ActorType:  domain.AuditActorSubject,
			TargetType: domain.AuditTargetEnvelope,
			TargetID:   "stg_" + string(rune('a'+i)),
			Result:     domain.AuditResultSuccess,
			Payload:    map[string]any{"n": i, "tags": []string{"x"}},
			CreatedAt:  at,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// A fresh repo must continue the chain from disk.
	reopened := store.Audit()
	third, err := reopened.Append(ctx, domain.AuditEvent{
		EventType:  domain.AuditEventIntegrityViolation,
		ActorType:  domain.AuditActorSystem,
		TargetType: domain.AuditTargetEscalation,
		Result:     domain.AuditResultFailure,
		CreatedAt:  day1.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if third.Seq != 3 {
		t.Fatalf("expected seq 3, got %d", third.Seq)
	}

	events, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := cryptoinfra.VerifyAuditChain(events); err != nil {
		t.Fatalf("chain must verify: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "audit", "2026-04-02.jsonl")); err != nil {
		t.Fatalf("expected second day file: %v", err)
	}
}

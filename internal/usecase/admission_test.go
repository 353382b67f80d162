package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"govgate/internal/domain"
	"govgate/internal/infra/token"
)

type admissionFixture struct {
	*harness
	codec *token.Codec
	gate  *AdmissionGate
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	h := newHarness(0)
	codec, err := token.NewCodec(token.Config{
		Key:    testTokenKey,
		Issuer: "govgate",
		MaxTTL: 24 * time.Hour,
		Now:    h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return &admissionFixture{
		harness: h,
		codec:   codec,
		gate:    NewAdmissionGate(codec, h.revocations, h.nonces, h.emitter, time.Minute, nil),
	}
}

func (f *admissionFixture) issue(t *testing.T, subject string, scope ...string) (string, domain.TokenClaims) {
	t.Helper()
	raw, claims, err := f.codec.Issue(subject, scope, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return raw, claims
}

func expectDenial(t *testing.T, err error, code domain.DenialCode, status int) {
	t.Helper()
	denial, ok := domain.AsDenial(err)
	if !ok {
		t.Fatalf("expected denial %s, got %v", code, err)
	}
	if denial.Code != code || denial.Status != status {
		t.Fatalf("expected %s/%d, got %s/%d", code, status, denial.Code, denial.Status)
	}
}

func TestAdmit_SucceedsOnceThenReplay(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, claims := f.issue(t, "user-1", domain.ScopeIntakeInit)

	adm, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit, RequestID: "req-1"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.SubjectID != "user-1" || adm.Nonce != claims.Nonce || adm.RequestID != "req-1" {
		t.Fatalf("unexpected admission %+v", adm)
	}
	if exp := f.nonces.entries[claims.Nonce]; !exp.Equal(claims.ExpiresAt.Add(time.Minute)) {
		t.Fatalf("expected nonce ttl padded past token expiry, got %s", exp)
	}

	_, err = f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialReplay, http.StatusConflict)
	if !errors.Is(err, domain.ErrReplay) {
		t.Fatalf("expected ErrReplay in chain, got %v", err)
	}
	if len(f.audit.byType(domain.AuditEventAdmissionDenied)) != 1 {
		t.Fatal("expected replay denial to be audited")
	}
}

func TestAdmit_GeneratesRequestID(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)
	adm, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if adm.RequestID == "" {
		t.Fatal("expected generated request id")
	}
}

func TestAdmit_MissingToken(t *testing.T) {
	f := newAdmissionFixture(t)
	_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: "  ", RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialMissingToken, http.StatusUnauthorized)
}

func TestAdmit_VerificationFailuresDoNotConsumeNonce(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, _ := f.issue(t, "user-1", domain.ScopeEscalationRead)

	_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialScope, http.StatusForbidden)

	_, err = f.gate.Admit(context.Background(), AdmissionRequest{Token: raw + "x", RequiredScope: domain.ScopeEscalationRead})
	expectDenial(t, err, domain.DenialBadSignature, http.StatusUnauthorized)

	_, err = f.gate.Admit(context.Background(), AdmissionRequest{Token: "not-a-token", RequiredScope: domain.ScopeEscalationRead})
	expectDenial(t, err, domain.DenialBadFormat, http.StatusUnauthorized)

	if f.nonces.marks != 0 {
		t.Fatalf("expected no nonce marks before verification passes, got %d", f.nonces.marks)
	}
	if _, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeEscalationRead}); err != nil {
		t.Fatalf("token should still be usable with the right scope: %v", err)
	}
}

func TestAdmit_Expired(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)
	f.clock.Advance(2 * time.Hour)
	_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialExpired, http.StatusUnauthorized)
}

func TestAdmit_RevokedSubjectDeniesEarlierTokens(t *testing.T) {
	f := newAdmissionFixture(t)
	first, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)
	second, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)
	other, _ := f.issue(t, "user-2", domain.ScopeIntakeInit)

	if _, err := f.revocations.Revoke(context.Background(), RevokeInput{SubjectID: "user-1", Reason: "compromised", Actor: "ops"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for _, raw := range []string{first, second} {
		_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
		expectDenial(t, err, domain.DenialRevoked, http.StatusForbidden)
	}
	if _, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: other, RequiredScope: domain.ScopeIntakeInit}); err != nil {
		t.Fatalf("other subject should be admitted: %v", err)
	}
}

func TestAdmit_RevokedNonceOnly(t *testing.T) {
	f := newAdmissionFixture(t)
	revokedRaw, revokedClaims := f.issue(t, "user-1", domain.ScopeIntakeInit)
	freshRaw, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)

	if _, err := f.revocations.Revoke(context.Background(), RevokeInput{Nonce: revokedClaims.Nonce, Reason: "leaked", Actor: "ops"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: revokedRaw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialRevoked, http.StatusForbidden)
	if _, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: freshRaw, RequiredScope: domain.ScopeIntakeInit}); err != nil {
		t.Fatalf("other token of the subject should pass: %v", err)
	}
}

func TestAdmit_StoreFailuresFailClosed(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)

	f.revRepo.err = errStoreDown
	_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialUnavailable, http.StatusServiceUnavailable)
	if f.nonces.marks != 0 {
		t.Fatal("nonce must not be consumed when revocation lookup fails")
	}

	f.revRepo.err = nil
	f.nonces.err = errStoreDown
	_, err = f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
	expectDenial(t, err, domain.DenialUnavailable, http.StatusServiceUnavailable)
}

func TestAdmit_ConcurrentSingleSuccess(t *testing.T) {
	f := newAdmissionFixture(t)
	raw, _ := f.issue(t, "user-1", domain.ScopeIntakeInit)

	var admitted, replays int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Admit(context.Background(), AdmissionRequest{Token: raw, RequiredScope: domain.ScopeIntakeInit})
			if err == nil {
				atomic.AddInt32(&admitted, 1)
				return
			}
			if d, ok := domain.AsDenial(err); ok && d.Code == domain.DenialReplay {
				atomic.AddInt32(&replays, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 || replays != 31 {
		t.Fatalf("expected 1 admit and 31 replays, got %d and %d", admitted, replays)
	}
}

package usecase

import (
	"context"
	"errors"
	"testing"

	"govgate/internal/domain"
)

func TestRevocationRegistry_Idempotent(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	in := RevokeInput{SubjectID: "user-1", Reason: "lost device", Actor: "ops"}

	first, err := h.revocations.Revoke(ctx, in)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if first.ID == "" || first.RevokedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", first)
	}
	h.clock.Advance(1)
	second, err := h.revocations.Revoke(ctx, in)
	if err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if second.ID != first.ID || !second.RevokedAt.Equal(first.RevokedAt) {
		t.Fatalf("expected original entry, got %+v", second)
	}
	list, _ := h.revocations.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one entry, got %d", len(list))
	}
	if got := h.audit.byType(domain.AuditEventRevocationAdded); len(got) != 2 {
		t.Fatalf("expected both calls audited, got %d", len(got))
	}
}

func TestRevocationRegistry_Matching(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	if _, err := h.revocations.Revoke(ctx, RevokeInput{Nonce: "n-1", Reason: "leaked", Actor: "ops"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	cases := []struct {
		subject, nonce string
		want           bool
	}{
		{"user-1", "n-1", true},
		{"", "n-1", true},
		{"user-1", "n-2", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := h.revocations.IsRevoked(ctx, tc.subject, tc.nonce)
		if err != nil {
			t.Fatalf("is revoked: %v", err)
		}
		if got != tc.want {
			t.Fatalf("IsRevoked(%q,%q) = %v, want %v", tc.subject, tc.nonce, got, tc.want)
		}
	}
}

func TestRevocationRegistry_Validation(t *testing.T) {
	h := newHarness(0)
	ctx := context.Background()
	bad := []RevokeInput{
		{Reason: "r", Actor: "a"},
		{SubjectID: "user-1", Actor: "a"},
		{SubjectID: "user-1", Reason: "r"},
	}
	for _, in := range bad {
		if _, err := h.revocations.Revoke(ctx, in); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", in, err)
		}
	}
}

func TestRevocationRegistry_StoreFailure(t *testing.T) {
	h := newHarness(0)
	h.revRepo.err = errStoreDown
	_, err := h.revocations.Revoke(context.Background(), RevokeInput{SubjectID: "u", Reason: "r", Actor: "a"})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

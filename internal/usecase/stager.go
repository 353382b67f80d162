package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"govgate/internal/domain"
	"govgate/internal/logging"
)

const (
	defaultIdempotencyWindow = 24 * time.Hour
	defaultMinCallerKeyLen   = 16
)

type StageInput struct {
	Type      string
	Version   string
	SubjectID string
	RequestID string
	Payload   map[string]any
}

type StageResult struct {
	Duplicate bool
	Reference string
	Envelope  *domain.StagedEnvelope
}

// Stager persists each distinct request at most once per idempotency window.
type Stager struct {
	Index     IdempotencyIndex
	Repo      StagingRepository
	Crypto    CryptoService
	Audit     *AuditEmitter
	Clock     Clock
	Logger    *slog.Logger
	Window    time.Duration
	MinKeyLen int
}

func NewStager(index IdempotencyIndex, repo StagingRepository, crypto CryptoService, audit *AuditEmitter, clock Clock, window time.Duration, minKeyLen int, logger *slog.Logger) *Stager {
	return &Stager{
		Index:     index,
		Repo:      repo,
		Crypto:    crypto,
		Audit:     audit,
		Clock:     clock,
		Logger:    logging.OrDiscard(logger),
		Window:    window,
		MinKeyLen: minKeyLen,
	}
}

// BuildKey scopes a long enough caller key to the subject, or derives one from
// the request content with volatile top-level fields removed.
func (s *Stager) BuildKey(subjectID, callerKey, requestType string, payload map[string]any) (string, error) {
	callerKey = strings.TrimSpace(callerKey)
	if len(callerKey) >= s.minKeyLen() {
		return "sub:" + subjectID + ":key:" + callerKey, nil
	}
	stable := make(map[string]any, len(payload))
	for k, v := range payload {
		stable[k] = v
	}
	for _, field := range domain.VolatilePayloadFields {
		delete(stable, field)
	}
	digest, err := s.Crypto.HashCanonical(map[string]any{
		"type":       requestType,
		"subject_id": subjectID,
		"payload":    stable,
	})
	if err != nil {
		return "", fmt.Errorf("%w: derive idempotency key: %v", domain.ErrInvalidRequest, err)
	}
	return "derived:" + digest, nil
}

func (s *Stager) Stage(ctx context.Context, key string, in StageInput) (StageResult, error) {
	return s.StageWithin(ctx, key, in, s.window())
}

// StageWithin is Stage with an explicit replay window.
func (s *Stager) StageWithin(ctx context.Context, key string, in StageInput, window time.Duration) (StageResult, error) {
	if s == nil || s.Index == nil || s.Repo == nil || s.Crypto == nil {
		return StageResult{}, errors.New("stager is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return StageResult{}, domain.ErrIdempotencyKeyRequired
	}
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return StageResult{}, fmt.Errorf("%w: type is required", domain.ErrInvalidRequest)
	}
	if in.Version == "" {
		in.Version = domain.StagedEnvelopeVersion
	}
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}

	now := nowFrom(s.Clock)
	env := domain.StagedEnvelope{
		Type:           in.Type,
		Version:        in.Version,
		CreatedAt:      now,
		IdempotencyKey: key,
		SubjectID:      in.SubjectID,
		RequestID:      in.RequestID,
		Payload:        in.Payload,
		ExpiresAt:      now.Add(window),
	}
	hash, err := s.Crypto.HashCanonical(envelopeHashInput(env))
	if err != nil {
		return StageResult{}, fmt.Errorf("%w: hash envelope: %v", domain.ErrInvalidRequest, err)
	}
	env.EnvelopeHash = hash
	ref, err := newStagingReference(now, hash)
	if err != nil {
		return StageResult{}, err
	}
	env.Reference = ref

	entry := domain.IdempotencyEntry{Reference: ref, CreatedAt: now}
	existing, reserved, err := s.Index.Reserve(ctx, key, entry, window)
	if err != nil {
		return StageResult{}, fmt.Errorf("%w: reserve idempotency key: %v", domain.ErrUnavailable, err)
	}
	if !reserved {
		s.logger().Info("duplicate submission", "reference", existing.Reference, "subject_id", in.SubjectID)
		result := StageResult{Duplicate: true, Reference: existing.Reference}
		if original, err := s.Repo.Get(ctx, existing.Reference); err == nil {
			result.Envelope = original
		}
		return result, nil
	}

	if err := s.Repo.Create(ctx, env); err != nil {
		if relErr := s.Index.Release(ctx, key, entry); relErr != nil {
			s.logger().Error("release idempotency key failed", "reference", ref, "error", relErr)
		}
		return StageResult{}, fmt.Errorf("%w: persist envelope: %v", domain.ErrUnavailable, err)
	}
	if err := s.Audit.EmitEnvelopeStaged(ctx, env); err != nil {
		s.logger().Error("audit envelope staged failed", "reference", ref, "error", err)
	}
	s.logger().Info("envelope staged", "reference", ref, "type", env.Type, "subject_id", env.SubjectID)
	return StageResult{Reference: ref, Envelope: &env}, nil
}

// Release gives a fresh reservation back so the same key can be staged
// again, and marks its envelope so Warm skips it after a restart.
func (s *Stager) Release(ctx context.Context, key string, res StageResult) error {
	if res.Duplicate || res.Envelope == nil {
		return nil
	}
	var errs []error
	if err := s.Index.Release(ctx, key, domain.IdempotencyEntry{
		Reference: res.Reference,
		CreatedAt: res.Envelope.CreatedAt,
	}); err != nil {
		errs = append(errs, fmt.Errorf("release idempotency key: %w", err))
	}
	if err := s.Repo.MarkReleased(ctx, res.Reference, nowFrom(s.Clock)); err != nil {
		errs = append(errs, fmt.Errorf("mark envelope released: %w", err))
	}
	return errors.Join(errs...)
}

// Warm re-reserves keys of envelopes still inside their own replay window.
// Used after a restart when the index is process-local. lookback bounds how
// far back envelopes are listed and should cover the longest window in use.
func (s *Stager) Warm(ctx context.Context, lookback time.Duration) (int, error) {
	if lookback < s.window() {
		lookback = s.window()
	}
	now := nowFrom(s.Clock)
	envelopes, err := s.Repo.ListSince(ctx, now.Add(-lookback))
	if err != nil {
		return 0, fmt.Errorf("list staged envelopes: %w", err)
	}
	warmed := 0
	for _, env := range envelopes {
		if env.IdempotencyKey == "" || env.ReleasedAt != nil {
			continue
		}
		window := env.ReplayWindow(s.window())
		if !now.Before(env.CreatedAt.Add(window)) {
			continue
		}
		_, reserved, err := s.Index.Reserve(ctx, env.IdempotencyKey, domain.IdempotencyEntry{
			Reference: env.Reference,
			CreatedAt: env.CreatedAt,
		}, window)
		if err != nil {
			return warmed, err
		}
		if reserved {
			warmed++
		}
	}
	return warmed, nil
}

func (s *Stager) Get(ctx context.Context, reference string) (*domain.StagedEnvelope, error) {
	return s.Repo.Get(ctx, reference)
}

func envelopeHashInput(env domain.StagedEnvelope) map[string]any {
	return map[string]any{
		"type":            env.Type,
		"version":         env.Version,
		"created_at":      env.CreatedAt.UTC().Format(time.RFC3339Nano),
		"idempotency_key": env.IdempotencyKey,
		"subject_id":      env.SubjectID,
		"request_id":      env.RequestID,
		"payload":         env.Payload,
	}
}

// newStagingReference returns stg_<yyyymmdd>_<16 hex of hash>_<8 random hex>.
func newStagingReference(now time.Time, envelopeHash string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	prefix := envelopeHash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	return fmt.Sprintf("stg_%s_%s_%s", now.UTC().Format("20060102"), prefix, hex.EncodeToString(suffix)), nil
}

func (s *Stager) window() time.Duration {
	if s.Window <= 0 {
		return defaultIdempotencyWindow
	}
	return s.Window
}

func (s *Stager) minKeyLen() int {
	if s.MinKeyLen <= 0 {
		return defaultMinCallerKeyLen
	}
	return s.MinKeyLen
}

func (s *Stager) logger() *slog.Logger {
	return logging.OrDiscard(s.Logger)
}

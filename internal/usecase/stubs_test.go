package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
)

var (
	testTokenKey    = []byte(strings.Repeat("t", 32))
	testDecisionKey = []byte(strings.Repeat("d", 32))
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubNonceLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
	err     error
	marks   int
}

func newStubNonceLedger(clock func() time.Time) *stubNonceLedger {
	return &stubNonceLedger{entries: map[string]time.Time{}, clock: clock}
}

func (l *stubNonceLedger) Seen(ctx context.Context, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[nonce]
	return ok && !l.clock().After(exp), l.err
}

func (l *stubNonceLedger) Mark(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks++
	if l.err != nil {
		return false, l.err
	}
	if exp, ok := l.entries[nonce]; ok && !l.clock().After(exp) {
		return false, nil
	}
	l.entries[nonce] = expiresAt
	return true, nil
}

type stubRevocationRepo struct {
	mu      sync.Mutex
	entries []domain.RevocationEntry
	err     error
}

func (r *stubRevocationRepo) Append(ctx context.Context, entry domain.RevocationEntry) (domain.RevocationEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return domain.RevocationEntry{}, false, r.err
	}
	for _, existing := range r.entries {
		if existing.SameTarget(entry) {
			return existing, false, nil
		}
	}
	r.entries = append(r.entries, entry)
	return entry, true, nil
}

func (r *stubRevocationRepo) IsRevoked(ctx context.Context, subjectID, nonce string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	for _, e := range r.entries {
		if e.Matches(subjectID, nonce) {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubRevocationRepo) List(ctx context.Context) ([]domain.RevocationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RevocationEntry(nil), r.entries...), r.err
}

type stubIndex struct {
	mu      sync.Mutex
	entries map[string]domain.IdempotencyEntry
	window  map[string]time.Duration
	clock   func() time.Time
	err     error
}

func newStubIndex(clock func() time.Time) *stubIndex {
	return &stubIndex{
		entries: map[string]domain.IdempotencyEntry{},
		window:  map[string]time.Duration{},
		clock:   clock,
	}
}

func (i *stubIndex) Reserve(ctx context.Context, key string, entry domain.IdempotencyEntry, window time.Duration) (domain.IdempotencyEntry, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return domain.IdempotencyEntry{}, false, i.err
	}
	if existing, ok := i.entries[key]; ok && !i.clock().After(existing.CreatedAt.Add(i.window[key])) {
		return existing, false, nil
	}
	i.entries[key] = entry
	i.window[key] = window
	return entry, true, nil
}

func (i *stubIndex) Release(ctx context.Context, key string, entry domain.IdempotencyEntry) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.entries[key]; ok && existing.Reference == entry.Reference {
		delete(i.entries, key)
	}
	return nil
}

type stubStagingRepo struct {
	mu        sync.Mutex
	envelopes map[string]domain.StagedEnvelope
	createErr error
}

func newStubStagingRepo() *stubStagingRepo {
	return &stubStagingRepo{envelopes: map[string]domain.StagedEnvelope{}}
}

func (r *stubStagingRepo) Create(ctx context.Context, env domain.StagedEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.envelopes[env.Reference]; ok {
		return domain.ErrAlreadyExists
	}
	r.envelopes[env.Reference] = env
	return nil
}

func (r *stubStagingRepo) Get(ctx context.Context, reference string) (*domain.StagedEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envelopes[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &env, nil
}

func (r *stubStagingRepo) ListSince(ctx context.Context, since time.Time) ([]domain.StagedEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StagedEnvelope
	for _, env := range r.envelopes {
		if !env.CreatedAt.Before(since) {
			out = append(out, env)
		}
	}
	return out, nil
}

func (r *stubStagingRepo) MarkReleased(ctx context.Context, reference string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	env, ok := r.envelopes[reference]
	if !ok {
		return domain.ErrNotFound
	}
	if env.ReleasedAt == nil {
		env.ReleasedAt = &at
		r.envelopes[reference] = env
	}
	return nil
}

func (r *stubStagingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

type stubEscalationRepo struct {
	mu      sync.Mutex
	records map[string]domain.EscalationRecord
}

func newStubEscalationRepo() *stubEscalationRepo {
	return &stubEscalationRepo{records: map[string]domain.EscalationRecord{}}
}

func (r *stubEscalationRepo) Create(ctx context.Context, rec domain.EscalationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *stubEscalationRepo) Get(ctx context.Context, id string) (*domain.EscalationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// tamper replaces a stored record, as someone editing the file on disk would.
func (r *stubEscalationRepo) tamper(id string, mutate func(*domain.EscalationRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	payload := map[string]any{}
	for k, v := range rec.Payload {
		payload[k] = v
	}
	rec.Payload = payload
	mutate(&rec)
	r.records[id] = rec
}

type stubDecisionRepo struct {
	mu      sync.Mutex
	records map[string]domain.DecisionRecord
	getErr  error
}

func newStubDecisionRepo() *stubDecisionRepo {
	return &stubDecisionRepo{records: map[string]domain.DecisionRecord{}}
}

func (r *stubDecisionRepo) Create(ctx context.Context, rec domain.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.EscalationID]; ok {
		return domain.ErrAlreadyDecided
	}
	r.records[rec.EscalationID] = rec
	return nil
}

func (r *stubDecisionRepo) Get(ctx context.Context, escalationID string) (*domain.DecisionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.records[escalationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *stubDecisionRepo) put(rec domain.DecisionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.EscalationID] = rec
}

// thresholdPolicy escalates when payload.amount exceeds the threshold.
type thresholdPolicy struct {
	threshold float64
	err       error
}

func (p thresholdPolicy) Evaluate(ctx context.Context, in domain.EscalationPolicyInput) (domain.EscalationVerdict, error) {
	if p.err != nil {
		return domain.EscalationVerdict{}, p.err
	}
	verdict := domain.EscalationVerdict{PolicyHash: "test-policy"}
	switch amount := in.Payload["amount"].(type) {
	case float64:
		if amount > p.threshold {
			verdict.Escalate = true
			verdict.Reasons = []string{"amount exceeds threshold"}
		}
	case int:
		if float64(amount) > p.threshold {
			verdict.Escalate = true
			verdict.Reasons = []string{"amount exceeds threshold"}
		}
	}
	return verdict, nil
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []domain.ExecutionRequest
	err   error
}

func (e *recordingExecutor) Execute(ctx context.Context, req domain.ExecutionRequest) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	if e.err != nil {
		return nil, e.err
	}
	return map[string]any{"status": "executed", "reference": req.Reference}, nil
}

var errStoreDown = errors.New("store down")

// harness wires every use case over in-memory stubs.
type harness struct {
	clock       *fakeClock
	audit       *auditRepoStub
	emitter     *AuditEmitter
	nonces      *stubNonceLedger
	revRepo     *stubRevocationRepo
	revocations *RevocationRegistry
	index       *stubIndex
	staging     *stubStagingRepo
	escRepo     *stubEscalationRepo
	decRepo     *stubDecisionRepo
	crypto      *cryptoinfra.Service
	signer      *cryptoinfra.HMACSigner
	stager      *Stager
	queue       *EscalationQueue
	binder      *DecisionBinder
	gate        *ExecutionGate
	executor    *recordingExecutor
	pipeline    *IntakePipeline
}

func newHarness(escalationTTL time.Duration) *harness {
	h := &harness{clock: newFakeClock()}
	now := h.clock.Now
	h.audit = &auditRepoStub{}
	h.emitter = NewAuditEmitter(h.audit, now)
	h.nonces = newStubNonceLedger(now)
	h.revRepo = &stubRevocationRepo{}
	h.revocations = NewRevocationRegistry(h.revRepo, h.emitter, now, nil)
	h.index = newStubIndex(now)
	h.staging = newStubStagingRepo()
	h.escRepo = newStubEscalationRepo()
	h.decRepo = newStubDecisionRepo()
	h.crypto = cryptoinfra.NewService()
	signer, err := cryptoinfra.NewHMACSigner(testDecisionKey)
	if err != nil {
		panic(err)
	}
	h.signer = signer
	h.stager = NewStager(h.index, h.staging, h.crypto, h.emitter, now, 24*time.Hour, 16, nil)
	h.queue = NewEscalationQueue(h.escRepo, h.crypto, h.emitter, now, nil)
	h.binder = NewDecisionBinder(h.queue, h.decRepo, h.signer, h.emitter, now, escalationTTL, nil)
	h.gate = NewExecutionGate(h.queue, h.binder, h.revocations, now, escalationTTL, nil)
	h.executor = &recordingExecutor{}
	h.pipeline = &IntakePipeline{
		Stager:      h.stager,
		Policy:      thresholdPolicy{threshold: 250000},
		Escalations: h.queue,
		Gate:        h.gate,
		Executor:    h.executor,
		Audit:       h.emitter,
	}
	return h
}

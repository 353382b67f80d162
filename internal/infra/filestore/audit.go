package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"govgate/internal/domain"
	cryptoinfra "govgate/internal/infra/crypto"
	"govgate/internal/usecase"

	"github.com/google/uuid"
)

var _ usecase.AuditEventRepository = (*AuditRepo)(nil)

// AuditRepo appends hash-chained events to audit/<yyyy-mm-dd>.jsonl. The
// chain runs across day files in name order.
type AuditRepo struct {
	root string

	mu       sync.Mutex
	loaded   bool
	lastSeq  int64
	lastHash string
}

func (r *AuditRepo) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if err := r.loadTail(); err != nil {
			return domain.AuditEvent{}, err
		}
	}

	canonical, payloadHash, err := cryptoinfra.AuditPayload(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("audit payload: %w", err)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.Payload = json.RawMessage(canonical)
	event.PayloadHash = payloadHash
	event.Seq = r.lastSeq + 1
	event.PrevEventHash = r.lastHash
	hash, err := cryptoinfra.AuditEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash

	line, err := json.Marshal(event)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("marshal audit event: %w", err)
	}
	path := filepath.Join(r.root, event.CreatedAt.Format(dayLayout)+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return domain.AuditEvent{}, fmt.Errorf("write audit event: %w", err)
	}
	if err := f.Close(); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("close audit log: %w", err)
	}
	r.lastSeq = event.Seq
	r.lastHash = event.EventHash
	return event, nil
}

// List returns every event in chain order with payloads decoded.
func (r *AuditRepo) List(_ context.Context) ([]domain.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readAll()
}

func (r *AuditRepo) loadTail() error {
	events, err := r.readAll()
	if err != nil {
		return err
	}
	r.lastSeq = 0
	r.lastHash = cryptoinfra.ZeroAuditHash
	if n := len(events); n > 0 {
		r.lastSeq = events[n-1].Seq
		r.lastHash = events[n-1].EventHash
	}
	r.loaded = true
	return nil
}

func (r *AuditRepo) readAll() ([]domain.AuditEvent, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []domain.AuditEvent
	for _, name := range names {
		f, err := os.Open(filepath.Join(r.root, name))
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var event domain.AuditEvent
			if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
				f.Close()
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			out = append(out, event)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

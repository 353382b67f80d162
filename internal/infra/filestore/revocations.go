package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"govgate/internal/domain"
	"govgate/internal/usecase"
)

var _ usecase.RevocationRepository = (*RevocationRepo)(nil)

// RevocationRepo is the single append-only revocations.jsonl file. The
// in-memory copy is reloaded whenever the file's size or mtime changes, so
// entries appended by another process are seen on the next check.
type RevocationRepo struct {
	path string

	mu      sync.Mutex
	entries []domain.RevocationEntry
	size    int64
	modTime time.Time
}

func (r *RevocationRepo) Append(_ context.Context, entry domain.RevocationEntry) (domain.RevocationEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return domain.RevocationEntry{}, false, err
	}
	for _, existing := range r.entries {
		if existing.SameTarget(entry) {
			return existing, false, nil
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return domain.RevocationEntry{}, false, fmt.Errorf("marshal revocation: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return domain.RevocationEntry{}, false, fmt.Errorf("open revocations: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return domain.RevocationEntry{}, false, fmt.Errorf("append revocation: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return domain.RevocationEntry{}, false, fmt.Errorf("sync revocations: %w", err)
	}
	if err := f.Close(); err != nil {
		return domain.RevocationEntry{}, false, fmt.Errorf("close revocations: %w", err)
	}
	if err := r.refresh(); err != nil {
		return domain.RevocationEntry{}, false, err
	}
	return entry, true, nil
}

func (r *RevocationRepo) IsRevoked(_ context.Context, subjectID, nonce string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return false, err
	}
	for _, e := range r.entries {
		if e.Matches(subjectID, nonce) {
			return true, nil
		}
	}
	return false, nil
}

func (r *RevocationRepo) List(_ context.Context) ([]domain.RevocationEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return append([]domain.RevocationEntry(nil), r.entries...), nil
}

// refresh reloads the file when it changed on disk. Caller holds mu.
func (r *RevocationRepo) refresh() error {
	info, err := os.Stat(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.entries, r.size, r.modTime = nil, 0, time.Time{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat revocations: %w", err)
	}
	if info.Size() == r.size && info.ModTime().Equal(r.modTime) {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read revocations: %w", err)
	}
	entries, err := decodeRevocations(data)
	if err != nil {
		return err
	}
	r.entries, r.size, r.modTime = entries, info.Size(), info.ModTime()
	return nil
}

func decodeRevocations(data []byte) ([]domain.RevocationEntry, error) {
	var out []domain.RevocationEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry domain.RevocationEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("revocations line %d: %w", lineNo, err)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan revocations: %w", err)
	}
	return out, nil
}

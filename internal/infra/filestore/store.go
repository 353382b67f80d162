// Package filestore keeps govgate state as JSON files under a data directory.
// Records that must be written once are created with a hard link from a
// temporary file, so a second writer in any process sharing the directory
// sees the existing file and fails.
package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	stagedDir      = "staged"
	escalationsDir = "escalations"
	decisionsDir   = "decisions"
	auditDir       = "audit"
	revocationFile = "revocations.jsonl"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateName rejects names that could escape the data directory.
func validateName(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	if strings.Contains(name, "..") {
		return errors.New("name must not contain '..'")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("name %q contains invalid characters", name)
	}
	return nil
}

// Store is the root of a data directory. The repositories built from it share
// nothing but the path.
type Store struct {
	dir string
}

func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("data dir is required")
	}
	for _, sub := range []string{stagedDir, escalationsDir, decisionsDir, auditDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Staging() *StagingRepo {
	return &StagingRepo{root: filepath.Join(s.dir, stagedDir)}
}

func (s *Store) Escalations() *EscalationRepo {
	return &EscalationRepo{root: filepath.Join(s.dir, escalationsDir)}
}

func (s *Store) Decisions() *DecisionRepo {
	return &DecisionRepo{root: filepath.Join(s.dir, decisionsDir)}
}

func (s *Store) Revocations() *RevocationRepo {
	return &RevocationRepo{path: filepath.Join(s.dir, revocationFile)}
}

func (s *Store) Audit() *AuditRepo {
	return &AuditRepo{root: filepath.Join(s.dir, auditDir)}
}

// writeOnce stores v at path unless a file is already there, in which case
// it returns fs.ErrExist.
func writeOnce(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return fmt.Errorf("link %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Numbers stay json.Number so an edited digit cannot round away.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

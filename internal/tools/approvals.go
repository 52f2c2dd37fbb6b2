package tools

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/openclaw/flux/internal/filelock"
)

// ApprovalStore is gate 5: a filename → sha256 record of tool files the
// operator has explicitly approved. Any subsequent content change
// invalidates the approval (the stored hash no longer matches).
type ApprovalStore struct {
	path string
	mu   sync.Mutex
}

// NewApprovalStore builds a store persisting to path.
func NewApprovalStore(path string) *ApprovalStore {
	return &ApprovalStore{path: path}
}

func (s *ApprovalStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

func (s *ApprovalStore) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// IsApproved reports whether filename's currently approved hash matches
// sha256Hex.
func (s *ApprovalStore) IsApproved(filename, sha256Hex string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ok bool
	err := filelock.With(s.path, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		ok = m[filename] == sha256Hex
		return nil
	})
	return ok, err
}

// Approve records filename's approved hash, overwriting any prior approval.
func (s *ApprovalStore) Approve(filename, sha256Hex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filelock.With(s.path, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		m[filename] = sha256Hex
		return s.save(m)
	})
}

// Revoke removes filename's approval record entirely.
func (s *ApprovalStore) Revoke(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filelock.With(s.path, func() error {
		m, err := s.load()
		if err != nil {
			return err
		}
		delete(m, filename)
		return s.save(m)
	})
}

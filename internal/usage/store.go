// Package usage records per-user, per-day call/token/cost accumulation in a
// single JSON file, coordinated across writers with an exclusive file lock
// spanning the read-modify-write sequence (SPEC_FULL.md §4.6).
package usage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/flux/internal/filelock"
)

// Daily is one user's accumulated usage for a single calendar day.
type Daily struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type fileShape map[string]Daily // keyed by user_id

// Store is a file-backed UsageStore. One Store should be constructed per
// process per data file; its in-process mutex serializes this process's
// writers, and the file lock serializes across processes.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore builds a Store persisting to path (created on first write).
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) today() string {
	return s.now().UTC().Format("2006-01-02")
}

func (s *Store) load() (fileShape, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fileShape{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return fileShape{}, nil
	}
	var out fileShape
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = fileShape{}
	}
	return out, nil
}

func (s *Store) save(shape fileShape) error {
	data, err := json.MarshalIndent(shape, "", "  ")
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

// Increment adds one call's usage to userID's record for today, zeroing the
// record first if the stored date differs from today.
func (s *Store) Increment(userID string, inputTokens, outputTokens int, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return filelock.With(s.path, func() error {
		shape, err := s.load()
		if err != nil {
			return err
		}
		today := s.today()
		rec := shape[userID]
		if rec.Date != today {
			rec = Daily{Date: today}
		}
		rec.Calls++
		rec.InputTokens += inputTokens
		rec.OutputTokens += outputTokens
		rec.CostUSD += costUSD
		shape[userID] = rec
		return s.save(shape)
	})
}

// Get returns userID's usage record for today (zeroed if the stored record
// is stale or absent; not persisted until the next Increment).
func (s *Store) Get(userID string) (Daily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec Daily
	err := filelock.With(s.path, func() error {
		shape, err := s.load()
		if err != nil {
			return err
		}
		rec = shape[userID]
		today := s.today()
		if rec.Date != today {
			rec = Daily{Date: today}
		}
		return nil
	})
	return rec, err
}

// CheckDailyLimit reports whether userID's call count today is below
// maxCalls. maxCalls <= 0 means unlimited.
func (s *Store) CheckDailyLimit(userID string, maxCalls int) (bool, error) {
	if maxCalls <= 0 {
		return true, nil
	}
	rec, err := s.Get(userID)
	if err != nil {
		return false, err
	}
	return rec.Calls < maxCalls, nil
}

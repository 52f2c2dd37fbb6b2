// Package jobs implements Job, the async tool execution record SPEC_FULL.md
// §3 adds for operations explicitly marked long-running (file backups,
// marketplace verification sweeps) that must not block a conversation turn
// or an HTTP request. Grounded on the teacher's internal/jobs/store.go
// Job/Store/MemoryStore shape.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/flux/pkg/models"
)

// Store persists job records.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, limit, offset int) ([]*models.Job, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MemoryStore keeps jobs in memory, in insertion order.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	keys []string
}

// NewMemoryStore returns a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		s.keys = append(s.keys, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	if job == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > len(s.keys) {
		limit = len(s.keys)
	}
	if offset >= len(s.keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.keys) {
		end = len(s.keys)
	}
	result := make([]*models.Job, 0, end-offset)
	for _, id := range s.keys[offset:end] {
		if job, ok := s.jobs[id]; ok {
			result = append(result, cloneJob(job))
		}
	}
	return result, nil
}

// Prune removes jobs created before olderThan, returning the count removed.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	var kept []string
	for _, id := range s.keys {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
			continue
		}
		kept = append(kept, id)
	}
	s.keys = kept
	return pruned, nil
}

func cloneJob(job *models.Job) *models.Job {
	if job == nil {
		return nil
	}
	clone := *job
	return &clone
}

// Run enqueues a job for toolName and executes fn in a background
// goroutine, transitioning queued -> running -> succeeded/failed and
// persisting the result or error string. It returns immediately with the
// queued job so callers (an HTTP handler, a scheduler tick) never block on
// fn's completion.
func Run(ctx context.Context, store Store, toolName, toolCallID string, fn func(context.Context) (string, error)) (*models.Job, error) {
	job := &models.Job{
		ID:         uuid.NewString(),
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Status:     models.JobQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.Create(ctx, job); err != nil {
		return nil, err
	}

	go func() {
		runCtx := context.Background()
		running := *job
		running.Status = models.JobRunning
		running.StartedAt = time.Now().UTC()
		_ = store.Update(runCtx, &running)

		result, err := fn(runCtx)

		finished := running
		finished.FinishedAt = time.Now().UTC()
		if err != nil {
			finished.Status = models.JobFailed
			finished.Error = err.Error()
		} else {
			finished.Status = models.JobSucceeded
			finished.Result = result
		}
		_ = store.Update(runCtx, &finished)
	}()

	return job, nil
}

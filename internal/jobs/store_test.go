package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

func TestMemoryStore_CreateGetUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job := &models.Job{ID: "j1", ToolName: "backup.create", Status: models.JobQueued, CreatedAt: time.Now()}
	if err := s.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != models.JobQueued {
		t.Fatalf("expected queued job, got %+v", got)
	}

	job.Status = models.JobRunning
	if err := s.Update(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, err = s.Get(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobRunning {
		t.Fatalf("expected running job after update, got %q", got.Status)
	}
}

func TestMemoryStore_GetMissingReturnsNilNotError(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown job, got %+v", got)
	}
}

func TestMemoryStore_ListPreservesInsertionOrderAndPages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		if err := s.Create(ctx, &models.Job{ID: id, CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := s.List(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("expected page [b], got %+v", page)
	}
}

func TestMemoryStore_PruneRemovesOldJobsOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := &models.Job{ID: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &models.Job{ID: "recent", CreatedAt: time.Now()}
	if err := s.Create(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, recent); err != nil {
		t.Fatal(err)
	}

	pruned, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}

	if got, _ := s.Get(ctx, "old"); got != nil {
		t.Fatal("expected old job to be pruned")
	}
	if got, _ := s.Get(ctx, "recent"); got == nil {
		t.Fatal("expected recent job to survive prune")
	}
}

func TestRun_TransitionsQueuedToSucceeded(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	done := make(chan struct{})
	job, err := Run(ctx, s, "marketplace.verify", "call-1", func(ctx context.Context) (string, error) {
		defer close(done)
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobQueued {
		t.Fatalf("expected Run to return a queued job, got %q", job.Status)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job function never ran")
	}

	deadline := time.Now().Add(2 * time.Second)
	var final *models.Job
	for time.Now().Before(deadline) {
		final, err = s.Get(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if final.Status == models.JobSucceeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.Status != models.JobSucceeded {
		t.Fatalf("expected job to finish succeeded, got %q", final.Status)
	}
	if final.Result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", final.Result)
	}
	if final.StartedAt.IsZero() || final.FinishedAt.IsZero() {
		t.Fatal("expected started_at and finished_at to be set")
	}
}

func TestRun_TransitionsQueuedToFailed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	wantErr := errors.New("boom")
	job, err := Run(ctx, s, "backup.create", "", func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var final *models.Job
	for time.Now().Before(deadline) {
		final, err = s.Get(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if final.Status == models.JobFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if final.Status != models.JobFailed {
		t.Fatalf("expected job to finish failed, got %q", final.Status)
	}
	if final.Error != wantErr.Error() {
		t.Fatalf("expected error %q, got %q", wantErr.Error(), final.Error)
	}
}

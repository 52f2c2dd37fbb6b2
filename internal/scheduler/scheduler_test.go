package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

type recordingExecutor struct {
	calls []Task
}

func (r *recordingExecutor) Execute(ctx context.Context, task Task) (string, error) {
	r.calls = append(r.calls, task)
	return "ok", nil
}

func newTestScheduler(t *testing.T, exec Executor, now time.Time) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	return New(
		filepath.Join(dir, "schedules.json"),
		filepath.Join(dir, "history.json"),
		exec,
		WithNow(func() time.Time { return now }),
	)
}

func TestAddSchedule_OnceRequiresParsableDatetime(t *testing.T) {
	s := newTestScheduler(t, &recordingExecutor{}, time.Now())
	if _, err := s.AddSchedule(Once, "not-a-date", Task{Action: "remind", Content: "x"}, ""); err == nil {
		t.Fatal("expected an error for an unparsable datetime")
	}
}

func TestAddSchedule_RecurringRequiresValidCron(t *testing.T) {
	s := newTestScheduler(t, &recordingExecutor{}, time.Now())
	if _, err := s.AddSchedule(Recurring, "not a cron", Task{Action: "remind", Content: "x"}, ""); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestTick_ExecutesDueOnceEntryAndDisablesIt(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	exec := &recordingExecutor{}
	s := newTestScheduler(t, exec, now)

	entry, err := s.AddSchedule(Once, "2026-07-31 08:59", Task{Action: "remind", Content: "hello"}, "test")
	if err != nil {
		t.Fatal(err)
	}

	s.Tick(context.Background())

	if len(exec.calls) != 1 || exec.calls[0].Content != "hello" {
		t.Fatalf("expected the due task to execute once, got %+v", exec.calls)
	}

	schedules, err := s.ListSchedules()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 1 || schedules[0].ID != entry.ID || schedules[0].Enabled {
		t.Fatalf("expected the once entry to be disabled after firing, got %+v", schedules)
	}

	history, err := s.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ScheduleID != entry.ID {
		t.Fatalf("expected one history entry, got %+v", history)
	}
}

func TestTick_RecomputesNextRunForRecurringEntry(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	exec := &recordingExecutor{}
	s := newTestScheduler(t, exec, now.Add(-time.Minute))

	entry, err := s.AddSchedule(Recurring, "30 9 * * *", Task{Action: "remind", Content: "daily"}, "")
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return now }
	s.Tick(context.Background())

	if len(exec.calls) != 1 {
		t.Fatalf("expected the due recurring entry to execute once, got %+v", exec.calls)
	}

	schedules, err := s.ListSchedules()
	if err != nil {
		t.Fatal(err)
	}
	if len(schedules) != 1 || !schedules[0].Enabled {
		t.Fatalf("expected recurring entry to stay enabled, got %+v", schedules)
	}
	if !schedules[0].NextRun.After(now) {
		t.Fatalf("expected next_run to move into the future, got %v (now=%v)", schedules[0].NextRun, now)
	}
	_ = entry
}

func TestTick_SkipsNotYetDueEntries(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	exec := &recordingExecutor{}
	s := newTestScheduler(t, exec, now)

	if _, err := s.AddSchedule(Once, "2026-08-01 09:00", Task{Action: "remind", Content: "later"}, ""); err != nil {
		t.Fatal(err)
	}
	s.Tick(context.Background())
	if len(exec.calls) != 0 {
		t.Fatalf("expected no executions for a future entry, got %+v", exec.calls)
	}
}

func TestRemoveSchedule_ReportsWhetherItExisted(t *testing.T) {
	s := newTestScheduler(t, &recordingExecutor{}, time.Now())
	entry, err := s.AddSchedule(Once, "2026-08-01 09:00", Task{Action: "remind", Content: "x"}, "")
	if err != nil {
		t.Fatal(err)
	}
	removed, err := s.RemoveSchedule(entry.ID)
	if err != nil || !removed {
		t.Fatalf("expected removal to succeed, got %v %v", removed, err)
	}
	removedAgain, err := s.RemoveSchedule(entry.ID)
	if err != nil || removedAgain {
		t.Fatalf("expected second removal to report false, got %v %v", removedAgain, err)
	}
}

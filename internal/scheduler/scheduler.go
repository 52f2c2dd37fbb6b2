// Package scheduler implements persistent one-shot and recurring task
// execution (SPEC_FULL.md §4.15). Entries live in a JSON file and are ticked
// once a minute; due entries are executed, appended to a bounded execution
// history, and have their next_run recomputed. Grounded on the teacher's
// internal/cron package for the Go scheduler shape (options, mutex-guarded
// job list, ticker loop) and robfig/cron/v3 for 5-field cron parsing.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/openclaw/flux/internal/filelock"
)

// Type distinguishes one-shot from recurring entries.
type Type string

const (
	Once      Type = "once"
	Recurring Type = "recurring"
)

// Task is the unit of work a due entry performs.
type Task struct {
	Action   string         `json:"action"`
	Content  string         `json:"content"`
	ToolName string         `json:"tool_name,omitempty"`
	ToolArgs map[string]any `json:"tool_args,omitempty"`
}

// Entry is one persisted schedule.
type Entry struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Cron        string    `json:"cron,omitempty"`
	RunAt       time.Time `json:"run_at,omitempty"`
	Task        Task      `json:"task"`
	Description string    `json:"description"`
	Enabled     bool      `json:"enabled"`
	NextRun     time.Time `json:"next_run,omitempty"`
}

// HistoryEntry records one execution attempt.
type HistoryEntry struct {
	ScheduleID string    `json:"schedule_id"`
	ExecutedAt time.Time `json:"executed_at"`
	Result     string    `json:"result"`
}

// Executor runs a due Task and returns a short human-readable result.
type Executor interface {
	Execute(ctx context.Context, task Task) (string, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, task Task) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task Task) (string, error) { return f(ctx, task) }

const maxHistory = 500

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type schedulesFile struct {
	Schedules []Entry `json:"schedules"`
}

type historyFile struct {
	Executions []HistoryEntry `json:"executions"`
}

// Scheduler persists entries to schedulesPath and execution history to
// historyPath, ticking once a minute while Run is active.
type Scheduler struct {
	schedulesPath string
	historyPath   string
	executor      Executor
	logger        *slog.Logger
	now           func() time.Time
	tickInterval  time.Duration

	mu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick period, for tests.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Scheduler persisting to schedulesPath/historyPath, executing
// due tasks through executor.
func New(schedulesPath, historyPath string, executor Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		schedulesPath: schedulesPath,
		historyPath:   historyPath,
		executor:      executor,
		logger:        slog.Default().With("component", "scheduler"),
		now:           time.Now,
		tickInterval:  time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSchedule validates and persists a new entry. datetimeOrCron is either
// an ISO-ish "YYYY-MM-DD HH:MM" timestamp (for Once) or a standard 5-field
// cron expression (for Recurring).
func (s *Scheduler) AddSchedule(scheduleType Type, datetimeOrCron string, task Task, description string) (*Entry, error) {
	if scheduleType != Once && scheduleType != Recurring {
		return nil, fmt.Errorf("invalid schedule_type: %s (once 또는 recurring)", scheduleType)
	}
	datetimeOrCron = strings.TrimSpace(datetimeOrCron)
	if datetimeOrCron == "" {
		return nil, fmt.Errorf("datetime_or_cron is required")
	}

	entry := Entry{
		ID:          uuid.NewString(),
		Type:        scheduleType,
		Task:        task,
		Description: description,
		Enabled:     true,
	}

	now := s.now()
	if scheduleType == Once {
		runAt, err := parseRunAt(datetimeOrCron)
		if err != nil {
			return nil, err
		}
		entry.RunAt = runAt
		entry.NextRun = runAt
	} else {
		if _, err := cronParser.Parse(datetimeOrCron); err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		entry.Cron = datetimeOrCron
		next, err := nextCronRun(datetimeOrCron, now)
		if err != nil {
			return nil, err
		}
		entry.NextRun = next
	}

	if err := s.mutateSchedules(func(f *schedulesFile) {
		f.Schedules = append(f.Schedules, entry)
	}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListSchedules returns every persisted entry.
func (s *Scheduler) ListSchedules() ([]Entry, error) {
	f, err := s.loadSchedules()
	if err != nil {
		return nil, err
	}
	return f.Schedules, nil
}

// RemoveSchedule deletes an entry by ID, reporting whether it existed.
func (s *Scheduler) RemoveSchedule(id string) (bool, error) {
	found := false
	err := s.mutateSchedules(func(f *schedulesFile) {
		out := f.Schedules[:0]
		for _, e := range f.Schedules {
			if e.ID == id {
				found = true
				continue
			}
			out = append(out, e)
		}
		f.Schedules = out
	})
	return found, err
}

// History returns the most recent limit execution records, newest first.
func (s *Scheduler) History(limit int) ([]HistoryEntry, error) {
	f, err := s.loadHistory()
	if err != nil {
		return nil, err
	}
	entries := f.Executions
	sort.Slice(entries, func(i, j int) bool { return entries[i].ExecutedAt.After(entries[j].ExecutedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Run ticks once per tickInterval until ctx is cancelled, executing due
// entries on each tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick executes every due, enabled entry and recomputes its next_run.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	f, err := s.loadSchedules()
	if err != nil {
		s.logger.Warn("scheduler tick: load failed", "error", err)
		return
	}

	var due []int
	for i, e := range f.Schedules {
		if e.Enabled && !e.NextRun.IsZero() && !e.NextRun.After(now) {
			due = append(due, i)
		}
	}
	if len(due) == 0 {
		return
	}

	var historyAppend []HistoryEntry
	for _, i := range due {
		entry := &f.Schedules[i]
		result, err := s.execute(ctx, entry.Task)
		if err != nil {
			result = fmt.Sprintf("실행 실패: %v", err)
		}
		historyAppend = append(historyAppend, HistoryEntry{ScheduleID: entry.ID, ExecutedAt: now, Result: result})

		if entry.Type == Once {
			entry.Enabled = false
		} else {
			next, err := nextCronRun(entry.Cron, now)
			if err != nil {
				s.logger.Warn("scheduler tick: recompute next_run failed", "id", entry.ID, "error", err)
				entry.Enabled = false
			} else {
				entry.NextRun = next
			}
		}
	}

	if err := s.saveSchedules(f); err != nil {
		s.logger.Warn("scheduler tick: save failed", "error", err)
	}
	if err := s.appendHistory(historyAppend); err != nil {
		s.logger.Warn("scheduler tick: history append failed", "error", err)
	}
}

func (s *Scheduler) execute(ctx context.Context, task Task) (string, error) {
	if s.executor == nil {
		return "", fmt.Errorf("no executor configured")
	}
	return s.executor.Execute(ctx, task)
}

func (s *Scheduler) loadSchedules() (schedulesFile, error) {
	var f schedulesFile
	if err := readJSONOrEmpty(s.schedulesPath, &f); err != nil {
		return schedulesFile{}, err
	}
	return f, nil
}

func (s *Scheduler) saveSchedules(f schedulesFile) error {
	return writeJSON(s.schedulesPath, f)
}

func (s *Scheduler) mutateSchedules(mutate func(f *schedulesFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filelock.With(s.schedulesPath, func() error {
		f, err := s.loadSchedules()
		if err != nil {
			return err
		}
		mutate(&f)
		return s.saveSchedules(f)
	})
}

func (s *Scheduler) loadHistory() (historyFile, error) {
	var f historyFile
	if err := readJSONOrEmpty(s.historyPath, &f); err != nil {
		return historyFile{}, err
	}
	return f, nil
}

func (s *Scheduler) appendHistory(entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return filelock.With(s.historyPath, func() error {
		f, err := s.loadHistory()
		if err != nil {
			return err
		}
		f.Executions = append(f.Executions, entries...)
		if len(f.Executions) > maxHistory {
			f.Executions = f.Executions[len(f.Executions)-maxHistory:]
		}
		return writeJSON(s.historyPath, f)
	})
}

func nextCronRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(after), nil
}

func parseRunAt(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid run_at: %s", value)
}

func readJSONOrEmpty(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Package tools implements the hot-reloading ToolRegistry: it scans a
// directory of single-file Go tool modules, runs each newly-seen file
// through the multi-layer security gate pipeline (SPEC_FULL.md §4.2), and
// exposes the surviving tools' schemas and an invoke-with-timeout call
// path to the conversation engine.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openclaw/flux/internal/resilience"
	"github.com/openclaw/flux/internal/toolsafety"
	"github.com/openclaw/flux/pkg/models"
)

// ErrToolRestricted names a restricted-tool refusal. Invoke does not return
// it: the Registry keeps no restricted set of its own, and Schemas takes one
// from the caller.
var ErrToolRestricted = errors.New("restricted tool")

// ErrToolUnknown is returned by Invoke for an unregistered tool name.
var ErrToolUnknown = errors.New("unknown tool")

// ErrApprovalRequired means gate 5 rejected the file: its hash has no
// matching approval record.
var ErrApprovalRequired = errors.New("tool requires approval")

const (
	// korean error strings are protocol constants the LLM is trained to
	// parse; preserved byte-exact from the original implementation.
	errTimeoutKo = "Error: 도구 실행 타임아웃"
	errFailureKo = "Error: 도구 실행 실패"
)

// Registry is the hot-reloading, security-gated tool directory.
type Registry struct {
	dir       string
	cacheDir  string
	approvals *ApprovalStore
	interactive bool
	timeout   time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	tools     map[string]*loadedTool
	mtimes    map[string]time.Time

	watcher *fsnotify.Watcher
}

// Config configures a Registry.
type Config struct {
	Dir            string
	CacheDir       string
	ApprovalsPath  string
	Interactive    bool          // if false, unapproved files are rejected outright
	ToolTimeout    time.Duration // default 30s, minimum enforced by resilience.MinTimeout
	Logger         *slog.Logger
}

// NewRegistry builds a Registry and performs an initial scan.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		dir:         cfg.Dir,
		cacheDir:    cfg.CacheDir,
		approvals:   NewApprovalStore(cfg.ApprovalsPath),
		interactive: cfg.Interactive,
		timeout:     cfg.ToolTimeout,
		logger:      cfg.Logger.With("component", "tools"),
		tools:       map[string]*loadedTool{},
		mtimes:      map[string]time.Time{},
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	if err := r.ReloadIfChanged(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// WatchForChanges starts an fsnotify watch on the tools directory and
// triggers ReloadIfChanged on any write/create/remove/rename event. The
// returned stop function releases the watcher.
func (r *Registry) WatchForChanges(ctx context.Context) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return nil, err
	}
	r.watcher = watcher

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := r.ReloadIfChanged(ctx); err != nil {
						r.logger.Warn("reload after fs event failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("fsnotify error", "error", err)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// candidateFiles lists *.go basenames currently in the tools directory,
// sorted for deterministic scan order.
func (r *Registry) candidateFiles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".go") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReloadIfChanged rescans the tools directory. If every candidate file was
// loaded successfully last time and its mtime is unchanged, the scan is a
// no-op. Otherwise (an addition, a removal, an mtime change, or a file that
// was rejected last time) every candidate file is loaded again and the
// in-memory tool map is rebuilt, then swapped in atomically so concurrent
// readers never observe a partially-rebuilt set.
func (r *Registry) ReloadIfChanged(ctx context.Context) error {
	names, err := r.candidateFiles()
	if err != nil {
		return err
	}

	r.mu.RLock()
	changed := len(names) != len(r.mtimes)
	if !changed {
		for _, name := range names {
			info, statErr := os.Stat(filepath.Join(r.dir, name))
			if statErr != nil || !info.ModTime().Equal(r.mtimes[name]) {
				changed = true
				break
			}
		}
	}
	r.mu.RUnlock()
	if !changed {
		return nil
	}

	newTools := map[string]*loadedTool{}
	newMtimes := map[string]time.Time{}

	for _, name := range names {
		path := filepath.Join(r.dir, name)
		tool, err := r.loadOne(ctx, name, path)
		if err != nil {
			r.logger.Warn("tool rejected", "file", name, "error", err)
			continue
		}
		newTools[tool.schema.Name] = tool
		newMtimes[name] = tool.mtime
	}

	r.mu.Lock()
	r.tools = newTools
	r.mtimes = newMtimes
	r.mu.Unlock()
	return nil
}

// loadOne runs the full gate pipeline for a single candidate file.
func (r *Registry) loadOne(ctx context.Context, base, path string) (*loadedTool, error) {
	if err := toolsafety.CheckFilename(base); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toolsafety.ScanText(src); err != nil {
		return nil, err
	}
	if err := toolsafety.ScanAST(base, src); err != nil {
		return nil, err
	}

	sum := sha256Hex(src)
	approved, err := r.approvals.IsApproved(base, sum)
	if err != nil {
		return nil, err
	}
	if !approved {
		if !r.interactive {
			return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, base)
		}
		if err := r.approvals.Approve(base, sum); err != nil {
			return nil, err
		}
	}

	tool, err := compileAndLoad(ctx, path, r.cacheDir)
	if err != nil {
		return nil, err
	}
	tool.sha256 = sum
	return tool, nil
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Schemas returns all registered tools' schemas, excluding any name present
// in restricted.
func (r *Registry) Schemas(restricted map[string]bool) []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(r.tools))
	for name, t := range r.tools {
		if restricted[name] {
			continue
		}
		out = append(out, t.schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a registered tool's schema by name.
func (r *Registry) Get(name string) (models.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return models.ToolSchema{}, false
	}
	return t.schema, true
}

// Invoke runs a registered tool's Main under the configured per-tool
// timeout, returning the error-string protocol the engine wraps into
// tool_result content. Invoke itself never returns a Go error for
// tool-level failures (timeout, panic, or Main returning an error) — those
// are folded into the returned string per SPEC_FULL.md §4.2; the only
// non-nil error is ErrToolUnknown, for a name that is not registered.
// Invoke does not check any restricted set.
func (r *Registry) Invoke(ctx context.Context, name string, inputs map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", ErrToolUnknown
	}

	filtered := FilterInput(t.schema, inputs)

	result, err := resilience.WithTimeout(ctx, r.timeout.Seconds(), func(_ context.Context) (string, error) {
		return runToolSafely(t.main, filtered)
	})
	var toErr *resilience.ToolTimeout
	if errors.As(err, &toErr) {
		return errTimeoutKo, nil
	}
	if err != nil {
		r.logger.Warn("tool invocation failed", "tool", name, "error", err)
		return errFailureKo, nil
	}
	return result, nil
}

// runToolSafely recovers a panicking Main so one misbehaving tool cannot
// crash the server process.
func runToolSafely(main func(map[string]any) (string, error), inputs map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	return main(inputs)
}

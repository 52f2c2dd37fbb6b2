// Package ratelimit implements an in-process sliding-window rate limiter
// keyed by an arbitrary string (user id when authenticated, source IP
// otherwise), per SPEC_FULL.md §4.3.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// Max is the maximum number of allowed requests within Window.
	Max int `yaml:"max"`
	// Window is the sliding window duration.
	Window time.Duration `yaml:"window"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a permissive default: 60 requests per minute.
func DefaultConfig() Config {
	return Config{Max: 60, Window: time.Minute, Enabled: true}
}

// window tracks the epochs (as unix nanos) of allowed requests for one key
// within the trailing Window duration.
type window struct {
	mu     sync.Mutex
	epochs []int64
}

// prune drops epochs older than cutoff. Must be called with mu held.
func (w *window) prune(cutoffNanos int64) {
	i := 0
	for i < len(w.epochs) && w.epochs[i] < cutoffNanos {
		i++
	}
	if i > 0 {
		w.epochs = w.epochs[i:]
	}
}

// Limiter enforces a sliding-window limit per key. Zero value is not usable;
// construct with NewLimiter.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter builds a Limiter from config.
func NewLimiter(config Config) *Limiter {
	if config.Max <= 0 {
		config.Max = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Status is the outcome of a Check call, carrying the header values the
// HTTP surface emits alongside every rate-limited response.
type Status struct {
	Key        string
	Allowed    bool
	Limit      int
	Remaining  int
	ResetEpoch int64 // unix seconds
}

// Check applies the prune-check-append sequence atomically for key under
// the per-key mutex, and reports the resulting Status.
func (l *Limiter) Check(key string) Status {
	now := l.now()
	if !l.config.Enabled {
		return Status{Key: key, Allowed: true, Limit: l.config.Max, Remaining: l.config.Max, ResetEpoch: now.Add(l.config.Window).Unix()}
	}

	w := l.getWindow(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-l.config.Window).UnixNano()
	w.prune(cutoff)

	resetEpoch := now.Add(l.config.Window).Unix()
	if len(w.epochs) > 0 {
		oldest := w.epochs[0]
		resetEpoch = time.Unix(0, oldest).Add(l.config.Window).Unix()
	}

	if len(w.epochs) >= l.config.Max {
		return Status{Key: key, Allowed: false, Limit: l.config.Max, Remaining: 0, ResetEpoch: resetEpoch}
	}

	w.epochs = append(w.epochs, now.UnixNano())
	remaining := l.config.Max - len(w.epochs)
	return Status{Key: key, Allowed: true, Limit: l.config.Max, Remaining: remaining, ResetEpoch: resetEpoch}
}

// Allow is the boolean-only convenience form of Check.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key).Allowed
}

func (l *Limiter) getWindow(key string) *window {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()
	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, exists = l.windows[key]; exists {
		return w
	}
	if len(l.windows) >= l.maxKeys {
		l.pruneStaleLocked(l.now().Add(-l.config.Window))
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// Reset clears a key's window entirely.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// CleanupStale removes keys whose most recent request predates
// now - maxAge, bounding memory growth for keys that stop being seen.
func (l *Limiter) CleanupStale(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneStaleLocked(l.now().Add(-maxAge))
}

// pruneStaleLocked must be called with l.mu held for writing.
func (l *Limiter) pruneStaleLocked(cutoff time.Time) {
	cutoffNanos := cutoff.UnixNano()
	for key, w := range l.windows {
		w.mu.Lock()
		stale := len(w.epochs) == 0 || w.epochs[len(w.epochs)-1] < cutoffNanos
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
		}
	}
}

// CompositeKey joins parts with ":" to build a composite rate-limit key
// (e.g. interface + user id).
func CompositeKey(parts ...string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}

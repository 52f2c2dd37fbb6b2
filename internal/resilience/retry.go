// Package resilience provides the retry-with-backoff and per-call timeout
// wrappers the rest of the core builds on: LLM calls go through Do, tool
// invocations go through WithTimeout.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryableStatus is the set of HTTP status codes a retryable error may
// report via StatusCoder.
var RetryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	529: true,
}

// StatusCoder is implemented by errors that carry an observable HTTP status,
// e.g. the status-wrapping errors returned by LLM vendor SDKs.
type StatusCoder interface {
	StatusCode() int
}

// NetworkKind classifies a non-HTTP retryable failure.
type NetworkKind string

const (
	NetworkConnect NetworkKind = "network-connect"
	NetworkTimeout NetworkKind = "network-timeout"
)

// NetworkKinder is implemented by errors that carry a network failure kind.
type NetworkKinder interface {
	NetworkKind() NetworkKind
}

// IsRetryable reports whether err should be retried per SPEC_FULL.md §4.1:
// HTTP 429/500/502/503/529, or a network-connect/network-timeout failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) && RetryableStatus[sc.StatusCode()] {
		return true
	}
	var nk NetworkKinder
	if errors.As(err, &nk) {
		switch nk.NetworkKind() {
		case NetworkConnect, NetworkTimeout:
			return true
		}
	}
	return false
}

// Config controls the Do backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the first attempt; total
	// attempts made is MaxRetries+1.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay (before jitter).
	MaxDelay time.Duration
}

// DefaultConfig matches the original implementation's LLM-call defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   16 * time.Second,
	}
}

// Do invokes fn, retrying on retryable errors with exponential backoff and
// jitter: delay = min(BaseDelay*2^attempt, MaxDelay) + uniform(0, 10% of
// delay). Attempt numbering starts at 0. Non-retryable errors, and the
// final attempt's error, are returned unchanged.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = sanitize(cfg)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !IsRetryable(lastErr) {
			return lastErr
		}
		delay := backoffDelay(cfg, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// DoValue is the generic value-returning form of Do.
func DoValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		out, innerErr = fn()
		return innerErr
	})
	return out, err
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	raw := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(cfg.MaxDelay); raw > max {
		raw = max
	}
	jitter := rand.Float64() * raw * 0.1 // #nosec G404 -- jitter, not security sensitive
	return time.Duration(raw + jitter)
}

func sanitize(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 16 * time.Second
	}
	return cfg
}

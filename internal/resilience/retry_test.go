package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string  { return "status error" }
func (e *statusErr) StatusCode() int { return e.code }

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &statusErr{429}, true},
		{"500", &statusErr{500}, true},
		{"503", &statusErr{503}, true},
		{"529", &statusErr{529}, true},
		{"404 not retryable", &statusErr{404}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return &statusErr{503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry for non-retryable error)", attempts)
	}
}

func TestDo_ExhaustsMaxRetries(t *testing.T) {
	attempts := 0
	cfg := Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return &statusErr{500}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	// total attempts = max_retries + 1
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func() error {
		attempts++
		return &statusErr{500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := sanitize(Config{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second})
	d := backoffDelay(cfg, 10) // 2^10 seconds, should be capped
	if d < 2*time.Second || d > 2*time.Second+200*time.Millisecond {
		t.Fatalf("backoffDelay = %v, want capped near MaxDelay", d)
	}
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_CompletesInTime(t *testing.T) {
	val, err := WithTimeout(context.Background(), 1, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || val != "ok" {
		t.Fatalf("val=%q err=%v, want ok/nil", val, err)
	}
}

func TestWithTimeout_DeadlineExceeded(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 1, func(ctx context.Context) (string, error) {
		time.Sleep(5 * time.Second)
		return "late", nil
	})
	elapsed := time.Since(start)
	var tErr *ToolTimeout
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *ToolTimeout, got %v", err)
	}
	if elapsed > 1200*time.Millisecond {
		t.Fatalf("took too long to time out: %v", elapsed)
	}
}

func TestWithTimeout_MinimumEnforced(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 0, func(ctx context.Context) (string, error) {
		time.Sleep(2 * time.Second)
		return "late", nil
	})
	elapsed := time.Since(start)
	var tErr *ToolTimeout
	if !errors.As(err, &tErr) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed < MinTimeout {
		t.Fatalf("timed out before minimum enforced: %v", elapsed)
	}
}

func TestWithTimeout_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := WithTimeout(context.Background(), 1, func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

package ratelimit

import (
	"testing"
	"time"
)

func TestCheck_AllowsUpToMaxWithinWindow(t *testing.T) {
	l := NewLimiter(Config{Max: 3, Window: time.Minute, Enabled: true})
	for i := 0; i < 3; i++ {
		if st := l.Check("k"); !st.Allowed {
			t.Fatalf("request %d unexpectedly denied", i)
		}
	}
	st := l.Check("k")
	if st.Allowed {
		t.Fatal("4th request should be denied")
	}
	if st.Remaining != 0 || st.Limit != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestCheck_SlidingWindowExpires(t *testing.T) {
	fixed := time.Now()
	l := NewLimiter(Config{Max: 1, Window: time.Second, Enabled: true})
	l.now = func() time.Time { return fixed }

	if !l.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("k") {
		t.Fatal("second request within window should be denied")
	}

	l.now = func() time.Time { return fixed.Add(2 * time.Second) }
	if !l.Allow("k") {
		t.Fatal("request after window expiry should be allowed")
	}
}

func TestCheck_Disabled(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: false})
	for i := 0; i < 10; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestCheck_IndependentKeys(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: true})
	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("independent keys should not share budget")
	}
	if l.Allow("a") {
		t.Fatal("key a should be exhausted")
	}
}

func TestReset(t *testing.T) {
	l := NewLimiter(Config{Max: 1, Window: time.Minute, Enabled: true})
	l.Allow("k")
	if l.Allow("k") {
		t.Fatal("expected exhausted before reset")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Fatal("expected allowed after reset")
	}
}

func TestCleanupStale(t *testing.T) {
	fixed := time.Now()
	l := NewLimiter(Config{Max: 5, Window: time.Minute, Enabled: true})
	l.now = func() time.Time { return fixed }
	l.Allow("old")

	l.now = func() time.Time { return fixed.Add(time.Hour) }
	l.CleanupStale(30 * time.Minute)

	l.mu.RLock()
	_, exists := l.windows["old"]
	l.mu.RUnlock()
	if exists {
		t.Fatal("expected stale key to be removed")
	}
}

func TestCompositeKey(t *testing.T) {
	if got := CompositeKey("http", "user-1"); got != "http:user-1" {
		t.Fatalf("unexpected composite key: %q", got)
	}
	if got := CompositeKey("solo"); got != "solo" {
		t.Fatalf("unexpected single-part key: %q", got)
	}
}

func TestCheck_ResetEpochReflectsOldestEntry(t *testing.T) {
	fixed := time.Now()
	l := NewLimiter(Config{Max: 2, Window: 10 * time.Second, Enabled: true})
	l.now = func() time.Time { return fixed }
	l.Allow("k")

	st := l.Check("k")
	wantReset := fixed.Add(10 * time.Second).Unix()
	if st.ResetEpoch != wantReset {
		t.Fatalf("expected reset epoch %d, got %d", wantReset, st.ResetEpoch)
	}
}

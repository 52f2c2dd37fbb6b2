package tools

import (
	"path/filepath"
	"testing"
)

func TestApprovalStore_Lifecycle(t *testing.T) {
	store := NewApprovalStore(filepath.Join(t.TempDir(), "approvals.json"))

	ok, err := store.IsApproved("weather.go", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no approval initially")
	}

	if err := store.Approve("weather.go", "abc123"); err != nil {
		t.Fatal(err)
	}
	ok, err = store.IsApproved("weather.go", "abc123")
	if err != nil || !ok {
		t.Fatalf("expected approved, ok=%v err=%v", ok, err)
	}

	ok, err = store.IsApproved("weather.go", "different-hash")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected content change to invalidate approval")
	}

	if err := store.Revoke("weather.go"); err != nil {
		t.Fatal(err)
	}
	ok, err = store.IsApproved("weather.go", "abc123")
	if err != nil || ok {
		t.Fatalf("expected revoked approval to be gone, ok=%v err=%v", ok, err)
	}
}

package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) Record(_ context.Context, eventType, userID, _, _ string, _ map[string]any, _ models.Severity) {
	r.events = append(r.events, eventType+":"+userID)
}

func newTestMiddleware(t *testing.T) (*Middleware, *UserStore, *JWTManager) {
	t.Helper()
	store, err := OpenUserStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	jwt, err := NewJWTManager("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	return NewMiddleware(jwt, store), store, jwt
}

func TestMiddleware_Disabled(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	m.Disabled = true
	uc, err := m.Authenticate(context.Background(), "", "http", "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if uc.UserID == "" {
		t.Fatal("expected a default user context")
	}
}

func TestMiddleware_JWTPrecedence(t *testing.T) {
	m, _, jwt := newTestMiddleware(t)
	token, err := jwt.CreateAccessToken("u1", "alice", "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	uc, err := m.Authenticate(context.Background(), "Bearer "+token, "http", "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if uc.UserID != "u1" || uc.Role != models.RoleAdmin {
		t.Fatalf("unexpected context: %+v", uc)
	}
}

func TestMiddleware_APIKeyFallback(t *testing.T) {
	m, store, _ := newTestMiddleware(t)
	user, raw, err := store.CreateUser(context.Background(), "bob", models.RoleUserRank, 0)
	if err != nil {
		t.Fatal(err)
	}
	uc, err := m.Authenticate(context.Background(), "Bearer "+raw, "http", "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if uc.UserID != user.ID {
		t.Fatalf("expected user id %q, got %q", user.ID, uc.UserID)
	}
}

func TestMiddleware_DashboardToken(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	m.DashboardToken = "super-secret-dashboard-token"
	uc, err := m.Authenticate(context.Background(), "Bearer super-secret-dashboard-token", "http", "10.0.0.3")
	if err != nil {
		t.Fatal(err)
	}
	if uc.UserID != "dashboard" {
		t.Fatalf("expected dashboard user, got %+v", uc)
	}
}

func TestMiddleware_NoCredential(t *testing.T) {
	m, _, _ := newTestMiddleware(t)
	if _, err := m.Authenticate(context.Background(), "", "http", "10.0.0.4"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestMiddleware_AuditTrail(t *testing.T) {
	m, store, _ := newTestMiddleware(t)
	sink := &recordingSink{}
	m.WithAudit(sink)

	_, _ = m.Authenticate(context.Background(), "", "http", "10.0.0.5")
	if len(sink.events) != 1 || sink.events[0] != "auth_failure:" {
		t.Fatalf("expected one auth_failure event, got %v", sink.events)
	}

	_, raw, err := store.CreateUser(context.Background(), "erin", models.RoleUserRank, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = m.Authenticate(context.Background(), "Bearer "+raw, "http", "10.0.0.6")
	if len(sink.events) != 2 || sink.events[1][:12] != "auth_success" {
		t.Fatalf("expected a second auth_success event, got %v", sink.events)
	}
}

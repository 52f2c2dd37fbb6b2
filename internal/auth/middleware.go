package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/openclaw/flux/pkg/models"
)

// ErrUnauthenticated is returned when no credential resolves to a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// AuditSink records auth_success/auth_failure events. Kept as a narrow
// interface here so this package does not import internal/audit directly.
type AuditSink interface {
	Record(ctx context.Context, eventType, userID, sourceIP, iface string, details map[string]any, severity models.Severity)
}

// noopSink discards events; used when no AuditSink is configured.
type noopSink struct{}

func (noopSink) Record(context.Context, string, string, string, string, map[string]any, models.Severity) {
}

// Middleware resolves a request's credential into a models.UserContext
// following the precedence defined in SPEC_FULL.md §4.9: when auth is
// disabled, every request authenticates as DefaultUser; otherwise a Bearer
// JWT is tried, then a Bearer flux_ API key, then the dashboard shared
// token. The first match wins.
type Middleware struct {
	Disabled       bool
	DefaultUser    models.UserContext
	JWT            *JWTManager
	Users          *UserStore
	DashboardToken string
	Audit          AuditSink
}

// NewMiddleware constructs a Middleware with a no-op audit sink; call
// WithAudit to attach a real one.
func NewMiddleware(jwt *JWTManager, users *UserStore) *Middleware {
	return &Middleware{JWT: jwt, Users: users, Audit: noopSink{}}
}

// WithAudit attaches an AuditSink and returns the receiver for chaining.
func (m *Middleware) WithAudit(sink AuditSink) *Middleware {
	if sink != nil {
		m.Audit = sink
	}
	return m
}

func (m *Middleware) audit() AuditSink {
	if m.Audit == nil {
		return noopSink{}
	}
	return m.Audit
}

// Authenticate resolves rawAuthHeader (the full "Authorization" header
// value, possibly empty) into a UserContext, logging auth_success or
// auth_failure to the configured AuditSink.
func (m *Middleware) Authenticate(ctx context.Context, rawAuthHeader, iface, sourceIP string) (models.UserContext, error) {
	if m.Disabled {
		uc := m.DefaultUser
		if uc.UserID == "" {
			uc = models.UserContext{UserID: "default", Username: "default", Role: models.RoleAdmin}
		}
		m.audit().Record(ctx, "auth_success", uc.UserID, sourceIP, iface, map[string]any{"method": "disabled"}, models.SeverityInfo)
		return uc, nil
	}

	token := strings.TrimSpace(rawAuthHeader)
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")

	if token != "" {
		if uc, err := m.tryJWT(token); err == nil {
			m.audit().Record(ctx, "auth_success", uc.UserID, sourceIP, iface, map[string]any{"method": "jwt"}, models.SeverityInfo)
			return uc, nil
		}

		if strings.HasPrefix(token, "flux_") {
			uc, err := m.tryAPIKey(ctx, token)
			if err == nil {
				m.audit().Record(ctx, "auth_success", uc.UserID, sourceIP, iface, map[string]any{"method": "api_key"}, models.SeverityInfo)
				return uc, nil
			}
			m.audit().Record(ctx, "auth_failure", "", sourceIP, iface, map[string]any{"reason": err.Error(), "method": "api_key"}, models.SeverityWarning)
			return models.UserContext{}, ErrUnauthenticated
		}
	}

	if m.DashboardToken != "" && token != "" && constantTimeEqual(token, m.DashboardToken) {
		uc := models.UserContext{UserID: "dashboard", Username: "dashboard", Role: models.RoleAdmin}
		m.audit().Record(ctx, "auth_success", uc.UserID, sourceIP, iface, map[string]any{"method": "dashboard_token"}, models.SeverityInfo)
		return uc, nil
	}

	m.audit().Record(ctx, "auth_failure", "", sourceIP, iface, map[string]any{"reason": "no valid credential"}, models.SeverityWarning)
	return models.UserContext{}, ErrUnauthenticated
}

func (m *Middleware) tryJWT(token string) (models.UserContext, error) {
	if m.JWT == nil {
		return models.UserContext{}, ErrUnauthenticated
	}
	claims, err := m.JWT.Verify(token)
	if err != nil {
		return models.UserContext{}, err
	}
	return claims.ToUserContext(), nil
}

func (m *Middleware) tryAPIKey(ctx context.Context, token string) (models.UserContext, error) {
	if m.Users == nil {
		return models.UserContext{}, ErrUnauthenticated
	}
	user, err := m.Users.AuthenticateAPIKey(ctx, token)
	if err != nil {
		return models.UserContext{}, err
	}
	return models.UserContext{
		UserID:        user.ID,
		Username:      user.Username,
		Role:          user.Role,
		MaxDailyCalls: user.MaxDailyCalls,
	}, nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return subtle.ConstantTimeCompare([]byte(a), []byte(a)) == 0
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

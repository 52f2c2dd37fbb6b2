package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/flux/pkg/models"
)

type contextKey int

const userContextKey contextKey = iota

// userFromContext returns the authenticated identity attached by
// authMiddleware, or the zero value if none is present.
func userFromContext(ctx context.Context) models.UserContext {
	uc, _ := ctx.Value(userContextKey).(models.UserContext)
	return uc
}

// authMiddleware resolves the Authorization header into a models.UserContext
// via internal/auth.Middleware and attaches it to the request context. A
// nil Config.Auth attaches a fixed default identity (user "default", role
// admin) to every request rather than rejecting, so Mount can be used
// without an auth backend in development.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Auth == nil {
			uc := models.UserContext{UserID: "default", Username: "default", Role: models.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, uc)))
			return
		}
		uc, err := h.cfg.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"), "http", sourceIP(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, uc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware enforces the sliding-window limiter keyed by the
// authenticated user (falling back to source IP), attaching the rate-limit
// response headers required by SPEC_FULL.md §6 to every response.
func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.RateLimit == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := userFromContext(r.Context()).UserID
		if key == "" {
			key = sourceIP(r)
		}
		status := h.cfg.RateLimit.Check(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetEpoch, 10))
		if !status.Allowed {
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.IncRateLimited()
			}
			window := status.ResetEpoch - time.Now().Unix()
			if window < 0 {
				window = 0
			}
			w.Header().Set("Retry-After", strconv.FormatInt(window, 10))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies the headers described in SPEC_FULL.md §6: a
// wildcard-configured origin list answers every request with "*"; otherwise
// the request's own Origin is echoed back with a Vary header so caches
// don't conflate different origins' responses.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	allowAll := len(h.cfg.CORSOrigins) == 1 && h.cfg.CORSOrigins[0] == "*"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(h.cfg.CORSOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// loggingMiddleware logs each request's method, path, status, and duration,
// and records it against the metrics collector when one is configured.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		h.cfg.Logger.Info("http request",
			"method", r.Method, "path", r.URL.Path, "status", sw.status, "duration_ms", elapsed.Milliseconds())
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.RecordHTTPRequest(r.URL.Path, strconv.Itoa(sw.status), elapsed.Seconds())
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

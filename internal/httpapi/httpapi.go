// Package httpapi implements the Orchestrator HTTP surface (SPEC_FULL.md
// §6): chat (sync and SSE-streamed), token issuance/refresh/revocation,
// webhook registration, and a Prometheus /metrics endpoint. Routing uses
// the stdlib net/http.ServeMux, matching the teacher's internal/web choice
// of a stdlib mux over a third-party router (spec §6 rationale: no example
// repo in the pack pulls in a third-party HTTP router).
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openclaw/flux/internal/audit"
	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/internal/engine"
	"github.com/openclaw/flux/internal/jobs"
	"github.com/openclaw/flux/internal/knowledge"
	"github.com/openclaw/flux/internal/marketplace"
	"github.com/openclaw/flux/internal/metrics"
	"github.com/openclaw/flux/internal/ratelimit"
	"github.com/openclaw/flux/internal/search"
	"github.com/openclaw/flux/internal/store"
	"github.com/openclaw/flux/internal/usage"
	"github.com/openclaw/flux/internal/webhook"
)

// Config bundles every collaborator the HTTP surface depends on. A nil
// Auth disables authentication entirely (every request resolves to the
// default admin identity attached by authMiddleware), matching the default
// user of internal/auth.Middleware when Disabled.
type Config struct {
	Engine      *engine.Engine
	Store       *store.Store
	Auth        *auth.Middleware
	Users       *auth.UserStore
	Webhooks    *webhook.Store
	Dispatcher  *webhook.Dispatcher
	Usage       *usage.Store
	Audit       *audit.Log
	Metrics     *metrics.Collector
	RateLimit   *ratelimit.Limiter
	Search      *search.Index
	Knowledge   *knowledge.KnowledgeBase
	Jobs        jobs.Store
	Marketplace *marketplace.Market

	// DataDir/BackupDir root the async backup job (SPEC_FULL.md §3 Job).
	DataDir   string
	BackupDir string

	// AccessTokenTTL/RefreshTokenTTL bound issued credential lifetimes.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// CORSOrigins is the configured allowlist; a single "*" allows any
	// origin (SPEC_FULL.md §6 CORS headers).
	CORSOrigins []string

	// SystemPrompt is passed through to every engine turn.
	SystemPrompt string

	// ModelName labels the cost metric series; it does not affect pricing,
	// which the engine already resolves through its own provider.
	ModelName string

	Logger *slog.Logger
}

func (c *Config) sanitize() {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
}

// Handler is the flux HTTP API.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler builds a Handler and registers every route on its mux.
func NewHandler(cfg Config) *Handler {
	cfg.sanitize()
	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("POST /api/chat", h.handleChat)
	h.mux.HandleFunc("POST /api/chat/stream", h.handleChatStream)

	h.mux.HandleFunc("POST /api/auth/token", h.handleToken)
	h.mux.HandleFunc("POST /api/auth/refresh", h.handleRefresh)
	h.mux.HandleFunc("POST /api/auth/revoke", h.handleRevoke)

	h.mux.HandleFunc("GET /api/webhooks", h.handleWebhookList)
	h.mux.HandleFunc("POST /api/webhooks", h.handleWebhookCreate)
	h.mux.HandleFunc("DELETE /api/webhooks/{id}", h.handleWebhookDelete)

	h.mux.HandleFunc("GET /api/conversations/search", h.handleConversationSearch)

	h.mux.HandleFunc("GET /api/knowledge", h.handleKnowledgeStats)
	h.mux.HandleFunc("POST /api/knowledge/search", h.handleKnowledgeSearch)
	h.mux.HandleFunc("POST /api/knowledge/index", h.handleKnowledgeIndex)

	h.mux.HandleFunc("GET /api/jobs/{id}", h.handleJobGet)
	h.mux.HandleFunc("POST /api/backup", h.handleBackupCreate)
	h.mux.HandleFunc("POST /api/marketplace/verify", h.handleMarketplaceVerify)

	if h.cfg.Metrics != nil {
		h.mux.Handle("GET /metrics", h.cfg.Metrics.Handler())
	}
}

// ServeHTTP implements http.Handler. /api/v1/* is a plain alias of /api/*
// (spec §6), so the path is rewritten once here rather than duplicating
// route registration logic per alias.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/v1/"); ok {
		r.URL.Path = "/api/" + rest
	}
	h.mux.ServeHTTP(w, r)
}

// Mount wraps the Handler with rate limiting, authentication, CORS, and
// request logging, innermost first.
func (h *Handler) Mount() http.Handler {
	var handler http.Handler = h
	handler = h.rateLimitMiddleware(handler)
	handler = h.authMiddleware(handler)
	handler = h.corsMiddleware(handler)
	handler = h.loggingMiddleware(handler)
	return handler
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/internal/webhook"
	"github.com/openclaw/flux/pkg/models"
)

func (h *Handler) audit(r *http.Request, eventType string, uc models.UserContext, details map[string]any) {
	if h.cfg.Audit == nil {
		return
	}
	h.cfg.Audit.Record(r.Context(), eventType, uc.UserID, sourceIP(r), "http", details, models.SeverityInfo)
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type webhookResponse struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	IsActive     bool     `json:"is_active"`
	FailureCount int      `json:"failure_count"`
}

func webhookToResponse(h models.Webhook) webhookResponse {
	return webhookResponse{ID: h.ID, URL: h.URL, Events: h.Events, IsActive: h.IsActive, FailureCount: h.FailureCount}
}

// handleWebhookList returns every webhook owned by the authenticated user.
func (h *Handler) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhook store not configured")
		return
	}
	uc := userFromContext(r.Context())
	hooks, err := h.cfg.Webhooks.List(r.Context(), uc.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to list webhooks")
		return
	}
	out := make([]webhookResponse, 0, len(hooks))
	for _, hook := range hooks {
		out = append(out, webhookToResponse(hook))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWebhookCreate registers a new webhook subscription for the
// authenticated user. Requires at least the "user" role.
func (h *Handler) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhook store not configured")
		return
	}
	uc := userFromContext(r.Context())
	if !auth.CanAccess(uc.Role, models.RoleUserRank) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	created, err := h.cfg.Webhooks.Create(r.Context(), uc.UserID, req.URL, req.Events, req.Secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to create webhook")
		return
	}
	h.audit(r, "webhook_created", uc, map[string]any{"webhook_id": created.ID, "url": created.URL, "events": created.Events})
	writeJSON(w, http.StatusOK, webhookToResponse(*created))
}

// handleWebhookDelete deactivates a webhook the authenticated user owns.
func (h *Handler) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Webhooks == nil {
		writeError(w, http.StatusNotImplemented, "webhook store not configured")
		return
	}
	uc := userFromContext(r.Context())
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.cfg.Webhooks.Delete(r.Context(), id, uc.UserID); err != nil {
		if errors.Is(err, webhook.ErrWebhookNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to delete webhook")
		return
	}
	h.audit(r, "webhook_deleted", uc, map[string]any{"webhook_id": id})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

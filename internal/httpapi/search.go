package httpapi

import (
	"net/http"
	"strconv"
)

type searchHit struct {
	ConversationID string  `json:"conversation_id"`
	MessageID      int64   `json:"message_id"`
	Snippet        string  `json:"snippet"`
	Rank           float64 `json:"rank"`
	CreatedAt      string  `json:"created_at"`
}

// handleConversationSearch runs a full-text search over stored messages
// (FTS5 when available, LIKE fallback otherwise).
func (h *Handler) handleConversationSearch(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Search == nil {
		writeError(w, http.StatusNotImplemented, "search index not configured")
		return
	}
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	hits, err := h.cfg.Search.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "search failed")
		return
	}
	out := make([]searchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, searchHit{
			ConversationID: hit.ConversationID,
			MessageID:      hit.MessageID,
			Snippet:        hit.Snippet,
			Rank:           hit.Rank,
			CreatedAt:      hit.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": out, "fts_active": h.cfg.Search.FTSActive()})
}

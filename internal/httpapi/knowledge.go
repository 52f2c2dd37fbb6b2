package httpapi

import (
	"net/http"

	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/pkg/models"
)

// handleKnowledgeStats returns document/chunk counts plus the document
// listing, mirroring the dashboard's knowledge overview.
func (h *Handler) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Knowledge == nil {
		writeError(w, http.StatusNotImplemented, "knowledge base not configured")
		return
	}
	stats, err := h.cfg.Knowledge.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read knowledge stats")
		return
	}
	docs, err := h.cfg.Knowledge.ListDocuments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "documents": docs})
}

type knowledgeSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// handleKnowledgeSearch runs a TF-IDF cosine-similarity search over indexed
// documents.
func (h *Handler) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Knowledge == nil {
		writeError(w, http.StatusNotImplemented, "knowledge base not configured")
		return
	}
	var req knowledgeSearchRequest
	if err := decodeJSON(r, &req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := h.cfg.Knowledge.Search(req.Query, req.TopK)
	if err != nil {
		writeError(w, http.StatusBadRequest, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "results": results})
}

type knowledgeIndexRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// handleKnowledgeIndex adds a document to the knowledge base. Requires at
// least the "user" role.
func (h *Handler) handleKnowledgeIndex(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Knowledge == nil {
		writeError(w, http.StatusNotImplemented, "knowledge base not configured")
		return
	}
	uc := userFromContext(r.Context())
	if !auth.CanAccess(uc.Role, models.RoleUserRank) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req knowledgeIndexRequest
	if err := decodeJSON(r, &req); err != nil || req.Title == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}
	result, err := h.cfg.Knowledge.AddDocument(req.Title, req.Content, req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to index document")
		return
	}
	h.audit(r, "knowledge_document_indexed", uc, map[string]any{"doc_id": result.DocID, "title": result.Title})
	writeJSON(w, http.StatusOK, result)
}

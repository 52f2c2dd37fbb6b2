package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openclaw/flux/internal/engine"
	"github.com/openclaw/flux/pkg/models"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type usageResponse struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type chatResponse struct {
	Response       string        `json:"response"`
	ConversationID string        `json:"conversation_id"`
	Usage          usageResponse `json:"usage"`
}

// loadOrCreateConversation resolves req.ConversationID to an existing
// conversation's history, or starts a new one when absent. Matches
// SPEC_FULL.md §9's preserved fallback: user_id comes from auth when
// present, else "default".
func (h *Handler) loadOrCreateConversation(r *http.Request, convID, userID string) (string, []models.Message, error) {
	if convID != "" {
		if _, err := h.cfg.Store.GetConversation(r.Context(), convID); err != nil {
			return "", nil, err
		}
		msgs, err := h.cfg.Store.GetMessages(r.Context(), convID, 0, 0)
		if err != nil {
			return "", nil, err
		}
		return convID, msgs, nil
	}
	conv, err := h.cfg.Store.CreateConversation(r.Context(), "http", userID, nil)
	if err != nil {
		return "", nil, err
	}
	return conv.ID, nil, nil
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	uc := userFromContext(r.Context())
	userID := uc.UserID
	if userID == "" {
		userID = "default"
	}

	convID, history, err := h.loadOrCreateConversation(r, req.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown conversation_id")
		return
	}

	messages := append(history, models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{{Type: models.BlockText, Text: req.Message}},
	})

	if _, err := h.cfg.Store.AddMessage(r.Context(), convID, models.RoleUser, messages[len(messages)-1].Content, 0); err != nil {
		writeError(w, http.StatusBadRequest, "failed to persist message")
		return
	}

	result := h.cfg.Engine.RunTurn(r.Context(), &messages, h.cfg.SystemPrompt, userID, engine.Hooks{})
	if result.Error != "" && result.Text == "" {
		writeJSON(w, http.StatusOK, chatResponse{Response: "", ConversationID: convID, Usage: usageResponse{
			InputTokens: result.InputTokens, OutputTokens: result.OutputTokens, CostUSD: result.CostUSD,
		}})
		return
	}

	assistantContent := []models.ContentBlock{{Type: models.BlockText, Text: result.Text}}
	if _, err := h.cfg.Store.AddMessage(r.Context(), convID, models.RoleAssistant, assistantContent, result.OutputTokens); err != nil {
		h.cfg.Logger.Warn("chat: failed to persist assistant message", "error", err)
	}

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.IncTurn()
		h.cfg.Metrics.AddCost(h.cfg.ModelName, result.CostUSD)
	}
	if h.cfg.Dispatcher != nil {
		h.cfg.Dispatcher.Dispatch(r.Context(), "chat.completed", map[string]any{
			"conversation_id": convID,
			"response":        result.Text,
		})
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:       result.Text,
		ConversationID: convID,
		Usage: usageResponse{
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			CostUSD:      result.CostUSD,
		},
	})
}

// handleChatStream drives the same turn through RunTurnStream, translating
// each engine.Event into the exact SSE frame shapes of SPEC_FULL.md §6:
// data: {...}\n\n with {type:"data",text}, {type:"tool_start",tool},
// {type:"tool_end",tool}, a done frame carrying {usage,conversation_id,
// error?}, and {type:"error",message} on failure.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	uc := userFromContext(r.Context())
	userID := uc.UserID
	if userID == "" {
		userID = "default"
	}

	convID, history, err := h.loadOrCreateConversation(r, req.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown conversation_id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	messages := append(history, models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{{Type: models.BlockText, Text: req.Message}},
	})
	if _, err := h.cfg.Store.AddMessage(r.Context(), convID, models.RoleUser, messages[len(messages)-1].Content, 0); err != nil {
		emit(map[string]string{"type": "error", "message": "failed to persist message"})
		return
	}

	events := h.cfg.Engine.RunTurnStream(r.Context(), &messages, h.cfg.SystemPrompt, userID, engine.Hooks{})
	for ev := range events {
		switch ev.Type {
		case engine.EventTextDelta:
			emit(map[string]string{"type": "data", "text": ev.TextDelta})
		case engine.EventToolUseStart:
			emit(map[string]string{"type": "tool_start", "tool": ev.ToolName})
		case engine.EventToolUseEnd:
			emit(map[string]string{"type": "tool_end", "tool": ev.ToolName})
		case engine.EventError:
			emit(map[string]string{"type": "error", "message": ev.Err.Error()})
		case engine.EventTurnComplete:
			result := ev.Result
			assistantContent := []models.ContentBlock{{Type: models.BlockText, Text: result.Text}}
			if _, err := h.cfg.Store.AddMessage(r.Context(), convID, models.RoleAssistant, assistantContent, result.OutputTokens); err != nil {
				h.cfg.Logger.Warn("chat stream: failed to persist assistant message", "error", err)
			}
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.IncTurn()
				h.cfg.Metrics.AddCost(h.cfg.ModelName, result.CostUSD)
			}
			if h.cfg.Dispatcher != nil {
				h.cfg.Dispatcher.Dispatch(r.Context(), "chat.completed", map[string]any{
					"conversation_id": convID,
					"response":        result.Text,
				})
			}
			done := map[string]any{
				"conversation_id": convID,
				"usage": usageResponse{
					InputTokens:  result.InputTokens,
					OutputTokens: result.OutputTokens,
					CostUSD:      result.CostUSD,
				},
			}
			if result.Error != "" {
				done["error"] = result.Error
			}
			emit(done)
		}
	}
}

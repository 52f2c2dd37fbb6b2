package httpapi

import (
	"net/http"
)

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// handleToken exchanges a flux_ API key for an access/refresh token pair.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Users == nil || h.cfg.Auth == nil || h.cfg.Auth.JWT == nil {
		writeError(w, http.StatusNotImplemented, "auth backend not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	user, err := h.cfg.Users.AuthenticateAPIKey(r.Context(), req.APIKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	access, err := h.cfg.Auth.JWT.CreateAccessToken(user.ID, user.Username, string(user.Role), h.cfg.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "failed to issue token")
		return
	}
	refresh, err := h.cfg.Users.CreateRefreshToken(r.Context(), user.ID, h.cfg.RefreshTokenTTL, h.cfg.Auth.JWT)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "failed to issue refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.cfg.AccessTokenTTL.Seconds()),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh exchanges a valid, unrevoked refresh token for a fresh
// access token.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Users == nil || h.cfg.Auth == nil || h.cfg.Auth.JWT == nil {
		writeError(w, http.StatusUnauthorized, "auth backend not configured")
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusUnauthorized, "refresh_token is required")
		return
	}

	userID, err := h.cfg.Users.ValidateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	user, err := h.cfg.Users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}

	access, err := h.cfg.Auth.JWT.CreateAccessToken(user.ID, user.Username, string(user.Role), h.cfg.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.cfg.AccessTokenTTL.Seconds()),
	})
}

// handleRevoke invalidates a refresh token so it can no longer be
// exchanged, per SPEC_FULL.md §6.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Users == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.cfg.Users.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

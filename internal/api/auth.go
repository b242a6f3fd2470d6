package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// authHandler serves credential management. It holds the pending OAuth
// attempt so the code exchange can be matched to the URL that started it.
type authHandler struct {
	creds  *auth.Manager
	logger log.Logger

	mu      sync.Mutex
	attempt *auth.Attempt
}

func (h *authHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.creds.Status())
}

type authConfigRequest struct {
	Method   string `json:"method"`
	APIKey   string `json:"apiKey"`
	Project  string `json:"project"`
	Location string `json:"location"`
}

func (h *authHandler) configure(w http.ResponseWriter, r *http.Request) {
	var req authConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}

	err := h.creds.SetMethod(auth.Method(req.Method), auth.Material{
		APIKey:   req.APIKey,
		Project:  req.Project,
		Location: req.Location,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeAuthConfigFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.creds.Status())
}

// googleAuthURL begins a PKCE flow. A new call invalidates any pending
// attempt; only the latest authorization URL can be completed.
func (h *authHandler) googleAuthURL(w http.ResponseWriter, _ *http.Request) {
	url, attempt, err := h.creds.BeginOAuth()
	if err != nil {
		h.logger.Error("starting oauth flow failed", "error", err)
		writeError(w, http.StatusInternalServerError, stream.CodeAuthConfigFailed, err.Error())
		return
	}

	h.mu.Lock()
	h.attempt = attempt
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type authCodeRequest struct {
	Code string `json:"code"`
}

func (h *authHandler) googleAuthCode(w http.ResponseWriter, r *http.Request) {
	var req authCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "code is required")
		return
	}

	h.mu.Lock()
	attempt := h.attempt
	h.attempt = nil
	h.mu.Unlock()

	err := h.creds.CompleteOAuth(r.Context(), attempt, req.Code)
	switch {
	case errors.Is(err, auth.ErrNoAttempt), errors.Is(err, auth.ErrStaleAttempt):
		writeError(w, http.StatusConflict, stream.CodeAuthConfigFailed, err.Error())
	case err != nil:
		h.logger.Error("oauth code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, stream.CodeAuthConfigFailed, "code exchange failed")
	default:
		writeJSON(w, http.StatusOK, h.creds.Status())
	}
}

// logout clears credentials. clear is an alias kept for older clients.
func (h *authHandler) logout(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	h.attempt = nil
	h.mu.Unlock()

	if err := h.creds.Clear(); err != nil {
		h.logger.Error("clearing credentials failed", "error", err)
		writeError(w, http.StatusInternalServerError, stream.CodeInternal, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/session"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// modelHandler serves session model metadata.
type modelHandler struct {
	sessions     *session.Factory
	defaultModel string
	logger       log.Logger
}

type modelStatus struct {
	Model         string `json:"model"`
	SessionID     string `json:"sessionId,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
	Active        bool   `json:"active"`
}

func (h *modelHandler) status(w http.ResponseWriter, _ *http.Request) {
	status := modelStatus{Model: h.defaultModel}
	if sess := h.sessions.Current(); sess != nil {
		status = modelStatus{
			Model:         sess.Model,
			SessionID:     sess.ID,
			WorkspacePath: sess.Dir,
			Active:        true,
		}
	}
	writeJSON(w, http.StatusOK, status)
}

type modelSwitchRequest struct {
	Model string `json:"model"`
}

// switchModel rebuilds the live session bound to the requested model. The
// workspace and credentials carry over.
func (h *modelHandler) switchModel(w http.ResponseWriter, r *http.Request) {
	var req modelSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "model is required")
		return
	}

	sess, err := h.sessions.SwitchModel(r.Context(), req.Model)
	if err != nil {
		if errors.Is(err, session.ErrClientInit) {
			writeError(w, http.StatusConflict, stream.CodeClientNotReady, err.Error())
			return
		}
		h.logger.Error("model switch failed", "model", req.Model, "error", err)
		writeError(w, http.StatusInternalServerError, stream.CodeInternal, "model switch failed")
		return
	}

	writeJSON(w, http.StatusOK, modelStatus{
		Model:         sess.Model,
		SessionID:     sess.ID,
		WorkspacePath: sess.Dir,
		Active:        true,
	})
}

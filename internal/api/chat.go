package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentrelay/agentrelay/internal/convo"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/scheduler"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// chatHandler serves the streamed conversation surface.
type chatHandler struct {
	service *convo.Service
	logger  log.Logger
}

// send runs one conversation turn as a newline-delimited JSON stream.
// Request-shape problems are rejected with a plain status code before
// streaming starts; once the stream is open every failure is framed as an
// error event followed by complete.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req convo.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}

	enc := stream.NewEncoder()
	if err := enc.Setup(w); err != nil {
		h.logger.Error("stream setup failed", "error", err)
		writeError(w, http.StatusInternalServerError, stream.CodeInternal, "streaming unsupported")
		return
	}
	defer enc.Close()

	h.service.Run(r.Context(), req, enc)
}

// cancel aborts the in-flight conversation, if any.
func (h *chatHandler) cancel(w http.ResponseWriter, _ *http.Request) {
	cancelled := h.service.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

type confirmationRequest struct {
	CallID  string `json:"callId"`
	Outcome string `json:"outcome"`
}

// confirm routes a tool confirmation outcome to the scheduler.
func (h *chatHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "callId is required")
		return
	}

	err := h.service.Confirm(req.CallID, scheduler.Outcome(req.Outcome))
	switch {
	case errors.Is(err, scheduler.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, stream.CodeToolInvalidOutcome, err.Error())
	case errors.Is(err, scheduler.ErrCallNotFound):
		writeError(w, http.StatusNotFound, stream.CodeToolCallNotFound, err.Error())
	case err != nil:
		h.logger.Error("tool confirmation failed", "callId", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, stream.CodeInternal, "confirmation failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

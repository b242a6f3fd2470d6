package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/proxy"
	"github.com/agentrelay/agentrelay/internal/stream"
)

// defaultProxyTestTarget answers 204 without a body, ideal for a
// reachability probe.
const defaultProxyTestTarget = "https://www.gstatic.com/generate_204"

// proxyHandler serves proxy configuration management.
type proxyHandler struct {
	manager *proxy.Manager
	logger  log.Logger
}

func (h *proxyHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Current())
}

// set validates, persists and applies a proxy configuration process-wide.
func (h *proxyHandler) set(w http.ResponseWriter, r *http.Request) {
	var cfg proxy.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}

	if err := h.manager.Set(cfg); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Current())
}

type proxyTestRequest struct {
	proxy.Config
	Target string `json:"target,omitempty"`
}

// test checks reachability through the submitted configuration without
// applying it.
func (h *proxyHandler) test(w http.ResponseWriter, r *http.Request) {
	var req proxyTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, stream.CodeValidation, "malformed request body")
		return
	}
	target := req.Target
	if target == "" {
		target = defaultProxyTestTarget
	}

	if err := proxy.Test(r.Context(), req.Config, target); err != nil {
		h.logger.Info("proxy test failed", "host", req.Host, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"reachable": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true})
}

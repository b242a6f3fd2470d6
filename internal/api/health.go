package api

import (
	"net/http"

	"github.com/agentrelay/agentrelay/internal/auth"
)

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the server can serve a conversation: it is
// ready once credentials are configured. 503 otherwise so load balancers
// hold traffic.
func readiness(creds *auth.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !creds.IsAuthenticated() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "waiting_for_auth",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

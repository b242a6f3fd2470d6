// Package api exposes the HTTP surface: the streamed chat endpoint, tool
// confirmation, credential management, model metadata, proxy configuration
// and health probes.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/convo"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/proxy"
	"github.com/agentrelay/agentrelay/internal/session"
)

// ServerConfig contains the dependencies and tuning for the API server.
type ServerConfig struct {
	Logger       log.Logger
	Conversation *convo.Service   // Required
	Credentials  *auth.Manager    // Required
	Sessions     *session.Factory // Required
	Proxy        *proxy.Manager   // Required
	DefaultModel string

	RateLimitRPS   float64 // 0 = default 10
	RateLimitBurst int     // 0 = default 20
}

// Server is the JSON API HTTP server.
type Server struct {
	handler http.Handler
	logger  log.Logger
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.Conversation == nil:
		return nil, errors.New("conversation service is required")
	case cfg.Credentials == nil:
		return nil, errors.New("credential manager is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session factory is required")
	case cfg.Proxy == nil:
		return nil, errors.New("proxy manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{service: cfg.Conversation, logger: logger}
	ah := &authHandler{creds: cfg.Credentials, logger: logger}
	mh := &modelHandler{sessions: cfg.Sessions, defaultModel: cfg.DefaultModel, logger: logger}
	ph := &proxyHandler{manager: cfg.Proxy, logger: logger}

	mux := http.NewServeMux()

	// Conversation
	mux.HandleFunc("POST /chat", ch.send)
	mux.HandleFunc("POST /cancelChat", ch.cancel)
	mux.HandleFunc("POST /tool-confirmation", ch.confirm)

	// Credentials
	mux.HandleFunc("GET /auth/status", ah.status)
	mux.HandleFunc("POST /auth/config", ah.configure)
	mux.HandleFunc("POST /auth/google-auth-url", ah.googleAuthURL)
	mux.HandleFunc("POST /auth/google-auth-code", ah.googleAuthCode)
	mux.HandleFunc("POST /auth/logout", ah.logout)
	mux.HandleFunc("POST /auth/clear", ah.logout)

	// Model
	mux.HandleFunc("GET /model/status", mh.status)
	mux.HandleFunc("POST /model/switch", mh.switchModel)

	// Proxy
	mux.HandleFunc("GET /proxy/config", ph.get)
	mux.HandleFunc("POST /proxy/config", ph.set)
	mux.HandleFunc("POST /proxy/test", ph.test)

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack (outermost first): Recovery → Logging → RateLimit.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", health)
	top.Handle("GET /ready", readiness(cfg.Credentials))
	top.Handle("/", handler)

	return &Server{handler: top, logger: logger}, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests. WriteTimeout stays zero: the chat endpoint streams
// for the lifetime of a conversation.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(err, srv.Close())
	}
	return nil
}

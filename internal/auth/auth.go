// Package auth owns the credential lifecycle for the upstream model service:
// the authentication method, key material, a PKCE authorization-code flow
// for the OAuth method, startup re-validation and persistence.
//
// The credential record outlives workspace sessions; replacing a session
// never touches anything in this package.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/store"
)

// Method identifies how requests to the model service are authenticated.
type Method string

// Supported authentication methods.
const (
	MethodAPIKey   Method = "api_key"
	MethodOAuth    Method = "oauth"
	MethodVertexAI Method = "vertex_ai"
)

// Sentinel errors for credential operations.
var (
	ErrInvalidMethod    = errors.New("invalid auth method")
	ErrMissingAPIKey    = errors.New("missing API key")
	ErrMissingProject   = errors.New("missing cloud project")
	ErrMissingLocation  = errors.New("missing cloud location")
	ErrNoAttempt        = errors.New("no pending authorization attempt")
	ErrStaleAttempt     = errors.New("authorization attempt is no longer current")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// recordVersion is bumped when the persisted record layout changes.
const recordVersion = 1

// record is the persisted credential state. Liveness (the authenticated
// flag) is never persisted; it is re-established by Validate at startup.
type record struct {
	Version      int       `json:"version"`
	Method       Method    `json:"method"`
	APIKey       string    `json:"apiKey,omitempty"`
	Project      string    `json:"project,omitempty"`
	Location     string    `json:"location,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Material carries the method-specific key material for SetMethod.
type Material struct {
	APIKey   string
	Project  string
	Location string
}

// Status is a safe-to-serialize view of the credential state.
type Status struct {
	Method        Method    `json:"method"`
	Authenticated bool      `json:"authenticated"`
	LastValidated time.Time `json:"lastValidated,omitzero"`
}

// Manager owns the credential state. All methods are safe for concurrent
// use; the in-flight OAuth attempt is process-wide single-flight.
type Manager struct {
	file       *store.File
	logger     log.Logger
	oauthCfg   oauth2.Config
	probeURL   string
	httpClient *http.Client

	mu            sync.Mutex
	rec           record
	authenticated bool
	lastValidated time.Time
	attempt       *Attempt
}

// Option configures a Manager.
type Option func(*Manager)

// WithOAuthConfig overrides the OAuth client configuration.
func WithOAuthConfig(cfg oauth2.Config) Option {
	return func(m *Manager) { m.oauthCfg = cfg }
}

// WithProbeURL overrides the endpoint used by Validate for the lightweight
// credential check.
func WithProbeURL(url string) Option {
	return func(m *Manager) { m.probeURL = url }
}

// WithHTTPClient overrides the HTTP client used for token exchange and
// validation probes.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// NewManager creates a manager backed by the given record file and loads any
// persisted credential. The loaded credential is untrusted until Validate
// runs (API-key methods are trusted on shape alone).
func NewManager(file *store.File, logger log.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		file:       file,
		logger:     logger,
		oauthCfg:   googleOAuthConfig(),
		probeURL:   defaultProbeURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}

	var rec record
	err := file.Load(&rec)
	switch {
	case errors.Is(err, store.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load credential record: %w", err)
	default:
		m.rec = rec
		// Key-material methods need no liveness probe to be usable.
		if rec.Method == MethodAPIKey || rec.Method == MethodVertexAI {
			m.authenticated = true
		}
	}
	return m, nil
}

// SetMethod configures an API-key style method and marks it authenticated.
// The OAuth method is configured through BeginOAuth/CompleteOAuth instead.
func (m *Manager) SetMethod(method Method, material Material) error {
	switch method {
	case MethodAPIKey:
		if material.APIKey == "" {
			return ErrMissingAPIKey
		}
	case MethodVertexAI:
		if material.APIKey == "" {
			return ErrMissingAPIKey
		}
		if material.Project == "" {
			return ErrMissingProject
		}
		if material.Location == "" {
			return ErrMissingLocation
		}
	case MethodOAuth:
		return fmt.Errorf("%w: oauth is configured via the authorization flow", ErrInvalidMethod)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := record{
		Version:   recordVersion,
		Method:    method,
		APIKey:    material.APIKey,
		Project:   material.Project,
		Location:  material.Location,
		UpdatedAt: time.Now(),
	}
	if err := m.file.Save(rec); err != nil {
		return fmt.Errorf("persist credential record: %w", err)
	}

	m.rec = rec
	m.authenticated = true
	m.lastValidated = time.Now()
	return nil
}

// IsAuthenticated reports whether a trusted credential is configured.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Status returns a serializable view of the credential state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Method:        m.rec.Method,
		Authenticated: m.authenticated,
		LastValidated: m.lastValidated,
	}
}

// Method returns the configured authentication method, empty if none.
func (m *Manager) Method() Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Method
}

// Credential returns the key material needed to build a model client.
func (m *Manager) Credential() Material {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Material{APIKey: m.rec.APIKey, Project: m.rec.Project, Location: m.rec.Location}
}

// TokenSource returns a refreshing token source for the OAuth method.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.Method != MethodOAuth {
		return nil, fmt.Errorf("%w: method is %q", ErrNotAuthenticated, m.rec.Method)
	}
	if m.rec.AccessToken == "" && m.rec.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	tok := &oauth2.Token{
		AccessToken:  m.rec.AccessToken,
		RefreshToken: m.rec.RefreshToken,
		Expiry:       m.rec.TokenExpiry,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	return m.oauthCfg.TokenSource(ctx, tok), nil
}

// Validate re-establishes trust in a persisted credential at process start.
//
// The check is deliberately tolerant: only an explicit authentication error
// from the probe discards the cached credential. Network and timeout
// failures are "unknown, retry later" so a transient blip never forces a
// re-login.
func (m *Manager) Validate(ctx context.Context) bool {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	switch rec.Method {
	case MethodAPIKey, MethodVertexAI:
		ok := rec.APIKey != ""
		m.setValidated(ok)
		return ok

	case MethodOAuth:
		// Format-only check first.
		if rec.AccessToken == "" && rec.RefreshToken == "" {
			m.setValidated(false)
			return false
		}

		switch m.probeToken(ctx, rec.AccessToken) {
		case probeOK:
			m.setValidated(true)
			return true
		case probeAuthError:
			m.logger.Warn("persisted oauth credential rejected, clearing")
			if err := m.Clear(); err != nil {
				m.logger.Error("clearing rejected credential", "error", err)
			}
			return false
		default:
			// Ambiguous: keep the credential and assume it still works.
			m.logger.Debug("credential probe inconclusive, keeping cached credential")
			m.setValidated(true)
			return true
		}

	default:
		return false
	}
}

type probeResult int

const (
	probeOK probeResult = iota
	probeAuthError
	probeAmbiguous
)

// probeToken makes a lightweight authenticated request to classify the
// credential as live, rejected or unknown.
func (m *Manager) probeToken(ctx context.Context, accessToken string) probeResult {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return probeAmbiguous
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return probeAmbiguous
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return probeAuthError
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return probeOK
	default:
		return probeAmbiguous
	}
}

func (m *Manager) setValidated(ok bool) {
	m.mu.Lock()
	m.authenticated = ok
	if ok {
		m.lastValidated = time.Now()
	}
	m.mu.Unlock()
}

// Clear removes the persisted record and resets in-memory state, including
// any pending authorization attempt.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.file.Remove(); err != nil {
		return fmt.Errorf("remove credential record: %w", err)
	}
	m.rec = record{}
	m.authenticated = false
	m.lastValidated = time.Time{}
	m.attempt = nil
	return nil
}

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// defaultProbeURL is the lightweight endpoint Validate uses to exercise an
// OAuth access token.
const defaultProbeURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// googleOAuthConfig returns the default client configuration for the Google
// authorization-code flow. The client id is a public installed-app id; the
// PKCE verifier is the only secret that matters.
func googleOAuthConfig() oauth2.Config {
	return oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		RedirectURL: "http://localhost:7777/oauth2callback",
		Scopes: []string{
			"https://www.googleapis.com/auth/cloud-platform",
			"https://www.googleapis.com/auth/userinfo.email",
		},
	}
}

// Attempt is one in-flight authorization attempt. The PKCE verifier lives
// only here, scoped to the attempt that minted it; completing or abandoning
// the attempt discards it.
type Attempt struct {
	id       string
	state    string
	verifier string
	started  time.Time
}

// ID identifies the attempt.
func (a *Attempt) ID() string { return a.id }

// State is the CSRF state embedded in the authorization URL.
func (a *Attempt) State() string { return a.state }

// BeginOAuth starts a PKCE authorization-code flow. It returns the URL the
// user must visit and the attempt handle required by CompleteOAuth.
//
// Attempts are process-wide single-flight: starting a new one invalidates
// any pending attempt, and the earlier authorization URL stops working.
func (m *Manager) BeginOAuth() (string, *Attempt, error) {
	verifier := oauth2.GenerateVerifier()
	attempt := &Attempt{
		id:       uuid.NewString(),
		state:    uuid.NewString(),
		verifier: verifier,
		started:  time.Now(),
	}

	m.mu.Lock()
	if m.attempt != nil {
		m.logger.Debug("replacing pending authorization attempt", "previous", m.attempt.id)
	}
	m.attempt = attempt
	cfg := m.oauthCfg
	m.mu.Unlock()

	authURL := cfg.AuthCodeURL(attempt.state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier))
	return authURL, attempt, nil
}

// CompleteOAuth exchanges the authorization code using the attempt's PKCE
// verifier. The verifier is consumed exactly once: it is discarded before
// the exchange regardless of outcome, so a replayed call finds no verifier
// and fails with ErrNoAttempt.
func (m *Manager) CompleteOAuth(ctx context.Context, attempt *Attempt, code string) error {
	if attempt == nil {
		return ErrNoAttempt
	}

	m.mu.Lock()
	current := m.attempt
	if current == nil {
		m.mu.Unlock()
		return ErrNoAttempt
	}
	if current.id != attempt.id {
		m.mu.Unlock()
		return ErrStaleAttempt
	}
	// Consume the attempt before exchanging; success or failure, it is spent.
	m.attempt = nil
	cfg := m.oauthCfg
	m.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(attempt.verifier))
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := record{
		Version:      recordVersion,
		Method:       MethodOAuth,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		UpdatedAt:    time.Now(),
	}
	if err := m.file.Save(rec); err != nil {
		return fmt.Errorf("persist credential record: %w", err)
	}

	m.rec = rec
	m.authenticated = true
	m.lastValidated = time.Now()
	return nil
}

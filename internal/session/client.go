package session

import (
	"context"
	"fmt"

	gauth "cloud.google.com/go/auth"
	"golang.org/x/oauth2"
	"google.golang.org/genai"

	"github.com/agentrelay/agentrelay/internal/auth"
)

// NewModelClient builds a genai client from the configured credential
// context. The default ClientBuilder.
func NewModelClient(ctx context.Context, creds *auth.Manager) (*genai.Client, error) {
	cfg, err := clientConfig(ctx, creds)
	if err != nil {
		return nil, err
	}
	return genai.NewClient(ctx, cfg)
}

// clientConfig maps the credential method onto a client configuration.
// The client initializer treats a project/location pair and an API key as
// mutually exclusive: a project binding authenticates through application
// default credentials (or the explicit token source for oauth), while an
// API key alone selects Vertex express mode.
func clientConfig(ctx context.Context, creds *auth.Manager) (*genai.ClientConfig, error) {
	material := creds.Credential()

	switch creds.Method() {
	case auth.MethodAPIKey:
		return &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
			APIKey:  material.APIKey,
		}, nil

	case auth.MethodVertexAI:
		cfg := &genai.ClientConfig{Backend: genai.BackendVertexAI}
		if material.Project != "" {
			cfg.Project = material.Project
			cfg.Location = material.Location
		} else {
			cfg.APIKey = material.APIKey
		}
		return cfg, nil

	case auth.MethodOAuth:
		ts, err := creds.TokenSource(ctx)
		if err != nil {
			return nil, err
		}
		return &genai.ClientConfig{
			Backend:     genai.BackendVertexAI,
			Project:     material.Project,
			Location:    material.Location,
			Credentials: gauth.NewCredentials(&gauth.CredentialsOptions{TokenProvider: tokenProvider{ts}}),
		}, nil

	default:
		return nil, fmt.Errorf("no authentication method configured")
	}
}

// tokenProvider adapts an oauth2.TokenSource to the cloud auth token
// provider the genai client expects.
type tokenProvider struct {
	ts oauth2.TokenSource
}

func (p tokenProvider) Token(_ context.Context) (*gauth.Token, error) {
	tok, err := p.ts.Token()
	if err != nil {
		return nil, err
	}
	return &gauth.Token{Value: tok.AccessToken, Expiry: tok.Expiry}, nil
}

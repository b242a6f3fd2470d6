package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/store"
)

func newCreds(t *testing.T) *auth.Manager {
	t.Helper()
	creds, err := auth.NewManager(store.NewFile(filepath.Join(t.TempDir(), "credentials.json")), log.NewNop())
	require.NoError(t, err)
	return creds
}

func TestClientConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("api key targets the Gemini API backend", func(t *testing.T) {
		creds := newCreds(t)
		require.NoError(t, creds.SetMethod(auth.MethodAPIKey, auth.Material{APIKey: "k"}))

		cfg, err := clientConfig(ctx, creds)
		require.NoError(t, err)
		assert.Equal(t, genai.BackendGeminiAPI, cfg.Backend)
		assert.Equal(t, "k", cfg.APIKey)
		assert.Empty(t, cfg.Project)
		assert.Empty(t, cfg.Location)
	})

	t.Run("vertex ai binds project and location without the api key", func(t *testing.T) {
		creds := newCreds(t)
		require.NoError(t, creds.SetMethod(auth.MethodVertexAI, auth.Material{
			APIKey:   "k",
			Project:  "proj",
			Location: "us-central1",
		}))

		cfg, err := clientConfig(ctx, creds)
		require.NoError(t, err)
		assert.Equal(t, genai.BackendVertexAI, cfg.Backend)
		assert.Equal(t, "proj", cfg.Project)
		assert.Equal(t, "us-central1", cfg.Location)
		// The client initializer rejects a project/location pair combined
		// with an API key, so the key must stay out of this config.
		assert.Empty(t, cfg.APIKey)
	})

	t.Run("no method configured", func(t *testing.T) {
		creds := newCreds(t)

		_, err := clientConfig(ctx, creds)
		assert.Error(t, err)
	})
}

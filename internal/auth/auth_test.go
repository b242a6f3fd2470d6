package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/store"
)

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	file := store.NewFile(filepath.Join(t.TempDir(), "credentials.json"))
	m, err := NewManager(file, log.NewNop(), opts...)
	require.NoError(t, err)
	return m
}

// tokenServer fakes the OAuth token endpoint and records exchange requests.
func tokenServer(t *testing.T) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var exchanges []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		exchanges = append(exchanges, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &exchanges
}

func TestSetMethod(t *testing.T) {
	cases := []struct {
		name     string
		method   Method
		material Material
		wantErr  error
	}{
		{"api key ok", MethodAPIKey, Material{APIKey: "k"}, nil},
		{"api key missing", MethodAPIKey, Material{}, ErrMissingAPIKey},
		{"vertex ok", MethodVertexAI, Material{APIKey: "k", Project: "p", Location: "us-central1"}, nil},
		{"vertex missing project", MethodVertexAI, Material{APIKey: "k", Location: "l"}, ErrMissingProject},
		{"vertex missing location", MethodVertexAI, Material{APIKey: "k", Project: "p"}, ErrMissingLocation},
		{"oauth rejected", MethodOAuth, Material{}, ErrInvalidMethod},
		{"unknown method", Method("basic"), Material{}, ErrInvalidMethod},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newManager(t)
			err := m.SetMethod(tc.method, tc.material)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, m.IsAuthenticated(), "valid key material authenticates immediately")
				assert.Equal(t, tc.method, m.Status().Method)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.False(t, m.IsAuthenticated())
			}
		})
	}
}

func TestPersistedRecordReload(t *testing.T) {
	file := store.NewFile(filepath.Join(t.TempDir(), "credentials.json"))
	m, err := NewManager(file, log.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.SetMethod(MethodAPIKey, Material{APIKey: "k"}))

	m2, err := NewManager(file, log.NewNop())
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, m2.Method())
	assert.True(t, m2.IsAuthenticated(), "api key method is trusted on shape alone")
	assert.Equal(t, "k", m2.Credential().APIKey)
}

func TestOAuthFlow(t *testing.T) {
	t.Run("complete once succeeds", func(t *testing.T) {
		srv, exchanges := tokenServer(t)
		m := newManager(t, WithOAuthConfig(oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		}))

		authURL, attempt, err := m.BeginOAuth()
		require.NoError(t, err)

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, attempt.State(), q.Get("state"))
		assert.NotEmpty(t, q.Get("code_challenge"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))

		require.NoError(t, m.CompleteOAuth(context.Background(), attempt, "the-code"))
		assert.True(t, m.IsAuthenticated())
		assert.Equal(t, MethodOAuth, m.Method())

		require.Len(t, *exchanges, 1)
		assert.Equal(t, "the-code", (*exchanges)[0].Get("code"))
		assert.NotEmpty(t, (*exchanges)[0].Get("code_verifier"), "exchange must carry the PKCE verifier")
	})

	t.Run("replayed completion fails", func(t *testing.T) {
		srv, _ := tokenServer(t)
		m := newManager(t, WithOAuthConfig(oauth2.Config{
			Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		}))

		_, attempt, err := m.BeginOAuth()
		require.NoError(t, err)
		require.NoError(t, m.CompleteOAuth(context.Background(), attempt, "code"))

		err = m.CompleteOAuth(context.Background(), attempt, "code")
		assert.ErrorIs(t, err, ErrNoAttempt, "the verifier is consumed exactly once")
	})

	t.Run("verifier discarded on failed exchange", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}))
		defer srv.Close()

		m := newManager(t, WithOAuthConfig(oauth2.Config{
			Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		}))

		_, attempt, err := m.BeginOAuth()
		require.NoError(t, err)
		require.Error(t, m.CompleteOAuth(context.Background(), attempt, "bad-code"))

		err = m.CompleteOAuth(context.Background(), attempt, "bad-code")
		assert.ErrorIs(t, err, ErrNoAttempt, "failure still consumes the verifier")
	})

	t.Run("second begin invalidates first attempt", func(t *testing.T) {
		srv, _ := tokenServer(t)
		m := newManager(t, WithOAuthConfig(oauth2.Config{
			Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		}))

		_, first, err := m.BeginOAuth()
		require.NoError(t, err)
		_, second, err := m.BeginOAuth()
		require.NoError(t, err)

		assert.ErrorIs(t, m.CompleteOAuth(context.Background(), first, "code"), ErrStaleAttempt)
		// The stale attempt must not consume the pending one.
		assert.NoError(t, m.CompleteOAuth(context.Background(), second, "code"))
	})

	t.Run("nil attempt", func(t *testing.T) {
		m := newManager(t)
		assert.ErrorIs(t, m.CompleteOAuth(context.Background(), nil, "code"), ErrNoAttempt)
	})
}

func TestValidate(t *testing.T) {
	t.Run("api key validates on shape", func(t *testing.T) {
		m := newManager(t)
		require.NoError(t, m.SetMethod(MethodAPIKey, Material{APIKey: "k"}))
		assert.True(t, m.Validate(context.Background()))
	})

	t.Run("no credential", func(t *testing.T) {
		m := newManager(t)
		assert.False(t, m.Validate(context.Background()))
	})

	oauthManager := func(t *testing.T, probe *httptest.Server) *Manager {
		srv, _ := tokenServer(t)
		m := newManager(t,
			WithOAuthConfig(oauth2.Config{
				Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
			}),
			WithProbeURL(probe.URL))
		_, attempt, err := m.BeginOAuth()
		require.NoError(t, err)
		require.NoError(t, m.CompleteOAuth(context.Background(), attempt, "code"))
		return m
	}

	t.Run("oauth live token", func(t *testing.T) {
		probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
		}))
		defer probe.Close()

		m := oauthManager(t, probe)
		assert.True(t, m.Validate(context.Background()))
	})

	t.Run("explicit auth error discards credential", func(t *testing.T) {
		probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer probe.Close()

		m := oauthManager(t, probe)
		assert.False(t, m.Validate(context.Background()))
		assert.False(t, m.IsAuthenticated())
		assert.Empty(t, m.Method(), "record cleared after explicit rejection")
	})

	t.Run("ambiguous failure keeps credential", func(t *testing.T) {
		probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer probe.Close()

		m := oauthManager(t, probe)
		assert.True(t, m.Validate(context.Background()), "server errors are not auth rejections")
		assert.Equal(t, MethodOAuth, m.Method())
	})

	t.Run("network failure keeps credential", func(t *testing.T) {
		probe := httptest.NewServer(nil)
		probe.Close() // unreachable from here on

		srv, _ := tokenServer(t)
		m := newManager(t,
			WithOAuthConfig(oauth2.Config{
				Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
			}),
			WithProbeURL(probe.URL))
		_, attempt, err := m.BeginOAuth()
		require.NoError(t, err)
		require.NoError(t, m.CompleteOAuth(context.Background(), attempt, "code"))

		assert.True(t, m.Validate(context.Background()), "network blips never force re-login")
		assert.Equal(t, MethodOAuth, m.Method())
	})
}

func TestClear(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetMethod(MethodAPIKey, Material{APIKey: "k"}))

	require.NoError(t, m.Clear())
	assert.False(t, m.IsAuthenticated())
	assert.Empty(t, m.Method())

	_, err := m.TokenSource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

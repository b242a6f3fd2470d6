package netcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/internal/log"
)

func TestCheckUpstreamReachable(t *testing.T) {
	t.Run("first success wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		g := New(log.NewNop(),
			WithEndpoints([]string{"http://127.0.0.1:1", srv.URL}),
			WithProbeTimeout(time.Second))

		assert.True(t, g.CheckUpstreamReachable(context.Background()))
	})

	t.Run("all probes fail", func(t *testing.T) {
		g := New(log.NewNop(),
			WithEndpoints([]string{"http://127.0.0.1:1", "http://127.0.0.1:2"}),
			WithProbeTimeout(200*time.Millisecond))

		assert.False(t, g.CheckUpstreamReachable(context.Background()))
	})

	t.Run("positive result cached", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		g := New(log.NewNop(), WithEndpoints([]string{srv.URL}))

		require.True(t, g.CheckUpstreamReachable(context.Background()))
		first := hits.Load()
		require.True(t, g.CheckUpstreamReachable(context.Background()))
		assert.Equal(t, first, hits.Load(), "second check must not re-probe")
	})

	t.Run("negative result not cached", func(t *testing.T) {
		var up atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if !up.Load() {
				// Simulate an unreachable endpoint by hijacking and dropping.
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					_ = conn.Close()
				}
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		g := New(log.NewNop(),
			WithEndpoints([]string{srv.URL}),
			WithProbeTimeout(500*time.Millisecond))

		assert.False(t, g.CheckUpstreamReachable(context.Background()))

		up.Store(true)
		assert.True(t, g.CheckUpstreamReachable(context.Background()), "re-probe after failure must see recovery")
	})

	t.Run("any http status counts as reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		g := New(log.NewNop(), WithEndpoints([]string{srv.URL}))
		assert.True(t, g.CheckUpstreamReachable(context.Background()))
	})
}

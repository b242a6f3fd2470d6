package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/internal/store"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(store.NewFile(filepath.Join(t.TempDir(), "sessions.json")))
}

func TestCache(t *testing.T) {
	t.Run("miss on empty cache", func(t *testing.T) {
		_, ok := newCache(t).Get("/work/app")
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("/work/app", CachedParams{SessionID: "s1", Model: "gemini-2.5-flash"}))

		got, ok := c.Get("/work/app")
		require.True(t, ok)
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, "/work/app", got.Dir)
		assert.WithinDuration(t, time.Now(), got.SavedAt, time.Minute)
	})

	t.Run("entries keyed per directory", func(t *testing.T) {
		c := newCache(t)
		require.NoError(t, c.Put("/work/a", CachedParams{SessionID: "sa"}))
		require.NoError(t, c.Put("/work/b", CachedParams{SessionID: "sb"}))

		got, ok := c.Get("/work/a")
		require.True(t, ok)
		assert.Equal(t, "sa", got.SessionID)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		file := store.NewFile(filepath.Join(t.TempDir(), "sessions.json"))
		entries := map[string]CachedParams{
			"/work/app": {SessionID: "old", SavedAt: time.Now().Add(-CacheTTL - time.Minute)},
		}
		require.NoError(t, file.Save(entries))

		_, ok := NewCache(file).Get("/work/app")
		assert.False(t, ok)
	})

	t.Run("put refreshes expiry", func(t *testing.T) {
		file := store.NewFile(filepath.Join(t.TempDir(), "sessions.json"))
		entries := map[string]CachedParams{
			"/work/app": {SessionID: "old", SavedAt: time.Now().Add(-CacheTTL - time.Minute)},
		}
		require.NoError(t, file.Save(entries))

		c := NewCache(file)
		require.NoError(t, c.Put("/work/app", CachedParams{SessionID: "new"}))

		got, ok := c.Get("/work/app")
		require.True(t, ok)
		assert.Equal(t, "new", got.SessionID)
	})

	t.Run("survives reload from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sessions.json")
		require.NoError(t, NewCache(store.NewFile(path)).Put("/work/app", CachedParams{SessionID: "s1"}))

		got, ok := NewCache(store.NewFile(path)).Get("/work/app")
		require.True(t, ok)
		assert.Equal(t, "s1", got.SessionID)
	})
}

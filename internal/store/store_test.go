package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFileSaveLoad(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "rec.json"))

		require.NoError(t, f.Save(record{Name: "a", Count: 3}))

		var got record
		require.NoError(t, f.Load(&got))
		assert.Equal(t, record{Name: "a", Count: 3}, got)
	})

	t.Run("load missing record", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "missing.json"))
		var got record
		assert.ErrorIs(t, f.Load(&got), ErrNotExist)
	})

	t.Run("save creates parent directory", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "nested", "dir", "rec.json"))
		require.NoError(t, f.Save(record{Name: "n"}))

		var got record
		require.NoError(t, f.Load(&got))
		assert.Equal(t, "n", got.Name)
	})

	t.Run("save replaces previous contents", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "rec.json"))
		require.NoError(t, f.Save(record{Name: "old"}))
		require.NoError(t, f.Save(record{Name: "new"}))

		var got record
		require.NoError(t, f.Load(&got))
		assert.Equal(t, "new", got.Name)
	})

	t.Run("record file mode is private", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "rec.json"))
		require.NoError(t, f.Save(record{}))

		info, err := os.Stat(f.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})
}

func TestFileConcurrentSave(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "rec.json"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = f.Save(record{Name: "w", Count: n})
		}(i)
	}
	wg.Wait()

	// The record must decode cleanly no matter which writer won.
	var got record
	require.NoError(t, f.Load(&got))
	assert.Equal(t, "w", got.Name)
}

func TestFileRemove(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "rec.json"))
	require.NoError(t, f.Save(record{}))

	require.NoError(t, f.Remove())
	require.NoError(t, f.Remove(), "removing twice is not an error")

	var got record
	assert.ErrorIs(t, f.Load(&got), ErrNotExist)
}

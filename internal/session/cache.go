package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/store"
)

// CacheTTL is how long cached session parameters stay usable. Entries older
// than this never seed a new session.
const CacheTTL = 24 * time.Hour

// CachedParams is the serializable subset of a session persisted to disk,
// keyed by workspace path. It only bootstraps a new session faster; it is
// never authoritative over a live one.
type CachedParams struct {
	SessionID string    `json:"sessionId"`
	Dir       string    `json:"dir"`
	Model     string    `json:"model"`
	Proxy     string    `json:"proxy,omitempty"`
	CWD       string    `json:"cwd,omitempty"`
	SavedAt   time.Time `json:"savedAt"`
}

// Cache is the on-disk session parameter cache.
type Cache struct {
	mu   sync.Mutex
	file *store.File
}

// NewCache creates a cache backed by the given record file.
func NewCache(file *store.File) *Cache {
	return &Cache{file: file}
}

// Get returns the cached parameters for dir if present and younger than
// CacheTTL.
func (c *Cache) Get(dir string) (CachedParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		return CachedParams{}, false
	}

	params, ok := entries[dir]
	if !ok {
		return CachedParams{}, false
	}
	if time.Since(params.SavedAt) > CacheTTL {
		return CachedParams{}, false
	}
	return params, true
}

// Put stores the parameters for dir, stamping the save time.
func (c *Cache) Put(dir string, params CachedParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		return err
	}

	params.Dir = dir
	params.SavedAt = time.Now()
	entries[dir] = params

	if err := c.file.Save(entries); err != nil {
		return fmt.Errorf("persist session cache: %w", err)
	}
	return nil
}

func (c *Cache) load() (map[string]CachedParams, error) {
	entries := make(map[string]CachedParams)
	err := c.file.Load(&entries)
	if err != nil && !errors.Is(err, store.ErrNotExist) {
		return nil, fmt.Errorf("load session cache: %w", err)
	}
	return entries, nil
}

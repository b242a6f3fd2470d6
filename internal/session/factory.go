// Package session builds and reuses the per-workspace session: the bound
// model client, the session identity and the on-disk parameter cache that
// shortcuts rebuilds.
//
// One session is live per server process. Acquiring a directory that is the
// current session's directory, or nested under it, reuses the session;
// acquiring an unrelated directory tears it down and builds a new one. The
// credential context is attached to, but never owned by, the session:
// replacing a session must not invalidate credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/log"
)

// ErrClientInit indicates the underlying model client could not be built.
// Credential and cache state are untouched when this happens.
var ErrClientInit = errors.New("model client initialization failed")

// Session is the bound context used to service requests for one workspace.
type Session struct {
	ID        string
	Dir       string
	Model     string
	Client    *genai.Client
	CreatedAt time.Time
}

// ClientBuilder constructs a model client from the credential context.
// Injectable so tests can avoid touching the real client constructor.
type ClientBuilder func(ctx context.Context, creds *auth.Manager) (*genai.Client, error)

// Factory owns the live session. All methods are safe for concurrent use;
// session replacement is serialized so a concurrent Acquire never observes
// a half-built session.
type Factory struct {
	creds        *auth.Manager
	cache        *Cache
	defaultModel string
	buildClient  ClientBuilder
	logger       log.Logger

	mu      sync.Mutex
	current *Session
}

// Option configures a Factory.
type Option func(*Factory)

// WithClientBuilder overrides how model clients are constructed.
func WithClientBuilder(b ClientBuilder) Option {
	return func(f *Factory) { f.buildClient = b }
}

// NewFactory creates a session factory.
func NewFactory(creds *auth.Manager, cache *Cache, defaultModel string, logger log.Logger, opts ...Option) *Factory {
	f := &Factory{
		creds:        creds,
		cache:        cache,
		defaultModel: defaultModel,
		buildClient:  NewModelClient,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Acquire returns the session for path, reusing the live session when path
// is contained in its directory and rebuilding otherwise.
func (f *Factory) Acquire(ctx context.Context, path string) (*Session, error) {
	dir, err := Canonicalize(path)
	if err != nil {
		return nil, fmt.Errorf("canonicalize workspace path: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && Contains(f.current.Dir, dir) {
		return f.current, nil
	}

	sess, err := f.buildLocked(ctx, dir, "")
	if err != nil {
		return nil, err
	}
	if f.current != nil {
		f.logger.Info("replacing workspace session",
			"previous", f.current.Dir, "next", dir)
	}
	f.current = sess
	return sess, nil
}

// Current returns the live session, nil if none.
func (f *Factory) Current() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// SwitchModel rebuilds the live session bound to a different model,
// preserving the workspace directory and credential context.
func (f *Factory) SwitchModel(ctx context.Context, model string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return nil, fmt.Errorf("%w: no active session", ErrClientInit)
	}

	sess, err := f.buildLocked(ctx, f.current.Dir, model)
	if err != nil {
		return nil, err
	}
	f.current = sess
	return sess, nil
}

// buildLocked constructs a session for dir. Fresh cache entries seed the
// session identity and model; stale ones are ignored entirely.
func (f *Factory) buildLocked(ctx context.Context, dir, model string) (*Session, error) {
	id := uuid.NewString()
	if model == "" {
		model = f.defaultModel
	}

	if params, ok := f.cache.Get(dir); ok {
		id = params.SessionID
		if params.Model != "" && model == f.defaultModel {
			model = params.Model
		}
		f.logger.Debug("seeding session from cache", "dir", dir, "sessionId", id)
	}

	client, err := f.buildClient(ctx, f.creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientInit, err)
	}

	sess := &Session{
		ID:        id,
		Dir:       dir,
		Model:     model,
		Client:    client,
		CreatedAt: time.Now(),
	}

	if err := f.cache.Put(dir, CachedParams{
		SessionID: sess.ID,
		Model:     sess.Model,
		CWD:       dir,
	}); err != nil {
		// Cache is an optimization; a write failure must not fail Acquire.
		f.logger.Warn("persisting session cache failed", "error", err)
	}
	return sess, nil
}

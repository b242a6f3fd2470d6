// Package netcheck probes reachability of the upstream model service before
// expensive session or credential work begins, so network outages surface as
// an actionable diagnostic instead of an opaque downstream timeout.
package netcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentrelay/agentrelay/internal/log"
)

// defaultEndpoints are independent generate-204 style probes. Reaching any
// one of them is taken as proof of upstream connectivity.
var defaultEndpoints = []string{
	"https://www.gstatic.com/generate_204",
	"https://www.google.com/generate_204",
	"https://clients3.google.com/generate_204",
}

// DefaultProbeTimeout bounds each individual probe.
const DefaultProbeTimeout = 3 * time.Second

// Guard caches a positive connectivity result. A negative result is never
// cached; the next check re-probes.
type Guard struct {
	client    *http.Client
	endpoints []string
	timeout   time.Duration
	logger    log.Logger

	group singleflight.Group

	mu        sync.Mutex
	reachable bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithEndpoints overrides the probe endpoints.
func WithEndpoints(endpoints []string) Option {
	return func(g *Guard) { g.endpoints = endpoints }
}

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// WithClient overrides the HTTP client used for probes.
func WithClient(c *http.Client) Option {
	return func(g *Guard) { g.client = c }
}

// New creates a Guard.
func New(logger log.Logger, opts ...Option) *Guard {
	g := &Guard{
		client:    &http.Client{},
		endpoints: defaultEndpoints,
		timeout:   DefaultProbeTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckUpstreamReachable reports whether at least one probe endpoint
// responds. The first success is cached for the lifetime of the process;
// concurrent callers share a single probe run.
func (g *Guard) CheckUpstreamReachable(ctx context.Context) bool {
	g.mu.Lock()
	cached := g.reachable
	g.mu.Unlock()
	if cached {
		return true
	}

	v, _, _ := g.group.Do("probe", func() (any, error) {
		return g.probeAll(ctx), nil
	})
	ok := v.(bool)

	if ok {
		g.mu.Lock()
		g.reachable = true
		g.mu.Unlock()
	}
	return ok
}

// probeAll races all endpoints and returns on the first success, or false
// once every probe has failed.
func (g *Guard) probeAll(ctx context.Context) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan bool, len(g.endpoints))
	for _, endpoint := range g.endpoints {
		go func(url string) {
			results <- g.probe(ctx, url)
		}(endpoint)
	}

	for range g.endpoints {
		if <-results {
			return true
		}
	}
	return false
}

func (g *Guard) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("connectivity probe failed", "url", url, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	// Any HTTP response proves the network path; the status does not matter.
	return true
}

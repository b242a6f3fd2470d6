// Package proxy manages the process-wide outbound proxy configuration.
//
// The configuration is persisted across restarts and applied to
// http.DefaultTransport, so every upstream call (model service, OAuth token
// exchange, connectivity probes) goes through the same proxy.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/store"
)

// Proxy types accepted in Config.Type.
const (
	TypeHTTP   = "http"
	TypeHTTPS  = "https"
	TypeSOCKS5 = "socks5"
)

// Sentinel errors for proxy configuration.
var (
	ErrInvalidType = errors.New("invalid proxy type")
	ErrInvalidHost = errors.New("invalid proxy host")
	ErrInvalidPort = errors.New("invalid proxy port")
)

// testTimeout bounds the proxy reachability test.
const testTimeout = 10 * time.Second

// Config is the persisted proxy configuration.
type Config struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Type    string `json:"type"`
}

// Validate checks the configuration shape. A disabled config is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case TypeHTTP, TypeHTTPS, TypeSOCKS5:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}
	if c.Host == "" {
		return ErrInvalidHost
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	return nil
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Manager owns the active proxy configuration.
type Manager struct {
	file   *store.File
	logger log.Logger

	mu  sync.Mutex
	cfg Config
}

// NewManager creates a manager backed by the given record file and loads any
// persisted configuration. A missing record means the proxy is disabled.
func NewManager(file *store.File, logger log.Logger) (*Manager, error) {
	m := &Manager{file: file, logger: logger}

	var cfg Config
	err := file.Load(&cfg)
	switch {
	case errors.Is(err, store.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load proxy config: %w", err)
	default:
		m.cfg = cfg
	}
	return m, nil
}

// Current returns the active configuration.
func (m *Manager) Current() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Set validates, persists and applies a new configuration.
func (m *Manager) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.file.Save(cfg); err != nil {
		return fmt.Errorf("persist proxy config: %w", err)
	}
	m.cfg = cfg
	return m.applyLocked()
}

// Apply installs the current configuration on http.DefaultTransport.
// Called once at startup and after every Set.
func (m *Manager) Apply() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked()
}

func (m *Manager) applyLocked() error {
	transport, err := Transport(m.cfg)
	if err != nil {
		return err
	}
	http.DefaultTransport = transport
	if m.cfg.Enabled {
		m.logger.Info("proxy applied", "type", m.cfg.Type, "addr", m.cfg.addr())
	}
	return nil
}

// Transport builds an http.RoundTripper honoring cfg. A disabled config
// yields a default direct transport.
func Transport(cfg Config) (*http.Transport, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{}
	}
	transport := base.Clone()
	transport.Proxy = nil
	transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second}).DialContext

	if !cfg.Enabled {
		return transport, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeHTTP, TypeHTTPS:
		proxyURL := &url.URL{Scheme: cfg.Type, Host: cfg.addr()}
		transport.Proxy = http.ProxyURL(proxyURL)
	case TypeSOCKS5:
		dialer, err := xproxy.SOCKS5("tcp", cfg.addr(), nil, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build socks5 dialer: %w", err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support context dialing")
		}
		transport.DialContext = ctxDialer.DialContext
	}
	return transport, nil
}

// Test performs a reachability check through the given configuration without
// applying it. The target must answer any HTTP status for the test to pass.
func Test(ctx context.Context, cfg Config, target string) error {
	transport, err := Transport(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("build test request: %w", err)
	}

	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy test failed: %w", err)
	}
	_ = resp.Body.Close()
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/internal/api"
	"github.com/agentrelay/agentrelay/internal/auth"
	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/convo"
	"github.com/agentrelay/agentrelay/internal/log"
	"github.com/agentrelay/agentrelay/internal/netcheck"
	"github.com/agentrelay/agentrelay/internal/proxy"
	"github.com/agentrelay/agentrelay/internal/session"
	"github.com/agentrelay/agentrelay/internal/store"
	"github.com/agentrelay/agentrelay/internal/tools"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [addr]",
	Short: "Start the HTTP API server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	addr := cfg.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}
	if len(args) > 0 {
		addr = args[0]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting agentrelay", "version", Version, "addr", addr)

	creds, err := auth.NewManager(store.NewFile(cfg.CredentialPath()), logger)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	// Re-establish trust in a persisted credential. Ambiguous failures keep
	// the credential; only explicit auth errors discard it.
	if creds.Method() != "" {
		if ok := creds.Validate(ctx); !ok {
			logger.Warn("persisted credential failed validation, re-authentication required")
		}
	}

	proxyMgr, err := proxy.NewManager(store.NewFile(cfg.ProxyPath()), logger)
	if err != nil {
		return fmt.Errorf("loading proxy config: %w", err)
	}
	if err := proxyMgr.Apply(); err != nil {
		logger.Warn("applying proxy config failed", "error", err)
	}

	guard := netcheck.New(logger)

	cache := session.NewCache(store.NewFile(cfg.SessionCachePath()))
	sessions := session.NewFactory(creds, cache, cfg.ModelName, logger)

	registry := tools.NewRegistry()
	workspaceRoot := func() string {
		if sess := sessions.Current(); sess != nil {
			return sess.Dir
		}
		return ""
	}
	if err := tools.RegisterBuiltins(registry, workspaceRoot); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	conversations := convo.NewService(guard, creds, sessions, registry, logger,
		convo.WithMaxRounds(cfg.MaxRounds),
		convo.WithHeartbeatInterval(cfg.Heartbeat()))

	server, err := api.NewServer(api.ServerConfig{
		Logger:         logger,
		Conversation:   conversations,
		Credentials:    creds,
		Sessions:       sessions,
		Proxy:          proxyMgr,
		DefaultModel:   cfg.ModelName,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := server.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

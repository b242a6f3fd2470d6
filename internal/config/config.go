// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.agentrelay/config.yaml)
//  3. Default values
//
// Sensitive material (API keys, OAuth tokens) is never stored here; the
// credential record under internal/auth owns it. The config directory is
// created with 0750 permissions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPort indicates the server port is out of range.
	ErrInvalidPort = errors.New("invalid server port")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidMaxRounds indicates the tool round cap is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

	// ErrInvalidHeartbeat indicates the heartbeat interval is out of range.
	ErrInvalidHeartbeat = errors.New("invalid heartbeat interval")
)

const (
	// DefaultModel is the model new sessions bind to.
	DefaultModel = "gemini-2.5-flash"

	// MaxAllowedRounds is the absolute cap on the tool round loop.
	MaxAllowedRounds = 64
)

// Config stores application configuration.
type Config struct {
	// Server configuration
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Model configuration
	ModelName string `mapstructure:"model_name"`
	MaxRounds int    `mapstructure:"max_rounds"`

	// Streaming configuration
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`

	// Rate limiting (per client IP)
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// Persistent record locations; default under the config directory.
	DataDir string `mapstructure:"data_dir"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Heartbeat returns the stream keep-alive interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CredentialPath returns the credential record location.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.DataDir, "credentials.json")
}

// SessionCachePath returns the session parameter cache location.
func (c *Config) SessionCachePath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// ProxyPath returns the proxy record location.
func (c *Config) ProxyPath() string {
	return filepath.Join(c.DataDir, "proxy.json")
}

// Dir returns the configuration directory, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".agentrelay")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return load(dir)
}

func load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v, dir)

	v.SetEnvPrefix("AGENTRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 18080)
	v.SetDefault("model_name", DefaultModel)
	v.SetDefault("max_rounds", 16)
	v.SetDefault("heartbeat_seconds", 15)
	v.SetDefault("rate_limit_rps", 10.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("data_dir", dir)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// Validate checks the configuration, fail-fast at startup.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}
	if c.MaxRounds < 1 || c.MaxRounds > MaxAllowedRounds {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidMaxRounds, c.MaxRounds, MaxAllowedRounds)
	}
	if c.HeartbeatSeconds < 1 || c.HeartbeatSeconds > 300 {
		return fmt.Errorf("%w: %ds", ErrInvalidHeartbeat, c.HeartbeatSeconds)
	}
	return nil
}

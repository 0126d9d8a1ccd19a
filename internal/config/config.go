// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	GatewayURL        string
	DBPath            string
	KeepaliveInterval time.Duration
	StatusInterval    time.Duration
	DialTimeout       time.Duration
	Identity          IdentityConfig
	Stub              StubConfig
}

// IdentityConfig controls how bearer tokens are obtained.
type IdentityConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	StaticToken  string // development shortcut, skips the token endpoint
	RefreshSkew  time.Duration
}

// StubConfig configures the local development gateway.
type StubConfig struct {
	Port     string
	FilesDir string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		GatewayURL:        getEnv("SPACHAT_GATEWAY_URL", "ws://localhost:8089/ws/agent"),
		DBPath:            getEnv("SPACHAT_DB_PATH", defaultDBPath()),
		KeepaliveInterval: getEnvDuration("SPACHAT_KEEPALIVE_INTERVAL", 30*time.Second),
		StatusInterval:    getEnvDuration("SPACHAT_STATUS_INTERVAL", 3*time.Second),
		DialTimeout:       getEnvDuration("SPACHAT_DIAL_TIMEOUT", 15*time.Second),
		Identity: IdentityConfig{
			TokenURL:     getEnv("SPACHAT_TOKEN_URL", ""),
			ClientID:     getEnv("SPACHAT_CLIENT_ID", ""),
			ClientSecret: getEnv("SPACHAT_CLIENT_SECRET", ""),
			StaticToken:  getEnv("SPACHAT_STATIC_TOKEN", ""),
			RefreshSkew:  getEnvDuration("SPACHAT_TOKEN_REFRESH_SKEW", time.Minute),
		},
		Stub: StubConfig{
			Port:     getEnv("SPACHAT_STUB_PORT", "8089"),
			FilesDir: getEnv("SPACHAT_STUB_FILES_DIR", "./data/files"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and coherent.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("SPACHAT_GATEWAY_URL cannot be empty")
	}
	u, err := url.Parse(c.GatewayURL)
	if err != nil {
		return fmt.Errorf("SPACHAT_GATEWAY_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("SPACHAT_GATEWAY_URL must use ws or wss scheme, got %q", u.Scheme)
	}
	if c.DBPath == "" {
		return fmt.Errorf("SPACHAT_DB_PATH cannot be empty")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("SPACHAT_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("SPACHAT_STATUS_INTERVAL must be > 0")
	}
	if c.Identity.TokenURL != "" && c.Identity.ClientID == "" {
		return fmt.Errorf("SPACHAT_CLIENT_ID is required when SPACHAT_TOKEN_URL is set")
	}
	return nil
}

// HasTokenEndpoint reports whether a real token endpoint is configured.
func (c *Config) HasTokenEndpoint() bool {
	return c.Identity.TokenURL != ""
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data/spachat.db"
	}
	return filepath.Join(home, ".spachat", "spachat.db")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

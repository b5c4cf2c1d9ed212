// Package config loads the relay configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// devFallbackSecret signs tokens when no secret is configured outside
// production. It is intentionally well-known and must never reach a
// production deployment; Load refuses to start production without PTY_SECRET.
const devFallbackSecret = "dev-insecure-pty-secret"

// ErrSecretRequired is returned when production mode is requested without a
// signing secret.
var ErrSecretRequired = errors.New("PTY_SECRET is required in production")

// Config holds the runtime configuration for the relay server.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port string

	// Secret signs session tokens.
	Secret string

	// Production indicates hardened posture: no fallback secret is allowed.
	Production bool

	// IdleTimeout is how long a session may stay inactive before the
	// sweeper reaps it.
	IdleTimeout time.Duration

	// TokenTTL is the validity window of issued session tokens.
	TokenTTL time.Duration

	// AllowedRoot is the directory requested working directories must
	// resolve under. Escapes fall back to the user home directory.
	AllowedRoot string

	// AllowedOrigins are substrings matched against the Origin header for
	// CORS and WebSocket origin checks.
	AllowedOrigins []string
}

// Load reads configuration from the environment, applying defaults. It fails
// when production mode is set without a signing secret.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		Secret:         os.Getenv("PTY_SECRET"),
		Production:     getEnv("RELAY_ENV", "development") == "production",
		AllowedOrigins: []string{"localhost", "127.0.0.1"},
	}

	var err error
	if cfg.IdleTimeout, err = getDuration("IDLE_TIMEOUT", time.Hour); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.AllowedRoot = os.Getenv("ALLOWED_ROOT"); cfg.AllowedRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.AllowedRoot = home
	}

	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if cfg.Secret == "" {
		if cfg.Production {
			return nil, ErrSecretRequired
		}
		log.Printf("WARNING: PTY_SECRET not set, using insecure development secret")
		cfg.Secret = devFallbackSecret
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses a duration environment variable or returns the default.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

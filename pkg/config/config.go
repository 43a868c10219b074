// Package config resolves server configuration from environment
// variables, optionally overlaid by a site profile YAML for air-gapped
// deployments where environment injection is impractical.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/crypto"
)

// Config holds server configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	// Storage
	Driver       string // "sqlite" or "postgres"
	DatabasePath string // sqlite DSN
	DatabaseURL  string // postgres DSN

	// Sessions and login policy
	SessionTTL          time.Duration
	LoginAttemptWindow  time.Duration
	LoginAttemptLimit   int
	SessionSecretBase64 string // optional; generated and persisted when empty

	Argon2 crypto.Argon2Params
}

// Load resolves configuration from the environment, falling back to
// safe local defaults.
func Load() *Config {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8443"),
		LogLevel:            envOr("LOG_LEVEL", "INFO"),
		Driver:              envOr("DATABASE_DRIVER", "sqlite"),
		DatabasePath:        envOr("DATABASE_PATH", "./data/munin.db"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SessionTTL:          time.Duration(envInt("SESSION_TTL_HOURS", 8)) * time.Hour,
		LoginAttemptWindow:  time.Duration(envInt("LOGIN_ATTEMPT_WINDOW_MINUTES", 15)) * time.Minute,
		LoginAttemptLimit:   envInt("LOGIN_ATTEMPT_LIMIT", 5),
		SessionSecretBase64: os.Getenv("SESSION_SECRET"),
		Argon2:              crypto.DefaultArgon2Params,
	}
	if v := envInt("ARGON2_MEMORY_KIB", 0); v > 0 {
		cfg.Argon2.MemoryKiB = uint32(v)
	}
	if v := envInt("ARGON2_ITERATIONS", 0); v > 0 {
		cfg.Argon2.Iterations = uint32(v)
	}
	if v := envInt("ARGON2_PARALLELISM", 0); v > 0 {
		cfg.Argon2.Parallelism = uint8(v)
	}
	return cfg
}

// DSN returns the DSN for the configured driver.
func (c *Config) DSN() string {
	if c.Driver == "postgres" {
		return c.DatabaseURL
	}
	return c.DatabasePath
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// HTTPPort is the listen port for the API server.
	HTTPPort string

	// StateDir is the on-disk location of the session state store.
	StateDir string

	// HelloTimeout is the grace window for a connection's first HELLO.
	HelloTimeout time.Duration

	// RateLimitPerSecond is the per-connection client message budget.
	RateLimitPerSecond int

	// WriteTimeout bounds one outbound WebSocket write.
	WriteTimeout time.Duration

	// IdleTimeout hibernates an engine with no connections and no active
	// question. 0 disables hibernation.
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown of engines and HTTP.
	ShutdownTimeout time.Duration

	// StateRetention is how long completed sessions' hibernated state is
	// kept before the retention sweeper deletes it.
	StateRetention time.Duration

	// SweepInterval is the pause between retention sweeps.
	SweepInterval time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		StateDir:           getEnv("STATE_DIR", "./data/state"),
		HelloTimeout:       10 * time.Second,
		RateLimitPerSecond: 10,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        5 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		StateRetention:     24 * time.Hour,
		SweepInterval:      time.Hour,
	}

	var err error
	if cfg.HelloTimeout, err = getDuration("HELLO_TIMEOUT", cfg.HelloTimeout); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = getDuration("WS_WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = getDuration("ENGINE_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.StateRetention, err = getDuration("STATE_RETENTION", cfg.StateRetention); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerSecond, err = getInt("WS_RATE_LIMIT", cfg.RateLimitPerSecond); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerSecond <= 0 {
		return nil, fmt.Errorf("WS_RATE_LIMIT must be positive, got %d", cfg.RateLimitPerSecond)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// Package api provides the HTTP server of the dataset service. The JSON and
// streaming endpoints live in the v1 subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "512M"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen    string // host:port to bind
	StaticDir string // frontend pages, optional
	BodyLimit string // echo body limit, e.g. "512M"

	ReadTimeout time.Duration
	// WriteTimeout is zero by default: inference streams stay open for the
	// whole run and bound each event write themselves.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":5000",
		BodyLimit:       DefaultBodyLimit,
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.Server.Listen != "" {
		cfg.Listen = settings.Server.Listen
	}
	if settings.Server.MaxUploadSize != "" {
		cfg.BodyLimit = settings.Server.MaxUploadSize
	}
	cfg.StaticDir = settings.Server.StaticDir
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	static := "disabled"
	if c.StaticDir != "" {
		static = c.StaticDir
	}
	return fmt.Sprintf("Server Config: listen=%s, static=%s, body_limit=%s, debug=%v",
		c.Listen, static, c.BodyLimit, c.Debug)
}

package adminapi

import (
	"log/slog"
	"time"
)

// ServerOption configures the admin HTTP server.
type ServerOption func(*serverConfig)

// WithAddr sets the address the server listens on.
func WithAddr(addr string) ServerOption {
	if addr == "" {
		panic("WithAddr: addr cannot be empty")
	}
	return func(c *serverConfig) { c.addr = addr }
}

func WithReadTimeout(d time.Duration) ServerOption {
	if d <= 0 {
		panic("WithReadTimeout: duration must be > 0")
	}
	return func(c *serverConfig) { c.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) ServerOption {
	if d <= 0 {
		panic("WithWriteTimeout: duration must be > 0")
	}
	return func(c *serverConfig) { c.writeTimeout = d }
}

func WithIdleTimeout(d time.Duration) ServerOption {
	if d <= 0 {
		panic("WithIdleTimeout: duration must be > 0")
	}
	return func(c *serverConfig) { c.idleTimeout = d }
}

// WithShutdownTimeout sets the time allowed for in-flight requests to finish.
func WithShutdownTimeout(d time.Duration) ServerOption {
	if d <= 0 {
		panic("WithShutdownTimeout: duration must be > 0")
	}
	return func(c *serverConfig) { c.shutdownTimeout = d }
}

// WithServerLogger sets the server logger. Defaults to slog.Default().
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithStartHook registers a callback receiving the bound address once the server listens.
func WithStartHook(h func(addr string)) ServerOption {
	if h == nil {
		panic("WithStartHook: nil hook")
	}
	return func(c *serverConfig) {
		c.startHooks = append(c.startHooks, h)
	}
}

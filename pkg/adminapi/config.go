package adminapi

import "time"

type Config struct {
	Enabled         bool          `env:"ADMIN_ENABLED" envDefault:"true"`        // Enabled starts the admin API alongside the worker.
	Addr            string        `env:"ADMIN_ADDR" envDefault:":8081"`          // Addr is the address the server listens on.
	ReadTimeout     time.Duration `env:"ADMIN_READ_TIMEOUT" envDefault:"30s"`    // ReadTimeout is the maximum duration for reading the entire request.
	WriteTimeout    time.Duration `env:"ADMIN_WRITE_TIMEOUT" envDefault:"30s"`   // WriteTimeout is the maximum duration before timing out writes of the response.
	IdleTimeout     time.Duration `env:"ADMIN_IDLE_TIMEOUT" envDefault:"120s"`   // IdleTimeout is the keep-alive idle limit.
	ShutdownTimeout time.Duration `env:"ADMIN_SHUTDOWN_TIMEOUT" envDefault:"5s"` // ShutdownTimeout is the time allowed for graceful shutdown.
}

// NewServerFromConfig creates a Server from cfg. Only non-zero values are applied.
func NewServerFromConfig(cfg Config, opts ...ServerOption) *Server {
	configOpts := make([]ServerOption, 0, 5+len(opts))

	if cfg.Addr != "" {
		configOpts = append(configOpts, WithAddr(cfg.Addr))
	}
	if cfg.ReadTimeout > 0 {
		configOpts = append(configOpts, WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		configOpts = append(configOpts, WithWriteTimeout(cfg.WriteTimeout))
	}
	if cfg.IdleTimeout > 0 {
		configOpts = append(configOpts, WithIdleTimeout(cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}

	return NewServer(append(configOpts, opts...)...)
}

package pg

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the connection pool settings of the PostgreSQL connector.
type Config struct {
	ConnectionString string `env:"PG_CONN_URL,required"`

	// Pool sizing. MaxOpenConns includes the connection a listening worker holds.
	MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"2"`
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	// Connect retries; the wait before attempt n is n*RetryInterval.
	RetryAttempts int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`

	ApplySchema     bool   `env:"PG_APPLY_SCHEMA" envDefault:"false"`
	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"pgqueue_schema_migrations"`
}

// poolConfig parses the connection string and applies the non-zero pool settings.
func (c Config) poolConfig() (*pgxpool.Config, error) {
	if c.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}
	pc, err := pgxpool.ParseConfig(c.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	if c.MaxOpenConns > 0 {
		pc.MaxConns = c.MaxOpenConns
	}
	pc.MinConns = min(max(c.MaxIdleConns, 0), pc.MaxConns)
	if c.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = c.HealthCheckPeriod
	}
	if c.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	return pc, nil
}

func (c Config) migrationsTable() string {
	if c.MigrationsTable == "" {
		return "pgqueue_schema_migrations"
	}
	return c.MigrationsTable
}

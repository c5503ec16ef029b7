package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLogger is the part of *slog.Logger that goose output is written to.
type migrationLogger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// gooseMu serializes migrations: goose keeps its settings in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded job schema migrations using goose.
// goose works on database/sql, so the pool is bridged through pgx's stdlib adapter.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, log migrationLogger) error {
	return withGoose(ctx, pool, cfg, log, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return errors.Join(ErrFailedToApplyMigrations, err)
		}
		return nil
	})
}

// SchemaVersion reports the latest applied migration version.
func (c *Connector) SchemaVersion(ctx context.Context) (int64, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return 0, err
	}
	var version int64
	err = withGoose(ctx, pool, c.cfg, c.log, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	if err != nil {
		return 0, translateError("schema_version", err)
	}
	return version, nil
}

// Schema returns the SQL of every embedded migration, in order.
func Schema() string {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		data, err := migrationsFS.ReadFile(migrationsDir + "/" + e.Name())
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "-- %s\n%s\n", e.Name(), data)
	}
	return b.String()
}

func withGoose(ctx context.Context, pool *pgxpool.Pool, cfg Config, log migrationLogger, fn func(*sql.DB) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}(db)

	// Route goose output through the application logger instead of stdout.
	goose.SetLogger(newSlogAdapter(log))
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName(cfg.migrationsTable())

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return fn(db)
}

// migrateSlogAdapter bridges goose's Printf-style logging to structured logging.
type migrateSlogAdapter struct {
	log migrationLogger
}

func newSlogAdapter(log migrationLogger) goose.Logger {
	return &migrateSlogAdapter{
		log: log,
	}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

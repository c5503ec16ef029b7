package pg

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

// unlistenTimeout bounds the cleanup of a listening connection before it returns to the pool.
const unlistenTimeout = 5 * time.Second

// Connector implements queue.Connector on top of a pgx connection pool.
// The pool is created by Open and released by Close, unless it was
// supplied with WithPool, in which case its owner closes it.
type Connector struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	pool     *pgxpool.Pool
	external *pgxpool.Pool

	asyncOnce sync.Once
	async     *queue.AsyncConnector
}

// Option configures a Connector.
type Option func(*Connector)

// WithPool makes the connector use an existing pool instead of creating one.
func WithPool(pool *pgxpool.Pool) Option {
	return func(c *Connector) {
		c.external = pool
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// NewConnector creates a closed connector. No connection is made until Open.
func NewConnector(cfg Config, opts ...Option) *Connector {
	c := &Connector{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("pg"))
	return c
}

// Open connects the pool and, when configured, applies the schema.
// Opening an open connector is a no-op.
func (c *Connector) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.pool != nil {
		c.mu.Unlock()
		return nil
	}

	pool := c.external
	if pool == nil {
		var err error
		if pool, err = Connect(ctx, c.cfg); err != nil {
			c.mu.Unlock()
			return &queue.ConnectorError{Op: "open", Err: err}
		}
	}
	c.pool = pool
	c.mu.Unlock()

	c.log.DebugContext(ctx, "connection pool opened")

	if c.cfg.ApplySchema {
		if err := c.ApplySchema(ctx); err != nil {
			_ = c.Close(ctx)
			return err
		}
	}
	return nil
}

// Close releases the pool. Closing a closed connector is a no-op.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil {
		return nil
	}
	if c.pool != c.external {
		c.pool.Close()
	}
	c.pool = nil
	c.log.DebugContext(ctx, "connection pool closed")
	return nil
}

// Pool returns the open pool, or nil while the connector is closed.
func (c *Connector) Pool() *pgxpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

func (c *Connector) acquirePool() (*pgxpool.Pool, error) {
	pool := c.Pool()
	if pool == nil {
		return nil, queue.ErrAppNotOpen
	}
	return pool, nil
}

func (c *Connector) Execute(ctx context.Context, q queue.Query, args ...any) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, q.SQL, args...)
	return translateError(q.Name, err)
}

// QueryOne returns the single row produced by q, or an error matching queue.ErrNoRows.
func (c *Connector) QueryOne(ctx context.Context, q queue.Query, args ...any) (queue.Row, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, q.SQL, args...)
	if err != nil {
		return nil, translateError(q.Name, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, translateError(q.Name, err)
	}
	return queue.Row(row), nil
}

func (c *Connector) QueryAll(ctx context.Context, q queue.Query, args ...any) ([]queue.Row, error) {
	pool, err := c.acquirePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, q.SQL, args...)
	if err != nil {
		return nil, translateError(q.Name, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translateError(q.Name, err)
	}
	out := make([]queue.Row, len(maps))
	for i, m := range maps {
		out[i] = queue.Row(m)
	}
	return out, nil
}

// ListenNotify holds a dedicated pool connection subscribed to channel and calls
// handler for every notification until ctx is done. Notifications are delivered
// by PostgreSQL on commit, so a woken worker always sees the new job.
func (c *Connector) ListenNotify(ctx context.Context, channel string, handler queue.NotifyHandler) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return translateError("listen", err)
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			uctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
			if _, err := conn.Exec(uctx, "UNLISTEN *"); err != nil {
				// a connection left listening must not be reused
				_ = conn.Conn().Close(uctx)
			}
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return translateError("listen", err)
	}
	c.log.DebugContext(ctx, "listening for notifications", logger.Channel(channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return translateError("listen", err)
		}
		handler(ctx, n.Payload)
	}
}

// AsyncConnector returns the non-blocking view of this connector, created on first use.
// Both views share the pool, so opening either one opens both.
func (c *Connector) AsyncConnector() *queue.AsyncConnector {
	c.asyncOnce.Do(func() {
		c.async = queue.NewAsyncConnector(c)
	})
	return c.async
}

// SchemaSQL returns the embedded schema definition.
func (c *Connector) SchemaSQL() string {
	return Schema()
}

// ApplySchema runs the embedded migrations against the open pool.
func (c *Connector) ApplySchema(ctx context.Context) error {
	pool, err := c.acquirePool()
	if err != nil {
		return err
	}
	if err := Migrate(ctx, pool, c.cfg, c.log); err != nil {
		if errors.Is(err, queue.ErrAppNotOpen) {
			return err
		}
		return &queue.ConnectorError{Op: "apply_schema", Err: err}
	}
	return nil
}

var (
	_ queue.Connector       = (*Connector)(nil)
	_ queue.SchemaApplier   = (*Connector)(nil)
	_ queue.SchemaInspector = (*Connector)(nil)
)

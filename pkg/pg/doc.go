// Package pg is the PostgreSQL backend of the job queue, built on the pgx/v5
// driver and goose/v3 migrations.
//
// # Architecture
//
//   - Config – populated from environment variables via github.com/caarlos0/env.
//     It controls pool limits, connection retries and schema management.
//
//   - Connect – opens a *pgxpool.Pool based on Config, retrying while the
//     database is unavailable.
//
//   - Connector – implements queue.Connector over the pool: named queries,
//     LISTEN/NOTIFY through a dedicated connection, and translation of
//     driver errors into *queue.ConnectorError with SQLSTATE and constraint.
//
//   - Migrate / Schema – the job schema is embedded and applied with goose.
//     Tables, triggers writing the event log and notifications, and the
//     partial unique indexes backing both locks live in migrations/.
//
// # Usage
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//		return err
//	}
//
//	conn := pg.NewConnector(cfg, pg.WithLogger(log))
//	app := queue.NewApp(conn, queue.WithAppLogger(log))
//	if err := app.Open(ctx); err != nil {
//		return err
//	}
//	defer app.Close(ctx)
//
//	if err := app.ApplySchema(ctx); err != nil {
//		return err
//	}
//
//	health := pg.Healthcheck(conn)
//
// # Error Handling
//
// Every failure surfaces as an error matching queue.ErrConnector, except
// queue.ErrAppNotOpen before Open and queue.ErrNoRows for empty single-row
// queries. [IsDuplicateKeyError] classifies raw pgx errors.
package pg

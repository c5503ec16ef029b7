package pg

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

var (
	ErrFailedToOpenDBConnection = errors.New("failed to open db connection")
	ErrEmptyConnectionString    = errors.New("empty postgres connection string, use PG_CONN_URL env var")
	ErrHealthcheckFailed        = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseDBConfig    = errors.New("failed to parse db config")
	ErrFailedToApplyMigrations  = errors.New("failed to apply migrations")
	ErrSchemaMissing            = queue.ErrSchemaMissing
)

// IsNotFoundError detects pgx.ErrNoRows for consistent "not found" handling across queries.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError detects PostgreSQL unique constraint violations (SQLSTATE 23505).
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == queue.UniqueViolationCode
}

// translateError maps driver errors onto the queue error taxonomy.
// Server errors keep their SQLSTATE and constraint so callers can tell
// a queueing lock conflict from any other failure.
func translateError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrAppNotOpen), errors.Is(err, queue.ErrConnector):
		return err
	case IsNotFoundError(err):
		return fmt.Errorf("%s: %w", op, queue.ErrNoRows)
	}

	cerr := &queue.ConnectorError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		cerr.Code = pgErr.Code
		cerr.Constraint = pgErr.ConstraintName
	}
	return cerr
}

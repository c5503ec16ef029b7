package pg

import (
	"context"
	"errors"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

// Healthcheck returns a check for health endpoints. It runs the same query as
// queue.App.Check, so it fails while the connector is closed, when the database
// does not answer, and when the job schema has not been applied.
func Healthcheck(c *Connector) func(context.Context) error {
	jobs := queue.NewJobManager(c)
	return func(ctx context.Context) error {
		if err := jobs.Check(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

package queue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestApp returns an open app backed by a fresh in-memory connector.
func newTestApp(t *testing.T, opts ...queue.MemoryOption) (*queue.App, *queue.MemoryConnector) {
	t.Helper()

	conn := queue.NewMemoryConnector(opts...)
	app := queue.NewApp(conn, queue.WithAppLogger(discardLogger()))
	require.NoError(t, app.Open(context.Background()))
	t.Cleanup(func() {
		_ = app.Close(context.Background())
	})
	return app, conn
}

// runOnce runs a worker that exits once no job is left.
func runOnce(t *testing.T, app *queue.App, opts ...queue.WorkerOption) {
	t.Helper()

	opts = append([]queue.WorkerOption{queue.WithWait(false)}, opts...)
	w, err := queue.NewWorker(app, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, w.Run(ctx))
}

func jobStatus(t *testing.T, app *queue.App, id int64) queue.Status {
	t.Helper()

	status, _, err := app.Jobs().GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	return status
}

func eventTypes(t *testing.T, app *queue.App, id int64) []queue.EventType {
	t.Helper()

	events, err := app.Jobs().ListEvents(context.Background(), id)
	require.NoError(t, err)
	types := make([]queue.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func noop(context.Context, *queue.JobContext) error { return nil }

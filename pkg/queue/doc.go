// Package queue provides a database-backed job queue with immediate, delayed and
// periodic execution, deduplication locks and a concurrent worker.
//
// The package is organised around a few components:
//
//   - App: holds the connector and the registry of tasks
//   - Task: a named handler with default queue, locks and retry policy
//   - JobDeferrer: a task bound to per-call options; validates and defers jobs
//   - JobManager: every query the queue runs, over the Connector interface
//   - Worker: fetches eligible jobs and runs them with bounded concurrency
//   - PeriodicDeferrer: defers jobs of registered tasks on a Schedule
//
// RegisterBuiltinTasks adds maintenance tasks that delete old jobs and retry
// jobs left "doing" by a worker that went away.
//
// All persistence goes through the Connector interface, a small set of named
// queries plus LISTEN/NOTIFY. The PostgreSQL implementation lives in package pg;
// MemoryConnector implements the same queries in memory for tests.
//
// # Job lifecycle
//
// A job is created "todo", moves to "doing" when a worker fetches it and ends
// "succeeded", "failed" or "cancelled". A failed attempt that the retry policy
// accepts goes back to "todo" with a new scheduled time. Every transition is
// recorded as an Event.
//
// # Locks
//
// Jobs sharing a queueing lock cannot both be waiting: deferring a second one
// fails with ErrAlreadyEnqueued. Jobs sharing a lock run one at a time, in
// deferral order.
//
// # Usage
//
//	app := queue.NewApp(pg.NewConnector(cfg))
//	if err := app.Open(ctx); err != nil {
//		return err
//	}
//	defer app.Close(ctx)
//
//	sendEmail, _ := app.NewTask("send_email",
//		queue.TypedHandler(func(ctx context.Context, _ *queue.JobContext, p SendEmailArgs) error {
//			return mailer.Send(ctx, p.To)
//		}),
//		queue.WithRetry(queue.ExponentialRetry{MaxRetries: 5}),
//	)
//
//	// execute within the next minute, at most one pending per user
//	_, err := sendEmail.Configure(
//		queue.WithScheduleIn(time.Minute),
//		queue.WithQueueingLock("email:42"),
//	).Defer(ctx, queue.Args{"to": "user@example.com"})
//
//	w, _ := queue.NewWorker(app, queue.WithConcurrency(4))
//	_ = w.Run(ctx)
//
// Periodic job:
//
//	p, _ := queue.NewPeriodicDeferrer(app)
//	_ = p.Register(cleanup, queue.DailyAt(2, 0))
//	go p.Run(ctx)
//
// # Error Handling
//
// Sentinel errors (ErrAppNotOpen, ErrMissingApp, ErrAlreadyEnqueued,
// ErrTaskNotFound, ...) can be checked with errors.Is. Database failures are
// wrapped in *ConnectorError, which matches ErrConnector.
package queue

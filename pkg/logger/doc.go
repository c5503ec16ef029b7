// Package logger builds the structured loggers used across pgqueue.
//
// New returns a *slog.Logger configured through Option values: output
// format (text or json), level, static attributes and ContextExtractor
// callbacks. The handler is wrapped in LogHandlerDecorator, which runs the
// extractors for every record, so values carried by a context (for example
// the job a task handler is executing) end up on each log line written with
// that context.
//
// Attribute helpers keep key names consistent between the worker, the
// periodic deferrer, the PostgreSQL connector and the admin API:
//
//	log.InfoContext(ctx, "job finished",
//	    logger.JobID(job.ID),
//	    logger.TaskName(job.TaskName),
//	    logger.Status("succeeded"),
//	    logger.Duration(elapsed),
//	)
//
// Error and Errors return an empty attribute for nil errors, which slog
// drops, so they can be passed without a nil check.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(os.Getenv("APP_ENV"), "pgqueue"),
//	    logger.WithContextExtractors(queue.LogAttrsFromContext),
//	)
//	logger.SetAsDefault(log)
package logger

package queue

import (
	"context"
	"log/slog"
	"time"
)

// JobContext is handed to a task body alongside its context.
type JobContext struct {
	Job       Job
	WorkerID  string
	StartedAt time.Time

	manager *JobManager
}

// DecodeArgs unmarshals the job arguments into v.
func (jc *JobContext) DecodeArgs(v any) error {
	return jc.Job.DecodeArgs(v)
}

// ShouldAbort queries whether an abort was requested for the running job.
// Task bodies may also watch ctx.Done(): the worker cancels it with cause ErrJobAborted.
func (jc *JobContext) ShouldAbort(ctx context.Context) (bool, error) {
	if jc.manager == nil {
		return false, nil
	}
	_, abort, err := jc.manager.GetJobStatus(ctx, jc.Job.ID)
	if err != nil {
		return false, err
	}
	return abort, nil
}

type jobContextKey struct{}

func withJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jc)
}

// JobFromContext returns the job being executed, if any.
func JobFromContext(ctx context.Context) (*JobContext, bool) {
	jc, ok := ctx.Value(jobContextKey{}).(*JobContext)
	return jc, ok && jc != nil
}

// LogAttrsFromContext adds the running job to log records written with a task context.
// It matches logger.ContextExtractor.
func LogAttrsFromContext(ctx context.Context) (slog.Attr, bool) {
	jc, ok := JobFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Group("job",
		slog.Int64("id", jc.Job.ID),
		slog.String("task_name", jc.Job.TaskName),
		slog.String("queue", jc.Job.Queue),
		slog.Int("attempt", jc.Job.Attempts),
	), true
}

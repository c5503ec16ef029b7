package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
)

// Names of the maintenance tasks installed by RegisterBuiltinTasks.
const (
	TaskDeleteOldJobs     = "pgqueue.delete_old_jobs"
	TaskRetryStalledJobs  = "pgqueue.retry_stalled_jobs"
	builtinDefaultStalled = 30 * time.Minute
)

// DeleteOldJobsArgs are the arguments of the pgqueue.delete_old_jobs task.
type DeleteOldJobsArgs struct {
	// OlderThanHours is the age, in hours since the last event, of the jobs to delete.
	OlderThanHours float64  `json:"older_than_hours"`
	Queue          string   `json:"queue,omitempty"`
	Statuses       []Status `json:"statuses,omitempty"`
}

// RetryStalledJobsArgs are the arguments of the pgqueue.retry_stalled_jobs task.
type RetryStalledJobsArgs struct {
	OlderThanSeconds float64 `json:"older_than_seconds,omitempty"`
	Queue            string  `json:"queue,omitempty"`
	TaskName         string  `json:"task_name,omitempty"`
}

// BuiltinTasks are the maintenance tasks created by RegisterBuiltinTasks.
type BuiltinTasks struct {
	DeleteOldJobs    *Task
	RetryStalledJobs *Task
}

// RegisterBuiltinTasks registers the maintenance tasks on app, all on queue.
// They run through the regular worker and can be scheduled with a PeriodicDeferrer.
func RegisterBuiltinTasks(app *App, queue string) (*BuiltinTasks, error) {
	if app == nil {
		return nil, ErrAppNil
	}

	log := app.Logger().With(logger.Component("maintenance"))

	deleteOld, err := app.NewTask(TaskDeleteOldJobs,
		TypedHandler(func(ctx context.Context, _ *JobContext, args DeleteOldJobsArgs) error {
			if args.OlderThanHours <= 0 {
				return Permanent(ErrInvalidArgs)
			}
			olderThan := time.Duration(args.OlderThanHours * float64(time.Hour))
			n, err := app.Jobs().DeleteOldJobs(ctx, olderThan, args.Queue, args.Statuses...)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "old jobs deleted", slog.Int("count", n), logger.Duration(olderThan))
			return nil
		}),
		WithTaskQueue(queue),
		WithTaskQueueingLock(TaskDeleteOldJobs),
	)
	if err != nil {
		return nil, err
	}

	retryStalled, err := app.NewTask(TaskRetryStalledJobs,
		TypedHandler(func(ctx context.Context, _ *JobContext, args RetryStalledJobsArgs) error {
			olderThan := builtinDefaultStalled
			if args.OlderThanSeconds > 0 {
				olderThan = time.Duration(args.OlderThanSeconds * float64(time.Second))
			}
			jobs, err := app.Jobs().RetryStalledJobs(ctx, olderThan, args.Queue, args.TaskName)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				log.WarnContext(ctx, "stalled job retried",
					slog.Int64("stalled_job_id", j.ID),
					slog.String("stalled_task_name", j.TaskName))
			}
			return nil
		}),
		WithTaskQueue(queue),
		WithTaskQueueingLock(TaskRetryStalledJobs),
	)
	if err != nil {
		return nil, err
	}

	return &BuiltinTasks{DeleteOldJobs: deleteOld, RetryStalledJobs: retryStalled}, nil
}

package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobSpec describes a job to insert.
type JobSpec struct {
	Queue        string
	TaskName     string
	Lock         *string
	QueueingLock *string
	Args         Args
	ScheduledAt  *time.Time
}

// JobDeferrer creates jobs for one task with a fixed set of overrides.
type JobDeferrer struct {
	app  *App
	task *Task
	opts deferOptions
}

func newJobDeferrer(app *App, task *Task, opts ...DeferOption) *JobDeferrer {
	d := &JobDeferrer{app: app, task: task}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Defer inserts the job and returns its id.
// It fails with *AlreadyEnqueuedError when the queueing lock is held.
func (d *JobDeferrer) Defer(ctx context.Context, args Args) (int64, error) {
	if d.app == nil {
		return 0, ErrMissingApp
	}
	spec, err := d.JobSpec(args)
	if err != nil {
		return 0, err
	}
	return d.app.jobs.DeferJob(ctx, spec)
}

// DeferAsync is the non-blocking form of Defer.
func (d *JobDeferrer) DeferAsync(ctx context.Context, args Args) *Future[int64] {
	return Go(ctx, func(ctx context.Context) (int64, error) {
		return d.Defer(ctx, args)
	})
}

// JobSpec resolves the job that Defer would insert, validating args and schedule.
func (d *JobDeferrer) JobSpec(args Args) (JobSpec, error) {
	if args == nil {
		args = Args{}
	}

	if !d.opts.allowUnknownArgs {
		if unknown := d.task.unknownArgs(args); len(unknown) > 0 {
			return JobSpec{}, fmt.Errorf("%w for task %q: %s", ErrUnknownArgs, d.task.name, strings.Join(unknown, ", "))
		}
	}

	scheduledAt, err := d.scheduledAt()
	if err != nil {
		return JobSpec{}, err
	}

	spec := JobSpec{
		Queue:       d.task.queue,
		TaskName:    d.task.name,
		Args:        args,
		ScheduledAt: scheduledAt,
	}
	if d.opts.queue != "" {
		spec.Queue = d.opts.queue
	}

	spec.Lock = pickLock(d.opts.lock, d.task.lock, args)
	spec.QueueingLock = pickLock(d.opts.queueingLock, d.task.queueingLock, args)

	return spec, nil
}

func (d *JobDeferrer) scheduledAt() (*time.Time, error) {
	switch {
	case d.opts.scheduleAt != nil && d.opts.scheduleIn != nil:
		return nil, ErrConflictingSchedule
	case d.opts.scheduleAt != nil:
		t := *d.opts.scheduleAt
		return &t, nil
	case d.opts.scheduleIn != nil:
		t := time.Now().Add(*d.opts.scheduleIn)
		return &t, nil
	}
	return nil, nil
}

func pickLock(override *string, template string, args Args) *string {
	if override != nil {
		if *override == "" {
			return nil
		}
		return override
	}
	if template == "" {
		return nil
	}
	rendered := renderTemplate(template, args)
	return &rendered
}

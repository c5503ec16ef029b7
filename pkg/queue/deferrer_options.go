package queue

import "time"

// DeferOption overrides job attributes at deferral time.
type DeferOption func(*deferOptions)

type deferOptions struct {
	queue            string
	lock             *string
	queueingLock     *string
	scheduleAt       *time.Time
	scheduleIn       *time.Duration
	allowUnknownArgs bool
	allowUnknownTask bool
}

// WithQueue overrides the task's default queue.
func WithQueue(queue string) DeferOption {
	return func(o *deferOptions) {
		o.queue = queue
	}
}

// WithLock sets the execution lock, overriding the task's lock template.
func WithLock(lock string) DeferOption {
	return func(o *deferOptions) {
		o.lock = &lock
	}
}

// WithQueueingLock sets the queueing lock, overriding the task's template.
func WithQueueingLock(lock string) DeferOption {
	return func(o *deferOptions) {
		o.queueingLock = &lock
	}
}

// WithScheduleAt makes the job eligible at t. Mutually exclusive with WithScheduleIn.
func WithScheduleAt(t time.Time) DeferOption {
	return func(o *deferOptions) {
		o.scheduleAt = &t
	}
}

// WithScheduleIn makes the job eligible after d. Mutually exclusive with WithScheduleAt.
func WithScheduleIn(d time.Duration) DeferOption {
	return func(o *deferOptions) {
		o.scheduleIn = &d
	}
}

// WithAllowUnknownArgs skips validation of arg names against the task params.
func WithAllowUnknownArgs() DeferOption {
	return func(o *deferOptions) {
		o.allowUnknownArgs = true
	}
}

// WithAllowUnknownTask lets App.ConfigureTask defer a job for a task name this process
// has not registered. Argument validation is skipped for such jobs.
func WithAllowUnknownTask() DeferOption {
	return func(o *deferOptions) {
		o.allowUnknownTask = true
		o.allowUnknownArgs = true
	}
}

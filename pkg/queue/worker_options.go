package queue

import (
	"log/slog"
	"slices"
	"time"
)

// WorkerOption configures a Worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	name               string
	queues             []string
	concurrency        int
	pollInterval       time.Duration
	wait               bool
	listenNotify       bool
	deletePolicy       DeletePolicy
	abortCheckInterval time.Duration
	shutdownTimeout    time.Duration
	reconnectInterval  time.Duration
	logger             *slog.Logger
}

func defaultWorkerOptions() *workerOptions {
	return &workerOptions{
		concurrency:        1,
		pollInterval:       5 * time.Second,
		wait:               true,
		listenNotify:       true,
		deletePolicy:       DeleteNever,
		abortCheckInterval: time.Second,
		shutdownTimeout:    30 * time.Second,
		reconnectInterval:  time.Second,
	}
}

// WithQueues restricts the worker to the given queues. No queues means all of them.
func WithQueues(queues ...string) WorkerOption {
	return func(o *workerOptions) {
		o.queues = slices.DeleteFunc(slices.Clone(queues), func(q string) bool { return q == "" })
	}
}

// WithConcurrency sets the maximum number of jobs executed at the same time.
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle worker sleeps between fetches when not woken by a notification.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithWait selects between waiting for new jobs forever (true) and exiting
// once no job is left to run (false).
func WithWait(wait bool) WorkerOption {
	return func(o *workerOptions) {
		o.wait = wait
	}
}

// WithListenNotify toggles waking up on job notifications.
func WithListenNotify(enabled bool) WorkerOption {
	return func(o *workerOptions) {
		o.listenNotify = enabled
	}
}

// WithDeleteJobs sets the retention policy of finished jobs.
func WithDeleteJobs(p DeletePolicy) WorkerOption {
	return func(o *workerOptions) {
		if p != "" {
			o.deletePolicy = p
		}
	}
}

// WithAbortCheckInterval sets how often running jobs are checked for abort requests.
// Zero disables the check; task bodies can still call JobContext.ShouldAbort.
func WithAbortCheckInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d >= 0 {
			o.abortCheckInterval = d
		}
	}
}

// WithShutdownTimeout bounds the wait for running jobs once the worker is stopped.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithListenReconnectInterval sets the minimum delay between listener reconnection attempts.
func WithListenReconnectInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.reconnectInterval = d
		}
	}
}

// WithWorkerName names the worker in logs.
func WithWorkerName(name string) WorkerOption {
	return func(o *workerOptions) {
		o.name = name
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

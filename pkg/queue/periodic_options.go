package queue

import (
	"log/slog"
	"maps"
	"time"
)

// PeriodicOption configures a PeriodicDeferrer.
type PeriodicOption func(*periodicOptions)

type periodicOptions struct {
	checkInterval time.Duration
	maxDelay      time.Duration
	logger        *slog.Logger
	clock         func() time.Time
}

// WithCheckInterval sets how often due ticks are looked for.
func WithCheckInterval(d time.Duration) PeriodicOption {
	return func(o *periodicOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithMaxDelay sets how late a tick may still be deferred. Older ticks are skipped.
func WithMaxDelay(d time.Duration) PeriodicOption {
	return func(o *periodicOptions) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

func WithPeriodicLogger(logger *slog.Logger) PeriodicOption {
	return func(o *periodicOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPeriodicClock replaces time.Now, mostly for tests.
func WithPeriodicClock(now func() time.Time) PeriodicOption {
	return func(o *periodicOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// PeriodicTaskOption configures one periodic registration.
type PeriodicTaskOption func(*periodicTask)

// WithPeriodicArgs sets static args passed to every periodic job, next to "timestamp".
func WithPeriodicArgs(args Args) PeriodicTaskOption {
	return func(p *periodicTask) {
		p.args = maps.Clone(args)
	}
}

// WithPeriodicQueue overrides the task queue for periodic jobs.
func WithPeriodicQueue(queue string) PeriodicTaskOption {
	return func(p *periodicTask) {
		p.queue = queue
	}
}

// WithPeriodicID distinguishes several schedules of the same task.
func WithPeriodicID(id string) PeriodicTaskOption {
	return func(p *periodicTask) {
		if id != "" {
			p.id = id
		}
	}
}

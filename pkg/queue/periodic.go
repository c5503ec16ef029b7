package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
)

// PeriodicTimestampArg is the arg carrying the tick a periodic job was deferred for, in Unix seconds.
const PeriodicTimestampArg = "timestamp"

// PeriodicDeferrer defers jobs of registered tasks on a schedule.
// Several processes may run one against the same database: every tick is
// deferred with a queueing lock derived from the tick time, so concurrent
// deferrers collapse onto a single job.
type PeriodicDeferrer struct {
	app      *App
	tasks    map[string]*periodicTask
	mu       sync.Mutex
	runMu    sync.Mutex // serializes DeferDue, guards periodicTask.next
	interval time.Duration
	maxDelay time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// periodicTask holds configuration for a periodic task
type periodicTask struct {
	id       string
	task     *Task
	schedule Schedule
	queue    string
	args     Args
	next     time.Time
}

// NewPeriodicDeferrer creates a periodic deferrer for tasks registered on app.
func NewPeriodicDeferrer(app *App, opts ...PeriodicOption) (*PeriodicDeferrer, error) {
	if app == nil {
		return nil, ErrAppNil
	}

	options := &periodicOptions{
		checkInterval: 10 * time.Second,
		maxDelay:      10 * time.Minute,
		logger:        app.Logger(),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &PeriodicDeferrer{
		app:      app,
		tasks:    make(map[string]*periodicTask),
		interval: options.checkInterval,
		maxDelay: options.maxDelay,
		logger:   options.logger.With(logger.Component("periodic")),
		now:      options.clock,
	}, nil
}

// Register schedules task, which must already be registered on the app.
func (p *PeriodicDeferrer) Register(task *Task, schedule Schedule, opts ...PeriodicTaskOption) error {
	if task == nil {
		return ErrHandlerNil
	}
	if registered, err := p.app.Task(task.Name()); err != nil || registered != task {
		return &TaskNotFoundError{Name: task.Name()}
	}
	if err := validateSchedule(schedule); err != nil {
		return err
	}

	pt := &periodicTask{
		id:       task.Name(),
		task:     task,
		schedule: schedule,
	}
	for _, opt := range opts {
		opt(pt)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.tasks[pt.id]; exists {
		return fmt.Errorf("%w: %s", ErrPeriodicTaskExists, pt.id)
	}
	p.tasks[pt.id] = pt

	p.logger.Info("registered periodic task",
		logger.TaskName(task.Name()),
		slog.String("periodic_id", pt.id),
		slog.String("schedule", schedule.String()))
	return nil
}

// Tasks returns the ids of registered periodic tasks.
func (p *PeriodicDeferrer) Tasks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.tasks))
}

// Run defers due ticks until ctx is cancelled.
func (p *PeriodicDeferrer) Run(ctx context.Context) error {
	if len(p.Tasks()) == 0 {
		return ErrPeriodicNotConfigured
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.DeferDue(ctx); err != nil {
			if errors.Is(err, ErrAppNotOpen) || errors.Is(err, ErrMissingApp) {
				return err
			}
			p.logger.ErrorContext(ctx, "failed to defer periodic jobs", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "periodic deferrer shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// DeferDue defers a job for every tick that elapsed since the previous call and
// is not older than the max delay. It returns the number of jobs deferred;
// ticks already deferred by another process are not counted.
func (p *PeriodicDeferrer) DeferDue(ctx context.Context) (int, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	now := p.now()

	p.mu.Lock()
	tasks := make([]*periodicTask, 0, len(p.tasks))
	for _, id := range slices.Sorted(maps.Keys(p.tasks)) {
		tasks = append(tasks, p.tasks[id])
	}
	p.mu.Unlock()

	var (
		deferred int
		errs     []error
	)
	for _, pt := range tasks {
		n, err := p.deferTask(ctx, pt, now)
		deferred += n
		if err != nil {
			errs = append(errs, fmt.Errorf("periodic task %s: %w", pt.id, err))
		}
	}
	return deferred, errors.Join(errs...)
}

func (p *PeriodicDeferrer) deferTask(ctx context.Context, pt *periodicTask, now time.Time) (int, error) {
	if pt.next.IsZero() {
		pt.next = latestTick(pt.schedule, now, p.maxDelay)
	}

	deferred := 0
	for !pt.next.After(now) {
		tick := pt.next
		if now.Sub(tick) <= p.maxDelay {
			ok, err := p.deferTick(ctx, pt, tick)
			if err != nil {
				// keep the tick so the next round retries it
				return deferred, err
			}
			if ok {
				deferred++
			}
		} else {
			p.logger.WarnContext(ctx, "skipping periodic tick past max delay",
				logger.TaskName(pt.task.Name()),
				slog.Time("tick", tick))
		}

		pt.next = pt.schedule.Next(tick)
	}
	return deferred, nil
}

func (p *PeriodicDeferrer) deferTick(ctx context.Context, pt *periodicTask, tick time.Time) (bool, error) {
	args := maps.Clone(pt.args)
	if args == nil {
		args = Args{}
	}
	args[PeriodicTimestampArg] = tick.Unix()

	// A task with its own queueing lock keeps it: at most one of its jobs is pending,
	// and a tick arriving while one is still waiting is skipped.
	opts := []DeferOption{WithAllowUnknownArgs()}
	if pt.task.queueingLock == "" {
		opts = append(opts, WithQueueingLock(fmt.Sprintf("periodic:%s:%d", pt.id, tick.Unix())))
	}
	if pt.queue != "" {
		opts = append(opts, WithQueue(pt.queue))
	}

	id, err := pt.task.Configure(opts...).Defer(ctx, args)
	if errors.Is(err, ErrAlreadyEnqueued) {
		p.logger.DebugContext(ctx, "periodic tick skipped, queueing lock held",
			logger.TaskName(pt.task.Name()),
			slog.Time("tick", tick))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.logger.InfoContext(ctx, "deferred periodic job",
		logger.JobID(id),
		logger.TaskName(pt.task.Name()),
		slog.Time("tick", tick))
	return true, nil
}

// latestTick returns the last tick in (now-maxDelay, now], so a tick missed
// shortly before start is still deferred, or the first tick after now.
func latestTick(s Schedule, now time.Time, maxDelay time.Duration) time.Time {
	tick := s.Next(now.Add(-maxDelay))
	if tick.After(now) {
		return tick
	}
	for {
		next := s.Next(tick)
		if next.After(now) {
			return tick
		}
		tick = next
	}
}

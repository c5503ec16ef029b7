package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
)

// finishTimeout bounds the bookkeeping queries run after a task returns.
const finishTimeout = 30 * time.Second

// Worker fetches eligible jobs and runs their tasks
type Worker struct {
	app      *App
	jobs     *JobManager
	name     string
	workerID uuid.UUID
	queues   []string
	sem      chan struct{}
	wg       sync.WaitGroup

	// Configuration
	pollInterval       time.Duration
	wait               bool
	listenNotify       bool
	deletePolicy       DeletePolicy
	abortCheckInterval time.Duration
	shutdownTimeout    time.Duration
	reconnect          *rate.Limiter
	logger             *slog.Logger

	// State management
	running atomic.Bool
	active  atomic.Int32
	wake    chan struct{}
	freed   chan struct{}
}

// NewWorker creates a worker executing the tasks registered on app.
func NewWorker(app *App, opts ...WorkerOption) (*Worker, error) {
	if app == nil {
		return nil, ErrAppNil
	}

	options := defaultWorkerOptions()
	options.logger = app.Logger()
	for _, opt := range opts {
		opt(options)
	}
	if _, err := ParseDeletePolicy(string(options.deletePolicy)); err != nil {
		return nil, err
	}

	w := &Worker{
		app:                app,
		jobs:               app.Jobs(),
		name:               options.name,
		workerID:           uuid.New(),
		queues:             options.queues,
		sem:                make(chan struct{}, options.concurrency),
		pollInterval:       options.pollInterval,
		wait:               options.wait,
		listenNotify:       options.listenNotify,
		deletePolicy:       options.deletePolicy,
		abortCheckInterval: options.abortCheckInterval,
		shutdownTimeout:    options.shutdownTimeout,
		reconnect:          rate.NewLimiter(rate.Every(options.reconnectInterval), 1),
		wake:               make(chan struct{}, 1),
		freed:              make(chan struct{}, 1),
	}
	if w.name == "" {
		w.name = "worker-" + w.workerID.String()[:8]
	}
	w.logger = options.logger.With(
		logger.Component("worker"),
		logger.WorkerID(w.workerID.String()),
		slog.String("worker_name", w.name))

	return w, nil
}

// Run processes jobs until ctx is cancelled or, without wait mode, until no job is left.
// Jobs already running when ctx is cancelled are given the shutdown timeout to finish.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerStarted
	}
	defer w.running.Store(false)

	if len(w.app.TaskNames()) == 0 {
		return ErrNoHandlers
	}

	w.logger.InfoContext(ctx, "worker started",
		slog.Any("queues", w.queueNames()),
		slog.Int("concurrency", cap(w.sem)),
		slog.Bool("wait", w.wait),
		slog.Bool("listen_notify", w.listenNotify))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(loopCtx)
	if w.wait && w.listenNotify {
		g.Go(func() error { return w.listen(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return w.loop(gctx)
	})
	err := g.Wait()

	w.stop(ctx)
	return err
}

// Runner returns Run bound to ctx, suitable for errgroup.
func (w *Worker) Runner(ctx context.Context) func() error {
	return func() error {
		return w.Run(ctx)
	}
}

// ActiveJobs returns the number of jobs currently executing.
func (w *Worker) ActiveJobs() int {
	return int(w.active.Load())
}

// WorkerInfo returns information about the worker
func (w *Worker) WorkerInfo() (id string, hostname string, pid int) {
	hostname, _ = os.Hostname()
	return w.workerID.String(), hostname, os.Getpid()
}

// stop waits for running jobs, bounded by the shutdown timeout.
// The fetch loop has exited by then, so no job is dispatched concurrently.
func (w *Worker) stop(ctx context.Context) {
	if w.active.Load() > 0 {
		w.logger.InfoContext(ctx, "worker stopping, waiting for active jobs to complete",
			slog.Int("active", w.ActiveJobs()))
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.InfoContext(ctx, "worker stopped")
	case <-time.After(w.shutdownTimeout):
		w.logger.WarnContext(ctx, "worker stopped before active jobs completed",
			slog.Int("active", w.ActiveJobs()),
			logger.Duration(w.shutdownTimeout))
	}
}

// loop is the main fetch loop
func (w *Worker) loop(ctx context.Context) error {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fetched, err := w.fetchAndDispatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrAppNotOpen) || errors.Is(err, ErrMissingApp) || !w.wait {
				return err
			}
			w.logger.ErrorContext(ctx, "failed to fetch jobs", logger.Error(err))
		}
		if fetched > 0 {
			continue
		}

		full := w.active.Load() >= int32(cap(w.sem))
		if !w.wait && !full && w.active.Load() == 0 && err == nil {
			w.logger.InfoContext(ctx, "no more jobs to run, exiting")
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.pollInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-w.wake:
			w.logger.DebugContext(ctx, "woken up by notification")
		case <-w.freed:
		}
	}
}

// fetchAndDispatch claims as many jobs as there are free slots and starts them.
func (w *Worker) fetchAndDispatch(ctx context.Context) (int, error) {
	free := cap(w.sem) - int(w.active.Load())
	if free <= 0 {
		return 0, nil
	}

	jobs, err := w.jobs.FetchJobs(ctx, w.queues, free)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.dispatch(job)
	}
	return len(jobs), nil
}

func (w *Worker) dispatch(job Job) {
	w.sem <- struct{}{}
	w.wg.Add(1)
	w.active.Add(1)

	go func() {
		defer func() {
			<-w.sem
			w.active.Add(-1)
			w.wg.Done()
			select {
			case w.freed <- struct{}{}:
			default:
			}
		}()

		w.process(job)
	}()
}

// listen keeps a notification subscription open, reconnecting on failure.
func (w *Worker) listen(ctx context.Context) error {
	for {
		err := w.jobs.Listen(ctx, w.queues, w.nudge)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAppNotOpen) || errors.Is(err, ErrMissingApp) {
			return err
		}
		w.logger.WarnContext(ctx, "job listener stopped, reconnecting", logger.Error(err))
		if err := w.reconnect.Wait(ctx); err != nil {
			return nil
		}
	}
}

func (w *Worker) nudge() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// process executes a claimed job and records its outcome.
func (w *Worker) process(job Job) {
	start := time.Now()
	log := w.logger.With(
		logger.JobID(job.ID),
		logger.TaskName(job.TaskName),
		logger.Queue(job.Queue),
		logger.Attempt(job.Attempts))

	task, err := w.app.Task(job.TaskName)
	if err != nil {
		// a task unknown to this process cannot succeed on retry here either
		log.Error("task not registered, failing job", logger.Error(err))
		w.finish(log, job, StatusFailed)
		return
	}

	// The job context is not tied to the worker lifecycle so that
	// graceful shutdown lets running jobs complete.
	jobCtx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	jc := &JobContext{
		Job:       job,
		WorkerID:  w.workerID.String(),
		StartedAt: start,
		manager:   w.jobs,
	}
	stopWatch := w.watchAbort(jobCtx, job.ID, cancel)

	log.Debug("job started")
	execErr := w.execute(withJobContext(jobCtx, jc), task, jc)
	stopWatch()

	aborted := errors.Is(context.Cause(jobCtx), ErrJobAborted)
	w.settle(log, job, task, execErr, aborted, time.Since(start))
}

func (w *Worker) execute(ctx context.Context, task *Task, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in task %s: %v", task.name, r)
		}
	}()
	return task.handler.Handle(ctx, jc)
}

// settle applies the outcome of an execution: finish, or reschedule per the retry policy.
func (w *Worker) settle(log *slog.Logger, job Job, task *Task, execErr error, aborted bool, elapsed time.Duration) {
	log = log.With(logger.Duration(elapsed))

	var status Status
	switch {
	case execErr == nil:
		status = StatusSucceeded
	case errors.Is(execErr, ErrJobAborted), aborted && errors.Is(execErr, context.Canceled):
		status = StatusCancelled
		log.Info("job aborted")
	case aborted || IsPermanent(execErr):
		status = StatusFailed
	default:
		decision := task.retry.Decide(job.Attempts, execErr)
		if decision.Retry {
			at := time.Now().Add(decision.Delay)
			ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := w.jobs.RetryJob(ctx, job.ID, at); err != nil {
				log.Error("failed to reschedule job", logger.Error(err))
				return
			}
			log.Warn("job failed, retry scheduled",
				logger.Error(execErr),
				slog.Time("scheduled_at", at))
			return
		}
		status = StatusFailed
	}

	if status == StatusFailed {
		log.Error("job failed", logger.Error(execErr))
	}
	w.finish(log, job, status)
}

func (w *Worker) finish(log *slog.Logger, job Job, status Status) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	deleteJob := w.deletePolicy.ShouldDelete(status)
	if err := w.jobs.FinishJob(ctx, job.ID, status, deleteJob); err != nil {
		log.Error("failed to finish job", logger.Status(string(status)), logger.Error(err))
		return
	}
	log.Info("job finished", logger.Status(string(status)), slog.Bool("deleted", deleteJob))
}

// watchAbort polls the abort flag of a running job and cancels its context
// with ErrJobAborted once an abort is requested. The returned func stops the watch.
func (w *Worker) watchAbort(ctx context.Context, jobID int64, cancel context.CancelCauseFunc) func() {
	if w.abortCheckInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.abortCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, abort, err := w.jobs.GetJobStatus(ctx, jobID)
				if err != nil {
					w.logger.Debug("abort check failed", logger.JobID(jobID), logger.Error(err))
					continue
				}
				if abort {
					cancel(ErrJobAborted)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) queueNames() []string {
	if len(w.queues) == 0 {
		return []string{"*"}
	}
	return w.queues
}

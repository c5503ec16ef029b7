package queue

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Task is an immutable, named task definition.
type Task struct {
	name         string
	queue        string
	lock         string
	queueingLock string
	retry        RetryPolicy
	params       []string
	handler      Handler

	app *App
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithTaskQueue sets the default queue of jobs deferred from the task.
func WithTaskQueue(queue string) TaskOption {
	return func(t *Task) {
		if queue != "" {
			t.queue = queue
		}
	}
}

// WithTaskLock sets the lock template. Placeholders like {user_id} are filled from the job args.
func WithTaskLock(template string) TaskOption {
	return func(t *Task) { t.lock = template }
}

// WithTaskQueueingLock sets the queueing lock template, rendered like WithTaskLock.
func WithTaskQueueingLock(template string) TaskOption {
	return func(t *Task) { t.queueingLock = template }
}

// WithRetry sets the retry policy. Tasks without one are never retried.
func WithRetry(policy RetryPolicy) TaskOption {
	return func(t *Task) {
		if policy != nil {
			t.retry = policy
		}
	}
}

// WithParams declares the argument names accepted by the task.
// Deferring unknown names fails unless explicitly allowed.
func WithParams(names ...string) TaskOption {
	return func(t *Task) { t.params = slices.Clone(names) }
}

// NewTask builds a task definition. It must be registered on an App before deferring.
func NewTask(name string, handler Handler, opts ...TaskOption) (*Task, error) {
	if name == "" {
		return nil, ErrTaskNameEmpty
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}

	t := &Task{
		name:    name,
		queue:   DefaultQueueName,
		retry:   NoRetry,
		handler: handler,
	}
	if pd, ok := handler.(paramsDeclarer); ok {
		t.params = pd.Params()
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Task) Name() string             { return t.name }
func (t *Task) Queue() string            { return t.queue }
func (t *Task) RetryPolicy() RetryPolicy { return t.retry }
func (t *Task) Params() []string         { return slices.Clone(t.params) }

// Configure prepares a deferral of the task with per-job overrides.
func (t *Task) Configure(opts ...DeferOption) *JobDeferrer {
	return newJobDeferrer(t.app, t, opts...)
}

// Defer creates a job for the task and returns its id.
func (t *Task) Defer(ctx context.Context, args Args, opts ...DeferOption) (int64, error) {
	return t.Configure(opts...).Defer(ctx, args)
}

// DeferAsync is the non-blocking form of Defer.
func (t *Task) DeferAsync(ctx context.Context, args Args, opts ...DeferOption) *Future[int64] {
	return t.Configure(opts...).DeferAsync(ctx, args)
}

// unknownArgs returns the arg names not declared by the task, sorted.
// A task without declared params accepts anything.
func (t *Task) unknownArgs(args Args) []string {
	if t.params == nil {
		return nil
	}
	var unknown []string
	for name := range args {
		if !slices.Contains(t.params, name) {
			unknown = append(unknown, name)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// renderTemplate replaces {name} placeholders with the matching args.
func renderTemplate(tpl string, args Args) string {
	if tpl == "" || !strings.Contains(tpl, "{") {
		return tpl
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

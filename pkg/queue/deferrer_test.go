package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

func TestDefer_QueueingLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	task, err := app.NewTask("dedup", queue.HandlerFunc(noop))
	require.NoError(t, err)

	first, err := task.Defer(ctx, nil, queue.WithQueueingLock("X"))
	require.NoError(t, err)

	_, err = task.Defer(ctx, nil, queue.WithQueueingLock("X"))
	require.ErrorIs(t, err, queue.ErrAlreadyEnqueued)
	var enqueued *queue.AlreadyEnqueuedError
	require.ErrorAs(t, err, &enqueued)
	assert.Equal(t, "X", enqueued.QueueingLock)

	// the lock is still held while the job runs
	jobs, err := app.Jobs().FetchJobs(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	_, err = task.Defer(ctx, nil, queue.WithQueueingLock("X"))
	require.ErrorIs(t, err, queue.ErrAlreadyEnqueued)

	require.NoError(t, app.Jobs().FinishJob(ctx, first, queue.StatusSucceeded, false))

	third, err := task.Defer(ctx, nil, queue.WithQueueingLock("X"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	all, err := app.Jobs().ListJobs(ctx, queue.JobFilter{QueueingLock: "X"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDefer_UnknownTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	_, err := app.ConfigureTask("missing")
	require.ErrorIs(t, err, queue.ErrTaskNotFound)
	var notFound *queue.TaskNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Name)

	d, err := app.ConfigureTask("missing", queue.WithAllowUnknownTask())
	require.NoError(t, err)
	id, err := d.Defer(ctx, queue.Args{"anything": true})
	require.NoError(t, err)

	job, err := app.Jobs().GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.DefaultQueueName, job.Queue)
	assert.Equal(t, "missing", job.TaskName)
	assert.Equal(t, queue.StatusTodo, job.Status)

	_, err = app.ConfigureTask("")
	assert.ErrorIs(t, err, queue.ErrTaskNameEmpty)
}

func TestDefer_Args(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	task, err := app.NewTask("declared", queue.HandlerFunc(noop), queue.WithParams("a", "b"))
	require.NoError(t, err)

	t.Run("declared args", func(t *testing.T) {
		t.Parallel()

		id, err := task.Defer(ctx, queue.Args{"a": 1, "b": "two"})
		require.NoError(t, err)

		job, err := app.Jobs().GetJob(ctx, id)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(job.Args, &got))
		assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, got)
	})

	t.Run("unknown args rejected", func(t *testing.T) {
		t.Parallel()

		_, err := task.Defer(ctx, queue.Args{"a": 1, "z": 2, "y": 3})
		require.ErrorIs(t, err, queue.ErrUnknownArgs)
		assert.Contains(t, err.Error(), "y, z")
	})

	t.Run("unknown args allowed", func(t *testing.T) {
		t.Parallel()

		_, err := task.Defer(ctx, queue.Args{"z": 2}, queue.WithAllowUnknownArgs())
		require.NoError(t, err)
	})

	t.Run("nil args stored as empty object", func(t *testing.T) {
		t.Parallel()

		id, err := task.Defer(ctx, nil)
		require.NoError(t, err)

		job, err := app.Jobs().GetJob(ctx, id)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(job.Args))
	})

	t.Run("unencodable args", func(t *testing.T) {
		t.Parallel()

		_, err := task.Defer(ctx, queue.Args{"a": make(chan int)})
		assert.ErrorIs(t, err, queue.ErrInvalidArgs)
	})
}

func TestDefer_Schedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	task, err := app.NewTask("scheduled", queue.HandlerFunc(noop))
	require.NoError(t, err)

	t.Run("schedule at and in are exclusive", func(t *testing.T) {
		t.Parallel()

		_, err := task.Defer(ctx, nil,
			queue.WithScheduleAt(time.Now().Add(time.Hour)),
			queue.WithScheduleIn(time.Hour))
		assert.ErrorIs(t, err, queue.ErrConflictingSchedule)
	})

	t.Run("schedule in", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		id, err := task.Defer(ctx, nil, queue.WithScheduleIn(time.Hour), queue.WithQueue("later"))
		require.NoError(t, err)

		job, err := app.Jobs().GetJob(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, job.ScheduledAt)
		assert.WithinDuration(t, before.Add(time.Hour), *job.ScheduledAt, time.Minute)
		assert.Equal(t, []queue.EventType{queue.EventScheduled}, eventTypes(t, app, id))

		// not eligible before its time
		jobs, err := app.Jobs().FetchJobs(ctx, []string{"later"}, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("schedule at in the past", func(t *testing.T) {
		t.Parallel()

		at := time.Now().Add(-time.Minute)
		id, err := task.Defer(ctx, nil, queue.WithScheduleAt(at), queue.WithQueue("past"))
		require.NoError(t, err)
		assert.Equal(t, []queue.EventType{queue.EventDeferred}, eventTypes(t, app, id))

		jobs, err := app.Jobs().FetchJobs(ctx, []string{"past"}, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, id, jobs[0].ID)
	})
}

func TestDefer_LockTemplates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	task, err := app.NewTask("per_user", queue.HandlerFunc(noop),
		queue.WithTaskQueue("users"),
		queue.WithTaskLock("user:{user_id}"),
		queue.WithTaskQueueingLock("sync:{user_id}"))
	require.NoError(t, err)
	assert.Equal(t, "users", task.Queue())

	id, err := task.Defer(ctx, queue.Args{"user_id": 42})
	require.NoError(t, err)

	job, err := app.Jobs().GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.Lock)
	require.NotNil(t, job.QueueingLock)
	assert.Equal(t, "user:42", *job.Lock)
	assert.Equal(t, "sync:42", *job.QueueingLock)
	assert.Equal(t, "users", job.Queue)

	_, err = task.Defer(ctx, queue.Args{"user_id": 42})
	assert.ErrorIs(t, err, queue.ErrAlreadyEnqueued)

	// an explicit empty override drops the template
	id, err = task.Defer(ctx, queue.Args{"user_id": 42}, queue.WithQueueingLock(""), queue.WithLock(""))
	require.NoError(t, err)
	job, err = app.Jobs().GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, job.Lock)
	assert.Nil(t, job.QueueingLock)
}

func TestDefer_JobSpec(t *testing.T) {
	t.Parallel()

	task, err := queue.NewTask("spec", queue.HandlerFunc(noop), queue.WithTaskQueue("q"))
	require.NoError(t, err)

	spec, err := task.Configure(queue.WithQueue("override"), queue.WithLock("L")).JobSpec(queue.Args{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "override", spec.Queue)
	assert.Equal(t, "spec", spec.TaskName)
	require.NotNil(t, spec.Lock)
	assert.Equal(t, "L", *spec.Lock)
	assert.Nil(t, spec.QueueingLock)
	assert.Nil(t, spec.ScheduledAt)
}

func TestDefer_ConnectorStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing app", func(t *testing.T) {
		t.Parallel()

		app := queue.NewApp(nil, queue.WithAppLogger(discardLogger()))
		require.NoError(t, app.Open(ctx))

		task, err := app.NewTask("orphan", queue.HandlerFunc(noop))
		require.NoError(t, err)

		_, err = task.Defer(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrMissingApp)
		assert.ErrorIs(t, app.ApplySchema(ctx), queue.ErrMissingApp)
		assert.ErrorIs(t, app.Check(ctx), queue.ErrMissingApp)
	})

	t.Run("unregistered task", func(t *testing.T) {
		t.Parallel()

		task, err := queue.NewTask("loose", queue.HandlerFunc(noop))
		require.NoError(t, err)

		_, err = task.Defer(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrMissingApp)
	})

	t.Run("app not open", func(t *testing.T) {
		t.Parallel()

		app := queue.NewApp(queue.NewMemoryConnector(), queue.WithAppLogger(discardLogger()))
		task, err := app.NewTask("closed", queue.HandlerFunc(noop))
		require.NoError(t, err)

		_, err = task.Defer(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrAppNotOpen)

		require.NoError(t, app.Open(ctx))
		_, err = task.Defer(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, app.Close(ctx))
		require.NoError(t, app.Close(ctx))
		_, err = task.Defer(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrAppNotOpen)
	})
}

func TestDefer_Async(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	task, err := app.NewTask("async", queue.HandlerFunc(noop))
	require.NoError(t, err)

	f := task.DeferAsync(ctx, nil, queue.WithQueueingLock("A"))
	id, err := f.Await()
	require.NoError(t, err)
	assert.Positive(t, id)

	// same dedup semantics as the blocking path
	_, err = task.DeferAsync(ctx, nil, queue.WithQueueingLock("A")).Await()
	assert.ErrorIs(t, err, queue.ErrAlreadyEnqueued)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = task.DeferAsync(cancelled, nil).Await()
	assert.ErrorIs(t, err, context.Canceled)
}

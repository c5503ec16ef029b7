package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

// fakeClock is a manually advanced clock for the in-memory connector.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func deferRaw(t *testing.T, app *queue.App, spec queue.JobSpec) int64 {
	t.Helper()

	if spec.TaskName == "" {
		spec.TaskName = "raw"
	}
	id, err := app.Jobs().DeferJob(context.Background(), spec)
	require.NoError(t, err)
	return id
}

func ptr(s string) *string { return &s }

func TestJobManager_FetchJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty locks do not serialize or dedupe", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		spec := queue.JobSpec{Lock: ptr(""), QueueingLock: ptr("")}
		first := deferRaw(t, app, spec)
		second := deferRaw(t, app, spec)

		jobs, err := app.Jobs().FetchJobs(ctx, nil, 2)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, first, jobs[0].ID)
		assert.Equal(t, second, jobs[1].ID)
		for _, j := range jobs {
			assert.Nil(t, j.Lock)
			assert.Nil(t, j.QueueingLock)
		}
	})

	t.Run("fifo with limit", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		ids := []int64{
			deferRaw(t, app, queue.JobSpec{}),
			deferRaw(t, app, queue.JobSpec{}),
			deferRaw(t, app, queue.JobSpec{}),
		}

		jobs, err := app.Jobs().FetchJobs(ctx, nil, 2)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, ids[0], jobs[0].ID)
		assert.Equal(t, ids[1], jobs[1].ID)
		for _, j := range jobs {
			assert.Equal(t, queue.StatusDoing, j.Status)
			assert.Equal(t, 1, j.Attempts)
		}

		jobs, err = app.Jobs().FetchJobs(ctx, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("lock excludes later jobs", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		first := deferRaw(t, app, queue.JobSpec{Queue: "a", Lock: ptr("L")})
		second := deferRaw(t, app, queue.JobSpec{Queue: "b", Lock: ptr("L")})
		other := deferRaw(t, app, queue.JobSpec{Queue: "b", Lock: ptr("M")})

		// the earlier job wins even when only the later one's queue is watched
		jobs, err := app.Jobs().FetchJobs(ctx, []string{"b"}, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, other, jobs[0].ID)

		jobs, err = app.Jobs().FetchJobs(ctx, nil, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, first, jobs[0].ID)

		jobs, err = app.Jobs().FetchJobs(ctx, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs, "lock holder still running")

		require.NoError(t, app.Jobs().FinishJob(ctx, first, queue.StatusFailed, false))

		jobs, err = app.Jobs().FetchJobs(ctx, nil, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, second, jobs[0].ID)
	})

	t.Run("scheduled job does not hold the lock", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		later := time.Now().Add(time.Hour)
		deferRaw(t, app, queue.JobSpec{Lock: ptr("L"), ScheduledAt: &later})
		now := deferRaw(t, app, queue.JobSpec{Lock: ptr("L")})

		jobs, err := app.Jobs().FetchJobs(ctx, nil, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, now, jobs[0].ID)
	})
}

func TestJobManager_FinishAndRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)
	id := deferRaw(t, app, queue.JobSpec{})

	err := app.Jobs().FinishJob(ctx, id, queue.StatusSucceeded, false)
	assert.ErrorIs(t, err, queue.ErrJobNotFound, "todo job cannot be finished")

	err = app.Jobs().FinishJob(ctx, id, queue.StatusDoing, false)
	assert.ErrorIs(t, err, queue.ErrInvalidStatus)

	err = app.Jobs().RetryJob(ctx, id, time.Now())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = app.Jobs().FetchJobs(ctx, nil, 1)
	require.NoError(t, err)
	require.NoError(t, app.Jobs().RetryJob(ctx, id, time.Now()))

	job, err := app.Jobs().GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusTodo, job.Status)
	assert.Equal(t, 1, job.Attempts)

	_, err = app.Jobs().FetchJobs(ctx, nil, 1)
	require.NoError(t, err)
	require.NoError(t, app.Jobs().FinishJob(ctx, id, queue.StatusSucceeded, false))

	job, err = app.Jobs().GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Attempts)

	err = app.Jobs().FinishJob(ctx, id, queue.StatusFailed, false)
	assert.ErrorIs(t, err, queue.ErrJobNotFound, "finished jobs stay finished")
}

func TestJobManager_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("todo job", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		id := deferRaw(t, app, queue.JobSpec{QueueingLock: ptr("Q")})

		ok, err := app.Jobs().CancelJob(ctx, id, false, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, queue.StatusCancelled, jobStatus(t, app, id))
		assert.Equal(t, []queue.EventType{queue.EventDeferred, queue.EventCancelled}, eventTypes(t, app, id))

		// a cancelled job releases its queueing lock
		deferRaw(t, app, queue.JobSpec{QueueingLock: ptr("Q")})

		ok, err = app.Jobs().CancelJob(ctx, id, false, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("todo job deleted", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		id := deferRaw(t, app, queue.JobSpec{})

		ok, err := app.Jobs().CancelJob(ctx, id, false, true)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = app.Jobs().GetJob(ctx, id)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
		_, _, err = app.Jobs().GetJobStatus(ctx, id)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("doing job needs abort", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		id := deferRaw(t, app, queue.JobSpec{})
		_, err := app.Jobs().FetchJobs(ctx, nil, 1)
		require.NoError(t, err)

		ok, err := app.Jobs().CancelJob(ctx, id, false, false)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = app.Jobs().RequestAbort(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		status, abort, err := app.Jobs().GetJobStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusDoing, status)
		assert.True(t, abort)
	})

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()

		app, _ := newTestApp(t)
		ok, err := app.Jobs().CancelJob(ctx, 404, true, false)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestJobManager_ListJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	deferRaw(t, app, queue.JobSpec{Queue: "a", TaskName: "t1", Lock: ptr("L")})
	deferRaw(t, app, queue.JobSpec{Queue: "b", TaskName: "t1"})
	deferRaw(t, app, queue.JobSpec{Queue: "b", TaskName: "t2"})

	tests := []struct {
		name   string
		filter queue.JobFilter
		want   int
	}{
		{"all", queue.JobFilter{}, 3},
		{"by queue", queue.JobFilter{Queue: "b"}, 2},
		{"by task", queue.JobFilter{TaskName: "t1"}, 2},
		{"by queue and task", queue.JobFilter{Queue: "b", TaskName: "t2"}, 1},
		{"by lock", queue.JobFilter{Lock: "L"}, 1},
		{"by status", queue.JobFilter{Status: queue.StatusDoing}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			jobs, err := app.Jobs().ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, jobs, tt.want)
		})
	}

	t.Run("invalid status", func(t *testing.T) {
		t.Parallel()

		_, err := app.Jobs().ListJobs(ctx, queue.JobFilter{Status: "paused"})
		assert.ErrorIs(t, err, queue.ErrInvalidStatus)
	})
}

func TestJobManager_ListQueues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, _ := newTestApp(t)

	deferRaw(t, app, queue.JobSpec{Queue: "a"})
	deferRaw(t, app, queue.JobSpec{Queue: "a"})
	done := deferRaw(t, app, queue.JobSpec{Queue: "b"})
	_, err := app.Jobs().FetchJobs(ctx, []string{"b"}, 1)
	require.NoError(t, err)
	require.NoError(t, app.Jobs().FinishJob(ctx, done, queue.StatusSucceeded, false))

	stats, err := app.Jobs().ListQueues(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Queue)
	assert.Equal(t, 2, stats[0].Todo)
	assert.Equal(t, "b", stats[1].Queue)
	assert.Equal(t, 1, stats[1].Succeeded)
	assert.Zero(t, stats[1].Todo)
}

func TestJobManager_StalledAndOld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	app, _ := newTestApp(t, queue.WithMemoryClock(clock.Now))

	stalled := deferRaw(t, app, queue.JobSpec{Queue: "q"})
	succeeded := deferRaw(t, app, queue.JobSpec{Queue: "q"})
	_, err := app.Jobs().FetchJobs(ctx, nil, 2)
	require.NoError(t, err)
	require.NoError(t, app.Jobs().FinishJob(ctx, succeeded, queue.StatusSucceeded, false))

	jobs, err := app.Jobs().ListStalledJobs(ctx, time.Minute, "", "")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	clock.Advance(2 * time.Hour)

	jobs, err = app.Jobs().ListStalledJobs(ctx, time.Minute, "other", "")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = app.Jobs().RetryStalledJobs(ctx, time.Minute, "q", "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stalled, jobs[0].ID)
	assert.Equal(t, queue.StatusTodo, jobStatus(t, app, stalled))

	_, err = app.Jobs().DeleteOldJobs(ctx, time.Hour, "", queue.StatusTodo)
	assert.ErrorIs(t, err, queue.ErrInvalidStatus)

	n, err := app.Jobs().DeleteOldJobs(ctx, 3*time.Hour, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = app.Jobs().DeleteOldJobs(ctx, time.Hour, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = app.Jobs().GetJob(ctx, succeeded)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
	events, err := app.Jobs().ListEvents(ctx, succeeded)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJobManager_Listen(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, _ := newTestApp(t)

	woken := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- app.Jobs().Listen(ctx, []string{"watched"}, func() { woken <- struct{}{} })
	}()

	assert.Eventually(t, func() bool {
		deferRaw(t, app, queue.JobSpec{Queue: "watched"})
		select {
		case <-woken:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	deferRaw(t, app, queue.JobSpec{Queue: "ignored"})
	select {
	case <-woken:
		// drain a late notification from the retry loop above
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestJobManager_Check(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, conn := newTestApp(t)

	require.NoError(t, app.Check(ctx))
	require.NoError(t, app.ApplySchema(ctx))

	_, err := app.SchemaSQL()
	assert.ErrorIs(t, err, queue.ErrSchemaUnsupported)

	deferRaw(t, app, queue.JobSpec{})
	conn.Reset()
	jobs, err := app.Jobs().ListJobs(ctx, queue.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, app.Close(ctx))
	assert.ErrorIs(t, app.Check(ctx), queue.ErrAppNotOpen)
}

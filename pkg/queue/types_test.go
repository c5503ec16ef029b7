package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

func TestStatus_Transitions(t *testing.T) {
	t.Parallel()

	allowed := map[queue.Status][]queue.Status{
		queue.StatusTodo:  {queue.StatusDoing, queue.StatusCancelled},
		queue.StatusDoing: {queue.StatusTodo, queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled},
	}
	all := []queue.Status{
		queue.StatusTodo, queue.StatusDoing, queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, queue.StatusTodo.Terminal())
	assert.False(t, queue.StatusDoing.Terminal())
	assert.True(t, queue.StatusSucceeded.Terminal())
	assert.True(t, queue.StatusFailed.Terminal())
	assert.True(t, queue.StatusCancelled.Terminal())

	_, err := queue.ParseStatus("paused")
	assert.ErrorIs(t, err, queue.ErrInvalidStatus)
	s, err := queue.ParseStatus("doing")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDoing, s)
}

func TestDeletePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		policy queue.DeletePolicy
		status queue.Status
		want   bool
	}{
		{queue.DeleteNever, queue.StatusSucceeded, false},
		{queue.DeleteNever, queue.StatusFailed, false},
		{queue.DeleteSuccessful, queue.StatusSucceeded, true},
		{queue.DeleteSuccessful, queue.StatusFailed, false},
		{queue.DeleteSuccessful, queue.StatusCancelled, false},
		{queue.DeleteAlways, queue.StatusSucceeded, true},
		{queue.DeleteAlways, queue.StatusFailed, true},
		{queue.DeleteAlways, queue.StatusCancelled, true},
		{queue.DeleteAlways, queue.StatusDoing, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.policy, tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.policy.ShouldDelete(tt.status))
		})
	}

	_, err := queue.ParseDeletePolicy("sometimes")
	assert.ErrorIs(t, err, queue.ErrInvalidDeletePolicy)
	p, err := queue.ParseDeletePolicy("successful")
	require.NoError(t, err)
	assert.Equal(t, queue.DeleteSuccessful, p)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("connector error", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("connection reset")
		err := fmt.Errorf("wrapped: %w", &queue.ConnectorError{
			Op:         "defer_job",
			Code:       queue.UniqueViolationCode,
			Constraint: queue.QueueingLockConstraint,
			Err:        cause,
		})
		assert.ErrorIs(t, err, queue.ErrConnector)
		assert.ErrorIs(t, err, cause)

		var cerr *queue.ConnectorError
		require.ErrorAs(t, err, &cerr)
		assert.True(t, cerr.UniqueViolation(queue.QueueingLockConstraint))
		assert.False(t, cerr.UniqueViolation(queue.LockConstraint))
		assert.Contains(t, cerr.Error(), "defer_job")
	})

	t.Run("already enqueued is not a connector error", func(t *testing.T) {
		t.Parallel()

		cause := &queue.ConnectorError{Code: queue.UniqueViolationCode, Err: errors.New("dup")}
		err := fmt.Errorf("defer: %w", &queue.AlreadyEnqueuedError{QueueingLock: "X", Err: cause})
		assert.ErrorIs(t, err, queue.ErrAlreadyEnqueued)
		assert.NotErrorIs(t, err, queue.ErrConnector)
		assert.Contains(t, err.Error(), "X")

		var aerr *queue.AlreadyEnqueuedError
		require.ErrorAs(t, err, &aerr)
		assert.Same(t, cause, aerr.Cause())
	})

	t.Run("task not found", func(t *testing.T) {
		t.Parallel()

		err := &queue.TaskNotFoundError{Name: "ghost"}
		assert.ErrorIs(t, err, queue.ErrTaskNotFound)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("permanent", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, queue.Permanent(nil))
		err := fmt.Errorf("task: %w", queue.Permanent(context.DeadlineExceeded))
		assert.True(t, queue.IsPermanent(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, queue.IsPermanent(context.DeadlineExceeded))
	})
}

func TestTypedHandler_BadArgsArePermanent(t *testing.T) {
	t.Parallel()

	h := queue.TypedHandler(func(context.Context, *queue.JobContext, sumArgs) error { return nil })
	err := h.Handle(context.Background(), &queue.JobContext{Job: queue.Job{ID: 1, Args: []byte(`{"a":"x"}`)}})
	assert.True(t, queue.IsPermanent(err))
}

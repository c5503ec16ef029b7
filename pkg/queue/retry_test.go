package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

var errTransient = errors.New("transient")

func TestRetryPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   queue.RetryPolicy
		attempts int
		err      error
		want     queue.RetryDecision
	}{
		{"no retry", queue.NoRetry, 1, errTransient, queue.GiveUp()},
		{"fixed first failure", queue.FixedRetry{MaxRetries: 2, Delay: time.Second}, 1, errTransient, queue.RetryAfter(time.Second)},
		{"fixed last retry", queue.FixedRetry{MaxRetries: 2, Delay: time.Second}, 2, errTransient, queue.RetryAfter(time.Second)},
		{"fixed exhausted", queue.FixedRetry{MaxRetries: 2, Delay: time.Second}, 3, errTransient, queue.GiveUp()},
		{"fixed retry on match", queue.FixedRetry{MaxRetries: 1, RetryOn: []error{errTransient}}, 1, errTransient, queue.RetryAfter(0)},
		{"fixed retry on mismatch", queue.FixedRetry{MaxRetries: 1, RetryOn: []error{errTransient}}, 1, errors.New("other"), queue.GiveUp()},
		{"exponential default base", queue.ExponentialRetry{MaxRetries: 5}, 1, errTransient, queue.RetryAfter(time.Second)},
		{"exponential doubles", queue.ExponentialRetry{MaxRetries: 5, Base: 100 * time.Millisecond}, 3, errTransient, queue.RetryAfter(400 * time.Millisecond)},
		{"exponential capped", queue.ExponentialRetry{MaxRetries: 10, Base: time.Second, Max: 5 * time.Second}, 8, errTransient, queue.RetryAfter(5 * time.Second)},
		{"exponential huge attempt capped", queue.ExponentialRetry{MaxRetries: 1000, Base: time.Second, Max: time.Hour}, 900, errTransient, queue.RetryAfter(time.Hour)},
		{"exponential exhausted", queue.ExponentialRetry{MaxRetries: 3}, 4, errTransient, queue.GiveUp()},
		{"custom", queue.RetryPolicyFunc(func(attempts int, _ error) queue.RetryDecision {
			if attempts < 2 {
				return queue.RetryAfter(time.Duration(attempts) * time.Minute)
			}
			return queue.GiveUp()
		}), 1, errTransient, queue.RetryAfter(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.policy.Decide(tt.attempts, tt.err)
			assert.Equal(t, tt.want, got)
			// deterministic in its inputs
			assert.Equal(t, got, tt.policy.Decide(tt.attempts, tt.err))
		})
	}
}

func TestRetryAfter_NegativeDelay(t *testing.T) {
	t.Parallel()

	d := queue.RetryAfter(-time.Second)
	assert.True(t, d.Retry)
	assert.Zero(t, d.Delay)
}

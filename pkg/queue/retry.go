package queue

import (
	"errors"
	"math"
	"time"
)

// RetryDecision is the outcome of a retry policy: retry after Delay, or give up.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetryAfter returns a decision to retry once d has elapsed.
func RetryAfter(d time.Duration) RetryDecision {
	if d < 0 {
		d = 0
	}
	return RetryDecision{Retry: true, Delay: d}
}

// GiveUp returns a decision to fail the job.
func GiveUp() RetryDecision {
	return RetryDecision{}
}

// RetryPolicy decides what happens to a job whose task returned an error.
// attempts is the number of attempts made so far, including the one that just failed.
// Implementations must be deterministic in (attempts, err).
type RetryPolicy interface {
	Decide(attempts int, err error) RetryDecision
}

// RetryPolicyFunc adapts a function to RetryPolicy.
type RetryPolicyFunc func(attempts int, err error) RetryDecision

func (f RetryPolicyFunc) Decide(attempts int, err error) RetryDecision {
	return f(attempts, err)
}

// NoRetry fails a job on its first error.
var NoRetry RetryPolicy = RetryPolicyFunc(func(int, error) RetryDecision { return GiveUp() })

// FixedRetry retries up to MaxRetries times, waiting Delay before each retry.
type FixedRetry struct {
	MaxRetries int
	Delay      time.Duration
	// RetryOn, when non-empty, restricts retries to errors matching one of its entries.
	RetryOn []error
}

func (p FixedRetry) Decide(attempts int, err error) RetryDecision {
	if attempts > p.MaxRetries || !retryable(p.RetryOn, err) {
		return GiveUp()
	}
	return RetryAfter(p.Delay)
}

// ExponentialRetry retries up to MaxRetries times, doubling the wait from Base on every attempt
// and capping it at Max when Max is positive.
type ExponentialRetry struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	RetryOn    []error
}

func (p ExponentialRetry) Decide(attempts int, err error) RetryDecision {
	if attempts > p.MaxRetries || !retryable(p.RetryOn, err) {
		return GiveUp()
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	exp := math.Pow(2, float64(max(attempts-1, 0)))
	delay := time.Duration(float64(base) * exp)
	// float overflow wraps to a negative duration
	if delay <= 0 || (p.Max > 0 && delay > p.Max) {
		if p.Max > 0 {
			delay = p.Max
		} else {
			delay = time.Duration(math.MaxInt64)
		}
	}
	return RetryAfter(delay)
}

func retryable(only []error, err error) bool {
	if len(only) == 0 {
		return true
	}
	for _, target := range only {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

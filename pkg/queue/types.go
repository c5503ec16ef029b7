package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultQueueName is the queue used when neither the task nor the deferral names one.
const DefaultQueueName = "default"

// NotifyChannel is the notification channel announcing newly available jobs.
// The payload is the queue name of the affected job.
const NotifyChannel = "pgqueue_jobs"

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusTodo      Status = "todo"
	StatusDoing     Status = "doing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions lists every allowed edge of the job state machine.
var transitions = map[Status][]Status{
	StatusTodo:  {StatusDoing, StatusCancelled},
	StatusDoing: {StatusSucceeded, StatusFailed, StatusTodo, StatusCancelled},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine has an edge from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// EventType names an entry of the job event log.
type EventType string

const (
	EventDeferred         EventType = "deferred"
	EventScheduled        EventType = "scheduled"
	EventStarted          EventType = "started"
	EventDeferredForRetry EventType = "deferred_for_retry"
	EventSucceeded        EventType = "succeeded"
	EventFailed           EventType = "failed"
	EventCancelled        EventType = "cancelled"
	EventAbortRequested   EventType = "abort_requested"
	EventAborted          EventType = "aborted"
)

// eventForTransition returns the event recorded when a job moves from one status to another.
func eventForTransition(from, to Status) (EventType, bool) {
	switch {
	case from == StatusTodo && to == StatusDoing:
		return EventStarted, true
	case from == StatusDoing && to == StatusTodo:
		return EventDeferredForRetry, true
	case from == StatusDoing && to == StatusSucceeded:
		return EventSucceeded, true
	case from == StatusDoing && to == StatusFailed:
		return EventFailed, true
	case from == StatusTodo && to == StatusCancelled:
		return EventCancelled, true
	case from == StatusDoing && to == StatusCancelled:
		return EventAborted, true
	}
	return "", false
}

// DeletePolicy controls whether finished job rows are kept.
type DeletePolicy string

const (
	DeleteNever      DeletePolicy = "never"
	DeleteSuccessful DeletePolicy = "successful"
	DeleteAlways     DeletePolicy = "always"
)

// ParseDeletePolicy converts a string into a DeletePolicy.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch p := DeletePolicy(s); p {
	case DeleteNever, DeleteSuccessful, DeleteAlways:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDeletePolicy, s)
}

// ShouldDelete reports whether a job ending in status must be removed.
func (p DeletePolicy) ShouldDelete(status Status) bool {
	switch p {
	case DeleteAlways:
		return status.Terminal()
	case DeleteSuccessful:
		return status == StatusSucceeded
	}
	return false
}

// Args holds the named arguments of a job.
type Args map[string]any

// Job is a unit of deferred work.
type Job struct {
	ID             int64           `json:"id"`
	Queue          string          `json:"queue"`
	TaskName       string          `json:"task_name"`
	Lock           *string         `json:"lock,omitempty"`
	QueueingLock   *string         `json:"queueing_lock,omitempty"`
	Args           json.RawMessage `json:"args"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	AbortRequested bool            `json:"abort_requested"`
}

// DecodeArgs unmarshals the job arguments into v.
func (j *Job) DecodeArgs(v any) error {
	if len(j.Args) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	if err := json.Unmarshal(j.Args, v); err != nil {
		return fmt.Errorf("decode args of job %d: %w", j.ID, err)
	}
	return nil
}

// Event is an append-only record of a job status transition.
type Event struct {
	ID      int64     `json:"id"`
	JobID   int64     `json:"job_id"`
	Type    EventType `json:"type"`
	Attempt *int      `json:"attempt,omitempty"`
	At      time.Time `json:"at"`
}

// QueueStats counts the jobs of one queue by status.
type QueueStats struct {
	Queue     string `json:"queue"`
	Todo      int    `json:"todo"`
	Doing     int    `json:"doing"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// JobFilter narrows ListJobs. Empty fields match everything.
type JobFilter struct {
	ID           int64
	Queue        string
	TaskName     string
	Status       Status
	Lock         string
	QueueingLock string
}

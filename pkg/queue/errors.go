package queue

import (
	"errors"
	"fmt"
)

// UniqueViolationCode is the SQLSTATE reported by connectors for unique constraint violations.
const UniqueViolationCode = "23505"

// QueueingLockConstraint is the unique index guarding queueing locks.
const QueueingLockConstraint = "pgqueue_jobs_queueing_lock_idx"

// LockConstraint is the unique index guarding execution locks of running jobs.
const LockConstraint = "pgqueue_jobs_lock_idx"

var (
	// ErrConnector is the sentinel every *ConnectorError matches.
	ErrConnector = errors.New("connector error")

	// ErrAppNotOpen is returned when a connector is used before Open or after Close.
	ErrAppNotOpen = errors.New("app is not open, call Open first")

	// ErrMissingApp is returned when no connector was configured at all.
	ErrMissingApp = errors.New("no connector configured for the app")

	// ErrAlreadyEnqueued is the sentinel every *AlreadyEnqueuedError matches.
	ErrAlreadyEnqueued = errors.New("job with the same queueing lock is already enqueued")

	// ErrTaskNotFound is the sentinel every *TaskNotFoundError matches.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyRegistered is returned when registering a duplicate task name.
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	ErrTaskNameEmpty = errors.New("task name cannot be empty")
	ErrHandlerNil    = errors.New("task handler cannot be nil")
	ErrAppNil        = errors.New("app cannot be nil")
	ErrInvalidStatus = errors.New("invalid job status")
	ErrJobNotFound   = errors.New("job not found")
	ErrNoRows        = errors.New("query returned no rows")
	ErrUnknownQuery  = errors.New("unknown query")
	ErrNoHandlers    = errors.New("no tasks registered")
	ErrWorkerStarted = errors.New("worker already running")
	ErrInvalidArgs   = errors.New("job args must encode to a JSON object")

	// ErrConflictingSchedule is returned when both an absolute and a relative schedule are given.
	ErrConflictingSchedule = errors.New("schedule_at and schedule_in are mutually exclusive")

	// ErrUnknownArgs is returned when deferral args are not declared by the task.
	ErrUnknownArgs = errors.New("unknown task arguments")

	// ErrInvalidDeletePolicy is returned for delete policies other than never, successful or always.
	ErrInvalidDeletePolicy = errors.New("invalid delete policy")

	// ErrJobAborted is the cancellation cause of a job whose abort was requested.
	// A task returning it ends as cancelled.
	ErrJobAborted = errors.New("job aborted")

	// ErrSchemaMissing is returned by Check when the job table does not exist.
	ErrSchemaMissing = errors.New("job schema is not applied")

	// ErrSchemaUnsupported is returned when the connector cannot manage a schema.
	ErrSchemaUnsupported = errors.New("connector does not support schema management")

	ErrInvalidSchedule       = errors.New("invalid schedule")
	ErrPeriodicNotConfigured = errors.New("periodic deferrer has no registered tasks")
	ErrPeriodicTaskExists    = errors.New("periodic task already registered")
)

// ConnectorError wraps any failure of the underlying storage driver.
type ConnectorError struct {
	Op         string
	Code       string
	Constraint string
	Err        error
}

func (e *ConnectorError) Error() string {
	msg := "connector"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectorError) Unwrap() error { return e.Err }

func (e *ConnectorError) Is(target error) bool { return target == ErrConnector }

// UniqueViolation reports whether the error was caused by the named unique constraint.
// An empty constraint matches any unique violation.
func (e *ConnectorError) UniqueViolation(constraint string) bool {
	if e.Code != UniqueViolationCode {
		return false
	}
	return constraint == "" || e.Constraint == constraint
}

// AlreadyEnqueuedError reports a rejected insertion due to a queueing lock conflict.
// It is an expected outcome, not a storage failure: it matches ErrAlreadyEnqueued
// and never ErrConnector. The driver error is kept for diagnostics only.
type AlreadyEnqueuedError struct {
	QueueingLock string
	Err          error
}

func (e *AlreadyEnqueuedError) Error() string {
	return fmt.Sprintf("job cannot be enqueued: queueing lock %q is held by another job", e.QueueingLock)
}

// Cause returns the unique violation reported by the connector, if any.
func (e *AlreadyEnqueuedError) Cause() error { return e.Err }

func (e *AlreadyEnqueuedError) Is(target error) bool { return target == ErrAlreadyEnqueued }

// TaskNotFoundError reports a reference to a task that is not registered.
type TaskNotFoundError struct {
	Name string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.Name)
}

func (e *TaskNotFoundError) Is(target error) bool { return target == ErrTaskNotFound }

// PermanentError marks a task error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that the worker fails the job without consulting the retry policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// wrapConnectorError turns a stray error into a *ConnectorError unless it already belongs to the taxonomy.
func wrapConnectorError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnector) || errors.Is(err, ErrAppNotOpen) || errors.Is(err, ErrMissingApp) ||
		errors.Is(err, ErrNoRows) {
		return err
	}
	return &ConnectorError{Op: op, Err: err}
}

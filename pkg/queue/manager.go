package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobManager runs the job lifecycle operations against a connector.
// Every operation is a single statement, so it applies atomically.
type JobManager struct {
	conn Connector
}

// NewJobManager creates a job manager on top of conn.
func NewJobManager(conn Connector) *JobManager {
	if conn == nil {
		conn = missingConnector{}
	}
	return &JobManager{conn: conn}
}

// DeferJob inserts a todo job and returns its id.
func (m *JobManager) DeferJob(ctx context.Context, spec JobSpec) (int64, error) {
	if spec.TaskName == "" {
		return 0, ErrTaskNameEmpty
	}
	if spec.Queue == "" {
		spec.Queue = DefaultQueueName
	}
	// an empty lock is no lock on every backend
	spec.Lock = nonEmpty(spec.Lock)
	spec.QueueingLock = nonEmpty(spec.QueueingLock)
	args := spec.Args
	if args == nil {
		args = Args{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, errors.Join(ErrInvalidArgs, err)
	}

	var scheduledAt any
	if spec.ScheduledAt != nil {
		scheduledAt = spec.ScheduledAt.UTC()
	}

	row, err := m.conn.QueryOne(ctx, deferJobQuery,
		spec.Queue, spec.TaskName, spec.Lock, spec.QueueingLock, string(payload), scheduledAt)
	if err != nil {
		var cerr *ConnectorError
		if errors.As(err, &cerr) && cerr.UniqueViolation(QueueingLockConstraint) {
			ql := ""
			if spec.QueueingLock != nil {
				ql = *spec.QueueingLock
			}
			return 0, &AlreadyEnqueuedError{QueueingLock: ql, Err: err}
		}
		return 0, wrapConnectorError(QueryDeferJob, err)
	}
	return row.integer("id")
}

// DeferJobAsync is the non-blocking form of DeferJob.
func (m *JobManager) DeferJobAsync(ctx context.Context, spec JobSpec) *Future[int64] {
	return Go(ctx, func(ctx context.Context) (int64, error) {
		return m.DeferJob(ctx, spec)
	})
}

// FetchJobs moves up to limit eligible jobs from todo to doing and returns them.
// An empty queues list fetches from every queue.
func (m *JobManager) FetchJobs(ctx context.Context, queues []string, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if queues == nil {
		queues = []string{}
	}
	rows, err := m.conn.QueryAll(ctx, fetchJobsQuery, queues, limit)
	if err != nil {
		return nil, wrapConnectorError(QueryFetchJobs, err)
	}
	return jobsFromRows(rows)
}

// FinishJob moves a doing job to a terminal status, or deletes it when deleteJob is set.
func (m *JobManager) FinishJob(ctx context.Context, jobID int64, status Status, deleteJob bool) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: cannot finish a job as %s", ErrInvalidStatus, status)
	}

	var (
		rows []Row
		err  error
	)
	if deleteJob {
		rows, err = m.conn.QueryAll(ctx, deleteJobQuery, jobID)
	} else {
		rows, err = m.conn.QueryAll(ctx, finishJobQuery, jobID, string(status))
	}
	if err != nil {
		return wrapConnectorError(QueryFinishJob, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: job %d is not running", ErrJobNotFound, jobID)
	}
	return nil
}

// RetryJob moves a doing job back to todo, eligible again at scheduledAt.
// attempts is left unchanged until the next fetch.
func (m *JobManager) RetryJob(ctx context.Context, jobID int64, scheduledAt time.Time) error {
	rows, err := m.conn.QueryAll(ctx, retryJobQuery, jobID, scheduledAt.UTC())
	if err != nil {
		return wrapConnectorError(QueryRetryJob, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: job %d is not running", ErrJobNotFound, jobID)
	}
	return nil
}

// CancelJob cancels a todo job, deleting it when deleteJob is set.
// With abort set, a doing job gets its abort flag raised instead.
// It reports whether anything changed.
func (m *JobManager) CancelJob(ctx context.Context, jobID int64, abort, deleteJob bool) (bool, error) {
	rows, err := m.conn.QueryAll(ctx, cancelJobQuery, jobID, abort, deleteJob)
	if err != nil {
		return false, wrapConnectorError(QueryCancelJob, err)
	}
	return len(rows) > 0, nil
}

// RequestAbort asks a job to stop: todo jobs are cancelled, doing jobs are flagged.
func (m *JobManager) RequestAbort(ctx context.Context, jobID int64) (bool, error) {
	return m.CancelJob(ctx, jobID, true, false)
}

// GetJobStatus returns the status and abort flag of a job.
func (m *JobManager) GetJobStatus(ctx context.Context, jobID int64) (Status, bool, error) {
	row, err := m.conn.QueryOne(ctx, getJobStatusQuery, jobID)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return "", false, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
		}
		return "", false, wrapConnectorError(QueryGetJobStatus, err)
	}
	status, err := ParseStatus(row.text("status"))
	if err != nil {
		return "", false, err
	}
	return status, row.flag("abort_requested"), nil
}

// GetJob returns a single job.
func (m *JobManager) GetJob(ctx context.Context, jobID int64) (Job, error) {
	jobs, err := m.ListJobs(ctx, JobFilter{ID: jobID})
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return jobs[0], nil
}

// ListJobs returns jobs matching the filter, ordered by id.
func (m *JobManager) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	rows, err := m.conn.QueryAll(ctx, listJobsQuery,
		nullable(f.ID), nullable(f.Queue), nullable(f.TaskName),
		nullable(string(f.Status)), nullable(f.Lock), nullable(f.QueueingLock))
	if err != nil {
		return nil, wrapConnectorError(QueryListJobs, err)
	}
	return jobsFromRows(rows)
}

// ListEvents returns the event log of a job, oldest first.
func (m *JobManager) ListEvents(ctx context.Context, jobID int64) ([]Event, error) {
	rows, err := m.conn.QueryAll(ctx, listEventsQuery, jobID)
	if err != nil {
		return nil, wrapConnectorError(QueryListEvents, err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		ev, err := eventFromRow(r)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// ListStalledJobs returns doing jobs started more than olderThan ago.
// Empty queue or task match everything.
func (m *JobManager) ListStalledJobs(ctx context.Context, olderThan time.Duration, queue, task string) ([]Job, error) {
	rows, err := m.conn.QueryAll(ctx, listStalledJobsQuery, olderThan.Seconds(), nullable(queue), nullable(task))
	if err != nil {
		return nil, wrapConnectorError(QueryListStalled, err)
	}
	return jobsFromRows(rows)
}

// RetryStalledJobs puts stalled jobs back to todo, eligible immediately, and returns them.
func (m *JobManager) RetryStalledJobs(ctx context.Context, olderThan time.Duration, queue, task string) ([]Job, error) {
	stalled, err := m.ListStalledJobs(ctx, olderThan, queue, task)
	if err != nil {
		return nil, err
	}
	retried := make([]Job, 0, len(stalled))
	now := time.Now()
	for _, job := range stalled {
		if err := m.RetryJob(ctx, job.ID, now); err != nil {
			if errors.Is(err, ErrJobNotFound) {
				// finished in the meantime
				continue
			}
			return retried, err
		}
		retried = append(retried, job)
	}
	return retried, nil
}

// DeleteOldJobs removes jobs in the given statuses whose last event is older than olderThan.
// With no statuses, only succeeded jobs are removed. It returns the number of deleted jobs.
func (m *JobManager) DeleteOldJobs(ctx context.Context, olderThan time.Duration, queue string, statuses ...Status) (int, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusSucceeded}
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		if !s.Terminal() {
			return 0, fmt.Errorf("%w: only finished jobs can be deleted, got %s", ErrInvalidStatus, s)
		}
		names = append(names, string(s))
	}
	rows, err := m.conn.QueryAll(ctx, deleteOldJobsQuery, olderThan.Seconds(), nullable(queue), names)
	if err != nil {
		return 0, wrapConnectorError(QueryDeleteOldJobs, err)
	}
	return len(rows), nil
}

// ListQueues returns per-queue job counts.
func (m *JobManager) ListQueues(ctx context.Context) ([]QueueStats, error) {
	rows, err := m.conn.QueryAll(ctx, listQueuesQuery)
	if err != nil {
		return nil, wrapConnectorError(QueryListQueues, err)
	}
	stats := make([]QueueStats, 0, len(rows))
	for _, r := range rows {
		qs, err := queueStatsFromRow(r)
		if err != nil {
			return nil, err
		}
		stats = append(stats, qs)
	}
	return stats, nil
}

// Listen blocks until ctx is done, calling onJob whenever a job becomes
// available in one of queues (any queue when empty).
func (m *JobManager) Listen(ctx context.Context, queues []string, onJob func()) error {
	return m.conn.ListenNotify(ctx, NotifyChannel, func(_ context.Context, payload string) {
		if len(queues) > 0 && !containsQueue(queues, payload) {
			return
		}
		onJob()
	})
}

// Check verifies the connector is usable and the schema is installed.
func (m *JobManager) Check(ctx context.Context) error {
	row, err := m.conn.QueryOne(ctx, checkConnectionQuery)
	if err != nil {
		return wrapConnectorError(QueryCheckConnected, err)
	}
	if !row.flag("check") {
		return &ConnectorError{Op: QueryCheckConnected, Err: ErrSchemaMissing}
	}
	return nil
}

func jobsFromRows(rows []Row) ([]Job, error) {
	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		job, err := jobFromRow(r)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func containsQueue(queues []string, queue string) bool {
	queue = strings.TrimSpace(queue)
	for _, q := range queues {
		if q == queue {
			return true
		}
	}
	return false
}

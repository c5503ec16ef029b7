package queue

// Query names. The in-memory connector dispatches on these.
const (
	QueryDeferJob       = "defer_job"
	QueryFetchJobs      = "fetch_jobs"
	QueryFinishJob      = "finish_job"
	QueryDeleteJob      = "delete_job"
	QueryRetryJob       = "retry_job"
	QueryCancelJob      = "cancel_job"
	QueryGetJobStatus   = "get_job_status"
	QueryListJobs       = "list_jobs"
	QueryListEvents     = "list_events"
	QueryListStalled    = "list_stalled_jobs"
	QueryDeleteOldJobs  = "delete_old_jobs"
	QueryListQueues     = "list_queues"
	QueryCheckConnected = "check_connection"
)

// args is read as text so that numbers keep their exact jsonb representation.
const jobColumns = `id, queue_name, task_name, lock, queueing_lock, args::text AS args, status::text AS status,
	scheduled_at, attempts, abort_requested`

// Arguments: queue_name, task_name, lock, queueing_lock, args (json), scheduled_at.
// Events and notifications are emitted by table triggers in the same transaction.
var deferJobQuery = Query{
	Name: QueryDeferJob,
	SQL: `INSERT INTO pgqueue_jobs (queue_name, task_name, lock, queueing_lock, args, scheduled_at)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
RETURNING id`,
}

// Arguments: queues ([]string, empty for all), limit.
// A locked job is eligible only when no running job and no earlier eligible
// job share its lock, so concurrent fetchers converge on the same row and
// skip it rather than picking its successor.
var fetchJobsQuery = Query{
	Name: QueryFetchJobs,
	SQL: `WITH candidates AS (
	SELECT jobs.id
	FROM pgqueue_jobs AS jobs
	WHERE jobs.status = 'todo'
		AND (COALESCE(cardinality($1::varchar[]), 0) = 0 OR jobs.queue_name = ANY($1::varchar[]))
		AND (jobs.scheduled_at IS NULL OR jobs.scheduled_at <= now())
		AND (jobs.lock IS NULL OR NOT EXISTS (
			SELECT 1
			FROM pgqueue_jobs AS other
			WHERE other.lock = jobs.lock
				AND other.id <> jobs.id
				AND (
					other.status = 'doing'
					OR (other.status = 'todo'
						AND other.id < jobs.id
						AND (other.scheduled_at IS NULL OR other.scheduled_at <= now()))
				)
		))
	ORDER BY jobs.id
	LIMIT $2
	FOR UPDATE OF jobs SKIP LOCKED
)
UPDATE pgqueue_jobs
SET status = 'doing', attempts = pgqueue_jobs.attempts + 1
FROM candidates
WHERE pgqueue_jobs.id = candidates.id
RETURNING pgqueue_jobs.id, pgqueue_jobs.queue_name, pgqueue_jobs.task_name, pgqueue_jobs.lock,
	pgqueue_jobs.queueing_lock, pgqueue_jobs.args::text AS args, pgqueue_jobs.status::text AS status,
	pgqueue_jobs.scheduled_at, pgqueue_jobs.attempts, pgqueue_jobs.abort_requested`,
}

// Arguments: id, status.
var finishJobQuery = Query{
	Name: QueryFinishJob,
	SQL: `UPDATE pgqueue_jobs
SET status = $2::pgqueue_job_status
WHERE id = $1 AND status = 'doing'
RETURNING id`,
}

// Arguments: id.
var deleteJobQuery = Query{
	Name: QueryDeleteJob,
	SQL: `DELETE FROM pgqueue_jobs
WHERE id = $1 AND status = 'doing'
RETURNING id`,
}

// Arguments: id, scheduled_at.
var retryJobQuery = Query{
	Name: QueryRetryJob,
	SQL: `UPDATE pgqueue_jobs
SET status = 'todo', scheduled_at = $2
WHERE id = $1 AND status = 'doing'
RETURNING id`,
}

// Arguments: id, abort (bool), delete (bool).
// A todo job is cancelled (or deleted); a doing job only gets its abort flag set.
var cancelJobQuery = Query{
	Name: QueryCancelJob,
	SQL: `WITH target AS (
	SELECT id, status FROM pgqueue_jobs WHERE id = $1 FOR UPDATE
), cancelled AS (
	UPDATE pgqueue_jobs AS jobs SET status = 'cancelled'
	FROM target
	WHERE jobs.id = target.id AND target.status = 'todo' AND NOT $3::boolean
	RETURNING jobs.id
), deleted AS (
	DELETE FROM pgqueue_jobs AS jobs
	USING target
	WHERE jobs.id = target.id AND target.status = 'todo' AND $3::boolean
	RETURNING jobs.id
), aborted AS (
	UPDATE pgqueue_jobs AS jobs SET abort_requested = true
	FROM target
	WHERE jobs.id = target.id AND target.status = 'doing' AND $2::boolean
	RETURNING jobs.id
)
SELECT id FROM cancelled
UNION ALL SELECT id FROM deleted
UNION ALL SELECT id FROM aborted`,
}

// Arguments: id.
var getJobStatusQuery = Query{
	Name: QueryGetJobStatus,
	SQL:  `SELECT status::text AS status, abort_requested FROM pgqueue_jobs WHERE id = $1`,
}

// Arguments: id, queue, task, status, lock, queueing_lock. NULL matches everything.
var listJobsQuery = Query{
	Name: QueryListJobs,
	SQL: `SELECT ` + jobColumns + `
FROM pgqueue_jobs
WHERE ($1::bigint IS NULL OR id = $1)
	AND ($2::varchar IS NULL OR queue_name = $2)
	AND ($3::varchar IS NULL OR task_name = $3)
	AND ($4::varchar IS NULL OR status::text = $4)
	AND ($5::text IS NULL OR lock = $5)
	AND ($6::text IS NULL OR queueing_lock = $6)
ORDER BY id`,
}

// Arguments: job_id.
var listEventsQuery = Query{
	Name: QueryListEvents,
	SQL: `SELECT id, job_id, type::text AS type, attempt, at
FROM pgqueue_events
WHERE job_id = $1
ORDER BY id`,
}

// Arguments: threshold seconds, queue, task. NULL matches everything.
var listStalledJobsQuery = Query{
	Name: QueryListStalled,
	SQL: `SELECT ` + jobColumns + `
FROM pgqueue_jobs AS jobs
WHERE status = 'doing'
	AND ($2::varchar IS NULL OR queue_name = $2)
	AND ($3::varchar IS NULL OR task_name = $3)
	AND (
		SELECT max(events.at) FROM pgqueue_events AS events
		WHERE events.job_id = jobs.id AND events.type = 'started'
	) < now() - make_interval(secs => $1::double precision)
ORDER BY id`,
}

// Arguments: threshold seconds, queue, statuses ([]string).
var deleteOldJobsQuery = Query{
	Name: QueryDeleteOldJobs,
	SQL: `DELETE FROM pgqueue_jobs AS jobs
WHERE jobs.status::text = ANY($3::varchar[])
	AND ($2::varchar IS NULL OR jobs.queue_name = $2)
	AND (
		SELECT max(events.at) FROM pgqueue_events AS events
		WHERE events.job_id = jobs.id
	) < now() - make_interval(secs => $1::double precision)
RETURNING jobs.id`,
}

var listQueuesQuery = Query{
	Name: QueryListQueues,
	SQL: `SELECT queue_name,
	count(*) FILTER (WHERE status = 'todo') AS todo,
	count(*) FILTER (WHERE status = 'doing') AS doing,
	count(*) FILTER (WHERE status = 'succeeded') AS succeeded,
	count(*) FILTER (WHERE status = 'failed') AS failed,
	count(*) FILTER (WHERE status = 'cancelled') AS cancelled
FROM pgqueue_jobs
GROUP BY queue_name
ORDER BY queue_name`,
}

var checkConnectionQuery = Query{
	Name: QueryCheckConnected,
	SQL:  `SELECT to_regclass('pgqueue_jobs') IS NOT NULL AS "check"`,
}

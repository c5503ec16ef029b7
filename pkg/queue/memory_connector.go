package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryConnector implements Connector in process memory for tests and local development.
// It answers the named queries of this package with the same semantics as the SQL schema:
// queueing lock and execution lock uniqueness, status transition checks, event logging
// and notifications.
type MemoryConnector struct {
	mu     sync.Mutex
	open   bool
	now    func() time.Time
	jobs   map[int64]*Job
	events []Event
	lastID int64
	lastEv int64

	listenMu  sync.Mutex
	listeners map[string]map[int]chan string
	lastLsn   int
}

// MemoryOption configures a MemoryConnector.
type MemoryOption func(*MemoryConnector)

// WithMemoryClock replaces the clock used for scheduling and event timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryConnector) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryConnector creates an empty, closed in-memory connector.
func NewMemoryConnector(opts ...MemoryOption) *MemoryConnector {
	m := &MemoryConnector{
		now:       time.Now,
		jobs:      make(map[int64]*Job),
		listeners: make(map[string]map[int]chan string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryConnector) Open(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *MemoryConnector) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// ApplySchema is a no-op: the in-memory store needs no schema.
func (m *MemoryConnector) ApplySchema(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrAppNotOpen
	}
	return nil
}

// Reset drops every job and event.
func (m *MemoryConnector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = make(map[int64]*Job)
	m.events = nil
	m.lastID, m.lastEv = 0, 0
}

func (m *MemoryConnector) Execute(ctx context.Context, q Query, args ...any) error {
	_, err := m.QueryAll(ctx, q, args...)
	return err
}

func (m *MemoryConnector) QueryOne(ctx context.Context, q Query, args ...any) (Row, error) {
	rows, err := m.QueryAll(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%s: %w", q.Name, ErrNoRows)
	case 1:
		return rows[0], nil
	}
	return nil, &ConnectorError{Op: q.Name, Err: fmt.Errorf("expected one row, got %d", len(rows))}
}

func (m *MemoryConnector) QueryAll(ctx context.Context, q Query, args ...any) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectorError{Op: q.Name, Err: err}
	}

	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil, ErrAppNotOpen
	}
	rows, notify, err := m.dispatch(q.Name, args)
	m.mu.Unlock()

	// delivered once the mutation is visible, as on commit
	for _, queue := range notify {
		m.notify(NotifyChannel, queue)
	}
	return rows, err
}

// ListenNotify blocks until ctx is done, invoking handler for each notification on channel.
func (m *MemoryConnector) ListenNotify(ctx context.Context, channel string, handler NotifyHandler) error {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if !open {
		return ErrAppNotOpen
	}

	ch := make(chan string, 64)
	m.listenMu.Lock()
	m.lastLsn++
	id := m.lastLsn
	if m.listeners[channel] == nil {
		m.listeners[channel] = make(map[int]chan string)
	}
	m.listeners[channel][id] = ch
	m.listenMu.Unlock()

	defer func() {
		m.listenMu.Lock()
		delete(m.listeners[channel], id)
		m.listenMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-ch:
			handler(ctx, payload)
		}
	}
}

func (m *MemoryConnector) notify(channel, payload string) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	for _, ch := range m.listeners[channel] {
		select {
		case ch <- payload:
		default:
			// a full listener catches up by polling
		}
	}
}

func (m *MemoryConnector) dispatch(name string, args []any) (rows []Row, notify []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ConnectorError{Op: name, Err: fmt.Errorf("bad arguments: %v", r)}
		}
	}()

	switch name {
	case QueryDeferJob:
		return m.deferJob(args)
	case QueryFetchJobs:
		return m.fetchJobs(args[0].([]string), toInt(args[1])), nil, nil
	case QueryFinishJob:
		return m.finishJob(toInt64(args[0]), Status(args[1].(string)))
	case QueryDeleteJob:
		return m.deleteJob(toInt64(args[0])), nil, nil
	case QueryRetryJob:
		return m.retryJob(toInt64(args[0]), args[1].(time.Time))
	case QueryCancelJob:
		return m.cancelJob(toInt64(args[0]), args[1].(bool), args[2].(bool))
	case QueryGetJobStatus:
		job, ok := m.jobs[toInt64(args[0])]
		if !ok {
			return nil, nil, nil
		}
		return []Row{{"status": string(job.Status), "abort_requested": job.AbortRequested}}, nil, nil
	case QueryListJobs:
		return m.listJobs(args), nil, nil
	case QueryListEvents:
		return m.listEvents(toInt64(args[0])), nil, nil
	case QueryListStalled:
		return m.listStalled(toFloat(args[0]), optString(args[1]), optString(args[2])), nil, nil
	case QueryDeleteOldJobs:
		return m.deleteOld(toFloat(args[0]), optString(args[1]), args[2].([]string)), nil, nil
	case QueryListQueues:
		return m.listQueues(), nil, nil
	case QueryCheckConnected:
		return []Row{{"check": true}}, nil, nil
	}
	return nil, nil, &ConnectorError{Op: name, Err: ErrUnknownQuery}
}

func (m *MemoryConnector) deferJob(args []any) ([]Row, []string, error) {
	queue := args[0].(string)
	lock := optString(args[2])
	queueingLock := optString(args[3])
	payload := json.RawMessage(args[4].(string))
	var scheduledAt *time.Time
	if t, ok := args[5].(time.Time); ok {
		scheduledAt = &t
	}

	if queueingLock != "" {
		for _, j := range m.jobs {
			if j.QueueingLock != nil && *j.QueueingLock == queueingLock && !j.Status.Terminal() {
				return nil, nil, &ConnectorError{
					Op:         QueryDeferJob,
					Code:       UniqueViolationCode,
					Constraint: QueueingLockConstraint,
					Err:        fmt.Errorf("duplicate key value violates unique constraint %q", QueueingLockConstraint),
				}
			}
		}
	}

	m.lastID++
	job := &Job{
		ID:           m.lastID,
		Queue:        queue,
		TaskName:     args[1].(string),
		Lock:         strPtr(lock),
		QueueingLock: strPtr(queueingLock),
		Args:         payload,
		ScheduledAt:  scheduledAt,
		Status:       StatusTodo,
	}
	m.jobs[job.ID] = job

	evType := EventDeferred
	if scheduledAt != nil && scheduledAt.After(m.now()) {
		evType = EventScheduled
	}
	m.appendEvent(job.ID, evType, nil)

	return []Row{{"id": job.ID}}, []string{queue}, nil
}

func (m *MemoryConnector) eligible(j *Job, queues []string, now time.Time) bool {
	if j.Status != StatusTodo {
		return false
	}
	if len(queues) > 0 && !slices.Contains(queues, j.Queue) {
		return false
	}
	if j.ScheduledAt != nil && j.ScheduledAt.After(now) {
		return false
	}
	if j.Lock == nil {
		return true
	}
	for _, other := range m.jobs {
		if other.ID == j.ID || other.Lock == nil || *other.Lock != *j.Lock {
			continue
		}
		if other.Status == StatusDoing {
			return false
		}
		if other.Status == StatusTodo && other.ID < j.ID &&
			(other.ScheduledAt == nil || !other.ScheduledAt.After(now)) {
			return false
		}
	}
	return true
}

func (m *MemoryConnector) fetchJobs(queues []string, limit int) []Row {
	now := m.now()
	var rows []Row
	for _, id := range m.sortedIDs() {
		if len(rows) >= limit {
			break
		}
		j := m.jobs[id]
		if !m.eligible(j, queues, now) {
			continue
		}
		j.Status = StatusDoing
		j.Attempts++
		m.appendEvent(j.ID, EventStarted, &j.Attempts)
		rows = append(rows, jobRow(j))
	}
	return rows
}

func (m *MemoryConnector) transition(j *Job, to Status) error {
	if !j.Status.CanTransition(to) {
		return &ConnectorError{Err: fmt.Errorf("invalid status transition %s -> %s for job %d", j.Status, to, j.ID)}
	}
	ev, _ := eventForTransition(j.Status, to)
	j.Status = to
	attempt := j.Attempts
	m.appendEvent(j.ID, ev, &attempt)
	return nil
}

func (m *MemoryConnector) finishJob(id int64, status Status) ([]Row, []string, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusDoing {
		return nil, nil, nil
	}
	if err := m.transition(j, status); err != nil {
		return nil, nil, err
	}
	return []Row{{"id": id}}, nil, nil
}

func (m *MemoryConnector) deleteJob(id int64) []Row {
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusDoing {
		return nil
	}
	m.remove(id)
	return []Row{{"id": id}}
}

func (m *MemoryConnector) retryJob(id int64, at time.Time) ([]Row, []string, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusDoing {
		return nil, nil, nil
	}
	if err := m.transition(j, StatusTodo); err != nil {
		return nil, nil, err
	}
	j.ScheduledAt = &at
	return []Row{{"id": id}}, []string{j.Queue}, nil
}

func (m *MemoryConnector) cancelJob(id int64, abort, deleteJob bool) ([]Row, []string, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil, nil
	}
	switch {
	case j.Status == StatusTodo && deleteJob:
		m.remove(id)
	case j.Status == StatusTodo:
		if err := m.transition(j, StatusCancelled); err != nil {
			return nil, nil, err
		}
	case j.Status == StatusDoing && abort:
		if !j.AbortRequested {
			j.AbortRequested = true
			m.appendEvent(id, EventAbortRequested, nil)
		}
	default:
		return nil, nil, nil
	}
	return []Row{{"id": id}}, nil, nil
}

func (m *MemoryConnector) listJobs(args []any) []Row {
	id := toInt64(args[0])
	queue, task, status := optString(args[1]), optString(args[2]), optString(args[3])
	lock, queueingLock := optString(args[4]), optString(args[5])

	var rows []Row
	for _, jid := range m.sortedIDs() {
		j := m.jobs[jid]
		switch {
		case id != 0 && j.ID != id,
			queue != "" && j.Queue != queue,
			task != "" && j.TaskName != task,
			status != "" && string(j.Status) != status,
			lock != "" && (j.Lock == nil || *j.Lock != lock),
			queueingLock != "" && (j.QueueingLock == nil || *j.QueueingLock != queueingLock):
			continue
		}
		rows = append(rows, jobRow(j))
	}
	return rows
}

func (m *MemoryConnector) listEvents(jobID int64) []Row {
	var rows []Row
	for _, ev := range m.events {
		if ev.JobID != jobID {
			continue
		}
		var attempt any
		if ev.Attempt != nil {
			attempt = *ev.Attempt
		}
		rows = append(rows, Row{
			"id":      ev.ID,
			"job_id":  ev.JobID,
			"type":    string(ev.Type),
			"attempt": attempt,
			"at":      ev.At,
		})
	}
	return rows
}

func (m *MemoryConnector) lastEventAt(jobID int64, only EventType) (time.Time, bool) {
	var (
		at    time.Time
		found bool
	)
	for _, ev := range m.events {
		if ev.JobID == jobID && (only == "" || ev.Type == only) {
			at, found = ev.At, true
		}
	}
	return at, found
}

func (m *MemoryConnector) listStalled(seconds float64, queue, task string) []Row {
	threshold := m.now().Add(-time.Duration(seconds * float64(time.Second)))
	var rows []Row
	for _, id := range m.sortedIDs() {
		j := m.jobs[id]
		if j.Status != StatusDoing || (queue != "" && j.Queue != queue) || (task != "" && j.TaskName != task) {
			continue
		}
		if at, ok := m.lastEventAt(id, EventStarted); ok && at.Before(threshold) {
			rows = append(rows, jobRow(j))
		}
	}
	return rows
}

func (m *MemoryConnector) deleteOld(seconds float64, queue string, statuses []string) []Row {
	threshold := m.now().Add(-time.Duration(seconds * float64(time.Second)))
	var rows []Row
	for _, id := range m.sortedIDs() {
		j := m.jobs[id]
		if !slices.Contains(statuses, string(j.Status)) || (queue != "" && j.Queue != queue) {
			continue
		}
		if at, ok := m.lastEventAt(id, ""); ok && at.Before(threshold) {
			m.remove(id)
			rows = append(rows, Row{"id": id})
		}
	}
	return rows
}

func (m *MemoryConnector) listQueues() []Row {
	stats := make(map[string]Row)
	for _, j := range m.jobs {
		r, ok := stats[j.Queue]
		if !ok {
			r = Row{"queue_name": j.Queue, "todo": 0, "doing": 0, "succeeded": 0, "failed": 0, "cancelled": 0}
			stats[j.Queue] = r
		}
		r[string(j.Status)] = r[string(j.Status)].(int) + 1
	}
	rows := make([]Row, 0, len(stats))
	for _, name := range slices.Sorted(maps.Keys(stats)) {
		rows = append(rows, stats[name])
	}
	return rows
}

func (m *MemoryConnector) appendEvent(jobID int64, typ EventType, attempt *int) {
	m.lastEv++
	var a *int
	if attempt != nil {
		v := *attempt
		a = &v
	}
	m.events = append(m.events, Event{ID: m.lastEv, JobID: jobID, Type: typ, Attempt: a, At: m.now()})
}

// remove deletes a job and, like the cascading foreign key, its events.
func (m *MemoryConnector) remove(id int64) {
	delete(m.jobs, id)
	m.events = slices.DeleteFunc(m.events, func(ev Event) bool { return ev.JobID == id })
}

func (m *MemoryConnector) sortedIDs() []int64 {
	return slices.Sorted(maps.Keys(m.jobs))
}

func jobRow(j *Job) Row {
	r := Row{
		"id":              j.ID,
		"queue_name":      j.Queue,
		"task_name":       j.TaskName,
		"lock":            nil,
		"queueing_lock":   nil,
		"args":            slices.Clone(j.Args),
		"status":          string(j.Status),
		"scheduled_at":    nil,
		"attempts":        j.Attempts,
		"abort_requested": j.AbortRequested,
	}
	if j.Lock != nil {
		r["lock"] = *j.Lock
	}
	if j.QueueingLock != nil {
		r["queueing_lock"] = *j.QueueingLock
	}
	if j.ScheduledAt != nil {
		r["scheduled_at"] = *j.ScheduledAt
	}
	return r
}

func optString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case *string:
		if s != nil {
			return *s
		}
	}
	return ""
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}
	return 0
}

func toInt(v any) int {
	return int(toInt64(v))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

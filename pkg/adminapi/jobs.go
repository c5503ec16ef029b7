package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

const defaultStalledAfter = 30 * time.Minute

// deferRequest is the body of POST /jobs.
type deferRequest struct {
	TaskName     string     `json:"task_name"`
	Args         queue.Args `json:"args"`
	Queue        string     `json:"queue"`
	Lock         *string    `json:"lock"`
	QueueingLock *string    `json:"queueing_lock"`
	ScheduleAt   *time.Time `json:"schedule_at"`
	ScheduleIn   *duration  `json:"schedule_in"`
	AllowUnknown bool       `json:"allow_unknown"`
}

type retryStalledRequest struct {
	OlderThan *duration `json:"older_than"`
	Queue     string    `json:"queue"`
	TaskName  string    `json:"task_name"`
}

type deleteOldRequest struct {
	OlderThan duration       `json:"older_than"`
	Queue     string         `json:"queue"`
	Statuses  []queue.Status `json:"statuses"`
}

// duration accepts Go duration strings ("90s", "1h30m") or a number of seconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %w", err)
	}
	*d = duration(secs * float64(time.Second))
	return nil
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.JobFilter{
		Queue:        q.Get("queue"),
		TaskName:     q.Get("task"),
		Lock:         q.Get("lock"),
		QueueingLock: q.Get("queueing_lock"),
	}
	if s := q.Get("status"); s != "" {
		status, err := queue.ParseStatus(s)
		if err != nil {
			a.writeError(w, r, errors.Join(ErrInvalidQuery, err))
			return
		}
		filter.Status = status
	}

	jobs, err := a.app.Jobs().ListJobs(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	job, err := a.app.Jobs().GetJob(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	// an unknown job has no events; tell it apart from a job without history
	if _, _, err := a.app.Jobs().GetJobStatus(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	events, err := a.app.Jobs().ListEvents(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) deferJob(w http.ResponseWriter, r *http.Request) {
	var req deferRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	opts := make([]queue.DeferOption, 0, 6)
	if req.Queue != "" {
		opts = append(opts, queue.WithQueue(req.Queue))
	}
	if req.Lock != nil {
		opts = append(opts, queue.WithLock(*req.Lock))
	}
	if req.QueueingLock != nil {
		opts = append(opts, queue.WithQueueingLock(*req.QueueingLock))
	}
	if req.ScheduleAt != nil {
		opts = append(opts, queue.WithScheduleAt(*req.ScheduleAt))
	}
	if req.ScheduleIn != nil {
		opts = append(opts, queue.WithScheduleIn(time.Duration(*req.ScheduleIn)))
	}
	if req.AllowUnknown {
		opts = append(opts, queue.WithAllowUnknownTask(), queue.WithAllowUnknownArgs())
	}

	d, err := a.app.ConfigureTask(req.TaskName, opts...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := d.Defer(r.Context(), req.Args)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.log.InfoContext(r.Context(), "job deferred", logger.JobID(id), logger.TaskName(req.TaskName))
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	deleteJob, err := boolParam(r, "delete")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ok, err := a.app.Jobs().CancelJob(r.Context(), id, false, deleteJob)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeOutcome(w, r, id, ok, "cancelled")
}

func (a *API) abortJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	ok, err := a.app.Jobs().RequestAbort(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeOutcome(w, r, id, ok, "abort_requested")
}

// writeOutcome reports a cancel or abort. A request that changed nothing is a
// 404 for an unknown job and a 409 for a job past the point of cancellation.
func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, id int64, ok bool, key string) {
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, key: true})
		return
	}
	status, _, err := a.app.Jobs().GetJobStatus(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusConflict, map[string]any{
		"id":     id,
		key:      false,
		"status": status,
		"error":  fmt.Sprintf("job %d is %s", id, status),
	})
}

func (a *API) retryStalled(w http.ResponseWriter, r *http.Request) {
	var req retryStalledRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	olderThan := defaultStalledAfter
	if req.OlderThan != nil {
		olderThan = time.Duration(*req.OlderThan)
	}

	jobs, err := a.app.Jobs().RetryStalledJobs(r.Context(), olderThan, req.Queue, req.TaskName)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(jobs) > 0 {
		a.log.InfoContext(r.Context(), "stalled jobs retried", slog.Int("count", len(jobs)))
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) deleteOld(w http.ResponseWriter, r *http.Request) {
	var req deleteOldRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.OlderThan <= 0 {
		a.writeError(w, r, fmt.Errorf("%w: older_than must be positive", ErrInvalidBody))
		return
	}

	n, err := a.app.Jobs().DeleteOldJobs(r.Context(), time.Duration(req.OlderThan), req.Queue, req.Statuses...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if n > 0 {
		a.log.InfoContext(r.Context(), "old jobs deleted", slog.Int("count", n))
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func jobID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidJobID, raw)
	}
	return id, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidQuery, name, raw)
	}
	return v, nil
}

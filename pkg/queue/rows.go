package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row decoding tolerates the value types produced by both pgx and the in-memory connector.

func (r Row) integer(key string) (int64, error) {
	switch v := r[key].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case nil:
		return 0, fmt.Errorf("column %q is null", key)
	default:
		return 0, fmt.Errorf("column %q: unexpected type %T", key, v)
	}
}

func (r Row) optInt(key string) (*int, error) {
	if r[key] == nil {
		return nil, nil
	}
	n, err := r.integer(key)
	if err != nil {
		return nil, err
	}
	i := int(n)
	return &i, nil
}

func (r Row) text(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	case []byte:
		return string(v)
	}
	return ""
}

func (r Row) optText(key string) *string {
	switch v := r[key].(type) {
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

func (r Row) flag(key string) bool {
	v, _ := r[key].(bool)
	return v
}

func (r Row) optTime(key string) *time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

func (r Row) rawJSON(key string) (json.RawMessage, error) {
	switch v := r[key].(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case string:
		return json.RawMessage(v), nil
	default:
		// pgx decodes jsonb into Go values
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}
		return b, nil
	}
}

func jobFromRow(r Row) (Job, error) {
	id, err := r.integer("id")
	if err != nil {
		return Job{}, err
	}
	attempts, err := r.integer("attempts")
	if err != nil {
		return Job{}, err
	}
	args, err := r.rawJSON("args")
	if err != nil {
		return Job{}, err
	}
	status, err := ParseStatus(r.text("status"))
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:             id,
		Queue:          r.text("queue_name"),
		TaskName:       r.text("task_name"),
		Lock:           r.optText("lock"),
		QueueingLock:   r.optText("queueing_lock"),
		Args:           args,
		ScheduledAt:    r.optTime("scheduled_at"),
		Status:         status,
		Attempts:       int(attempts),
		AbortRequested: r.flag("abort_requested"),
	}, nil
}

func eventFromRow(r Row) (Event, error) {
	id, err := r.integer("id")
	if err != nil {
		return Event{}, err
	}
	jobID, err := r.integer("job_id")
	if err != nil {
		return Event{}, err
	}
	attempt, err := r.optInt("attempt")
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		ID:      id,
		JobID:   jobID,
		Type:    EventType(r.text("type")),
		Attempt: attempt,
	}
	if at := r.optTime("at"); at != nil {
		ev.At = *at
	}
	return ev, nil
}

func queueStatsFromRow(r Row) (QueueStats, error) {
	qs := QueueStats{Queue: r.text("queue_name")}
	for key, dst := range map[string]*int{
		"todo":      &qs.Todo,
		"doing":     &qs.Doing,
		"succeeded": &qs.Succeeded,
		"failed":    &qs.Failed,
		"cancelled": &qs.Cancelled,
	} {
		n, err := r.integer(key)
		if err != nil {
			return QueueStats{}, err
		}
		*dst = int(n)
	}
	return qs, nil
}

// nullable maps zero values to SQL NULL.
func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

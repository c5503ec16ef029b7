package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// JobID records the job identifier under the key "job_id".
func JobID(id int64) slog.Attr {
	return slog.Int64("job_id", id)
}

// Queue records the queue name under the key "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// TaskName records the task name under the key "task_name".
func TaskName(name string) slog.Attr {
	return slog.String("task_name", name)
}

// Attempt records the 1-based attempt number under the key "attempt".
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// WorkerID records the worker identifier under the key "worker_id".
// If id is empty, it returns an empty Attr.
func WorkerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("worker_id", id)
}

// Status records a job status under the key "status".
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Channel records a notification channel under the key "channel".
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

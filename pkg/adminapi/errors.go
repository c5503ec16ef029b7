package adminapi

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

var (
	// ErrStart indicates that the server failed to start.
	ErrStart = errors.New("failed to start admin api server")
	// ErrShutdown indicates that graceful shutdown failed.
	ErrShutdown = errors.New("failed to shutdown admin api server gracefully")

	ErrServerRunning = errors.New("server already running")
	ErrInvalidJobID  = errors.New("invalid job id")
	ErrInvalidBody   = errors.New("invalid request body")
	ErrInvalidQuery  = errors.New("invalid query parameter")
)

// statusFor maps queue errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrAlreadyEnqueued):
		return http.StatusConflict
	case errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidJobID),
		errors.Is(err, ErrInvalidBody),
		errors.Is(err, ErrInvalidQuery),
		errors.Is(err, queue.ErrTaskNameEmpty),
		errors.Is(err, queue.ErrInvalidArgs),
		errors.Is(err, queue.ErrUnknownArgs),
		errors.Is(err, queue.ErrConflictingSchedule),
		errors.Is(err, queue.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrSchemaUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, queue.ErrAppNotOpen), errors.Is(err, queue.ErrMissingApp):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

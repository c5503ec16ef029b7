package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

// API exposes job inspection and administration over HTTP.
type API struct {
	app    *queue.App
	log    *slog.Logger
	checks []func(context.Context) error
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger. Defaults to the app logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithHealthchecks adds readiness checks run by GET /healthz after the app check.
func WithHealthchecks(checks ...func(context.Context) error) Option {
	return func(a *API) {
		for _, c := range checks {
			if c != nil {
				a.checks = append(a.checks, c)
			}
		}
	}
}

// New creates the admin API for app.
func New(app *queue.App, opts ...Option) (*API, error) {
	if app == nil {
		return nil, queue.ErrAppNil
	}
	a := &API{app: app, log: app.Logger()}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logger.Component("adminapi"))
	return a, nil
}

// Routes returns the HTTP handler serving the admin endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(a.logRequests)

	r.Get("/healthz", a.healthz)

	r.Route("/schema", func(r chi.Router) {
		r.Get("/", a.getSchema)
		r.Post("/apply", a.applySchema)
	})

	r.Get("/queues", a.listQueues)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Post("/", a.deferJob)
		r.Post("/retry-stalled", a.retryStalled)
		r.Post("/delete-old", a.deleteOld)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getJob)
			r.Get("/events", a.listEvents)
			r.Post("/cancel", a.cancelJob)
			r.Post("/abort", a.abortJob)
		})
	})

	return r
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.log.Log(r.Context(), level, "admin request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			logger.Duration(time.Since(start)),
		)
	})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := append([]func(context.Context) error{a.app.Check}, a.checks...)
	for _, check := range checks {
		if err := check(ctx); err != nil {
			a.log.WarnContext(ctx, "readiness check failed", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) getSchema(w http.ResponseWriter, r *http.Request) {
	sql, err := a.app.SchemaSQL()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/sql; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sql))
}

func (a *API) applySchema(w http.ResponseWriter, r *http.Request) {
	if err := a.app.ApplySchema(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.InfoContext(r.Context(), "schema applied")
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := a.app.Jobs().ListQueues(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

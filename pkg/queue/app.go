package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dmitrymomot/pgqueue/pkg/logger"
)

// App ties a task registry to a connector. Build one per process and pass it
// explicitly to workers and deferral code.
type App struct {
	conn   Connector
	jobs   *JobManager
	logger *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*Task

	asyncOnce sync.Once
	async     *AsyncConnector
}

// AppOption configures an App.
type AppOption func(*App)

// WithAppLogger sets the logger used by the app and the workers it creates.
func WithAppLogger(l *slog.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewApp creates an app on top of conn. A nil conn installs a stand-in
// that fails every query with ErrMissingApp.
func NewApp(conn Connector, opts ...AppOption) *App {
	if conn == nil {
		conn = missingConnector{}
	}
	a := &App{
		conn:   conn,
		logger: slog.Default(),
		tasks:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.jobs = NewJobManager(conn)
	return a
}

// Open acquires the connector resources.
func (a *App) Open(ctx context.Context) error {
	if err := a.conn.Open(ctx); err != nil {
		return err
	}
	a.logger.DebugContext(ctx, "app opened", logger.Component("app"))
	return nil
}

// Close releases the connector resources. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if err := a.conn.Close(ctx); err != nil {
		return err
	}
	a.logger.DebugContext(ctx, "app closed", logger.Component("app"))
	return nil
}

// Connector returns the blocking connector.
func (a *App) Connector() Connector { return a.conn }

// AsyncConnector returns the non-blocking view of the connector, created on first use.
func (a *App) AsyncConnector() *AsyncConnector {
	a.asyncOnce.Do(func() {
		if ac, ok := a.conn.(interface{ AsyncConnector() *AsyncConnector }); ok {
			a.async = ac.AsyncConnector()
			return
		}
		a.async = NewAsyncConnector(a.conn)
	})
	return a.async
}

// Jobs returns the job manager bound to the app's connector.
func (a *App) Jobs() *JobManager { return a.jobs }

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// NewTask builds a task and registers it.
func (a *App) NewTask(name string, handler Handler, opts ...TaskOption) (*Task, error) {
	t, err := NewTask(name, handler, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Register adds tasks to the registry. Duplicate names are rejected.
func (a *App) Register(tasks ...*Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range tasks {
		if t == nil {
			continue
		}
		if _, exists := a.tasks[t.name]; exists {
			return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, t.name)
		}
		if t.app != nil && t.app != a {
			return fmt.Errorf("%w: %s belongs to another app", ErrTaskAlreadyRegistered, t.name)
		}
		t.app = a
		a.tasks[t.name] = t
		a.logger.Debug("task registered",
			logger.TaskName(t.name),
			logger.Queue(t.queue))
	}
	return nil
}

// Task resolves a registered task by name.
func (a *App) Task(name string) (*Task, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.tasks[name]
	if !ok {
		return nil, &TaskNotFoundError{Name: name}
	}
	return t, nil
}

// TaskNames lists the registered task names, sorted.
func (a *App) TaskNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.tasks))
	for name := range a.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ConfigureTask prepares a deferral by raw task name.
// Unregistered names fail with *TaskNotFoundError unless WithAllowUnknownTask is given,
// in which case the job goes to the default queue unless overridden.
func (a *App) ConfigureTask(name string, opts ...DeferOption) (*JobDeferrer, error) {
	if name == "" {
		return nil, ErrTaskNameEmpty
	}

	var o deferOptions
	for _, opt := range opts {
		opt(&o)
	}

	t, err := a.Task(name)
	if err != nil {
		if !o.allowUnknownTask {
			return nil, err
		}
		t = &Task{name: name, queue: DefaultQueueName, retry: NoRetry, app: a}
	}
	return newJobDeferrer(a, t, opts...), nil
}

// ApplySchema installs the job schema through the connector.
func (a *App) ApplySchema(ctx context.Context) error {
	if IsMissing(a.conn) {
		return ErrMissingApp
	}
	sa, ok := a.conn.(SchemaApplier)
	if !ok {
		return ErrSchemaUnsupported
	}
	return sa.ApplySchema(ctx)
}

// SchemaSQL returns the schema definition used by the connector.
func (a *App) SchemaSQL() (string, error) {
	if IsMissing(a.conn) {
		return "", ErrMissingApp
	}
	si, ok := a.conn.(SchemaInspector)
	if !ok {
		return "", ErrSchemaUnsupported
	}
	return si.SchemaSQL(), nil
}

// Check verifies that the connector is open and the job table exists.
func (a *App) Check(ctx context.Context) error {
	return a.jobs.Check(ctx)
}

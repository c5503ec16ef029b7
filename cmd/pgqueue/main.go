// Command pgqueue runs the queue maintenance worker, its periodic schedule and
// the admin HTTP API against a PostgreSQL database.
//
// Applications define their own tasks and embed a queue.Worker; this process
// only executes the built-in maintenance tasks, so it never picks up jobs it
// has no handler for.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/pgqueue/pkg/adminapi"
	"github.com/dmitrymomot/pgqueue/pkg/config"
	"github.com/dmitrymomot/pgqueue/pkg/logger"
	"github.com/dmitrymomot/pgqueue/pkg/pg"
	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

type appConfig struct {
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`

	MaintenanceQueue string        `env:"MAINTENANCE_QUEUE" envDefault:"pgqueue_maintenance"`
	DeleteJobsAfter  time.Duration `env:"MAINTENANCE_DELETE_AFTER" envDefault:"168h"` // 0 disables the cleanup schedule
	StalledAfter     time.Duration `env:"MAINTENANCE_STALLED_AFTER" envDefault:"30m"` // 0 disables the stalled job schedule
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("pgqueue stopped with error", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		appCfg   appConfig
		pgCfg    pg.Config
		queueCfg queue.Config
		adminCfg adminapi.Config
	)
	if err := errors.Join(
		config.Load(&appCfg),
		config.Load(&pgCfg),
		config.Load(&queueCfg),
		config.Load(&adminCfg),
	); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(appCfg)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	conn := pg.NewConnector(pgCfg, pg.WithLogger(log))
	app := queue.NewApp(conn, queue.WithAppLogger(log))
	if err := app.Open(ctx); err != nil {
		return fmt.Errorf("open app: %w", err)
	}
	defer func() {
		if err := app.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("failed to close app", logger.Error(err))
		}
	}()
	if err := app.Check(ctx); err != nil {
		return fmt.Errorf("schema check, set PG_APPLY_SCHEMA=true to install it: %w", err)
	}

	tasks, err := queue.RegisterBuiltinTasks(app, appCfg.MaintenanceQueue)
	if err != nil {
		return err
	}

	workerOpts, err := queueCfg.WorkerOptions()
	if err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	workerOpts = append(workerOpts,
		queue.WithQueues(appCfg.MaintenanceQueue),
		queue.WithWorkerLogger(log),
	)
	worker, err := queue.NewWorker(app, workerOpts...)
	if err != nil {
		return err
	}

	periodic, err := newPeriodic(app, tasks, appCfg, queueCfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Runner(gctx))
	if len(periodic.Tasks()) > 0 {
		g.Go(func() error { return periodic.Run(gctx) })
	}

	if adminCfg.Enabled {
		api, err := adminapi.New(app,
			adminapi.WithLogger(log),
			adminapi.WithHealthchecks(pg.Healthcheck(conn)),
		)
		if err != nil {
			return err
		}
		srv := adminapi.NewServerFromConfig(adminCfg, adminapi.WithServerLogger(log))
		g.Go(srv.Runner(gctx, api.Routes()))
	}

	log.InfoContext(ctx, "pgqueue started",
		logger.Queue(appCfg.MaintenanceQueue),
		slog.Any("periodic_tasks", periodic.Tasks()),
		slog.Bool("admin_api", adminCfg.Enabled))

	return g.Wait()
}

func newLogger(cfg appConfig) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, "pgqueue"),
		logger.WithLevel(level),
		logger.WithContextExtractors(queue.LogAttrsFromContext),
	}
	if cfg.LogFormat != "" {
		format, err := logger.ParseFormat(cfg.LogFormat)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logger.WithFormat(format))
	}
	return logger.New(opts...), nil
}

func newPeriodic(app *queue.App, tasks *queue.BuiltinTasks, cfg appConfig, queueCfg queue.Config, log *slog.Logger) (*queue.PeriodicDeferrer, error) {
	opts := append(queueCfg.PeriodicOptions(), queue.WithPeriodicLogger(log))
	periodic, err := queue.NewPeriodicDeferrer(app, opts...)
	if err != nil {
		return nil, err
	}

	if cfg.DeleteJobsAfter > 0 {
		err := periodic.Register(tasks.DeleteOldJobs, queue.DailyAt(3, 0),
			queue.WithPeriodicArgs(queue.Args{"older_than_hours": cfg.DeleteJobsAfter.Hours()}))
		if err != nil {
			return nil, err
		}
	}
	if cfg.StalledAfter > 0 {
		err := periodic.Register(tasks.RetryStalledJobs, queue.Every(5*time.Minute),
			queue.WithPeriodicArgs(queue.Args{"older_than_seconds": cfg.StalledAfter.Seconds()}))
		if err != nil {
			return nil, err
		}
	}
	return periodic, nil
}

package queue

import "time"

// Config holds the worker configuration read from the environment
type Config struct {
	Queues             []string      `env:"QUEUE_NAMES" envSeparator:","`
	Concurrency        int           `env:"QUEUE_CONCURRENCY" envDefault:"1"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	Wait               bool          `env:"QUEUE_WAIT" envDefault:"true"`
	ListenNotify       bool          `env:"QUEUE_LISTEN_NOTIFY" envDefault:"true"`
	DeleteJobs         string        `env:"QUEUE_DELETE_JOBS" envDefault:"never"`
	AbortCheckInterval time.Duration `env:"QUEUE_ABORT_CHECK_INTERVAL" envDefault:"1s"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	PeriodicInterval   time.Duration `env:"QUEUE_PERIODIC_INTERVAL" envDefault:"10s"`
	PeriodicMaxDelay   time.Duration `env:"QUEUE_PERIODIC_MAX_DELAY" envDefault:"10m"`
}

// WorkerOptions converts the configuration into worker options.
func (c Config) WorkerOptions() ([]WorkerOption, error) {
	policy, err := ParseDeletePolicy(c.DeleteJobs)
	if err != nil {
		return nil, err
	}
	return []WorkerOption{
		WithQueues(c.Queues...),
		WithConcurrency(c.Concurrency),
		WithPollInterval(c.PollInterval),
		WithWait(c.Wait),
		WithListenNotify(c.ListenNotify),
		WithDeleteJobs(policy),
		WithAbortCheckInterval(c.AbortCheckInterval),
		WithShutdownTimeout(c.ShutdownTimeout),
	}, nil
}

// PeriodicOptions converts the configuration into periodic deferrer options.
func (c Config) PeriodicOptions() []PeriodicOption {
	return []PeriodicOption{
		WithCheckInterval(c.PeriodicInterval),
		WithMaxDelay(c.PeriodicMaxDelay),
	}
}

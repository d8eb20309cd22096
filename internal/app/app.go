package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/cozy-creator/genjobs/internal/db"
	"github.com/cozy-creator/genjobs/internal/db/drivers"
	"github.com/cozy-creator/genjobs/internal/db/migrations"
	"github.com/cozy-creator/genjobs/internal/db/repository"
	"github.com/cozy-creator/genjobs/internal/mq"
	"github.com/cozy-creator/genjobs/internal/orchestrator"
	"github.com/cozy-creator/genjobs/internal/registry"
	"github.com/cozy-creator/genjobs/internal/services/events"
	"github.com/cozy-creator/genjobs/internal/services/history"
	"github.com/cozy-creator/genjobs/internal/worker"
	"github.com/cozy-creator/genjobs/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	mq         mq.MQ
	driver     drivers.Driver
	config     *config.Config
	ctx        context.Context
	cancelFunc context.CancelFunc
	transport  worker.Transport
	cron       *cron.Cron

	orchestrator *orchestrator.Orchestrator
	events       *events.Publisher
	history      *history.Recorder

	Logger *zap.Logger
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		if logger != nil {
			app.Logger = logger
		}
		return nil
	}
}

// WithTransport uses an already built worker transport instead of the one
// described by the config.
func WithTransport(transport worker.Transport) OptionFunc {
	return func(app *App) error {
		app.transport = transport
		return nil
	}
}

// WithWorker builds the worker transport from the worker.* config keys. In
// daemon mode without an address the daemon is spawned and owned by the app.
func WithWorker() OptionFunc {
	return func(app *App) error {
		cfg := app.config.Worker
		opts := []worker.Option{
			worker.WithEnv(cfg.Env...),
			worker.WithTimeouts(worker.Timeouts{Quick: cfg.QuickTimeout, Generate: cfg.GenerateTimeout}),
			worker.WithStartupTimeout(cfg.StartupTimeout),
			worker.WithLogger(app.Logger.Named("worker")),
		}

		switch cfg.Mode {
		case config.WorkerModeDaemon:
			if cfg.DaemonAddress != "" {
				app.transport = worker.NewDaemonTransport(cfg.DaemonAddress, opts...)
				return nil
			}

			executable, args := worker.Command(cfg.Interpreter, cfg.Script)
			transport, err := worker.SpawnDaemon(app.ctx, executable, args, opts...)
			if err != nil {
				return fmt.Errorf("failed to start worker daemon: %w", err)
			}
			app.transport = transport
		default:
			app.transport = worker.NewPythonTransport(cfg.Interpreter, cfg.Script, opts...)
		}

		return nil
	}
}

// WithMQ creates the event queue and publishes job transitions to it.
func WithMQ() OptionFunc {
	return func(app *App) error {
		queue, err := mq.NewMQ(app.config)
		if err != nil {
			return err
		}

		app.mq = queue
		app.events = events.NewPublisher(queue, app.config.Events.TopicPrefix, app.Logger.Named("events"))
		return nil
	}
}

// WithDBInitialization connects to the history database, applies migrations
// and records job transitions. It does nothing when no driver is configured.
func WithDBInitialization() OptionFunc {
	return func(app *App) error {
		if !app.config.HistoryEnabled() {
			return nil
		}

		driver, err := db.NewConnection(app.ctx, app.config)
		if err != nil {
			return err
		}
		app.driver = driver

		group, err := migrations.Migrate(app.ctx, driver.GetDB())
		if err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		if !group.IsZero() {
			app.Logger.Info("database migrated", zap.String("group", group.String()))
		}

		repo := repository.NewGenerationRepository(driver.GetDB())
		app.history = history.NewRecorder(repo, app.Logger.Named("history"))
		return nil
	}
}

// WithSweeper evicts expired jobs on the registry.sweep_schedule cron spec.
func WithSweeper() OptionFunc {
	return func(app *App) error {
		spec := app.config.Registry.SweepSchedule
		if spec == "" {
			return nil
		}

		c := cron.New()
		if _, err := c.AddFunc(spec, app.sweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
		}

		app.cron = c
		return nil
	}
}

func (app *App) sweep() {
	if evicted := app.orchestrator.Sweep(); evicted > 0 {
		app.Logger.Info("swept finished generations", zap.Int("evicted", evicted))
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	logger, err := logger.NewLogger(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     logger,
		cancelFunc: cancel,
	}

	if err := app.init(options); err != nil {
		app.Close()
		return nil, err
	}

	return app, nil
}

func (app *App) init(options []OptionFunc) error {
	for _, opt := range options {
		if err := opt(app); err != nil {
			return err
		}
	}

	if app.transport == nil {
		return errors.New("worker transport is not configured")
	}

	registryOptions := []registry.Option{
		registry.WithMaxConcurrent(app.config.Registry.MaxConcurrent),
		registry.WithRetention(app.config.Registry.Retention),
	}
	if app.events != nil {
		registryOptions = append(registryOptions, registry.WithObserver(app.events))
	}
	if app.history != nil {
		registryOptions = append(registryOptions, registry.WithObserver(app.history))
	}

	app.orchestrator = orchestrator.New(app.transport,
		orchestrator.WithLogger(app.Logger),
		orchestrator.WithWorkerFallback(app.config.Registry.WorkerFallback),
		orchestrator.WithRegistryOptions(registryOptions...),
	)

	if app.cron != nil {
		app.cron.Start()
	}

	return nil
}

func (app *App) Close() {
	if app.cron != nil {
		<-app.cron.Stop().Done()
	}

	if app.orchestrator != nil {
		if err := app.orchestrator.Close(); err != nil {
			app.Logger.Error("failed to close orchestrator", zap.Error(err))
		}
	} else if app.transport != nil {
		app.transport.Close()
	}

	if app.mq != nil {
		app.mq.Close()
	}

	if app.driver != nil {
		app.driver.Close()
	}

	app.cancelFunc()

	if app.Logger != nil {
		app.Logger.Sync() //nolint:errcheck
	}
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) MQ() mq.MQ {
	return app.mq
}

func (app *App) Orchestrator() *orchestrator.Orchestrator {
	return app.orchestrator
}

// Events is nil unless the app was built WithMQ.
func (app *App) Events() *events.Publisher {
	return app.events
}

// History is nil when no database driver is configured.
func (app *App) History() *history.Recorder {
	return app.history
}

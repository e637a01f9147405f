package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/bank-api/internal/config"
	"github.com/phrazzld/bank-api/internal/platform/postgres"
	"github.com/phrazzld/bank-api/internal/store"
	"github.com/phrazzld/bank-api/internal/task"
	"github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	accountStore        store.AccountStore
	riskAssessmentStore store.RiskAssessmentStore
	taskStore           task.TaskStore

	queue      task.Queue
	taskRunner *task.TaskRunner
}

// newApplication creates a new application instance backed by Postgres.
// The database connection must already be established.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:              cfg,
		logger:              logger,
		db:                  db,
		accountStore:        postgres.NewPostgresAccountStore(db, logger),
		riskAssessmentStore: postgres.NewPostgresRiskAssessmentStore(db, logger),
		taskStore:           postgres.NewPostgresTaskStore(db, logger),
	}

	if err := app.init(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// init builds the queue and starts the task runner on top of the
// application's stores.
func (app *application) init(ctx context.Context) error {
	var err error

	app.queue, err = app.setupQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup task queue: %w", err)
	}

	app.taskRunner, err = setupTaskRunner(ctx, app)
	if err != nil {
		return fmt.Errorf("failed to setup task runner: %w", err)
	}

	return nil
}

// setupQueue returns the broker selected by task.broker.
func (app *application) setupQueue(ctx context.Context) (task.Queue, error) {
	switch app.config.Task.Broker {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     app.config.Task.RedisAddr,
			Password: app.config.Task.RedisPassword,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}

		app.redis = rdb
		app.logger.Info("Redis broker connected", "addr", app.config.Task.RedisAddr)
		return task.NewRedisQueue(rdb, app.config.Task.RedisPrefix, app.logger), nil

	default:
		return task.NewMemoryQueue(app.logger), nil
	}
}

// setupTaskRunner wires the banking operations into a task runner and
// starts it, recovering any unfinished tasks first.
func setupTaskRunner(ctx context.Context, app *application) (*task.TaskRunner, error) {
	transfer, err := task.NewTransferFundsOperation(app.accountStore, task.NewAccountLocker(), app.logger)
	if err != nil {
		return nil, err
	}
	risk, err := task.NewCreateRiskAssessmentOperation(app.riskAssessmentStore, app.logger)
	if err != nil {
		return nil, err
	}

	taskRunner := task.NewTaskRunner(
		app.queue,
		task.NewHandlers(transfer, risk),
		app.taskStore,
		task.TaskRunnerConfig{
			WorkerCount:  app.config.Task.WorkerCount,
			PollInterval: app.config.Task.PollInterval,
			MaxRetries:   app.config.Task.MaxRetries,
			RetryDelay:   app.config.Task.RetryDelay,
		},
		app.logger,
	)

	taskRunner.SetErrorHandler(func(d *task.Descriptor, result task.Result) {
		app.logger.Warn("task failed",
			"task_id", d.ID,
			"task_kind", d.Kind,
			"error_class", result.ErrorClass,
			"attempts", result.Attempts)
	})

	if err := taskRunner.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	return taskRunner, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
// Running tasks finish before the connections close.
func (app *application) cleanup() {
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

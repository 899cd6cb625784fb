package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ion606/workout-api/internal/api"
	"github.com/ion606/workout-api/internal/config"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/platform/mail"
	"github.com/ion606/workout-api/internal/platform/memory"
	"github.com/ion606/workout-api/internal/platform/objectstore"
	"github.com/ion606/workout-api/internal/platform/postgres"
	"github.com/ion606/workout-api/internal/platform/rabbitmq"
	"github.com/ion606/workout-api/internal/render"
	"github.com/ion606/workout-api/internal/service/auth"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	userStore   store.UserStore
	exportStore store.ExportStore
	datasets    render.DatasetSource

	// Export pipeline
	registry   *export.Registry
	artifacts  export.ArtifactStore
	notifier   export.Notifier
	processor  *export.Processor
	submitter  *export.Submitter
	downloader *export.Downloader
	reaper     *export.Reaper
	backend    task.Backend

	jwtService auth.JWTService
}

// newApplication creates a new application instance with all dependencies
// initialized. Backends are chosen by the driver fields of cfg.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	if err := app.setupStores(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.registry = export.NewRegistry()
	if err := render.RegisterDefaults(app.registry, app.datasets); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to register renderers: %w", err)
	}
	logger.Info("export formats registered", "formats", app.registry.Formats())

	app.artifacts, err = setupArtifacts(ctx, cfg.Storage, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.notifier, err = setupNotifier(cfg.Mail, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	retry := retryPolicy(cfg.Queue)
	app.processor, err = export.NewProcessor(
		app.exportStore,
		app.userStore,
		app.registry,
		app.artifacts,
		app.notifier,
		export.ProcessorConfig{
			MaxAttempts: retry.MaxAttempts,
			PublicURL:   cfg.Server.PublicURL,
		},
		logger,
	)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create export processor: %w", err)
	}

	app.backend, err = setupBackend(cfg.Queue, app.processor, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.submitter, err = export.NewSubmitter(
		app.exportStore,
		app.userStore,
		app.backend,
		app.registry,
		export.SubmitterConfig{
			TTL:              cfg.Export.TTL,
			Cooldown:         cfg.Export.Cooldown,
			CooldownDisabled: cfg.Export.CooldownDisabled,
		},
		logger,
	)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create export submitter: %w", err)
	}
	if cfg.Export.CooldownDisabled {
		logger.Warn("export cooldown is disabled")
	}

	app.downloader = export.NewDownloader(app.userStore, app.exportStore, app.artifacts, logger)

	app.reaper = export.NewReaper(app.exportStore, app.artifacts, app.backend, export.ReaperConfig{
		Interval:           cfg.Export.ReaperInterval,
		StuckAfter:         cfg.Export.StuckAfter,
		OrphanGrace:        cfg.Export.OrphanGrace,
		TombstoneRetention: cfg.Export.TombstoneRetention,
	}, logger)

	logger.Info("application initialized successfully")
	return app, nil
}

// setupStores opens the record store selected by the database driver.
func (app *application) setupStores(ctx context.Context) error {
	switch app.config.Database.Driver {
	case "postgres":
		db, err := setupAppDatabase(ctx, app.config.Database, app.logger)
		if err != nil {
			return err
		}
		app.db = db

		if app.config.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db, app.logger); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}

		app.userStore = postgres.NewPostgresUserStore(db, app.logger)
		app.exportStore = postgres.NewPostgresExportStore(db, app.logger)
		app.datasets = postgres.NewPostgresDatasetSource(db, app.logger)

	case "memory":
		users := memory.NewUserStore()
		app.userStore = users
		app.exportStore = memory.NewExportStore()
		app.datasets = memory.NewDatasetSource(users)
		app.logger.Warn("using in-memory stores; data is lost on restart")

	default:
		return fmt.Errorf("unsupported database driver %q", app.config.Database.Driver)
	}
	return nil
}

// setupArtifacts builds the artifact store selected by the storage driver.
func setupArtifacts(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (export.ArtifactStore, error) {
	switch cfg.Driver {
	case "local":
		artifacts, err := export.NewLocalArtifacts(cfg.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare artifact directory: %w", err)
		}
		logger.Info("storing artifacts on local disk", "dir", artifacts.Dir())
		return artifacts, nil

	case "s3":
		client, err := objectstore.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		artifacts, err := objectstore.NewS3Artifacts(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.LocalDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 artifact store: %w", err)
		}
		logger.Info("storing artifacts in S3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
		return artifacts, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// setupNotifier builds the notifier selected by the mail driver.
func setupNotifier(cfg config.MailConfig, logger *slog.Logger) (export.Notifier, error) {
	switch cfg.Driver {
	case "log":
		return mail.NewLogNotifier(logger), nil
	case "sendgrid":
		notifier, err := mail.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SendGrid notifier: %w", err)
		}
		return notifier, nil
	default:
		return nil, fmt.Errorf("unsupported mail driver %q", cfg.Driver)
	}
}

func retryPolicy(cfg config.QueueConfig) task.RetryPolicy {
	return task.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Multiplier:  cfg.BackoffMultiplier,
	}
}

// setupBackend builds the job queue selected by the queue driver, with
// handler as its consumer. The backend is not started.
func setupBackend(cfg config.QueueConfig, handler task.Handler, logger *slog.Logger) (task.Backend, error) {
	abandoned := func(job task.Job, err error) {
		logger.Error("export job abandoned",
			"export_id", job.RequestID,
			"attempt", job.Attempt,
			"error", err)
	}

	switch cfg.Driver {
	case "memory":
		runner := task.NewRunner(handler, task.RunnerConfig{
			WorkerCount: cfg.Workers,
			QueueSize:   cfg.Size,
			Retry:       retryPolicy(cfg),
		}, logger)
		runner.SetErrorHandler(abandoned)
		return runner, nil

	case "rabbitmq":
		queue, err := rabbitmq.Dial(cfg.URL, handler, rabbitmq.Config{
			Name:    cfg.Name,
			Workers: cfg.Workers,
			Retry:   retryPolicy(cfg),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		queue.SetErrorHandler(abandoned)
		return queue, nil

	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

// exportHandler returns the HTTP handler backed by the application's services.
func (app *application) exportHandler() *api.ExportHandler {
	return api.NewExportHandler(app.submitter, app.downloader, app.logger)
}

// cleanup releases resources opened by newApplication. Background workers
// are stopped by Run.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			app.logger.Error("error closing database connection", "error", err)
		}
		app.db = nil
	}
	app.logger.Info("application shutdown completed")
}

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
)

// ProcessorConfig holds worker settings.
type ProcessorConfig struct {
	// MaxAttempts caps how many times one request is claimed, across every
	// delivery including reconciliation re-enqueues.
	MaxAttempts int
	// PublicURL is the base of download links.
	PublicURL string
}

// Processor renders export requests. It is the task.Handler behind every
// queue backend.
type Processor struct {
	exports   store.ExportStore
	users     store.UserStore
	registry  *Registry
	artifacts ArtifactStore
	notifier  Notifier
	config    ProcessorConfig
	logger    *slog.Logger
	now       func() time.Time
}

var _ task.Handler = (*Processor)(nil)

// NewProcessor creates a Processor. All dependencies are required.
func NewProcessor(
	exports store.ExportStore,
	users store.UserStore,
	registry *Registry,
	artifacts ArtifactStore,
	notifier Notifier,
	config ProcessorConfig,
	logger *slog.Logger,
) (*Processor, error) {
	if exports == nil || users == nil || registry == nil || artifacts == nil || notifier == nil {
		return nil, errors.New("processor dependencies cannot be nil")
	}
	if _, err := DownloadURL(config.PublicURL, "owner@example.com", "secret"); err != nil {
		return nil, err
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = task.DefaultRetryPolicy().MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		exports:   exports,
		users:     users,
		registry:  registry,
		artifacts: artifacts,
		notifier:  notifier,
		config:    config,
		logger:    logger.With(slog.String("component", "export_processor")),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle processes one delivery of an export request. Deliveries for
// requests that are gone or no longer pending are acknowledged without work.
func (p *Processor) Handle(ctx context.Context, job task.Job) error {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		slog.String("export_id", job.RequestID.String()),
		slog.Int("attempt", job.Attempt))

	req, err := p.exports.GetByID(ctx, job.RequestID)
	if store.IsNotFoundError(err) {
		log.Info("export request no longer exists, discarding job")
		ExportsProcessed.WithLabelValues("unknown", outcomeStale).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load export request: %w", err)
	}

	claimed, err := p.exports.Transition(ctx, req.ID,
		domain.ExportStatusPending, domain.ExportStatusProcessing, store.TransitionFields{})
	if errors.Is(err, store.ErrAlreadyTransitioned) || store.IsNotFoundError(err) {
		log.Debug("export request already claimed or finished, discarding job",
			slog.String("status", string(req.Status)))
		ExportsProcessed.WithLabelValues(string(req.Format), outcomeStale).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim export request: %w", err)
	}

	log = log.With(
		slog.String("user_id", claimed.UserID.String()),
		slog.String("format", string(claimed.Format)))
	ctx = logger.WithLogger(ctx, log)
	log.Info("processing export request", slog.Int("claims", claimed.Attempts))

	owner, location, renderErr := p.render(ctx, claimed)
	if renderErr != nil {
		return p.fail(ctx, claimed, job, renderErr)
	}

	completedAt := p.now()
	done, err := p.exports.Transition(ctx, claimed.ID,
		domain.ExportStatusProcessing, domain.ExportStatusCompleted,
		store.TransitionFields{ArtifactPath: location, CompletedAt: &completedAt})
	if err != nil {
		// The record stays processing; stuck recovery hands it back later.
		if _, rmErr := p.artifacts.Remove(ctx, location); rmErr != nil {
			log.Warn("failed to remove artifact of unrecorded completion",
				slog.String("error", rmErr.Error()))
		}
		return fmt.Errorf("failed to record completion: %w", err)
	}

	ExportsProcessed.WithLabelValues(string(done.Format), outcomeCompleted).Inc()
	log.Info("export request completed")
	p.notify(ctx, owner, done)
	return nil
}

// render produces and commits the artifact of a claimed request.
func (p *Processor) render(ctx context.Context, req *domain.ExportRequest) (*domain.User, string, error) {
	user, err := p.users.GetByID(ctx, req.UserID)
	if store.IsNotFoundError(err) {
		return nil, "", task.Permanent(fmt.Errorf("owner of export request: %w", err))
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load owner: %w", err)
	}

	renderer, err := p.registry.Lookup(req.Format)
	if err != nil {
		return nil, "", task.Permanent(err)
	}

	staged, err := p.artifacts.Stage(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stage artifact: %w", err)
	}

	start := time.Now()
	err = renderer.Render(ctx, OwnerFromUser(user), staged)
	RenderDuration.WithLabelValues(string(req.Format)).Observe(time.Since(start).Seconds())
	if err != nil {
		p.discard(ctx, staged)
		return nil, "", err
	}

	location, err := p.artifacts.Commit(ctx, req, staged)
	if err != nil {
		p.discard(ctx, staged)
		return nil, "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return user, location, nil
}

// fail hands a request back to the queue while attempts remain and marks it
// failed otherwise. The returned error drives the queue's retry decision.
func (p *Processor) fail(ctx context.Context, req *domain.ExportRequest, job task.Job, renderErr error) error {
	log := logger.FromContextOrDefault(ctx, p.logger)

	final := task.IsPermanent(renderErr) || job.FinalAttempt() || req.Attempts >= p.config.MaxAttempts
	if !final {
		_, err := p.exports.Transition(ctx, req.ID,
			domain.ExportStatusProcessing, domain.ExportStatusPending, store.TransitionFields{})
		if err != nil {
			log.Error("failed to reset export request for retry", slog.String("error", err.Error()))
		}
		ExportsProcessed.WithLabelValues(string(req.Format), outcomeRetried).Inc()
		log.Warn("export render failed, will retry", slog.String("error", renderErr.Error()))
		return renderErr
	}

	failedAt := p.now()
	_, err := p.exports.Transition(ctx, req.ID,
		domain.ExportStatusProcessing, domain.ExportStatusFailed,
		store.TransitionFields{Error: renderErr.Error(), CompletedAt: &failedAt})
	if err != nil {
		log.Error("failed to mark export request failed", slog.String("error", err.Error()))
	}
	ExportsProcessed.WithLabelValues(string(req.Format), outcomeFailed).Inc()
	log.Error("export render failed permanently",
		slog.String("error", renderErr.Error()),
		slog.Int("claims", req.Attempts))

	if task.IsPermanent(renderErr) {
		return renderErr
	}
	return task.Permanent(renderErr)
}

func (p *Processor) discard(ctx context.Context, staged string) {
	if err := p.artifacts.Discard(staged); err != nil {
		logger.FromContextOrDefault(ctx, p.logger).Warn("failed to discard partial artifact",
			slog.String("path", staged),
			slog.String("error", err.Error()))
	}
}

func (p *Processor) notify(ctx context.Context, user *domain.User, req *domain.ExportRequest) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	link, err := DownloadURL(p.config.PublicURL, user.Email, req.Secret)
	if err != nil {
		log.Error("failed to build download link", slog.String("error", err.Error()))
		return
	}

	err = p.notifier.NotifyExportReady(ctx, Notification{
		RequestID:   req.ID,
		To:          user.Email,
		Name:        user.Name,
		Format:      req.Format,
		DownloadURL: link,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		log.Error("failed to send export ready notification", slog.String("error", err.Error()))
	}
}

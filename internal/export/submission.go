package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
)

// SubmitterConfig holds the submission rules.
type SubmitterConfig struct {
	// TTL is the lifetime of a new request.
	TTL time.Duration
	// Cooldown is the minimum time between two submissions of one owner.
	Cooldown time.Duration
	// CooldownDisabled lifts the cooldown. Debugging only.
	CooldownDisabled bool
}

// Submitter accepts export requests and answers status queries.
type Submitter struct {
	exports  store.ExportStore
	users    store.UserStore
	queue    task.QueueWriter
	registry *Registry
	config   SubmitterConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSubmitter creates a Submitter. All dependencies are required.
func NewSubmitter(
	exports store.ExportStore,
	users store.UserStore,
	queue task.QueueWriter,
	registry *Registry,
	config SubmitterConfig,
	logger *slog.Logger,
) (*Submitter, error) {
	if exports == nil {
		return nil, errors.New("exports store cannot be nil")
	}
	if users == nil {
		return nil, errors.New("user store cannot be nil")
	}
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = domain.DefaultExportTTL
	}

	return &Submitter{
		exports:  exports,
		users:    users,
		queue:    queue,
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "export_submitter")),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit records a pending export request for userID and enqueues it.
//
// The record, the job, and the owner's cooldown mark are written in that
// order and not atomically. If enqueueing fails the record stays pending and
// reconciliation enqueues it later, so the submission still succeeds.
func (s *Submitter) Submit(ctx context.Context, userID uuid.UUID, rawFormat string) (*domain.ExportRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("user_id", userID.String()))

	format, err := domain.ParseExportFormat(rawFormat)
	if err != nil || !s.registry.Supports(format) {
		ExportsRejected.WithLabelValues("invalid_format").Inc()
		return nil, &ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("%q is not supported; use one of %v", rawFormat, s.registry.Formats()),
			Err:     domain.ErrInvalidExportFormat,
		}
	}

	now := s.now()
	if err := s.checkCooldown(ctx, userID, now); err != nil {
		return nil, err
	}

	req, err := domain.NewExportRequest(userID, format, now, s.config.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to build export request: %w", err)
	}
	if err := s.exports.Create(ctx, req); err != nil {
		log.Error("failed to create export request", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to create export request: %w", err)
	}

	if err := s.queue.Enqueue(ctx, req.ID); err != nil {
		log.Warn("failed to enqueue export request, leaving it for reconciliation",
			slog.String("export_id", req.ID.String()),
			slog.String("error", err.Error()))
	}

	if err := s.users.SetLastExportRequestedAt(ctx, userID, now); err != nil {
		// The request is already accepted; it proceeds without a cooldown.
		log.Error("failed to record export request time, cooldown not applied",
			slog.String("export_id", req.ID.String()),
			slog.String("error", err.Error()))
	}

	ExportsSubmitted.WithLabelValues(string(format)).Inc()
	log.Info("export request submitted",
		slog.String("export_id", req.ID.String()),
		slog.String("format", string(format)),
		slog.Time("expires_at", req.ExpiresAt))
	return req, nil
}

// CanRequest reports whether userID may submit now: nil, a *CooldownError,
// or store.ErrUserNotFound.
func (s *Submitter) CanRequest(ctx context.Context, userID uuid.UUID) error {
	return s.checkCooldown(ctx, userID, s.now())
}

// Latest returns the owner's most recent export request.
func (s *Submitter) Latest(ctx context.Context, userID uuid.UUID) (*domain.ExportRequest, error) {
	return s.exports.FindLatestByOwner(ctx, userID)
}

func (s *Submitter) checkCooldown(ctx context.Context, userID uuid.UUID, now time.Time) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if store.IsNotFoundError(err) {
			ExportsRejected.WithLabelValues("unknown_user").Inc()
		}
		return err
	}

	if s.config.CooldownDisabled || user.LastExportRequestedAt == nil {
		return nil
	}

	retryAt := user.CooldownEndsAt(s.config.Cooldown)
	if now.Before(retryAt) {
		ExportsRejected.WithLabelValues("cooldown").Inc()
		return &CooldownError{
			LastRequestedAt: *user.LastExportRequestedAt,
			RetryAt:         retryAt,
		}
	}
	return nil
}

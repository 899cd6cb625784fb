package export

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
)

// ReaperConfig holds configuration for the expiry reaper.
type ReaperConfig struct {
	// Interval is the period between passes. Defaults to 10 minutes.
	Interval time.Duration

	// StuckAfter is how long a request may stay processing before it is
	// reset to pending and enqueued again.
	StuckAfter time.Duration

	// OrphanGrace is how long a request may stay pending before it is
	// enqueued again.
	OrphanGrace time.Duration

	// TombstoneRetention is how long retired links are remembered.
	TombstoneRetention time.Duration

	// BatchSize bounds the records examined per reconciliation query.
	BatchSize int
}

// DefaultReaperConfig returns a ReaperConfig with reasonable defaults
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:           10 * time.Minute,
		StuckAfter:         30 * time.Minute,
		OrphanGrace:        2 * time.Minute,
		TombstoneRetention: 30 * 24 * time.Hour,
		BatchSize:          100,
	}
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	Expired      int
	FilesRemoved int
	Failures     int
	Tombstones   int64
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Orphaned int
	Stuck    int
}

// Reaper periodically deletes expired exports and hands lost or stuck
// requests back to the queue. It is safe to run on several instances.
type Reaper struct {
	exports   store.ExportStore
	artifacts ArtifactStore
	queue     task.QueueWriter
	config    ReaperConfig
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReaper creates a Reaper. Zero config values fall back to defaults.
func NewReaper(
	exports store.ExportStore,
	artifacts ArtifactStore,
	queue task.QueueWriter,
	config ReaperConfig,
	logger *slog.Logger,
) *Reaper {
	defaults := DefaultReaperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.StuckAfter <= 0 {
		config.StuckAfter = defaults.StuckAfter
	}
	if config.OrphanGrace <= 0 {
		config.OrphanGrace = defaults.OrphanGrace
	}
	if config.TombstoneRetention <= 0 {
		config.TombstoneRetention = defaults.TombstoneRetention
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Reaper{
		exports:   exports,
		artifacts: artifacts,
		queue:     queue,
		config:    config,
		logger:    logger.With(slog.String("component", "export_reaper")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a pass immediately and then every Interval until Stop is
// called or ctx is cancelled. Calling Start on a running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("export reaper started", slog.Duration("interval", r.config.Interval))
}

// Stop halts the loop and waits for an in-progress pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("export reaper stopped")
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one expiry sweep and one reconciliation pass.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := r.now()
	swept := r.Sweep(ctx, now)
	reconciled := r.Reconcile(ctx, now)

	r.logger.Info("export reaper pass finished",
		slog.Int("expired", swept.Expired),
		slog.Int("files_removed", swept.FilesRemoved),
		slog.Int("failures", swept.Failures),
		slog.Int64("tombstones_purged", swept.Tombstones),
		slog.Int("orphaned_requeued", reconciled.Orphaned),
		slog.Int("stuck_reset", reconciled.Stuck))
}

// Sweep deletes every request expired at now. A failure on one record is
// logged and the sweep moves on; the record is retried next pass.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) SweepResult {
	log := logger.FromContextOrDefault(ctx, r.logger)
	var res SweepResult

	for req, err := range r.exports.FindExpired(ctx, now) {
		if err != nil {
			log.Error("failed to list expired export requests", slog.String("error", err.Error()))
			res.Failures++
			break
		}
		if ctx.Err() != nil {
			break
		}

		removed, err := retire(ctx, r.artifacts, r.exports, req)
		if removed {
			res.FilesRemoved++
		}
		if err != nil {
			res.Failures++
			log.Error("failed to retire expired export request",
				slog.String("export_id", req.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if !removed && req.ArtifactPath != "" {
			log.Info("artifact of expired export already removed",
				slog.String("export_id", req.ID.String()))
		}

		res.Expired++
		ExportsReaped.Inc()
		log.Debug("expired export request removed",
			slog.String("export_id", req.ID.String()),
			slog.String("status", string(req.Status)))
	}

	purged, err := r.exports.PurgeTombstones(ctx, now.Add(-r.config.TombstoneRetention))
	if err != nil {
		res.Failures++
		log.Error("failed to purge export tombstones", slog.String("error", err.Error()))
	}
	res.Tombstones = purged
	return res
}

// Reconcile re-enqueues pending requests that have waited longer than
// OrphanGrace and resets requests stuck in processing longer than StuckAfter.
// Duplicate deliveries are harmless: only one claim can win.
func (r *Reaper) Reconcile(ctx context.Context, now time.Time) ReconcileResult {
	log := logger.FromContextOrDefault(ctx, r.logger)
	var res ReconcileResult

	orphans, err := r.exports.FindStale(ctx, domain.ExportStatusPending, now.Add(-r.config.OrphanGrace), r.config.BatchSize)
	if err != nil {
		log.Error("failed to find orphaned export requests", slog.String("error", err.Error()))
	}
	for _, req := range orphans {
		if err := r.queue.Enqueue(ctx, req.ID); err != nil {
			log.Error("failed to re-enqueue orphaned export request",
				slog.String("export_id", req.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		res.Orphaned++
		ExportsRecovered.WithLabelValues("orphaned").Inc()
	}

	stuck, err := r.exports.FindStale(ctx, domain.ExportStatusProcessing, now.Add(-r.config.StuckAfter), r.config.BatchSize)
	if err != nil {
		log.Error("failed to find stuck export requests", slog.String("error", err.Error()))
	}
	for _, req := range stuck {
		_, err := r.exports.Transition(ctx, req.ID,
			domain.ExportStatusProcessing, domain.ExportStatusPending, store.TransitionFields{})
		if errors.Is(err, store.ErrAlreadyTransitioned) || store.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			log.Error("failed to reset stuck export request",
				slog.String("export_id", req.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if err := r.queue.Enqueue(ctx, req.ID); err != nil {
			log.Warn("failed to enqueue reset export request, next pass retries",
				slog.String("export_id", req.ID.String()),
				slog.String("error", err.Error()))
		}
		res.Stuck++
		ExportsRecovered.WithLabelValues("stuck").Inc()
		log.Warn("reset stuck export request",
			slog.String("export_id", req.ID.String()),
			slog.Time("claimed_at", req.UpdatedAt))
	}

	return res
}

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/store"
)

// Download is an authorized, open export artifact.
type Download struct {
	Request  *domain.ExportRequest
	Artifact *Artifact
}

// Downloader authorizes download links and retires exports once served.
type Downloader struct {
	users     store.UserStore
	exports   store.ExportStore
	artifacts ArtifactStore
	logger    *slog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(
	users store.UserStore,
	exports store.ExportStore,
	artifacts ArtifactStore,
	logger *slog.Logger,
) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		users:     users,
		exports:   exports,
		artifacts: artifacts,
		logger:    logger.With(slog.String("component", "export_downloader")),
	}
}

// Open checks the email and secret of a download link and opens the
// artifact. The caller must close the artifact body and, once the transfer
// finished, call Retire.
//
// A secret that matches nothing for the owner yields ErrInvalidSecret unless
// it belonged to a request that was already retired, which yields
// ErrExportGone.
func (d *Downloader) Open(ctx context.Context, email, secret string) (*Download, error) {
	email = strings.TrimSpace(email)
	secret = strings.TrimSpace(secret)
	if email == "" || secret == "" {
		return nil, ErrMissingCredentials
	}

	owner, err := d.users.GetByEmail(ctx, email)
	if store.IsNotFoundError(err) {
		Downloads.WithLabelValues("denied").Inc()
		return nil, ErrUnknownOwner
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up owner: %w", err)
	}

	req, err := d.exports.FindByOwnerAndSecret(ctx, owner.ID, secret)
	if store.IsNotFoundError(err) {
		retired, rErr := d.exports.IsRetired(ctx, owner.ID, secret)
		if rErr != nil {
			return nil, fmt.Errorf("failed to check retired exports: %w", rErr)
		}
		if retired {
			Downloads.WithLabelValues("gone").Inc()
			return nil, ErrExportGone
		}
		Downloads.WithLabelValues("denied").Inc()
		return nil, ErrInvalidSecret
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up export request: %w", err)
	}

	if req.Status != domain.ExportStatusCompleted {
		Downloads.WithLabelValues("not_ready").Inc()
		return nil, &NotReadyError{Status: req.Status, Reason: req.Error}
	}

	artifact, err := d.artifacts.Open(ctx, req.ArtifactPath)
	if errors.Is(err, ErrArtifactNotFound) {
		Downloads.WithLabelValues("missing").Inc()
		logger.FromContextOrDefault(ctx, d.logger).Warn("completed export has no artifact",
			slog.String("export_id", req.ID.String()))
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	artifact.Name = req.ArtifactName()

	return &Download{Request: req, Artifact: artifact}, nil
}

// Retire deletes a served export.
func (d *Downloader) Retire(ctx context.Context, req *domain.ExportRequest) error {
	log := logger.FromContextOrDefault(ctx, d.logger).With(slog.String("export_id", req.ID.String()))

	removed, err := retire(ctx, d.artifacts, d.exports, req)
	if err != nil {
		return err
	}
	if !removed {
		log.Info("artifact already removed")
	}

	Downloads.WithLabelValues("served").Inc()
	log.Info("export downloaded and retired")
	return nil
}

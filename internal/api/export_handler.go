package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/api/shared"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/platform/logger"
)

// ExportService accepts export requests and answers status queries.
type ExportService interface {
	Submit(ctx context.Context, userID uuid.UUID, format string) (*domain.ExportRequest, error)
	CanRequest(ctx context.Context, userID uuid.UUID) error
	Latest(ctx context.Context, userID uuid.UUID) (*domain.ExportRequest, error)
}

// DownloadService authorizes download links and retires served exports.
type DownloadService interface {
	Open(ctx context.Context, email, secret string) (*export.Download, error)
	Retire(ctx context.Context, req *domain.ExportRequest) error
}

// submittedMessage is returned with every accepted export request.
const submittedMessage = "Your data export request has been received and is being processed. " +
	"You will receive an email with a download link once it is ready."

// ExportHandler handles export related HTTP requests.
type ExportHandler struct {
	exports   ExportService
	downloads DownloadService
	logger    *slog.Logger
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(exports ExportService, downloads DownloadService, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{
		exports:   exports,
		downloads: downloads,
		logger:    logger.With(slog.String("component", "export_handler")),
	}
}

// Submit handles POST /api/exports.
func (h *ExportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req SubmitExportRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	created, err := h.exports.Submit(r.Context(), userID, req.Format)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	resp := exportToResponse(created)
	resp.Message = submittedMessage
	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// Eligibility handles GET /api/exports/eligibility: 200 when the caller may
// submit now, 429 during the cooldown.
func (h *ExportHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	err := h.exports.CanRequest(r.Context(), userID)
	var cooldownErr *export.CooldownError
	switch {
	case err == nil:
		shared.RespondWithJSON(w, r, http.StatusOK, EligibilityResponse{Eligible: true})
	case errors.As(err, &cooldownErr):
		last, retry := cooldownErr.LastRequestedAt, cooldownErr.RetryAt
		w.Header().Set("Retry-After", retryAfterSeconds(retry))
		shared.RespondWithJSON(w, r, http.StatusTooManyRequests, EligibilityResponse{
			LastRequestedAt: &last,
			RetryAt:         &retry,
		})
	default:
		HandleAPIError(w, r, err)
	}
}

// Status handles GET /api/exports/status for the caller's latest request:
// 200 completed, 500 failed with its error text, 425 still pending or
// processing, 404 when there is none.
func (h *ExportHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	latest, err := h.exports.Latest(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	status := http.StatusTooEarly
	switch latest.Status {
	case domain.ExportStatusCompleted:
		status = http.StatusOK
	case domain.ExportStatusFailed:
		status = http.StatusInternalServerError
	}
	shared.RespondWithJSON(w, r, status, exportToResponse(latest))
}

// Download handles GET /api/exports/download?email=&secret=. The link is
// its own credential; no session is required. The export is retired only
// after the whole file was written to the client.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dl, err := h.downloads.Open(r.Context(), q.Get("email"), q.Get("secret"))
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	log := logger.FromContextOrDefault(r.Context(), h.logger).With(
		slog.String("export_id", dl.Request.ID.String()))

	w.Header().Set("Content-Type", dl.Request.Format.ContentType())
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Artifact.Name}))
	if dl.Artifact.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Artifact.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	written, copyErr := io.Copy(w, dl.Artifact.Body)
	if closeErr := dl.Artifact.Body.Close(); closeErr != nil {
		log.Warn("failed to close artifact", slog.String("error", closeErr.Error()))
	}
	if copyErr == nil && dl.Artifact.Size >= 0 && written != dl.Artifact.Size {
		copyErr = io.ErrShortWrite
	}
	if copyErr == nil {
		copyErr = r.Context().Err()
	}
	if copyErr != nil {
		log.Warn("download interrupted, export kept",
			slog.Int64("bytes_written", written),
			slog.String("error", copyErr.Error()))
		return
	}

	if err := h.downloads.Retire(context.WithoutCancel(r.Context()), dl.Request); err != nil {
		log.Error("failed to retire downloaded export", slog.String("error", err.Error()))
	}
}

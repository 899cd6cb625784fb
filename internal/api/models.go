package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// SubmitExportRequest is the body of POST /api/exports.
type SubmitExportRequest struct {
	Format string `json:"format" validate:"required"`
}

// ExportResponse describes an export request. The download secret is never
// part of it; it only travels by mail.
type ExportResponse struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	Format      string     `json:"format"`
	Error       string     `json:"error,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Message     string     `json:"message,omitempty"`
}

// EligibilityResponse is the body of GET /api/exports/eligibility.
type EligibilityResponse struct {
	Eligible        bool       `json:"eligible"`
	LastRequestedAt *time.Time `json:"last_requested_at,omitempty"`
	RetryAt         *time.Time `json:"retry_at,omitempty"`
}

func exportToResponse(req *domain.ExportRequest) ExportResponse {
	return ExportResponse{
		ID:          req.ID,
		Status:      string(req.Status),
		Format:      string(req.Format),
		Error:       req.Error,
		RequestedAt: req.RequestedAt,
		CompletedAt: req.CompletedAt,
		ExpiresAt:   req.ExpiresAt,
	}
}

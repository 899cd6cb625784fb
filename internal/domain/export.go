package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultExportTTL is how long an export request (and its artifact) lives
// after it was requested.
const DefaultExportTTL = 48 * time.Hour

// secretBytes is the amount of entropy in a download secret.
const secretBytes = 32

// ExportFormat is the output format of a data export.
type ExportFormat string

// Supported export formats
const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
	ExportFormatICS  ExportFormat = "ics"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ExportFormats lists every supported format in a stable order.
var ExportFormats = []ExportFormat{
	ExportFormatCSV,
	ExportFormatJSON,
	ExportFormatICS,
	ExportFormatXLSX,
}

// ParseExportFormat normalizes raw user input into an ExportFormat.
func ParseExportFormat(raw string) (ExportFormat, error) {
	f := ExportFormat(strings.ToLower(strings.TrimSpace(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidExportFormat, raw)
	}
	return f, nil
}

// Valid reports whether f is one of the supported formats.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatCSV, ExportFormatJSON, ExportFormatICS, ExportFormatXLSX:
		return true
	default:
		return false
	}
}

// ArtifactSuffix is appended to the request id to form the artifact file name.
func (f ExportFormat) ArtifactSuffix() string {
	if f == ExportFormatICS {
		return "_workouts.ics"
	}
	return "_data." + string(f)
}

// ContentType is the MIME type served for artifacts of this format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatJSON:
		return "application/json"
	case ExportFormatICS:
		return "text/calendar"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// ExportStatus represents the processing state of an export request.
type ExportStatus string

// Possible export status values
const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// Terminal reports whether no further transition can leave this status.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusCompleted || s == ExportStatusFailed
}

// Valid reports whether s is a known status.
func (s ExportStatus) Valid() bool {
	switch s {
	case ExportStatusPending, ExportStatusProcessing, ExportStatusCompleted, ExportStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an export request may move from one status
// to another. processing -> pending is only used to hand a request back to
// the queue (retry or stuck recovery).
func CanTransition(from, to ExportStatus) bool {
	switch from {
	case ExportStatusPending:
		return to == ExportStatusProcessing
	case ExportStatusProcessing:
		return to == ExportStatusCompleted || to == ExportStatusFailed || to == ExportStatusPending
	default:
		return false
	}
}

// Validation errors for ExportRequest
var (
	ErrEmptyExportID        = errors.New("export request ID cannot be empty")
	ErrEmptyExportUserID    = errors.New("export request user ID cannot be empty")
	ErrEmptyExportSecret    = errors.New("export request secret cannot be empty")
	ErrArtifactOnIncomplete = errors.New("artifact path is only allowed on completed requests")
	ErrMissingArtifact      = errors.New("completed export request must have an artifact path")
	ErrErrorOnNonFailed     = errors.New("error text is only allowed on failed requests")
	ErrExpiryBeforeCreate   = errors.New("export request expires before it was requested")
)

// ExportRequest is a user's asynchronous request for a copy of their data.
// Secret is the download capability mailed to the owner; it is never
// serialized into API responses.
type ExportRequest struct {
	ID           uuid.UUID    `json:"id"`
	UserID       uuid.UUID    `json:"user_id"`
	Format       ExportFormat `json:"format"`
	Status       ExportStatus `json:"status"`
	Secret       string       `json:"-"`
	ArtifactPath string       `json:"-"`
	Error        string       `json:"error,omitempty"`
	Attempts     int          `json:"attempts"`
	RequestedAt  time.Time    `json:"requested_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// NewExportRequest creates a pending export request with a fresh id and
// download secret. ttl <= 0 selects DefaultExportTTL.
func NewExportRequest(userID uuid.UUID, format ExportFormat, now time.Time, ttl time.Duration) (*ExportRequest, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExportFormat, format)
	}
	if ttl <= 0 {
		ttl = DefaultExportTTL
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	req := &ExportRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Format:      format,
		Status:      ExportStatusPending,
		Secret:      secret,
		RequestedAt: now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// NewSecret returns a hex encoded random download secret.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate export secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Validate checks the record invariants.
func (r *ExportRequest) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyExportID
	}
	if r.UserID == uuid.Nil {
		return ErrEmptyExportUserID
	}
	if r.Secret == "" {
		return ErrEmptyExportSecret
	}
	if !r.Format.Valid() {
		return ErrInvalidExportFormat
	}
	if !r.Status.Valid() {
		return ErrInvalidExportStatus
	}
	if r.ExpiresAt.Before(r.RequestedAt) {
		return ErrExpiryBeforeCreate
	}

	switch r.Status {
	case ExportStatusCompleted:
		if r.ArtifactPath == "" {
			return ErrMissingArtifact
		}
		if r.Error != "" {
			return ErrErrorOnNonFailed
		}
	case ExportStatusFailed:
		if r.ArtifactPath != "" {
			return ErrArtifactOnIncomplete
		}
	default:
		if r.ArtifactPath != "" {
			return ErrArtifactOnIncomplete
		}
		if r.Error != "" {
			return ErrErrorOnNonFailed
		}
	}
	return nil
}

// Expired reports whether the request's lifetime ended before now.
func (r *ExportRequest) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// ArtifactName is the file name the artifact is served under.
func (r *ExportRequest) ArtifactName() string {
	return r.ID.String() + r.Format.ArtifactSuffix()
}

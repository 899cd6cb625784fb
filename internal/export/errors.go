package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/ion606/workout-api/internal/domain"
)

// Download gate errors. Each maps to a distinct HTTP status.
var (
	ErrMissingCredentials = errors.New("email and secret are required")
	ErrUnknownOwner       = errors.New("no user with that email")
	ErrInvalidSecret      = errors.New("secret does not match any export request")
	ErrExportGone         = errors.New("export was already downloaded or has expired")
	ErrArtifactNotFound   = errors.New("export file not found")
)

// ErrUnsupportedFormat is returned when no renderer is registered for a format.
var ErrUnsupportedFormat = errors.New("no renderer registered for format")

// ValidationError reports bad caller input. Nothing was changed.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CooldownError is returned when the owner requested an export too recently.
type CooldownError struct {
	LastRequestedAt time.Time
	RetryAt         time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("an export was already requested at %s; next request allowed after %s",
		e.LastRequestedAt.UTC().Format(time.RFC3339), e.RetryAt.UTC().Format(time.RFC3339))
}

// NotReadyError is returned when a download is attempted before the export
// completed. Reason carries the stored error text of a failed request.
type NotReadyError struct {
	Status domain.ExportStatus
	Reason string
}

func (e *NotReadyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("export request is currently %q: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("export request is currently %q", e.Status)
}

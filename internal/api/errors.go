package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ion606/workout-api/internal/api/shared"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/service/auth"
	"github.com/ion606/workout-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	var validationErr *export.ValidationError
	var cooldownErr *export.CooldownError
	var notReadyErr *export.NotReadyError

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, export.ErrMissingCredentials),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.As(err, &notReadyErr),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized

	case errors.Is(err, export.ErrInvalidSecret):
		return http.StatusForbidden

	case errors.Is(err, export.ErrUnknownOwner),
		errors.Is(err, export.ErrExportGone),
		errors.Is(err, export.ErrArtifactNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrExportNotFound):
		return http.StatusNotFound

	case errors.As(err, &cooldownErr):
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client facing message for err.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErr *export.ValidationError
	var cooldownErr *export.CooldownError
	var notReadyErr *export.NotReadyError

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &cooldownErr):
		return fmt.Sprintf("You have already requested your data on %s. Please try again after %s.",
			cooldownErr.LastRequestedAt.UTC().Format(time.RFC3339),
			cooldownErr.RetryAt.UTC().Format(time.RFC3339))
	case errors.As(err, &notReadyErr):
		msg := fmt.Sprintf("Your export request is currently %q. Please wait until it is completed.", notReadyErr.Status)
		if notReadyErr.Reason != "" {
			msg = fmt.Sprintf("Your export request is currently %q: %s", notReadyErr.Status, notReadyErr.Reason)
		}
		return msg
	case errors.Is(err, export.ErrMissingCredentials):
		return "Missing required query parameters \"email\" and \"secret\""
	case errors.Is(err, export.ErrUnknownOwner),
		errors.Is(err, store.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, export.ErrInvalidSecret):
		return "Invalid secret or export request not found"
	case errors.Is(err, export.ErrExportGone):
		return "This export was already downloaded or has expired"
	case errors.Is(err, export.ErrArtifactNotFound):
		return "File not found"
	case errors.Is(err, store.ErrExportNotFound):
		return "No export request found"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid token"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns a validator error into a short message
// naming the field.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Format: "Key: 'SubmitExportRequest.Format' Error:Field validation for 'Format' failed on the 'required' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := strings.ToLower(fieldParts[1])
				if len(fieldParts) >= 5 {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(fieldParts[3]))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}
	return "Validation error"
}

func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err and logs the
// redacted detail. A cooldown also sets Retry-After.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status := MapErrorToStatusCode(err)

	var cooldownErr *export.CooldownError
	if errors.As(err, &cooldownErr) {
		w.Header().Set("Retry-After", retryAfterSeconds(cooldownErr.RetryAt))
	}

	var opts []shared.ResponseOption
	if status == http.StatusForbidden {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err, opts...)
}

func retryAfterSeconds(at time.Time) string {
	secs := math.Ceil(time.Until(at).Seconds())
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(int64(secs), 10)
}

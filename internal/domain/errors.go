package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidExportFormat is returned for a format outside the supported set.
	ErrInvalidExportFormat = errors.New("invalid export format")

	// ErrInvalidExportStatus is returned when an export status is not valid.
	ErrInvalidExportStatus = errors.New("invalid export status")
)

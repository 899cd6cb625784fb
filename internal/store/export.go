package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// TransitionFields carries the columns written alongside a status change.
// Zero values leave the column cleared: artifact and error are only kept for
// the status that owns them.
type TransitionFields struct {
	ArtifactPath string
	Error        string
	CompletedAt  *time.Time
}

// ExportStore defines the persistence contract for export requests.
// Every status change goes through Transition, which is the only guard
// against two workers processing the same request.
type ExportStore interface {
	// Create persists a new pending export request.
	// Returns ErrInvalidEntity if the request fails validation and
	// ErrDuplicate if its id or secret collides.
	Create(ctx context.Context, req *domain.ExportRequest) error

	// GetByID retrieves an export request by id.
	// Returns ErrExportNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExportRequest, error)

	// Transition atomically moves a request from one status to another and
	// returns the updated record. If the stored status is not from, nothing
	// changes and ErrAlreadyTransitioned is returned; a missing record yields
	// ErrExportNotFound. Illegal status pairs yield ErrInvalidEntity.
	// Moving to processing increments the attempt counter.
	Transition(
		ctx context.Context,
		id uuid.UUID,
		from, to domain.ExportStatus,
		fields TransitionFields,
	) (*domain.ExportRequest, error)

	// FindByOwnerAndSecret returns the request matching both the owner and
	// the download secret, or ErrExportNotFound.
	FindByOwnerAndSecret(ctx context.Context, userID uuid.UUID, secret string) (*domain.ExportRequest, error)

	// FindLatestByOwner returns the owner's most recent request, or ErrExportNotFound.
	FindLatestByOwner(ctx context.Context, userID uuid.UUID) (*domain.ExportRequest, error)

	// Delete removes a request and records a tombstone for its secret.
	// Deleting an absent request succeeds.
	Delete(ctx context.Context, id uuid.UUID) error

	// IsRetired reports whether a request matching owner and secret was
	// deleted and its tombstone is still retained.
	IsRetired(ctx context.Context, userID uuid.UUID, secret string) (bool, error)

	// PurgeTombstones drops tombstones recorded before the given time and
	// returns how many were removed.
	PurgeTombstones(ctx context.Context, before time.Time) (int64, error)

	// FindExpired lazily yields every request whose expiry is strictly before now.
	// The sequence is finite and may be iterated again from the start.
	FindExpired(ctx context.Context, now time.Time) iter.Seq2[*domain.ExportRequest, error]

	// FindStale returns up to limit requests in the given status whose last
	// transition happened before updatedBefore, oldest first.
	FindStale(
		ctx context.Context,
		status domain.ExportStatus,
		updatedBefore time.Time,
		limit int,
	) ([]*domain.ExportRequest, error)
}

// ValidateTransition checks a status change and its accompanying fields
// against the lifecycle rules shared by every ExportStore implementation.
func ValidateTransition(from, to domain.ExportStatus, fields TransitionFields) error {
	if !domain.CanTransition(from, to) {
		return NewStoreError("export_request", "transition",
			string(from)+" -> "+string(to), ErrInvalidEntity)
	}
	if to == domain.ExportStatusCompleted && fields.ArtifactPath == "" {
		return NewStoreError("export_request", "transition",
			"completed requires an artifact path", ErrInvalidEntity)
	}
	if to != domain.ExportStatusCompleted && fields.ArtifactPath != "" {
		return NewStoreError("export_request", "transition",
			"artifact path is only stored on completion", ErrInvalidEntity)
	}
	if to != domain.ExportStatusFailed && fields.Error != "" {
		return NewStoreError("export_request", "transition",
			"error text is only stored on failure", ErrInvalidEntity)
	}
	return nil
}

// SecretDigest is the tombstone key of a download secret: hex encoded SHA-256.
func SecretDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

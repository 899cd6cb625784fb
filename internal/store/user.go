package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// UserStore defines the operations the export pipeline needs on user profiles.
// Account management lives elsewhere; this is a narrow read/mark interface.
type UserStore interface {
	// Create saves a new user. Returns ErrDuplicate if the email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by id. Returns ErrUserNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrUserNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// SetLastExportRequestedAt records when the user last submitted an export.
	// Returns ErrUserNotFound if absent.
	SetLastExportRequestedAt(ctx context.Context, id uuid.UUID, at time.Time) error
}

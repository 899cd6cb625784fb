package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors
var (
	ErrEmptyUserID  = errors.New("user ID cannot be empty")
	ErrEmptyEmail   = errors.New("email cannot be empty")
	ErrInvalidEmail = errors.New("invalid email format")
)

// User is the subset of a profile the export pipeline needs: who to mail and
// when they last asked for an export.
type User struct {
	ID                    uuid.UUID  `json:"id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	LastExportRequestedAt *time.Time `json:"last_export_requested_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// NewUser creates a user with a fresh id and timestamps.
func NewUser(email, name string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		ID:        uuid.New(),
		Email:     strings.TrimSpace(email),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	return user, nil
}

// Validate checks if the User has valid data.
func (u *User) Validate() error {
	if u.ID == uuid.Nil {
		return ErrEmptyUserID
	}
	if u.Email == "" {
		return ErrEmptyEmail
	}
	at := strings.IndexByte(u.Email, '@')
	if at <= 0 || at == len(u.Email)-1 || !strings.Contains(u.Email[at+1:], ".") {
		return ErrInvalidEmail
	}
	return nil
}

// CooldownEndsAt returns when the user may next request an export, or the
// zero time if they have never requested one.
func (u *User) CooldownEndsAt(cooldown time.Duration) time.Time {
	if u.LastExportRequestedAt == nil {
		return time.Time{}
	}
	return u.LastExportRequestedAt.Add(cooldown)
}

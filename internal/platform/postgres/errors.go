package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ion606/workout-api/internal/store"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is raised when an insert repeats a primary key,
	// for example a reused export id or user email.
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is raised when a row references a missing
	// user, such as an export request for a deleted account.
	foreignKeyViolationCode = "23503"

	// checkViolationCode is raised by the status and format CHECK constraints.
	checkViolationCode = "23514"

	// notNullViolationCode is raised when a required column is left NULL.
	notNullViolationCode = "23502"
)

// MapError maps a database error to the matching store error, keeping the
// original in the chain for logging. Every query in this package passes its
// error through here so callers can test with the store sentinels.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	// Generic database/sql errors
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	// PostgreSQL constraint errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case foreignKeyViolationCode:
			return fmt.Errorf("%w: foreign key violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case notNullViolationCode:
			return fmt.Errorf("%w: not null violation (%s): %v",
				store.ErrInvalidEntity, pgErr.ColumnName, err)
		}
	}

	// Anything else (connection loss, syntax, cancellation) passes through
	return err
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
// Create uses it to report duplicate ids as store.ErrDuplicate.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CheckRowsAffected returns store.ErrNotFound when an UPDATE or DELETE
// touched no rows. entityName, if set, is included in the message.
func CheckRowsAffected(result sql.Result, entityName string) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if entityName == "" {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %s not found", store.ErrNotFound, entityName)
	}
	return nil
}

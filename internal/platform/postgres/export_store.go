package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/store"
)

// expiredPageSize bounds how many expired records are held in memory at once.
const expiredPageSize = 100

const exportColumns = `id, user_id, format, status, secret, artifact_path, error, attempts,
	requested_at, updated_at, completed_at, expires_at`

// PostgresExportStore implements the store.ExportStore interface using PostgreSQL.
type PostgresExportStore struct {
	db       store.DBTX
	logger   *slog.Logger
	pageSize int
}

var _ store.ExportStore = (*PostgresExportStore)(nil)

// NewPostgresExportStore creates a new PostgreSQL-backed export request store.
func NewPostgresExportStore(db store.DBTX, logger *slog.Logger) *PostgresExportStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresExportStore{
		db:       db,
		logger:   logger.With(slog.String("component", "export_store")),
		pageSize: expiredPageSize,
	}
}

// Create implements store.ExportStore.
func (s *PostgresExportStore) Create(ctx context.Context, req *domain.ExportRequest) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := req.Validate(); err != nil {
		log.Warn("export request failed validation before creation",
			slog.String("export_id", req.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO export_requests (` + exportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.UserID,
		string(req.Format),
		string(req.Status),
		req.Secret,
		nullString(req.ArtifactPath),
		nullString(req.Error),
		req.Attempts,
		req.RequestedAt,
		req.UpdatedAt,
		nullTime(req.CompletedAt),
		req.ExpiresAt,
	)
	if err != nil {
		log.Error("failed to insert export request",
			slog.String("export_id", req.ID.String()),
			slog.String("user_id", req.UserID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("export request created",
		slog.String("export_id", req.ID.String()),
		slog.String("format", string(req.Format)))
	return nil
}

// GetByID implements store.ExportStore.
func (s *PostgresExportStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExportRequest, error) {
	query := `SELECT ` + exportColumns + ` FROM export_requests WHERE id = $1`
	req, err := scanExport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrExportNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return req, nil
}

// Transition implements store.ExportStore. The WHERE clause on the source
// status makes the update a compare-and-set: at most one caller wins.
func (s *PostgresExportStore) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.ExportStatus,
	fields store.TransitionFields,
) (*domain.ExportRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := store.ValidateTransition(from, to, fields); err != nil {
		return nil, err
	}

	attemptInc := 0
	if to == domain.ExportStatusProcessing {
		attemptInc = 1
	}

	query := `
		UPDATE export_requests
		SET status = $3,
			artifact_path = $4,
			error = $5,
			completed_at = $6,
			updated_at = $7,
			attempts = attempts + $8
		WHERE id = $1 AND status = $2
		RETURNING ` + exportColumns

	req, err := scanExport(s.db.QueryRowContext(ctx, query,
		id,
		string(from),
		string(to),
		nullString(fields.ArtifactPath),
		nullString(fields.Error),
		nullTime(fields.CompletedAt),
		time.Now().UTC(),
		attemptInc,
	))
	if err == nil {
		log.Debug("export request transitioned",
			slog.String("export_id", id.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to transition export request",
			slog.String("export_id", id.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM export_requests WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, MapError(err)
	}
	if !exists {
		return nil, store.ErrExportNotFound
	}
	return nil, store.ErrAlreadyTransitioned
}

// FindByOwnerAndSecret implements store.ExportStore.
func (s *PostgresExportStore) FindByOwnerAndSecret(
	ctx context.Context,
	userID uuid.UUID,
	secret string,
) (*domain.ExportRequest, error) {
	query := `SELECT ` + exportColumns + ` FROM export_requests WHERE user_id = $1 AND secret = $2`
	req, err := scanExport(s.db.QueryRowContext(ctx, query, userID, secret))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrExportNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return req, nil
}

// FindLatestByOwner implements store.ExportStore.
func (s *PostgresExportStore) FindLatestByOwner(ctx context.Context, userID uuid.UUID) (*domain.ExportRequest, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM export_requests
		WHERE user_id = $1
		ORDER BY requested_at DESC, id DESC
		LIMIT 1
	`
	req, err := scanExport(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrExportNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return req, nil
}

// Delete implements store.ExportStore. The record and its tombstone are
// written in one statement.
func (s *PostgresExportStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		WITH gone AS (
			DELETE FROM export_requests WHERE id = $1
			RETURNING user_id, secret
		)
		INSERT INTO export_tombstones (secret_hash, user_id, retired_at)
		SELECT encode(sha256(convert_to(gone.secret, 'UTF8')), 'hex'), gone.user_id, NOW()
		FROM gone
		ON CONFLICT (secret_hash) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		log.Error("failed to delete export request",
			slog.String("export_id", id.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		log.Debug("export request already deleted", slog.String("export_id", id.String()))
	}
	return nil
}

// IsRetired implements store.ExportStore.
func (s *PostgresExportStore) IsRetired(ctx context.Context, userID uuid.UUID, secret string) (bool, error) {
	var retired bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM export_tombstones WHERE secret_hash = $1 AND user_id = $2)`,
		store.SecretDigest(secret), userID,
	).Scan(&retired)
	if err != nil {
		return false, MapError(err)
	}
	return retired, nil
}

// PurgeTombstones implements store.ExportStore.
func (s *PostgresExportStore) PurgeTombstones(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM export_tombstones WHERE retired_at < $1`, before)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// FindExpired implements store.ExportStore. Records are fetched in keyset
// pages so callers may delete while iterating, even inside a transaction.
func (s *PostgresExportStore) FindExpired(ctx context.Context, now time.Time) iter.Seq2[*domain.ExportRequest, error] {
	return func(yield func(*domain.ExportRequest, error) bool) {
		var afterExpires time.Time
		afterID := uuid.Nil

		for {
			page, err := s.expiredPage(ctx, now, afterExpires, afterID)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, req := range page {
				if !yield(req, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			afterExpires, afterID = last.ExpiresAt, last.ID
		}
	}
}

func (s *PostgresExportStore) expiredPage(
	ctx context.Context,
	now time.Time,
	afterExpires time.Time,
	afterID uuid.UUID,
) ([]*domain.ExportRequest, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM export_requests
		WHERE expires_at < $1 AND (expires_at, id) > ($2, $3)
		ORDER BY expires_at, id
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, now, afterExpires, afterID, s.pageSize)
	if err != nil {
		return nil, MapError(err)
	}
	return collectExports(rows)
}

// FindStale implements store.ExportStore.
func (s *PostgresExportStore) FindStale(
	ctx context.Context,
	status domain.ExportStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.ExportRequest, error) {
	query := `
		SELECT ` + exportColumns + `
		FROM export_requests
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), updatedBefore, limit)
	if err != nil {
		return nil, MapError(err)
	}
	return collectExports(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExport(row rowScanner) (*domain.ExportRequest, error) {
	var (
		req       domain.ExportRequest
		format    string
		status    string
		artifact  sql.NullString
		errText   sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&format,
		&status,
		&req.Secret,
		&artifact,
		&errText,
		&req.Attempts,
		&req.RequestedAt,
		&req.UpdatedAt,
		&completed,
		&req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	req.Format = domain.ExportFormat(format)
	req.Status = domain.ExportStatus(status)
	req.ArtifactPath = artifact.String
	req.Error = errText.String
	if completed.Valid {
		t := completed.Time.UTC()
		req.CompletedAt = &t
	}
	req.RequestedAt = req.RequestedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	return &req, nil
}

func collectExports(rows *sql.Rows) ([]*domain.ExportRequest, error) {
	defer func() { _ = rows.Close() }()

	var out []*domain.ExportRequest
	for rows.Next() {
		req, err := scanExport(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

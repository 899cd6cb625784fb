package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/render"
	"github.com/ion606/workout-api/internal/store"
)

// PostgresDatasetSource loads export datasets from the users and workouts tables.
type PostgresDatasetSource struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ render.DatasetSource = (*PostgresDatasetSource)(nil)

// NewPostgresDatasetSource creates a dataset source over db.
func NewPostgresDatasetSource(db store.DBTX, logger *slog.Logger) *PostgresDatasetSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresDatasetSource{
		db:     db,
		logger: logger.With(slog.String("component", "dataset_source")),
	}
}

// LoadDataset implements render.DatasetSource. Credentials and internal
// columns are never selected. When the source holds a connection pool, the
// profile and workouts are read from one snapshot.
func (s *PostgresDatasetSource) LoadDataset(ctx context.Context, userID uuid.UUID) (*render.Dataset, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("user_id", userID.String()))

	var (
		profile  *render.Profile
		workouts []render.Workout
	)
	load := func(ctx context.Context, q store.DBTX) error {
		var err error
		if profile, err = s.profile(ctx, q, userID); err != nil {
			if !errors.Is(err, store.ErrUserNotFound) {
				log.Error("failed to load export profile", slog.String("error", err.Error()))
			}
			return err
		}
		if workouts, err = s.workouts(ctx, q, userID); err != nil {
			log.Error("failed to load export workouts", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	var err error
	if pool, ok := s.db.(store.TxBeginner); ok {
		err = store.RunInTransaction(ctx, pool, store.SnapshotTxOptions, func(ctx context.Context, tx *sql.Tx) error {
			return load(ctx, tx)
		})
	} else {
		err = load(ctx, s.db)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("loaded export dataset", slog.Int("workouts", len(workouts)))
	return &render.Dataset{
		Version:    render.DatasetVersion,
		ExportedAt: time.Now().UTC(),
		Profile:    *profile,
		Workouts:   workouts,
	}, nil
}

func (s *PostgresDatasetSource) profile(ctx context.Context, q store.DBTX, userID uuid.UUID) (*render.Profile, error) {
	var (
		p      render.Profile
		age    sql.NullInt64
		height sql.NullFloat64
		weight sql.NullFloat64
		prefs  []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT email, name, age, gender, height_cm::float8, weight::float8, weight_unit,
			fitness_goal, preferred_workout_type, comfort_level, preferences, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&p.Email, &p.Name, &age, &p.Gender, &height, &weight, &p.WeightUnit,
		&p.FitnessGoal, &p.PreferredWorkoutType, &p.ComfortLevel, &prefs, &p.MemberSince,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	if height.Valid {
		p.HeightCM = &height.Float64
	}
	if weight.Valid {
		p.Weight = &weight.Float64
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to decode preferences: %w", err)
		}
	}
	p.MemberSince = p.MemberSince.UTC()
	return &p, nil
}

func (s *PostgresDatasetSource) workouts(ctx context.Context, q store.DBTX, userID uuid.UUID) ([]render.Workout, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, total_time_minutes::float8, workout_time_minutes::float8,
			rest_time_minutes::float8, calories::float8, supersets, created_at, updated_at
		FROM workouts
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	workouts := []render.Workout{}
	for rows.Next() {
		var (
			w         render.Workout
			supersets []byte
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.TotalTimeMinutes, &w.WorkoutTimeMinutes,
			&w.RestTimeMinutes, &w.Calories, &supersets, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, MapError(err)
		}
		if err := json.Unmarshal(supersets, &w.Supersets); err != nil {
			return nil, fmt.Errorf("failed to decode supersets of workout %s: %w", w.ID, err)
		}
		w.CreatedAt = w.CreatedAt.UTC()
		w.UpdatedAt = w.UpdatedAt.UTC()
		workouts = append(workouts, w)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return workouts, nil
}

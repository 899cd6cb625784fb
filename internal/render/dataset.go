package render

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DatasetVersion is the schema version stamped into structured exports.
const DatasetVersion = "1.0"

// Dataset is everything exported for one owner.
type Dataset struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"export_date"`
	Profile    Profile   `json:"user"`
	Workouts   []Workout `json:"workouts"`
}

// Profile is the owner's personal data. Credentials and internal flags are
// never part of it.
type Profile struct {
	Email                string       `json:"email"`
	Name                 string       `json:"name"`
	Age                  *int         `json:"age,omitempty"`
	Gender               string       `json:"gender,omitempty"`
	HeightCM             *float64     `json:"height_cm,omitempty"`
	Weight               *float64     `json:"weight,omitempty"`
	WeightUnit           string       `json:"weight_unit,omitempty"`
	FitnessGoal          string       `json:"fitness_goal,omitempty"`
	PreferredWorkoutType string       `json:"preferred_workout_type,omitempty"`
	ComfortLevel         string       `json:"comfort_level,omitempty"`
	Preferences          []Preference `json:"preferences,omitempty"`
	MemberSince          time.Time    `json:"member_since"`
}

// Preference is one flattened settings entry, such as
// {"notifications", "weekly_summary", "true"}.
type Preference struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// Workout is one logged session.
type Workout struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	TotalTimeMinutes   float64    `json:"total_time"`
	WorkoutTimeMinutes float64    `json:"workout_time"`
	RestTimeMinutes    float64    `json:"rest_time"`
	Calories           float64    `json:"calories"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Supersets          []Superset `json:"supersets"`
}

// Superset groups exercises performed back to back.
type Superset struct {
	RestTimeMinutes float64    `json:"rest_time"`
	Exercises       []Exercise `json:"exercises"`
}

// Exercise is one exercise inside a superset with its per-set results.
type Exercise struct {
	ExerciseID      string    `json:"exercise_id"`
	Title           string    `json:"title"`
	Sets            int       `json:"sets"`
	SetsDone        int       `json:"sets_done"`
	Values          []float64 `json:"values"`
	Weights         []float64 `json:"weights"`
	RestTimeMinutes float64   `json:"rest_time"`
	MeasureType     string    `json:"measure_type"`
}

// DatasetSource loads an owner's data. A missing owner is reported with
// store.ErrUserNotFound.
type DatasetSource interface {
	LoadDataset(ctx context.Context, userID uuid.UUID) (*Dataset, error)
}

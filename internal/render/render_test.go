package render

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type staticSource map[uuid.UUID]*Dataset

func (s staticSource) LoadDataset(_ context.Context, userID uuid.UUID) (*Dataset, error) {
	ds, ok := s[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return ds, nil
}

func sampleDataset() *Dataset {
	age := 31
	logged := time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)
	return &Dataset{
		Version:    DatasetVersion,
		ExportedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		Profile: Profile{
			Email:       "ana@example.com",
			Name:        "Ana",
			Age:         &age,
			WeightUnit:  "kg",
			Preferences: []Preference{{Category: "notifications", Key: "weekly_summary", Value: "true"}},
			MemberSince: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Workouts: []Workout{
			{
				ID:                 uuid.MustParse("6f1c2d1e-2b4a-4c1e-9d7e-0a1b2c3d4e5f"),
				Name:               "Leg day",
				TotalTimeMinutes:   60,
				WorkoutTimeMinutes: 45,
				RestTimeMinutes:    15,
				Calories:           420.5,
				CreatedAt:          logged,
				UpdatedAt:          logged,
				Supersets: []Superset{{
					RestTimeMinutes: 2,
					Exercises: []Exercise{
						{ExerciseID: "squat", Title: "Back squat", Sets: 3, SetsDone: 3,
							Values: []float64{5, 5, 5}, Weights: []float64{100, 105, 110}, MeasureType: "reps"},
						{ExerciseID: "lunge", Title: "Walking lunge", Sets: 2, SetsDone: 1,
							Values: []float64{12}, MeasureType: "reps"},
					},
				}},
			},
			{
				ID:        uuid.MustParse("0b7e1f3a-9c55-4a8b-8e0f-5d6c7b8a9f10"),
				CreatedAt: logged.Add(24 * time.Hour),
				UpdatedAt: logged.Add(24 * time.Hour),
			},
		},
	}
}

func TestEncodeJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, sampleDataset()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, DatasetVersion, decoded["version"])
	assert.Contains(t, decoded, "export_date")

	user := decoded["user"].(map[string]any)
	assert.Equal(t, "ana@example.com", user["email"])
	assert.NotContains(t, user, "password")
	assert.Len(t, decoded["workouts"], 2)
}

func TestEncodeJSON_EmptyWorkoutsIsArray(t *testing.T) {
	t.Parallel()

	ds := sampleDataset()
	ds.Workouts = nil

	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, ds))
	assert.Contains(t, buf.String(), `"workouts": []`)
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, sampleDataset()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	// header, two exercise rows, one row for the empty workout
	require.Len(t, rows, 4)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, "Leg day", rows[1][1])
	assert.Equal(t, "Back squat", rows[1][10])
	assert.Equal(t, "100;105;110", rows[1][15])
	assert.Equal(t, "Walking lunge", rows[2][10])
	assert.Equal(t, "", rows[3][10])
	for _, row := range rows {
		assert.Len(t, row, len(CSVHeader))
	}
}

func TestEncodeICS(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeICS(&buf, sampleDataset()))

	cal, err := ics.ParseCalendar(strings.NewReader(buf.String()))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "6f1c2d1e-2b4a-4c1e-9d7e-0a1b2c3d4e5f", events[0].Id())
	assert.Equal(t, "Leg day", events[0].GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "unnamed workout", events[1].GetProperty(ics.ComponentPropertySummary).Value)

	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	end, err := events[0].GetEndAt()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, end.Sub(start))
}

func TestEncodeICS_NoWorkouts(t *testing.T) {
	t.Parallel()

	ds := sampleDataset()
	ds.Workouts = nil

	var buf bytes.Buffer
	require.NoError(t, EncodeICS(&buf, ds))
	assert.Contains(t, buf.String(), "BEGIN:VCALENDAR")
	assert.NotContains(t, buf.String(), "BEGIN:VEVENT")
}

func TestEncodeXLSX(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, EncodeXLSX(&buf, sampleDataset()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t,
		[]string{SheetProfile, SheetPreferences, SheetWorkouts, SheetSupersets, SheetExercises},
		f.GetSheetList())

	profile, err := f.GetRows(SheetProfile)
	require.NoError(t, err)
	assert.Equal(t, []string{"Field", "Value"}, profile[0])
	assert.Equal(t, []string{"email", "ana@example.com"}, profile[1])

	workouts, err := f.GetRows(SheetWorkouts)
	require.NoError(t, err)
	assert.Len(t, workouts, 3)
	assert.Equal(t, "Leg day", workouts[1][1])

	exercises, err := f.GetRows(SheetExercises)
	require.NoError(t, err)
	require.Len(t, exercises, 3)
	assert.Equal(t, "Back squat", exercises[1][3])

	prefs, err := f.GetRows(SheetPreferences)
	require.NoError(t, err)
	assert.Equal(t, []string{"notifications", "weekly_summary", "true"}, prefs[1])
}

func TestRenderer_Render(t *testing.T) {
	t.Parallel()

	owner := export.Owner{ID: uuid.New(), Email: "ana@example.com"}
	renderer := NewRenderer(staticSource{owner.ID: sampleDataset()}, EncoderFunc(EncodeJSON))

	out := filepath.Join(t.TempDir(), "export_data.json")
	require.NoError(t, renderer.Render(context.Background(), owner, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestRenderer_UnknownOwnerIsPermanent(t *testing.T) {
	t.Parallel()

	renderer := NewRenderer(staticSource{}, EncoderFunc(EncodeJSON))
	out := filepath.Join(t.TempDir(), "export_data.json")

	err := renderer.Render(context.Background(), export.Owner{ID: uuid.New()}, out)
	require.Error(t, err)
	assert.True(t, task.IsPermanent(err))
	assert.ErrorIs(t, err, store.ErrUserNotFound)
	assert.NoFileExists(t, out)
}

func TestWriteAtomic_FailureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := filepath.Join(dir, "export_data.csv")

	err := WriteAtomic(out, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encoder broke")
	})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegisterDefaults(t *testing.T) {
	t.Parallel()

	reg := export.NewRegistry()
	require.NoError(t, RegisterDefaults(reg, staticSource{}))
	assert.Equal(t, domain.ExportFormats, reg.Formats())

	assert.Error(t, RegisterDefaults(reg, staticSource{}), "second registration must collide")
	assert.Error(t, RegisterDefaults(export.NewRegistry(), nil))
}

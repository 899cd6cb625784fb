package render

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sheet names of an XLSX export, in workbook order.
const (
	SheetProfile     = "User Profile"
	SheetPreferences = "Preferences"
	SheetWorkouts    = "Workouts"
	SheetSupersets   = "Supersets"
	SheetExercises   = "ExercisesInSupersets"
)

type sheet struct {
	name   string
	header []any
	rows   [][]any
}

// EncodeXLSX writes a workbook with the profile, preferences, workouts,
// supersets and exercises on separate sheets.
func EncodeXLSX(w io.Writer, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := workbookSheets(ds)
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		if err := writeSheet(f, s); err != nil {
			return fmt.Errorf("sheet %q: %w", s.name, err)
		}
	}
	f.SetActiveSheet(0)

	return f.Write(w)
}

func writeSheet(f *excelize.File, s sheet) error {
	rows := append([][]any{s.header}, s.rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(s.name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func workbookSheets(ds *Dataset) []sheet {
	p := ds.Profile
	profile := sheet{
		name:   SheetProfile,
		header: []any{"Field", "Value"},
		rows: [][]any{
			{"email", p.Email},
			{"name", p.Name},
			{"age", optionalInt(p.Age)},
			{"gender", p.Gender},
			{"height_cm", optionalFloat(p.HeightCM)},
			{"weight", optionalFloat(p.Weight)},
			{"weight_unit", p.WeightUnit},
			{"fitness_goal", p.FitnessGoal},
			{"preferred_workout_type", p.PreferredWorkoutType},
			{"comfort_level", p.ComfortLevel},
			{"member_since", p.MemberSince.UTC().Format(time.RFC3339)},
		},
	}

	prefs := sheet{name: SheetPreferences, header: []any{"Preference Category", "Key", "Value"}}
	for _, pref := range p.Preferences {
		prefs.rows = append(prefs.rows, []any{pref.Category, pref.Key, pref.Value})
	}

	workouts := sheet{name: SheetWorkouts, header: []any{
		"Workout ID", "Workout Name", "Total Time", "Workout Time", "Rest Time",
		"Calories", "Created At", "Updated At", "Supersets Count",
	}}
	supersets := sheet{name: SheetSupersets, header: []any{
		"Workout ID", "Superset", "Rest Time", "Exercises Count",
	}}
	exercises := sheet{name: SheetExercises, header: []any{
		"Workout ID", "Superset", "Exercise ID", "Exercise Title", "Measure Type",
		"Sets", "Sets Done", "Values", "Weights", "Rest Time",
	}}

	for _, wo := range ds.Workouts {
		id := wo.ID.String()
		workouts.rows = append(workouts.rows, []any{
			id, wo.Name, wo.TotalTimeMinutes, wo.WorkoutTimeMinutes, wo.RestTimeMinutes,
			wo.Calories, wo.CreatedAt.UTC().Format(time.RFC3339),
			wo.UpdatedAt.UTC().Format(time.RFC3339), len(wo.Supersets),
		})
		for i, ss := range wo.Supersets {
			supersets.rows = append(supersets.rows, []any{id, i + 1, ss.RestTimeMinutes, len(ss.Exercises)})
			for _, ex := range ss.Exercises {
				exercises.rows = append(exercises.rows, []any{
					id, i + 1, ex.ExerciseID, ex.Title, ex.MeasureType,
					ex.Sets, ex.SetsDone, joinList(ex.Values), joinList(ex.Weights), ex.RestTimeMinutes,
				})
			}
		}
	}

	return []sheet{profile, prefs, workouts, supersets, exercises}
}

func optionalInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func optionalFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

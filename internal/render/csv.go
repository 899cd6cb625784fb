package render

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"
)

// CSVHeader lists the columns of a CSV export. Each row is one exercise;
// a workout without exercises still gets one row with the exercise
// columns empty.
var CSVHeader = []string{
	"workout_id",
	"workout_name",
	"workout_date",
	"total_time",
	"workout_time",
	"rest_time",
	"calories",
	"superset",
	"superset_rest_time",
	"exercise_id",
	"exercise_title",
	"measure_type",
	"sets",
	"sets_done",
	"values",
	"weights",
	"exercise_rest_time",
}

// EncodeCSV writes the workout history as a flat table.
func EncodeCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, wo := range ds.Workouts {
		base := []string{
			wo.ID.String(),
			wo.Name,
			wo.CreatedAt.UTC().Format(time.RFC3339),
			formatFloat(wo.TotalTimeMinutes),
			formatFloat(wo.WorkoutTimeMinutes),
			formatFloat(wo.RestTimeMinutes),
			formatFloat(wo.Calories),
		}

		wrote := false
		for i, ss := range wo.Supersets {
			for _, ex := range ss.Exercises {
				row := append(append([]string(nil), base...),
					strconv.Itoa(i+1),
					formatFloat(ss.RestTimeMinutes),
					ex.ExerciseID,
					ex.Title,
					ex.MeasureType,
					strconv.Itoa(ex.Sets),
					strconv.Itoa(ex.SetsDone),
					joinFloats(ex.Values),
					joinFloats(ex.Weights),
					formatFloat(ex.RestTimeMinutes),
				)
				if err := cw.Write(row); err != nil {
					return err
				}
				wrote = true
			}
		}
		if !wrote {
			row := append(base, make([]string, len(CSVHeader)-len(base))...)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ";")
}

package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// ProductID identifies the calendar producer in ICS exports.
const ProductID = "-//ion606//Workout Export//EN"

// EncodeICS writes one calendar event per workout. The event starts when
// the workout was logged and lasts its active time.
func EncodeICS(w io.Writer, ds *Dataset) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRCalName(calendarName(ds.Profile.Name))

	for _, wo := range ds.Workouts {
		start := wo.CreatedAt.UTC()
		end := start.Add(time.Duration(wo.WorkoutTimeMinutes * float64(time.Minute)))

		event := cal.AddEvent(wo.ID.String())
		event.SetDtStampTime(ds.ExportedAt.UTC())
		event.SetCreatedTime(start)
		event.SetModifiedAt(wo.UpdatedAt.UTC())
		event.SetStartAt(start)
		event.SetEndAt(end)
		event.SetSummary(workoutName(wo))
		event.SetDescription(describeWorkout(wo))
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func calendarName(owner string) string {
	if owner == "" {
		return "Workout schedule"
	}
	return owner + "'s workout schedule"
}

func workoutName(wo Workout) string {
	if strings.TrimSpace(wo.Name) == "" {
		return "unnamed workout"
	}
	return wo.Name
}

func describeWorkout(wo Workout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "total time: %s minutes\n", formatFloat(wo.TotalTimeMinutes))
	fmt.Fprintf(&b, "workout time: %s minutes\n", formatFloat(wo.WorkoutTimeMinutes))
	fmt.Fprintf(&b, "rest time: %s minutes\n", formatFloat(wo.RestTimeMinutes))
	if wo.Calories > 0 {
		fmt.Fprintf(&b, "calories: %s\n", formatFloat(wo.Calories))
	}
	for i, ss := range wo.Supersets {
		fmt.Fprintf(&b, "superset %d (rest %s minutes)\n", i+1, formatFloat(ss.RestTimeMinutes))
		for j, ex := range ss.Exercises {
			fmt.Fprintf(&b, "  %d. %s: %d/%d sets", j+1, ex.Title, ex.SetsDone, ex.Sets)
			if len(ex.Values) > 0 {
				fmt.Fprintf(&b, ", %s %s", ex.MeasureType, joinList(ex.Values))
			}
			if len(ex.Weights) > 0 {
				fmt.Fprintf(&b, ", weight %s", joinList(ex.Weights))
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinList(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, ", ")
}

package render

import (
	"encoding/json"
	"io"
)

// EncodeJSON writes the whole dataset as indented JSON.
func EncodeJSON(w io.Writer, ds *Dataset) error {
	out := *ds
	if out.Workouts == nil {
		out.Workouts = []Workout{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

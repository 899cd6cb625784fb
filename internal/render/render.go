package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
)

// Encoder writes a dataset in one format.
type Encoder interface {
	Encode(w io.Writer, ds *Dataset) error
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(w io.Writer, ds *Dataset) error

// Encode calls f(w, ds).
func (f EncoderFunc) Encode(w io.Writer, ds *Dataset) error {
	return f(w, ds)
}

// Renderer loads an owner's dataset and writes it with an Encoder.
type Renderer struct {
	source  DatasetSource
	encoder Encoder
}

var _ export.Renderer = (*Renderer)(nil)

// NewRenderer creates a Renderer.
func NewRenderer(source DatasetSource, encoder Encoder) *Renderer {
	return &Renderer{source: source, encoder: encoder}
}

// Render implements export.Renderer. The output file only appears once it
// is completely written.
func (r *Renderer) Render(ctx context.Context, owner export.Owner, outputPath string) error {
	ds, err := r.source.LoadDataset(ctx, owner.ID)
	if errors.Is(err, store.ErrUserNotFound) {
		return task.Permanent(fmt.Errorf("export owner %s: %w", owner.ID, err))
	}
	if err != nil {
		return fmt.Errorf("failed to load export dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteAtomic(outputPath, func(w io.Writer) error {
		return r.encoder.Encode(w, ds)
	})
}

// WriteAtomic writes to a temporary file beside path and renames it into
// place once write succeeds. On failure nothing is left at path.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync export: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close export: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}

// Encoders returns the built-in encoder for every export format.
func Encoders() map[domain.ExportFormat]Encoder {
	return map[domain.ExportFormat]Encoder{
		domain.ExportFormatCSV:  EncoderFunc(EncodeCSV),
		domain.ExportFormatJSON: EncoderFunc(EncodeJSON),
		domain.ExportFormatICS:  EncoderFunc(EncodeICS),
		domain.ExportFormatXLSX: EncoderFunc(EncodeXLSX),
	}
}

// RegisterDefaults registers a renderer for every built-in format.
func RegisterDefaults(reg *export.Registry, source DatasetSource) error {
	if source == nil {
		return errors.New("dataset source cannot be nil")
	}
	encoders := Encoders()
	for _, format := range domain.ExportFormats {
		enc, ok := encoders[format]
		if !ok {
			continue
		}
		if err := reg.Register(format, NewRenderer(source, enc)); err != nil {
			return err
		}
	}
	return nil
}

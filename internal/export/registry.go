package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// Owner identifies whose data a renderer exports.
type Owner struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// OwnerFromUser builds an Owner from a user profile.
func OwnerFromUser(u *domain.User) Owner {
	return Owner{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Renderer writes one owner's data to outputPath in a single format.
// Errors wrapped with task.Permanent are not retried.
type Renderer interface {
	Render(ctx context.Context, owner Owner, outputPath string) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, owner Owner, outputPath string) error

// Render calls f(ctx, owner, outputPath).
func (f RendererFunc) Render(ctx context.Context, owner Owner, outputPath string) error {
	return f(ctx, owner, outputPath)
}

// Registry maps export formats to renderers. Adding a format is a
// Register call; no dispatch code changes.
type Registry struct {
	mu        sync.RWMutex
	renderers map[domain.ExportFormat]Renderer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{renderers: make(map[domain.ExportFormat]Renderer)}
}

// Register binds a renderer to a format. A format can be bound once.
func (r *Registry) Register(format domain.ExportFormat, renderer Renderer) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidExportFormat, format)
	}
	if renderer == nil {
		return fmt.Errorf("nil renderer for format %q", format)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.renderers[format]; exists {
		return fmt.Errorf("renderer for format %q already registered", format)
	}
	r.renderers[format] = renderer
	return nil
}

// Lookup returns the renderer for format.
func (r *Registry) Lookup(format domain.ExportFormat) (Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	renderer, ok := r.renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return renderer, nil
}

// Supports reports whether a renderer is registered for format.
func (r *Registry) Supports(format domain.ExportFormat) bool {
	_, err := r.Lookup(format)
	return err == nil
}

// Formats lists the registered formats in their canonical order.
func (r *Registry) Formats() []domain.ExportFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ExportFormat
	for _, f := range domain.ExportFormats {
		if _, ok := r.renderers[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
)

// Artifact is an open rendered export ready to be streamed.
type Artifact struct {
	Body io.ReadCloser
	// Size is the length in bytes, or -1 if unknown.
	Size int64
	// Name is the stored file name. Downloads are served under the
	// request's ArtifactName instead.
	Name string
}

// ArtifactStore keeps rendered exports between completion and download.
// Renderers always write to a local staged path; Commit moves the file to
// its final location, which is what the record stores.
type ArtifactStore interface {
	// Stage returns a fresh local path the renderer should write req's
	// artifact to. Every call yields a distinct path, so concurrent claimants
	// of one request never share a file.
	Stage(req *domain.ExportRequest) (string, error)

	// Commit makes a staged file durable and returns its location.
	Commit(ctx context.Context, req *domain.ExportRequest, staged string) (string, error)

	// Discard removes a staged file. An absent file is not an error.
	Discard(staged string) error

	// Open returns the artifact at location, or ErrArtifactNotFound.
	Open(ctx context.Context, location string) (*Artifact, error)

	// Remove deletes the artifact at location. It reports false, without
	// error, when there was nothing to delete.
	Remove(ctx context.Context, location string) (bool, error)
}

// LocalArtifacts stores artifacts as files in a single directory.
type LocalArtifacts struct {
	dir string
}

var _ ArtifactStore = (*LocalArtifacts)(nil)

// NewLocalArtifacts creates the directory if needed.
func NewLocalArtifacts(dir string) (*LocalArtifacts, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalArtifacts{dir: abs}, nil
}

// Dir returns the absolute artifact directory.
func (s *LocalArtifacts) Dir() string {
	return s.dir
}

// Stage implements ArtifactStore.
func (s *LocalArtifacts) Stage(req *domain.ExportRequest) (string, error) {
	return filepath.Join(s.dir, uuid.NewString()+req.Format.ArtifactSuffix()), nil
}

// Commit implements ArtifactStore. Staged files already live in place.
func (s *LocalArtifacts) Commit(_ context.Context, _ *domain.ExportRequest, staged string) (string, error) {
	path, err := s.resolve(staged)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("staged artifact missing: %w", err)
	}
	return path, nil
}

// Discard implements ArtifactStore.
func (s *LocalArtifacts) Discard(staged string) error {
	_, err := s.Remove(context.Background(), staged)
	return err
}

// Open implements ArtifactStore.
func (s *LocalArtifacts) Open(_ context.Context, location string) (*Artifact, error) {
	path, err := s.resolve(location)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &Artifact{Body: f, Size: size, Name: filepath.Base(path)}, nil
}

// Remove implements ArtifactStore.
func (s *LocalArtifacts) Remove(_ context.Context, location string) (bool, error) {
	path, err := s.resolve(location)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove artifact: %w", err)
	}
	return true, nil
}

// resolve rejects locations outside the artifact directory.
func (s *LocalArtifacts) resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty artifact location")
	}
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("artifact location %q is outside %s", location, s.dir)
	}
	return path, nil
}

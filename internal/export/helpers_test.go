package export_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/platform/memory"
	"github.com/stretchr/testify/require"
)

const testPublicURL = "https://api.example.com"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingQueue captures enqueued request ids.
type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

// recordingNotifier captures notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []export.Notification
	err  error
}

func (n *recordingNotifier) NotifyExportReady(_ context.Context, msg export.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) notifications() []export.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]export.Notification(nil), n.sent...)
}

// countingRenderer writes body to the output path, failing the first
// failures calls with err.
type countingRenderer struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	body     string
}

func (r *countingRenderer) Render(_ context.Context, _ export.Owner, outputPath string) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()

	if fail {
		return r.err
	}
	return os.WriteFile(outputPath, []byte(r.body), 0o600)
}

func (r *countingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	exports   *memory.ExportStore
	users     *memory.UserStore
	artifacts *export.LocalArtifacts
	registry  *export.Registry
	queue     *recordingQueue
	notifier  *recordingNotifier
	renderer  *countingRenderer
	user      *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	artifacts, err := export.NewLocalArtifacts(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		exports:   memory.NewExportStore(),
		users:     memory.NewUserStore(),
		artifacts: artifacts,
		registry:  export.NewRegistry(),
		queue:     &recordingQueue{},
		notifier:  &recordingNotifier{},
		renderer:  &countingRenderer{body: "workout_id,workout_name\n", err: errors.New("renderer exploded")},
	}
	for _, format := range domain.ExportFormats {
		require.NoError(t, f.registry.Register(format, f.renderer))
	}

	f.user, err = domain.NewUser("ana@example.com", "Ana")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(context.Background(), f.user))
	return f
}

func (f *fixture) submitter(t *testing.T, cfg export.SubmitterConfig) *export.Submitter {
	t.Helper()
	s, err := export.NewSubmitter(f.exports, f.users, f.queue, f.registry, cfg, discardLogger())
	require.NoError(t, err)
	return s
}

func (f *fixture) processor(t *testing.T, maxAttempts int) *export.Processor {
	t.Helper()
	p, err := export.NewProcessor(f.exports, f.users, f.registry, f.artifacts, f.notifier,
		export.ProcessorConfig{MaxAttempts: maxAttempts, PublicURL: testPublicURL}, discardLogger())
	require.NoError(t, err)
	return p
}

func (f *fixture) downloader() *export.Downloader {
	return export.NewDownloader(f.users, f.exports, f.artifacts, discardLogger())
}

func (f *fixture) reaper(cfg export.ReaperConfig) *export.Reaper {
	return export.NewReaper(f.exports, f.artifacts, f.queue, cfg, discardLogger())
}

// pending creates a pending request for the fixture user directly in the store.
func (f *fixture) pending(t *testing.T, format domain.ExportFormat, requestedAt time.Time) *domain.ExportRequest {
	t.Helper()
	req, err := domain.NewExportRequest(f.user.ID, format, requestedAt, domain.DefaultExportTTL)
	require.NoError(t, err)
	require.NoError(t, f.exports.Create(context.Background(), req))
	return req
}

package export_test

import (
	"context"
	"errors"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatCSV, time.Now().UTC())

	require.NoError(t, p.Handle(ctx, task.NewJob(req.ID, 3)))

	done, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusCompleted, done.Status)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.CompletedAt)
	require.NotEmpty(t, done.ArtifactPath)

	body, err := os.ReadFile(done.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, f.renderer.body, string(body))

	sent := f.notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].To)
	assert.Equal(t, req.ExpiresAt, sent[0].ExpiresAt)

	link, err := url.Parse(sent[0].DownloadURL)
	require.NoError(t, err)
	assert.Equal(t, export.DownloadPath, link.Path)
	assert.Equal(t, req.Secret, link.Query().Get("secret"))
	assert.Equal(t, "ana@example.com", link.Query().Get("email"))
}

func TestProcessor_DuplicateDeliveryIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	require.NoError(t, p.Handle(ctx, task.NewJob(req.ID, 3)))
	require.NoError(t, p.Handle(ctx, task.NewJob(req.ID, 3)))

	assert.Equal(t, 1, f.renderer.count())
	assert.Len(t, f.notifier.notifications(), 1)
}

func TestProcessor_MissingRequestIsAcknowledged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.processor(t, 3)

	assert.NoError(t, p.Handle(context.Background(), task.NewJob(uuid.New(), 3)))
	assert.Zero(t, f.renderer.count())
}

func TestProcessor_RetryableFailureResetsToPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.renderer.failures = 1
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	job := task.NewJob(req.ID, 3)
	err := p.Handle(ctx, job)
	require.Error(t, err)
	assert.False(t, task.IsPermanent(err))

	retrying, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusPending, retrying.Status)
	assert.Equal(t, 1, retrying.Attempts)

	entries, err := os.ReadDir(f.artifacts.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "failed render leaves no partial artifact")

	require.NoError(t, p.Handle(ctx, job.Next()))
	done, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)
}

func TestProcessor_ExhaustedAttemptsFail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.renderer.failures = 3
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	job := task.NewJob(req.ID, 3)
	for i := 0; i < 2; i++ {
		err := p.Handle(ctx, job)
		require.Error(t, err)
		require.False(t, task.IsPermanent(err))
		job = job.Next()
	}

	err := p.Handle(ctx, job)
	require.Error(t, err)
	assert.True(t, task.IsPermanent(err))

	failed, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusFailed, failed.Status)
	assert.Equal(t, "renderer exploded", failed.Error)
	assert.Empty(t, failed.ArtifactPath)
	assert.Equal(t, 3, f.renderer.count())
	assert.Empty(t, f.notifier.notifications())

	// late duplicate of a failed request does nothing
	assert.NoError(t, p.Handle(ctx, task.NewJob(req.ID, 3)))
	assert.Equal(t, 3, f.renderer.count())
}

func TestProcessor_StoredAttemptsCapRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.renderer.failures = 10
	p := f.processor(t, 2)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	// fresh deliveries, as reconciliation would send them
	require.False(t, task.IsPermanent(p.Handle(ctx, task.NewJob(req.ID, 5))))
	assert.True(t, task.IsPermanent(p.Handle(ctx, task.NewJob(req.ID, 5))))

	failed, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusFailed, failed.Status)
}

func TestProcessor_PermanentErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.renderer.failures = 1
	f.renderer.err = task.Permanent(errors.New("owner has no data"))
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	err := p.Handle(ctx, task.NewJob(req.ID, 3))
	assert.True(t, task.IsPermanent(err))

	failed, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "owner has no data")
}

func TestProcessor_NotificationFailureDoesNotFailExport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	p := f.processor(t, 3)
	req := f.pending(t, domain.ExportFormatJSON, time.Now().UTC())

	require.NoError(t, p.Handle(ctx, task.NewJob(req.ID, 3)))

	done, err := f.exports.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExportStatusCompleted, done.Status)
}

func TestProcessor_UnregisteredFormatIsPermanent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	p, err := export.NewProcessor(f.exports, f.users, export.NewRegistry(), f.artifacts, f.notifier,
		export.ProcessorConfig{MaxAttempts: 3, PublicURL: testPublicURL}, discardLogger())
	require.NoError(t, err)
	req := f.pending(t, domain.ExportFormatXLSX, time.Now().UTC())

	err = p.Handle(ctx, task.NewJob(req.ID, 3))
	assert.True(t, task.IsPermanent(err))
	assert.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

func TestNewProcessor_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := export.NewProcessor(f.exports, f.users, f.registry, f.artifacts, f.notifier,
		export.ProcessorConfig{PublicURL: "not a url"}, nil)
	assert.Error(t, err)

	_, err = export.NewProcessor(f.exports, nil, f.registry, f.artifacts, f.notifier,
		export.ProcessorConfig{PublicURL: testPublicURL}, nil)
	assert.Error(t, err)
}

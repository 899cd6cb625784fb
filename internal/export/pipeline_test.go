package export_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/store"
	"github.com/ion606/workout-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPipeline wires a submitter to a real in-memory runner driving the
// processor.
func runPipeline(t *testing.T, f *fixture) *export.Submitter {
	t.Helper()

	runner := task.NewRunner(f.processor(t, 3), task.RunnerConfig{
		WorkerCount: 2,
		QueueSize:   10,
		Retry:       task.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1},
	}, discardLogger())
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(runner.Stop)

	s, err := export.NewSubmitter(f.exports, f.users, runner, f.registry,
		export.SubmitterConfig{Cooldown: 30 * 24 * time.Hour, CooldownDisabled: true}, discardLogger())
	require.NoError(t, err)
	return s
}

func waitForStatus(t *testing.T, f *fixture, req *domain.ExportRequest, want domain.ExportStatus) *domain.ExportRequest {
	t.Helper()

	var got *domain.ExportRequest
	require.Eventually(t, func() bool {
		r, err := f.exports.GetByID(context.Background(), req.ID)
		if err != nil {
			return false
		}
		got = r
		return r.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestPipeline_RenderDownloadOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	s := runPipeline(t, f)

	req, err := s.Submit(ctx, f.user.ID, "csv")
	require.NoError(t, err)
	assert.Equal(t, req.RequestedAt.Add(48*time.Hour), req.ExpiresAt)

	done := waitForStatus(t, f, req, domain.ExportStatusCompleted)
	assert.NotEmpty(t, done.ArtifactPath)
	assert.Empty(t, done.Error)

	d := f.downloader()
	dl, err := d.Open(ctx, f.user.Email, req.Secret)
	require.NoError(t, err)
	body, err := io.ReadAll(dl.Artifact.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Artifact.Body.Close())
	require.NoError(t, d.Retire(ctx, dl.Request))
	assert.Equal(t, f.renderer.body, string(body))

	_, err = f.exports.GetByID(ctx, req.ID)
	assert.True(t, store.IsNotFoundError(err))

	_, err = d.Open(ctx, f.user.Email, req.Secret)
	assert.ErrorIs(t, err, export.ErrExportGone)
}

func TestPipeline_FailsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.renderer.failures = 100
	s := runPipeline(t, f)

	req, err := s.Submit(ctx, f.user.ID, "json")
	require.NoError(t, err)

	failed := waitForStatus(t, f, req, domain.ExportStatusFailed)
	assert.Equal(t, "renderer exploded", failed.Error)
	assert.Empty(t, failed.ArtifactPath)
	assert.Equal(t, 3, f.renderer.count())

	latest, err := s.Latest(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "renderer exploded", latest.Error)
}

func TestPipeline_ReaperReclaimsUnprocessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	s := f.submitter(t, export.SubmitterConfig{})

	req, err := s.Submit(ctx, f.user.ID, "ics")
	require.NoError(t, err)

	res := f.reaper(export.ReaperConfig{}).Sweep(ctx, req.RequestedAt.Add(49*time.Hour))
	assert.Equal(t, 1, res.Expired)

	_, err = f.downloader().Open(ctx, f.user.Email, req.Secret)
	assert.ErrorIs(t, err, export.ErrExportGone)
}

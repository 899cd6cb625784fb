package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExportFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    ExportFormat
		wantErr bool
	}{
		{raw: "csv", want: ExportFormatCSV},
		{raw: " JSON ", want: ExportFormatJSON},
		{raw: "Ics", want: ExportFormatICS},
		{raw: "xlsx", want: ExportFormatXLSX},
		{raw: "pdf", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseExportFormat(tc.raw)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExportFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExportFormat_ArtifactSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "_data.csv", ExportFormatCSV.ArtifactSuffix())
	assert.Equal(t, "_data.json", ExportFormatJSON.ArtifactSuffix())
	assert.Equal(t, "_workouts.ics", ExportFormatICS.ArtifactSuffix())
	assert.Equal(t, "_data.xlsx", ExportFormatXLSX.ArtifactSuffix())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]ExportStatus]bool{
		{ExportStatusPending, ExportStatusProcessing}:   true,
		{ExportStatusProcessing, ExportStatusCompleted}: true,
		{ExportStatusProcessing, ExportStatusFailed}:    true,
		{ExportStatusProcessing, ExportStatusPending}:   true,
	}

	statuses := []ExportStatus{
		ExportStatusPending,
		ExportStatusProcessing,
		ExportStatusCompleted,
		ExportStatusFailed,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]ExportStatus{from, to}], CanTransition(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestNewExportRequest(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	req, err := NewExportRequest(userID, ExportFormatCSV, now, 0)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, req.ID)
	assert.Equal(t, userID, req.UserID)
	assert.Equal(t, ExportStatusPending, req.Status)
	assert.Len(t, req.Secret, 64)
	assert.Equal(t, now, req.RequestedAt)
	assert.Equal(t, now.Add(DefaultExportTTL), req.ExpiresAt)
	assert.Empty(t, req.ArtifactPath)
	assert.Nil(t, req.CompletedAt)

	other, err := NewExportRequest(userID, ExportFormatCSV, now, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, req.Secret, other.Secret)
	assert.Equal(t, now.Add(time.Hour), other.ExpiresAt)

	_, err = NewExportRequest(userID, ExportFormat("pdf"), now, 0)
	assert.ErrorIs(t, err, ErrInvalidExportFormat)

	_, err = NewExportRequest(uuid.Nil, ExportFormatCSV, now, 0)
	assert.ErrorIs(t, err, ErrEmptyExportUserID)
}

func TestExportRequest_Validate(t *testing.T) {
	t.Parallel()

	base := func() ExportRequest {
		now := time.Now().UTC()
		return ExportRequest{
			ID:          uuid.New(),
			UserID:      uuid.New(),
			Format:      ExportFormatJSON,
			Status:      ExportStatusPending,
			Secret:      "s3cret",
			RequestedAt: now,
			ExpiresAt:   now.Add(time.Hour),
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *ExportRequest)
		wantErr error
	}{
		{name: "valid pending", mutate: func(r *ExportRequest) {}},
		{
			name: "completed with artifact",
			mutate: func(r *ExportRequest) {
				r.Status = ExportStatusCompleted
				r.ArtifactPath = "/tmp/x_data.json"
			},
		},
		{
			name: "failed with error",
			mutate: func(r *ExportRequest) {
				r.Status = ExportStatusFailed
				r.Error = "boom"
			},
		},
		{
			name:    "completed without artifact",
			mutate:  func(r *ExportRequest) { r.Status = ExportStatusCompleted },
			wantErr: ErrMissingArtifact,
		},
		{
			name:    "pending with artifact",
			mutate:  func(r *ExportRequest) { r.ArtifactPath = "/tmp/x" },
			wantErr: ErrArtifactOnIncomplete,
		},
		{
			name:    "processing with error",
			mutate:  func(r *ExportRequest) { r.Status = ExportStatusProcessing; r.Error = "x" },
			wantErr: ErrErrorOnNonFailed,
		},
		{
			name: "failed with artifact",
			mutate: func(r *ExportRequest) {
				r.Status = ExportStatusFailed
				r.ArtifactPath = "/tmp/x"
			},
			wantErr: ErrArtifactOnIncomplete,
		},
		{
			name:    "expires before requested",
			mutate:  func(r *ExportRequest) { r.ExpiresAt = r.RequestedAt.Add(-time.Second) },
			wantErr: ErrExpiryBeforeCreate,
		},
		{
			name:    "missing secret",
			mutate:  func(r *ExportRequest) { r.Secret = "" },
			wantErr: ErrEmptyExportSecret,
		},
		{
			name:    "unknown status",
			mutate:  func(r *ExportRequest) { r.Status = "archived" },
			wantErr: ErrInvalidExportStatus,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := base()
			tc.mutate(&r)
			err := r.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestExportRequest_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	req := &ExportRequest{RequestedAt: now, ExpiresAt: now.Add(DefaultExportTTL)}

	assert.False(t, req.Expired(now.Add(47*time.Hour)))
	assert.False(t, req.Expired(now.Add(48*time.Hour)))
	assert.True(t, req.Expired(now.Add(48*time.Hour+time.Nanosecond)))
	assert.True(t, req.Expired(now.Add(49*time.Hour)))
}

func TestUser_Validate(t *testing.T) {
	t.Parallel()

	u, err := NewUser("lifter@example.com", "Lifter")
	require.NoError(t, err)
	assert.True(t, u.CooldownEndsAt(time.Hour).IsZero())

	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u.LastExportRequestedAt = &last
	assert.Equal(t, last.Add(time.Hour), u.CooldownEndsAt(time.Hour))

	_, err = NewUser("", "x")
	assert.ErrorIs(t, err, ErrEmptyEmail)
	_, err = NewUser("nobody", "x")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = NewUser("a@b", "x")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

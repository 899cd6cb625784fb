package shared

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	withTrace := SetTraceID(ctx)
	traceID := GetTraceID(withTrace)
	assert.Len(t, traceID, 2*TraceIDLength)
	_, err := hex.DecodeString(traceID)
	assert.NoError(t, err)

	assert.Empty(t, GetTraceID(context.WithValue(ctx, TraceIDKey, 123)))

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := generateTraceID()
		assert.False(t, seen[id])
		seen[id] = true
	}

	fallback := fallbackTraceID()
	assert.Len(t, fallback, 2*TraceIDLength)
}

type formatRequest struct {
	Format string `json:"format" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	t.Parallel()

	var req formatRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"format":"csv"}`))
	require.NoError(t, DecodeJSON(r, &req))
	assert.Equal(t, "csv", req.Format)
	assert.NoError(t, ValidateRequest(req))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"format":"csv","extra":1}`))
	assert.Error(t, DecodeJSON(r, &formatRequest{}))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.EqualError(t, DecodeJSON(r, &formatRequest{}), "request body is empty")

	assert.Error(t, ValidateRequest(formatRequest{}))
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/api/exports/status", nil)
	r = r.WithContext(SetTraceID(r.Context()))
	w := httptest.NewRecorder()

	RespondWithError(w, r, http.StatusNotFound, "No export request found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "No export request found", body.Error)
	assert.Equal(t, GetTraceID(r.Context()), body.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := httptest.NewRequest(http.MethodGet, "/api/exports/download", nil)
	r = r.WithContext(logger.WithLogger(SetTraceID(r.Context()), log))
	w := httptest.NewRecorder()

	err := errors.New("lookup failed for secret=abcdef0123 at postgres://app:pw@db:5432/app")
	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "An unexpected error occurred", err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "abcdef0123", "raw error never reaches the client")

	logged := buf.String()
	assert.Contains(t, logged, `"level":"ERROR"`)
	assert.Contains(t, logged, "API error response")
	assert.NotContains(t, logged, "abcdef0123")
	assert.NotContains(t, logged, "app:pw")
}

func TestRespondWithErrorAndLog_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		opts   []ResponseOption
		level  string
	}{
		{"client error", http.StatusBadRequest, nil, "DEBUG"},
		{"cooldown", http.StatusTooManyRequests, nil, "WARN"},
		{"elevated", http.StatusForbidden, []ResponseOption{WithElevatedLogLevel()}, "WARN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			RespondWithErrorAndLog(httptest.NewRecorder(), r, tc.status, "msg", errors.New("x"), tc.opts...)
			assert.Contains(t, buf.String(), `"level":"`+tc.level+`"`)
		})
	}
}

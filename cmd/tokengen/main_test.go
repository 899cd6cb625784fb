package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/config"
	"github.com/ion606/workout-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func TestRun(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	var out bytes.Buffer
	require.NoError(t, run([]string{"-user", userID.String()}, testSecret, &out))

	var token string
	for _, line := range strings.Split(out.String(), "\n") {
		if rest, ok := strings.CutPrefix(line, "token:"); ok {
			token = strings.TrimSpace(rest)
		}
	}
	require.NotEmpty(t, token)

	svc, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		secret string
	}{
		{name: "bad user id", args: []string{"-user", "nope"}, secret: testSecret},
		{name: "short secret", args: nil, secret: "short"},
		{name: "sub-minute lifetime", args: []string{"-lifetime", "30s"}, secret: testSecret},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			assert.Error(t, run(tc.args, tc.secret, &out))
			assert.Empty(t, out.String())
		})
	}
}

package task

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_FixedDelay(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(2))
	assert.Equal(t, []time.Duration{5 * time.Second}, p.Delays())
}

func TestRetryPolicy_ExponentialDelay(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 4, Backoff: time.Second, Multiplier: 2, MaxBackoff: 3 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, p.Delays())
}

func TestRetryPolicy_ZeroBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3}
	assert.Equal(t, time.Duration(0), p.Delay(2))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	job := NewJob(uuid.New(), 3)
	boom := errors.New("boom")

	assert.False(t, p.ShouldRetry(job, nil))
	assert.True(t, p.ShouldRetry(job, boom))
	assert.True(t, p.ShouldRetry(job.Next(), boom))
	assert.False(t, p.ShouldRetry(job.Next().Next(), boom), "third attempt is the last")
	assert.False(t, p.ShouldRetry(job, Permanent(boom)))
	assert.False(t, p.ShouldRetry(job, fmt.Errorf("render: %w", Permanent(boom))))

	legacy := Job{RequestID: uuid.New(), Attempt: 2}
	assert.True(t, p.ShouldRetry(legacy, boom), "policy limit applies when job carries none")
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Permanent(boom)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "boom", err.Error())
	assert.False(t, IsPermanent(boom))
	assert.Nil(t, Permanent(nil))
}

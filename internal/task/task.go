package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Job is one delivery of "process this export request". The same request
// may be delivered more than once; handlers must tolerate duplicates.
type Job struct {
	ID          uuid.UUID `json:"id"`
	RequestID   uuid.UUID `json:"request_id"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewJob creates the first delivery of a request.
func NewJob(requestID uuid.UUID, maxAttempts int) Job {
	return Job{
		ID:          uuid.New(),
		RequestID:   requestID,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// FinalAttempt reports whether a failure of this delivery exhausts the job.
func (j Job) FinalAttempt() bool {
	return j.MaxAttempts > 0 && j.Attempt >= j.MaxAttempts
}

// Next returns the redelivery of j.
func (j Job) Next() Job {
	j.Attempt++
	j.EnqueuedAt = time.Now().UTC()
	return j
}

// Handler processes a single job delivery. A nil error acknowledges the
// job; an error asks the queue to retry it unless it is permanent or the
// attempts are exhausted.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

// Handle calls f(ctx, job).
func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// QueueWriter submits export requests for processing.
type QueueWriter interface {
	// Enqueue schedules the request for a first delivery attempt.
	Enqueue(ctx context.Context, requestID uuid.UUID) error
}

// Backend is a queue together with the workers that drain it.
type Backend interface {
	QueueWriter
	Start(ctx context.Context) error
	Stop()
}

// Permanent marks err as non-retryable. The queue gives up on the job
// immediately instead of scheduling another attempt.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err, or any error it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

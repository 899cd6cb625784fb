package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue is a bounded in-memory job queue with delayed redelivery.
// Jobs do not survive a restart; pending records are picked up again by
// reconciliation.
type TaskQueue struct {
	jobs        chan Job
	maxAttempts int
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewTaskQueue creates a new task queue with the specified buffer size.
func NewTaskQueue(size int, maxAttempts int, logger *slog.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	return &TaskQueue{
		jobs:        make(chan Job, size),
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "task_queue")),
		timers:      make(map[*time.Timer]struct{}),
	}
}

// Enqueue adds a first delivery of the request to the queue.
// Returns an error if the queue is full or closed.
func (q *TaskQueue) Enqueue(ctx context.Context, requestID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.push(NewJob(requestID, q.maxAttempts))
}

// Requeue delivers job again after delay.
func (q *TaskQueue) Requeue(job Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		if err := q.push(job); err != nil {
			q.logger.Error("dropping job redelivery",
				slog.String("job_id", job.ID.String()),
				slog.String("request_id", job.RequestID.String()),
				slog.Int("attempt", job.Attempt),
				slog.String("error", err.Error()))
		}
	})
	q.timers[timer] = struct{}{}

	q.logger.Debug("job redelivery scheduled",
		slog.String("job_id", job.ID.String()),
		slog.Int("attempt", job.Attempt),
		slog.Duration("delay", delay))
	return nil
}

func (q *TaskQueue) push(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			slog.String("job_id", job.ID.String()),
			slog.String("request_id", job.RequestID.String()),
			slog.Int("attempt", job.Attempt),
			slog.Int("queue_len", len(q.jobs)),
			slog.Int("queue_cap", cap(q.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Close closes the task queue, preventing further submission and cancelling
// scheduled redeliveries.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.jobs)
	q.logger.Info("task queue closed")
}

// Jobs returns a read-only channel for consuming jobs.
func (q *TaskQueue) Jobs() <-chan Job {
	return q.jobs
}

// Len returns the number of jobs waiting to be consumed.
func (q *TaskQueue) Len() int {
	return len(q.jobs)
}

package task

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RunnerConfig holds configuration for the in-memory task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process jobs
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory queue
	QueueSize int

	// Retry is the redelivery policy for failed jobs
	Retry RetryPolicy
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
		Retry:       DefaultRetryPolicy(),
	}
}

// Runner is the in-process Backend: a TaskQueue drained by a WorkerPool.
type Runner struct {
	queue  *TaskQueue
	pool   *WorkerPool
	logger *slog.Logger
}

var _ Backend = (*Runner)(nil)

// NewRunner wires a queue and worker pool around handler.
func NewRunner(handler Handler, config RunnerConfig, logger *slog.Logger) *Runner {
	queue := NewTaskQueue(config.QueueSize, config.Retry.MaxAttempts, logger)
	pool := NewWorkerPool(queue, queue, handler, WorkerPoolConfig{
		WorkerCount: config.WorkerCount,
		Retry:       config.Retry,
	}, logger)

	return &Runner{
		queue:  queue,
		pool:   pool,
		logger: logger.With(slog.String("component", "task_runner")),
	}
}

// SetErrorHandler forwards to the worker pool.
func (r *Runner) SetErrorHandler(handler func(job Job, err error)) {
	r.pool.SetErrorHandler(handler)
}

// Enqueue adds a first delivery of the request to the queue.
func (r *Runner) Enqueue(ctx context.Context, requestID uuid.UUID) error {
	return r.queue.Enqueue(ctx, requestID)
}

// Start begins processing jobs.
func (r *Runner) Start(ctx context.Context) error {
	r.pool.Start()
	r.logger.Info("task runner started")
	return nil
}

// Stop waits for in-flight jobs and closes the queue. Jobs still buffered
// are dropped; their records stay pending.
func (r *Runner) Stop() {
	r.pool.Stop()
	dropped := r.queue.Len()
	r.queue.Close()
	r.logger.Info("task runner stopped", slog.Int("dropped_jobs", dropped))
}

package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ion606/workout-api/internal/platform/logger"
)

// JobSource provides the jobs a worker pool consumes.
type JobSource interface {
	Jobs() <-chan Job
}

// Requeuer schedules a later delivery of a failed job.
type Requeuer interface {
	Requeue(job Job, delay time.Duration) error
}

// WorkerPool manages a pool of worker goroutines that process jobs
// from a job source. The worker count is the upper bound on concurrently
// running handlers.
type WorkerPool struct {
	// source provides read access to the jobs to be processed
	source JobSource

	// requeuer schedules retries of failed jobs
	requeuer Requeuer

	handler Handler
	policy  RetryPolicy

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called when a job is given up on.
	// If nil, errors are only logged
	errorHandler func(job Job, err error)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// Retry decides which failures are delivered again.
	Retry RetryPolicy
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		Retry:       DefaultRetryPolicy(),
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	source JobSource,
	requeuer Requeuer,
	handler Handler,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		source:      source,
		requeuer:    requeuer,
		handler:     handler,
		policy:      config.Retry,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(slog.String("component", "worker_pool")),
	}
}

// SetErrorHandler sets a callback for jobs that will not be retried.
func (p *WorkerPool) SetErrorHandler(handler func(job Job, err error)) {
	p.errorHandler = handler
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals the workers to stop taking jobs and waits for in-flight
// handlers to return.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return

		case job, ok := <-p.source.Jobs():
			if !ok {
				p.logger.Debug("job channel closed, stopping worker", "worker_id", id)
				return
			}
			p.process(job, id)
		}
	}
}

func (p *WorkerPool) process(job Job, workerID int) {
	log := p.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("request_id", job.RequestID.String()),
		slog.Int("attempt", job.Attempt),
		slog.Int("worker_id", workerID),
	)
	// In-flight handlers are not cancelled by Stop; they finish their job.
	ctx := logger.WithLogger(context.Background(), log)

	err := p.run(ctx, job)
	if err == nil {
		log.Debug("job done")
		return
	}

	if p.policy.ShouldRetry(job, err) {
		delay := p.policy.Delay(job.Attempt)
		log.Warn("job failed, scheduling retry",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		if rqErr := p.requeuer.Requeue(job.Next(), delay); rqErr != nil {
			log.Error("failed to schedule retry", slog.String("error", rqErr.Error()))
		}
		return
	}

	log.Error("job abandoned",
		slog.String("error", err.Error()),
		slog.Bool("permanent", IsPermanent(err)))
	if p.errorHandler != nil {
		p.errorHandler(job, err)
	}
}

// run invokes the handler, converting a panic into an error.
func (p *WorkerPool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}

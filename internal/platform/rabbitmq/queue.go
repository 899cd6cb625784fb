// Package rabbitmq is a durable task.Backend on top of RabbitMQ.
//
// Topology, for a queue named "exports":
//
//	exports.exchange (direct) --exports--> exports.queue
//	exports.retry (direct) --retry.<ms>ms--> exports.retry.<ms>ms (TTL) --> exports.exchange
//	exports.dlx (fanout) --> exports.dead_letter
//
// A failed delivery is acknowledged after its next attempt is published to
// the retry queue matching its delay. An abandoned delivery is rejected
// without requeue and lands in the dead letter queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ion606/workout-api/internal/platform/logger"
	"github.com/ion606/workout-api/internal/task"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AttemptHeader carries the delivery attempt of a job.
const AttemptHeader = "x-attempt"

// Channel is the subset of *amqp.Channel used by Queue.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Topology names the exchanges and queues derived from a base name.
type Topology struct {
	Name string
}

// Exchange is the exchange first deliveries are published to.
func (t Topology) Exchange() string { return t.Name + ".exchange" }

// RetryExchange routes delayed redeliveries to their TTL queue.
func (t Topology) RetryExchange() string { return t.Name + ".retry" }

// DeadLetterExchange receives abandoned deliveries.
func (t Topology) DeadLetterExchange() string { return t.Name + ".dlx" }

// Queue is the work queue consumers read from.
func (t Topology) Queue() string { return t.Name + ".queue" }

// DeadLetterQueue holds abandoned deliveries for inspection.
func (t Topology) DeadLetterQueue() string { return t.Name + ".dead_letter" }

// RoutingKey binds the work queue to the main exchange.
func (t Topology) RoutingKey() string { return t.Name }

// RetryKey is the routing key of the TTL queue for delay.
func (t Topology) RetryKey(delay time.Duration) string {
	return fmt.Sprintf("retry.%dms", delay.Milliseconds())
}

// RetryQueue is the TTL queue for delay.
func (t Topology) RetryQueue(delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%dms", t.Name, delay.Milliseconds())
}

// Config holds RabbitMQ backend settings.
type Config struct {
	// Name prefixes every exchange and queue.
	Name string
	// Workers is both the consumer count and the prefetch window.
	Workers int
	Retry   task.RetryPolicy
}

// Queue publishes export jobs to RabbitMQ and consumes them with a fixed
// number of workers.
type Queue struct {
	conn     *amqp.Connection
	ch       Channel
	topology Topology
	handler  task.Handler
	config   Config
	delays   map[time.Duration]bool
	logger   *slog.Logger

	errorHandler func(job task.Job, err error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

var _ task.Backend = (*Queue)(nil)

// Dial connects to url and returns a Queue over a fresh channel.
func Dial(url string, handler task.Handler, config Config, logger *slog.Logger) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := New(ch, handler, config, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

// New creates a Queue over an open channel.
func New(ch Channel, handler task.Handler, config Config, logger *slog.Logger) (*Queue, error) {
	if ch == nil {
		return nil, errors.New("amqp channel cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("job handler cannot be nil")
	}
	if config.Name == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = task.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	delays := make(map[time.Duration]bool)
	for _, d := range config.Retry.Delays() {
		if d > 0 {
			delays[d] = true
		}
	}

	return &Queue{
		ch:       ch,
		topology: Topology{Name: config.Name},
		handler:  handler,
		config:   config,
		delays:   delays,
		logger:   logger.With(slog.String("component", "rabbitmq_queue")),
	}, nil
}

// SetErrorHandler sets a callback for jobs that will not be retried.
func (q *Queue) SetErrorHandler(handler func(job task.Job, err error)) {
	q.errorHandler = handler
}

// SetupTopology declares all exchanges and queues. Idempotent.
func (q *Queue) SetupTopology() error {
	t := q.topology

	if err := q.ch.ExchangeDeclare(t.Exchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange(), err)
	}
	if err := q.ch.ExchangeDeclare(t.DeadLetterExchange(), "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.DeadLetterExchange(), err)
	}
	if err := q.ch.ExchangeDeclare(t.RetryExchange(), "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.RetryExchange(), err)
	}

	if _, err := q.ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.DeadLetterQueue(), err)
	}
	if err := q.ch.QueueBind(t.DeadLetterQueue(), "", t.DeadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.DeadLetterQueue(), err)
	}

	if _, err := q.ch.QueueDeclare(t.Queue(), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": t.DeadLetterExchange(),
	}); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue(), err)
	}
	if err := q.ch.QueueBind(t.Queue(), t.RoutingKey(), t.Exchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.Queue(), err)
	}

	for delay := range q.delays {
		if _, err := q.ch.QueueDeclare(t.RetryQueue(delay), true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    t.Exchange(),
			"x-dead-letter-routing-key": t.RoutingKey(),
			"x-message-ttl":             delay.Milliseconds(),
		}); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", t.RetryQueue(delay), err)
		}
		if err := q.ch.QueueBind(t.RetryQueue(delay), t.RetryKey(delay), t.RetryExchange(), false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", t.RetryQueue(delay), err)
		}
	}
	return nil
}

// Enqueue publishes a first delivery of the request.
func (q *Queue) Enqueue(ctx context.Context, requestID uuid.UUID) error {
	job := task.NewJob(requestID, q.config.Retry.MaxAttempts)
	return q.publish(ctx, q.topology.Exchange(), q.topology.RoutingKey(), job)
}

// Start declares the topology and launches the consumers.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("rabbitmq queue already started")
	}

	if err := q.SetupTopology(); err != nil {
		return err
	}
	if err := q.ch.Qos(q.config.Workers, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := q.ch.Consume(q.topology.Queue(), "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.started = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.consume(runCtx, deliveries, i)
	}
	q.logger.Info("rabbitmq consumers started",
		slog.String("queue", q.topology.Queue()),
		slog.Int("workers", q.config.Workers))
	return nil
}

// Stop waits for in-flight jobs and closes the channel. Unacknowledged
// deliveries are returned to the queue by the broker.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	q.wg.Wait()

	if err := q.ch.Close(); err != nil {
		q.logger.Warn("failed to close channel", slog.String("error", err.Error()))
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			q.logger.Warn("failed to close connection", slog.String("error", err.Error()))
		}
	}
	q.logger.Info("rabbitmq queue stopped")
}

func (q *Queue) consume(ctx context.Context, deliveries <-chan amqp.Delivery, workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				q.logger.Warn("delivery channel closed", slog.Int("worker_id", workerID))
				return
			}
			q.handleDelivery(ctx, d, workerID)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, workerID int) {
	job, err := DecodeJob(d)
	if err != nil {
		q.logger.Error("undecodable delivery, dead-lettering",
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID))
		settled(q.logger, "dead-letter", d.Nack(false, false))
		return
	}

	log := q.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("request_id", job.RequestID.String()),
		slog.Int("attempt", job.Attempt),
		slog.Int("worker_id", workerID),
	)
	jobCtx := logger.WithLogger(context.WithoutCancel(ctx), log)

	err = q.run(jobCtx, job)
	if err == nil {
		log.Debug("job done")
		settled(log, "ack", d.Ack(false))
		return
	}

	if q.config.Retry.ShouldRetry(job, err) {
		delay := q.config.Retry.Delay(job.Attempt)
		log.Warn("job failed, scheduling retry",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		exchange, key := q.retryRoute(delay)
		if pubErr := q.publish(jobCtx, exchange, key, job.Next()); pubErr != nil {
			log.Error("failed to schedule retry, requeueing delivery", slog.String("error", pubErr.Error()))
			settled(log, "requeue", d.Nack(false, true))
			return
		}
		settled(log, "ack", d.Ack(false))
		return
	}

	log.Error("job abandoned",
		slog.String("error", err.Error()),
		slog.Bool("permanent", task.IsPermanent(err)))
	if q.errorHandler != nil {
		q.errorHandler(job, err)
	}
	settled(log, "dead-letter", d.Nack(false, false))
}

// settled logs a failed ack or nack. The broker redelivers unsettled
// messages once the channel closes.
func settled(log *slog.Logger, action string, err error) {
	if err != nil {
		log.Warn("failed to "+action+" delivery", slog.String("error", err.Error()))
	}
}

// retryRoute picks the exchange and key for a redelivery after delay.
// Delays without a declared TTL queue fall back to the longest one.
func (q *Queue) retryRoute(delay time.Duration) (string, string) {
	if delay <= 0 || len(q.delays) == 0 {
		return q.topology.Exchange(), q.topology.RoutingKey()
	}
	if !q.delays[delay] {
		var longest time.Duration
		for d := range q.delays {
			if d > longest {
				longest = d
			}
		}
		delay = longest
	}
	return q.topology.RetryExchange(), q.topology.RetryKey(delay)
}

func (q *Queue) run(ctx context.Context, job task.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return q.handler.Handle(ctx, job)
}

func (q *Queue) publish(ctx context.Context, exchange, key string, job task.Job) error {
	msg, err := EncodeJob(job)
	if err != nil {
		return err
	}
	if err := q.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// EncodeJob builds a persistent message for job.
func EncodeJob(job task.Job) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode job: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    job.EnqueuedAt,
		Headers:      amqp.Table{AttemptHeader: int32(job.Attempt)},
		Body:         body,
	}, nil
}

// DecodeJob reads a job from d. The attempt header, when present, wins
// over the body.
func DecodeJob(d amqp.Delivery) (task.Job, error) {
	var job task.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		return task.Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.RequestID == uuid.Nil {
		return task.Job{}, errors.New("job has no request id")
	}
	if n, ok := attemptFromHeaders(d.Headers); ok {
		job.Attempt = n
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	return job, nil
}

func attemptFromHeaders(h amqp.Table) (int, bool) {
	switch v := h[AttemptHeader].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

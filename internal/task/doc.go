// Package task runs export jobs in the background.
//
// A Job names one delivery of an export request. Backends implement
// QueueWriter for producers and Backend for lifecycle; the in-process Runner
// pairs a TaskQueue with a WorkerPool, and the RabbitMQ backend lives in
// internal/platform/rabbitmq. Both redeliver failed jobs according to a
// RetryPolicy and give up on errors wrapped with Permanent.
package task

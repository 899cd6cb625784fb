package export

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for ExportsProcessed
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeStale     = "stale"
)

var (
	ExportsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_submitted_total",
		Help: "The total number of accepted export requests",
	}, []string{"format"})

	ExportsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_rejected_total",
		Help: "The total number of refused export submissions",
	}, []string{"reason"}) // reason: invalid_format, cooldown, unknown_user

	ExportsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_processed_total",
		Help: "The total number of processed export jobs",
	}, []string{"format", "outcome"}) // outcome: completed, retried, failed, stale

	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_render_duration_seconds",
		Help:    "Duration of export rendering.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"format"})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_downloads_total",
		Help: "The total number of download attempts",
	}, []string{"result"}) // result: served, not_ready, denied, gone, missing, aborted

	ExportsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exports_reaped_total",
		Help: "The total number of expired export requests removed",
	})

	ExportsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_recovered_total",
		Help: "The total number of export requests handed back to the queue",
	}, []string{"kind"}) // kind: orphaned, stuck
)

package task

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether and when a failed job is delivered again.
type RetryPolicy struct {
	// MaxAttempts is the total number of deliveries, including the first.
	MaxAttempts int

	// Backoff is the delay before the second delivery.
	Backoff time.Duration

	// Multiplier grows the delay between later deliveries. 1 keeps it fixed.
	Multiplier float64

	// MaxBackoff caps the delay. Zero means uncapped.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns three attempts five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		Multiplier:  1,
	}
}

// ShouldRetry reports whether job should be delivered again after err.
func (p RetryPolicy) ShouldRetry(job Job, err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	return job.Attempt < maxAttempts
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	b := p.schedule()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Delays returns the distinct delays used between deliveries, in order.
func (p RetryPolicy) Delays() []time.Duration {
	seen := make(map[time.Duration]bool)
	var out []time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		d := p.Delay(attempt)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

func (p RetryPolicy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<62 - 1)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

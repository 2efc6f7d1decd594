package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds the in-attempt retries a worker spends on
// transient connector failures. Retries run inside the job's timeout
// and re-check cancellation between attempts; they never produce a
// second job record.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to ±Jitter fraction so workers
	// that tripped over the same remote outage do not retry in
	// lockstep against an already throttling API.
	Jitter float64
}

// NextDelay returns the backoff before retry number attempt (1-based).
// Delays grow exponentially from InitialDelay, clamp at MaxDelay, and
// are jittered when the policy asks for it.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if r.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*r.Jitter))
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

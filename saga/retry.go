package saga

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how transient activity failures are retried.
type RetryPolicy struct {
	InitialInterval time.Duration // Start with this delay
	MaxInterval     time.Duration // Cap delay at this value
	BackoffFactor   float64       // Exponential backoff multiplier
	MaxAttempts     int           // Give up after this many tries
	Jitter          float64       // Add ±% randomization to prevent thundering herd
}

// DefaultRetryPolicy provides sensible defaults.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 1 * time.Second,
	MaxInterval:     1 * time.Minute,
	BackoffFactor:   2.0,
	MaxAttempts:     5,
	Jitter:          0.1,
}

// NoRetry disables engine retries for an activity.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// backoff calculates the delay before retry attempt. attempt is 1-indexed:
// attempt 1 is the first retry after the initial failure.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))

	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		jitterAmount := d * p.Jitter
		d += (rand.Float64()*2 - 1) * jitterAmount
	}

	if d < 0 {
		d = float64(p.InitialInterval)
	}

	return time.Duration(d)
}

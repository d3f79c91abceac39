package jobqueue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the redelivery delay after a failed attempt.
type Backoff interface {
	// Delay returns the wait before redelivering after attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt with up to 20% jitter,
// capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter disables randomization when false.
	Jitter bool
}

// NewExponential returns a jittered exponential backoff.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || (e.Max > 0 && d > e.Max) {
		d = e.Max
	}
	if e.Jitter && d > 0 {
		spread := int64(d) / 5
		if spread > 0 {
			d = d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
		}
		if e.Max > 0 && d > e.Max {
			d = e.Max
		}
	}
	return d
}

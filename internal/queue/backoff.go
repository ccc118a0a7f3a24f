package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry attempt n (1 = first retry).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles from Initial up to Max. With Jitter, the delay is drawn
// uniformly from [d/2, d] so retries of a burst spread out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// DefaultBackoff is 1s, 2s, 4s ... capped at 10m, jittered.
var DefaultBackoff Backoff = Exponential{Initial: time.Second, Max: 10 * time.Minute, Jitter: true}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || (e.Max > 0 && d > e.Max) {
		d = e.Max
	}
	if e.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(half)+1))
	}
	return d
}

// Fixed always waits Interval.
type Fixed time.Duration

func (f Fixed) Delay(int) time.Duration { return time.Duration(f) }

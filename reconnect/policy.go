package reconnect

import (
	"math"
	"math/rand"
	"time"
)

// Policy decides whether and when a failed resource is reconnected.
//
// Next receives the number of consecutive failed reconnect attempts since
// the connection was lost (0 for the first attempt) and returns the delay
// before the next attempt, or false to give up.
type Policy interface {
	Next(failures int) (time.Duration, bool)
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(failures int) (time.Duration, bool)

// Next implements Policy
func (f PolicyFunc) Next(failures int) (time.Duration, bool) {
	return f(failures)
}

// FixedDelay waits the same delay before every attempt
type FixedDelay struct {
	Delay      time.Duration
	MaxRetries int // negative means unlimited
}

// NewFixedDelay creates a fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// Next implements Policy
func (f *FixedDelay) Next(failures int) (time.Duration, bool) {
	if exhausted(failures, f.MaxRetries) {
		return 0, false
	}
	return f.Delay, true
}

// Immediate retries without any delay. Immediate(-1) retries forever, which
// is what a plain "reconnect on failure" loop does.
func Immediate(maxRetries int) *FixedDelay {
	return NewFixedDelay(0, maxRetries)
}

// ExponentialBackoff retries the first time immediately, then waits
// InitialInterval * Multiplier^(n-1), capped at MaxInterval
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int // negative means unlimited
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy with jitter
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxRetries:      maxRetries,
		Jitter:          true,
	}
}

// Next implements Policy
func (e *ExponentialBackoff) Next(failures int) (time.Duration, bool) {
	if exhausted(failures, e.MaxRetries) {
		return 0, false
	}
	if failures == 0 {
		return 0, true
	}
	return e.NextDelay(failures - 1), true
}

// NextDelay returns the delay for the given backoff step
func (e *ExponentialBackoff) NextDelay(step int) time.Duration {
	multiplier := e.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(e.InitialInterval) * math.Pow(multiplier, float64(step))

	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15% jitter
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// DefaultPolicy retries forever with exponential backoff from 1s to 30s
func DefaultPolicy() Policy {
	return NewExponentialBackoff(time.Second, 30*time.Second, 2.0, -1)
}

func exhausted(failures, maxRetries int) bool {
	return maxRetries >= 0 && failures >= maxRetries
}

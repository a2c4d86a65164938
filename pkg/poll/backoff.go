// Package poll provides backoff schedules for polling loops: job status
// clients and internal waiters that re-check a condition on an interval.
package poll

import "time"

const (
	// DefaultInitial is the interval while polling is healthy.
	DefaultInitial = 2 * time.Second

	// DefaultMax caps the interval growth after repeated errors.
	DefaultMax = 30 * time.Second
)

// Backoff yields the next polling interval: a fixed interval while requests
// succeed, doubling on each consecutive error up to a cap, and snapping back
// to the initial interval on the first success.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// New returns a Backoff with the given bounds. Non-positive arguments fall
// back to the defaults.
func New(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if max <= 0 {
		max = DefaultMax
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the interval to wait before the upcoming poll, given whether
// the previous poll succeeded.
func (b *Backoff) Next(success bool) time.Duration {
	if success {
		b.current = b.initial
		return b.current
	}
	interval := b.current
	b.current = min(b.current*2, b.max)
	return interval
}

// Reset returns the schedule to its initial interval.
func (b *Backoff) Reset() {
	b.current = b.initial
}

package core

import "time"

const (
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
)

// ExponentialBackoff doubles the delay per attempt starting at Initial and
// never exceeds Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := b.Max
	if max <= 0 {
		max = defaultMaxBackoff
	}
	if initial >= max {
		return max
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay <= 0 || delay >= max {
			return max
		}
	}
	return delay
}

var _ BackoffScheduler = ExponentialBackoff{}

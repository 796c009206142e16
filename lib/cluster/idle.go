package cluster

import "time"

// BackoffIdleStrategy idles a polling loop. It does not sleep while there is work, otherwise it
// sleeps with exponential backoff from Min up to Max.
// It is not safe for concurrent use, every loop owns its own strategy.
type BackoffIdleStrategy struct {
	Min time.Duration
	Max time.Duration

	current time.Duration
}

// NewBackoffIdleStrategy returns a strategy sleeping between min and max
func NewBackoffIdleStrategy(min, max time.Duration) *BackoffIdleStrategy {
	if min <= 0 {
		min = time.Microsecond
	}
	if max < min {
		max = min
	}
	return &BackoffIdleStrategy{Min: min, Max: max}
}

// Idle is called after every loop iteration with the amount of work that was done
func (s *BackoffIdleStrategy) Idle(workCount int) {
	if workCount > 0 {
		s.Reset()
		return
	}
	if s.current < s.Min {
		s.current = s.Min
	}
	time.Sleep(s.current)
	s.current *= 2
	if s.current > s.Max {
		s.current = s.Max
	}
}

// Reset restarts the backoff at Min
func (s *BackoffIdleStrategy) Reset() {
	s.current = 0
}

// Current returns the next sleep duration
func (s *BackoffIdleStrategy) Current() time.Duration {
	if s.current < s.Min {
		return s.Min
	}
	return s.current
}

package anomaly

import (
	"sync"
	"time"
)

// errorRateBucket is the lookback for the error-rate fraction.
const errorRateBucket = 5 * time.Minute

type event struct {
	at     time.Time
	tokens int64
	cost   float64
	failed bool
}

// RateTracker derives hourly request, token, and cost rates plus a
// short-window error-rate fraction from a deque of recent events.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	events []event
}

// NewRateTracker creates a tracker with the given rate window, normally
// one hour.
func NewRateTracker(window time.Duration) *RateTracker {
	return &RateTracker{window: window}
}

// Record adds one request's contribution and drops events outside the
// window.
func (t *RateTracker) Record(at time.Time, tokens int64, cost float64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event{at: at, tokens: tokens, cost: cost, failed: failed})
	t.cleanup(at)
}

// cleanup drops events older than the window. Caller holds the lock.
func (t *RateTracker) cleanup(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.events) && t.events[i].at.Before(cutoff) {
		i++
	}
	t.events = t.events[i:]
}

// scale converts a per-window total into a per-hour rate.
func (t *RateTracker) scale() float64 {
	return float64(time.Hour) / float64(t.window)
}

// RequestsPerHour returns the hourly request rate as of now.
func (t *RateTracker) RequestsPerHour(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(now)
	return float64(len(t.events)) * t.scale()
}

// TokensPerHour returns the hourly token throughput as of now.
func (t *RateTracker) TokensPerHour(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(now)
	var total int64
	for _, e := range t.events {
		total += e.tokens
	}
	return float64(total) * t.scale()
}

// CostPerHour returns the hourly spend rate as of now.
func (t *RateTracker) CostPerHour(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(now)
	var total float64
	for _, e := range t.events {
		total += e.cost
	}
	return total * t.scale()
}

// ErrorRate returns the failed-request fraction over the last five
// minutes. Zero when no requests landed in the bucket.
func (t *RateTracker) ErrorRate(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanup(now)
	cutoff := now.Add(-errorRateBucket)
	var requests, failures int
	for _, e := range t.events {
		if e.at.Before(cutoff) {
			continue
		}
		requests++
		if e.failed {
			failures++
		}
	}
	if requests == 0 {
		return 0
	}
	return float64(failures) / float64(requests)
}

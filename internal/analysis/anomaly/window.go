package anomaly

import (
	"math"
	"sync"
	"time"
)

// sigmaFloor guards the z-score division when a window has near-zero
// variance.
const sigmaFloor = 1e-9

type sample struct {
	at    time.Time
	value float64
}

// RollingWindow holds the most recent samples of one metric, bounded by
// both a sample capacity and a time horizon. Mean and standard deviation
// are maintained incrementally (Welford) so appends stay O(1) amortized.
type RollingWindow struct {
	mu       sync.Mutex
	capacity int
	horizon  time.Duration

	samples []sample
	count   int
	mean    float64
	m2      float64
}

// NewRollingWindow creates a window bounded by capacity samples and the
// given horizon.
func NewRollingWindow(capacity int, horizon time.Duration) *RollingWindow {
	return &RollingWindow{
		capacity: capacity,
		horizon:  horizon,
		samples:  make([]sample, 0, capacity),
	}
}

// Append records one sample and evicts anything older than the horizon
// relative to at, then anything beyond capacity.
func (w *RollingWindow) Append(at time.Time, v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := at.Add(-w.horizon)
	for len(w.samples) > 0 && w.samples[0].at.Before(cutoff) {
		w.removeOldest()
	}
	for len(w.samples) >= w.capacity {
		w.removeOldest()
	}

	w.samples = append(w.samples, sample{at: at, value: v})
	w.count++
	delta := v - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (v - w.mean)
}

// removeOldest reverses one Welford step. Caller holds the lock.
func (w *RollingWindow) removeOldest() {
	x := w.samples[0].value
	w.samples = w.samples[1:]
	w.count--
	if w.count == 0 {
		w.mean = 0
		w.m2 = 0
		return
	}
	oldMean := w.mean
	w.mean = (float64(w.count+1)*oldMean - x) / float64(w.count)
	w.m2 -= (x - w.mean) * (x - oldMean)
	if w.m2 < 0 {
		w.m2 = 0
	}
}

// Count returns the number of live samples.
func (w *RollingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Stats returns the current mean and standard deviation.
func (w *RollingWindow) Stats() (mean, stddev float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count < 2 {
		return w.mean, 0
	}
	return w.mean, math.Sqrt(w.m2 / float64(w.count))
}

// ZScore returns (v - mean) / stddev with the stddev floored at
// sigmaFloor.
func (w *RollingWindow) ZScore(v float64) float64 {
	mean, stddev := w.Stats()
	if stddev < sigmaFloor {
		stddev = sigmaFloor
	}
	return (v - mean) / stddev
}

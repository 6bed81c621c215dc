package metrics

import (
	"sync"
	"time"
)

// RateTracker keeps an exponentially-weighted moving average of records
// processed per second over a sliding window, used to drive ETA estimates
// for long-running batches.
type RateTracker struct {
	mu sync.Mutex

	alpha       float64
	ewmaPerSec  float64
	initialized bool

	windowCount int
	windowStart time.Time
	maxWindow   int

	total int64
}

// NewRateTracker builds a tracker with a smoothing factor alpha in (0,1]
// (higher alpha reacts faster to recent bursts) and a window of up to
// maxSamples records between rate recomputations.
func NewRateTracker(alpha float64, maxSamples int) *RateTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &RateTracker{alpha: alpha, maxWindow: maxSamples}
}

// Record accounts for n newly processed items at time now.
func (r *RateTracker) Record(n int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total += int64(n)
	if r.windowStart.IsZero() {
		r.windowStart = now
	}
	r.windowCount += n

	if r.windowCount < r.maxWindow {
		return
	}
	r.rollWindowLocked(now)
}

// Flush forces a rate recomputation using whatever has accumulated in the
// current window, for callers that want an up-to-date ETA between full
// windows (e.g. a periodic progress tick).
func (r *RateTracker) Flush(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.windowCount > 0 {
		r.rollWindowLocked(now)
	}
}

func (r *RateTracker) rollWindowLocked(now time.Time) {
	elapsed := now.Sub(r.windowStart).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	instantRate := float64(r.windowCount) / elapsed

	if !r.initialized {
		r.ewmaPerSec = instantRate
		r.initialized = true
	} else {
		r.ewmaPerSec = r.alpha*instantRate + (1-r.alpha)*r.ewmaPerSec
	}

	r.windowCount = 0
	r.windowStart = now
}

// RatePerSecond returns the current smoothed throughput.
func (r *RateTracker) RatePerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ewmaPerSec
}

// Total returns the cumulative record count.
func (r *RateTracker) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// ETA estimates the remaining duration to process `remaining` more items at
// the current smoothed rate. A zero or negative rate yields zero (unknown),
// so callers must treat a zero ETA as "not yet estimable" rather than "done".
func (r *RateTracker) ETA(remaining int64) time.Duration {
	r.mu.Lock()
	rate := r.ewmaPerSec
	r.mu.Unlock()

	if rate <= 0 || remaining <= 0 {
		return 0
	}
	seconds := float64(remaining) / rate
	return time.Duration(seconds * float64(time.Second))
}

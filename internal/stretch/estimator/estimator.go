// Package estimator tracks per-chunk conversion wall-time in a fixed-size
// ring buffer and reports a moving-average ETA for the remaining conversions.
package estimator

import "sync"

// Estimator is a fixed-size ring of per-chunk conversion durations in
// milliseconds.
type Estimator struct {
	mu      sync.Mutex
	samples []float64
	next    int
	filled  int
}

// New constructs an Estimator with the given window size (default 10 when
// size <= 0).
func New(size int) *Estimator {
	if size <= 0 {
		size = 10
	}
	return &Estimator{samples: make([]float64, size)}
}

// Record adds a conversion duration observation, evicting the oldest sample
// once the window is full.
func (e *Estimator) Record(durationMillis float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples[e.next] = durationMillis
	e.next = (e.next + 1) % len(e.samples)
	if e.filled < len(e.samples) {
		e.filled++
	}
}

// Mean returns the moving average of recorded durations, or zero before any
// sample has landed.
func (e *Estimator) Mean() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meanLocked()
}

func (e *Estimator) meanLocked() float64 {
	if e.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < e.filled; i++ {
		sum += e.samples[i]
	}
	return sum / float64(e.filled)
}

// EstimateRemaining returns mean * n, the projected wall-time in milliseconds
// to convert n more chunks at the observed average rate.
func (e *Estimator) EstimateRemaining(n int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meanLocked() * float64(n)
}

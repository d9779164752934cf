// Package monitor computes buffer health from the playhead and chunk array
// and implements the hysteresis that governs entering and exiting the
// engine's buffering phase.
package monitor

import "github.com/soundstretch/engine/internal/stretch/chunkmodel"

// Health is a four-level classification of how much converted output lies
// ahead of the playhead.
type Health int

const (
	HealthHealthy Health = iota
	HealthLow
	HealthCritical
	HealthEmpty
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthLow:
		return "low"
	case HealthCritical:
		return "critical"
	default:
		return "empty"
	}
}

// Thresholds carries the ahead-seconds boundaries for health classification
// and hysteresis.
type Thresholds struct {
	HealthySeconds  float64
	LowSeconds      float64
	CriticalSeconds float64
	ResumeSeconds   float64 // exit-buffering threshold; must exceed CriticalSeconds
}

// AheadSeconds sums chunk_duration for the longest prefix, starting at
// playhead, of chunks that are all ready.
func AheadSeconds(chunks []*chunkmodel.Chunk, playhead int, chunkDurationSeconds float64) float64 {
	var seconds float64
	for i := playhead; i >= 0 && i < len(chunks); i++ {
		if chunks[i].State != chunkmodel.StateReady {
			break
		}
		seconds += chunkDurationSeconds
	}
	return seconds
}

// Classify buckets ahead-seconds into a Health band.
func Classify(aheadSeconds float64, t Thresholds) Health {
	switch {
	case aheadSeconds >= t.HealthySeconds:
		return HealthHealthy
	case aheadSeconds >= t.LowSeconds:
		return HealthLow
	case aheadSeconds >= t.CriticalSeconds:
		return HealthCritical
	default:
		return HealthEmpty
	}
}

func ready(chunks []*chunkmodel.Chunk, index int) bool {
	return index >= 0 && index < len(chunks) && chunks[index].State == chunkmodel.StateReady
}

func settled(state chunkmodel.State) bool {
	switch state {
	case chunkmodel.StateReady, chunkmodel.StateFailed, chunkmodel.StateSkipped, chunkmodel.StateEvicted:
		return true
	default:
		return false
	}
}

// ShouldEnterBuffering is true when ahead-seconds has dropped below the
// critical threshold, either the current or the next chunk is not ready, and
// ShouldExitBuffering does not hold, so the two are never both true.
func ShouldEnterBuffering(chunks []*chunkmodel.Chunk, playhead int, chunkDurationSeconds float64, t Thresholds) bool {
	ahead := AheadSeconds(chunks, playhead, chunkDurationSeconds)
	if ahead >= t.CriticalSeconds {
		return false
	}
	if ShouldExitBuffering(chunks, playhead, chunkDurationSeconds, t) {
		return false
	}
	return !ready(chunks, playhead) || !ready(chunks, playhead+1)
}

// ShouldExitBuffering is true when ahead-seconds has recovered to the resume
// threshold, the next chunk has become ready, or every chunk has reached a
// settled (no-further-work) state. The resume threshold must exceed the
// critical threshold to avoid oscillating with ShouldEnterBuffering.
func ShouldExitBuffering(chunks []*chunkmodel.Chunk, playhead int, chunkDurationSeconds float64, t Thresholds) bool {
	ahead := AheadSeconds(chunks, playhead, chunkDurationSeconds)
	if ahead >= t.ResumeSeconds {
		return true
	}
	if ready(chunks, playhead+1) {
		return true
	}
	for _, c := range chunks {
		if !settled(c.State) {
			return false
		}
	}
	return true
}

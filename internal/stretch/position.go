package stretch

import "github.com/soundstretch/engine/internal/stretch/chunkmodel"

// PositionCalculator converts between the playhead's chunk-relative playback
// position and an absolute source-sample position, accounting for each
// chunk's nominal (overlap-excluded) span.
type PositionCalculator struct {
	chunks               []*chunkmodel.Chunk
	sampleRate           int
	chunkDurationSeconds float64
}

// NewPositionCalculator constructs a calculator over chunks, sized by
// sampleRate and each chunk's nominal duration.
func NewPositionCalculator(chunks []*chunkmodel.Chunk, sampleRate int, chunkDurationSeconds float64) *PositionCalculator {
	return &PositionCalculator{chunks: chunks, sampleRate: sampleRate, chunkDurationSeconds: chunkDurationSeconds}
}

// AbsoluteSample returns the source-sample position corresponding to
// chunkIndex at offsetSeconds into its nominal span.
func (p *PositionCalculator) AbsoluteSample(chunkIndex int, offsetSeconds float64) int {
	if chunkIndex < 0 || chunkIndex >= len(p.chunks) {
		return 0
	}
	c := p.chunks[chunkIndex]
	offsetSamples := int(offsetSeconds * float64(p.sampleRate))
	return c.NominalStart() + offsetSamples
}

// ChunkAndOffset maps an absolute source-sample position back to the chunk
// that nominally contains it and the offset in seconds within that chunk's
// nominal span.
func (p *PositionCalculator) ChunkAndOffset(sample int) (chunkIndex int, offsetSeconds float64) {
	idx := chunkmodel.IndexForSample(p.chunks, sample)
	if idx < 0 {
		return 0, 0
	}
	c := p.chunks[idx]
	offsetSamples := sample - c.NominalStart()
	if offsetSamples < 0 {
		offsetSamples = 0
	}
	return idx, float64(offsetSamples) / float64(p.sampleRate)
}

// TotalSeconds returns the estimated total playback duration at tempo=1,
// the nominal chunk count times the nominal chunk duration, adjusted for a
// shorter final chunk.
func (p *PositionCalculator) TotalSeconds() float64 {
	if len(p.chunks) == 0 {
		return 0
	}
	last := p.chunks[len(p.chunks)-1]
	return float64(last.NominalEnd()) / float64(p.sampleRate)
}

// CurrentPosition is the pure position function of component I: it maps
// phase plus the orchestrator's bookkeeping to a source-time position in
// seconds, independent of how the player tracks its own clock-relative
// offset.
func CurrentPosition(
	phase Phase,
	duration float64,
	offset float64,
	bufferingResumePosition float64,
	hasResumePosition bool,
	tempo float64,
	sampleRate int,
	crossfadeSeconds float64,
	chunk *chunkmodel.Chunk,
	posInChunk float64,
) float64 {
	switch {
	case phase == PhaseEnded:
		return duration
	case phase == PhaseWaiting:
		return offset
	case phase == PhaseBuffering && hasResumePosition:
		return bufferingResumePosition
	}

	if chunk == nil || sampleRate <= 0 {
		return 0
	}

	nominalStartSec := float64(chunk.NominalStart()) / float64(sampleRate)
	adjusted := posInChunk
	if chunk.OverlapBefore > 0 {
		adjusted -= crossfadeSeconds
	}
	if adjusted < 0 {
		adjusted = 0
	}

	pos := nominalStartSec + adjusted*tempo
	if pos > duration {
		pos = duration
	}
	return pos
}

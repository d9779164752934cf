// Package trim removes the overlap prefix/suffix a WSOLA conversion leaves in
// a chunk's raw output, keeping a small crossfade region for the player to
// blend across chunk joins.
package trim

import "math"

// Config carries the crossfade length and sample rate needed to convert the
// crossfade duration into output samples.
type Config struct {
	CrossfadeSeconds float64
	SampleRate       int
}

// Trim drops the overlap regions from raw, scaled into output space by the
// ratio between raw's length and the chunk's original input length. It keeps
// a crossfade-length prefix of the leading overlap (when one exists) so the
// player has material to blend against the previous chunk.
//
// If the computed trim would leave a non-positive length, raw is returned
// unchanged (defensive: better a seam than an empty chunk).
func Trim(raw [][]float32, overlapBefore, overlapAfter, inputLength int, cfg Config) [][]float32 {
	if len(raw) == 0 || inputLength == 0 {
		return raw
	}

	outputLength := len(raw[0])
	r := float64(outputLength) / float64(inputLength)

	overlapBeforeOut := int(math.Round(float64(overlapBefore) * r))
	overlapAfterOut := int(math.Round(float64(overlapAfter) * r))

	keepBefore := 0
	if overlapBefore > 0 {
		keepBefore = int(math.Round(cfg.CrossfadeSeconds * float64(cfg.SampleRate)))
		if keepBefore > overlapBeforeOut {
			keepBefore = overlapBeforeOut
		}
	}

	trimStart := overlapBeforeOut - keepBefore
	trimmedLength := outputLength - trimStart - overlapAfterOut
	if trimmedLength <= 0 {
		return raw
	}

	out := make([][]float32, len(raw))
	for c, channel := range raw {
		seg := make([]float32, trimmedLength)
		copy(seg, channel[trimStart:trimStart+trimmedLength])
		out[c] = seg
	}
	return out
}

// Package wsola implements the Waveform Similarity Overlap-Add pitch-preserving
// time-stretch kernel. It is a pure function over PCM sample slices: no I/O, no
// goroutines, no package-level state. Callers drive cancellation cooperatively
// via the CancelFunc passed to Stretch.
package wsola

import (
	"math"

	"github.com/soundstretch/engine/internal/errors"
)

// Config tunes the stretch kernel. Defaults mirror the engine-wide tunables in
// internal/conf.
type Config struct {
	FrameSize       int     // analysis/synthesis frame length in samples
	SynthesisHop    int     // fixed output advance per frame
	Tolerance       int     // NCC search radius in samples, 0 disables search
	IdentityEpsilon float64 // |tempo-1| below this returns the input unchanged
}

// CancelFunc is polled at each frame boundary; returning true aborts the
// stretch and Stretch returns a cancelled Result.
type CancelFunc func() bool

// Result is the outcome of a Stretch call. Exactly one of Channels being
// populated or Cancelled being true holds, never both.
type Result struct {
	Channels  [][]float32
	Cancelled bool
}

// Stretch resamples channels (equal-length per-channel slices) by tempo,
// preserving pitch. tempo must be > 0; callers validate this at construction
// time, not here.
func Stretch(channels [][]float32, tempo float64, cfg Config, cancel CancelFunc) (Result, error) {
	if len(channels) == 0 {
		return Result{}, errors.New(errInvalidChannels).
			Component("stretch.wsola").
			Category(errors.CategoryWSOLA).
			Build()
	}

	length := len(channels[0])
	for _, ch := range channels {
		if len(ch) != length {
			return Result{}, errors.New(errMismatchedChannelLengths).
				Component("stretch.wsola").
				Category(errors.CategoryWSOLA).
				Build()
		}
	}

	if length == 0 {
		return Result{Channels: copyChannels(channels, 0)}, nil
	}

	if math.Abs(tempo-1.0) < cfg.IdentityEpsilon {
		return Result{Channels: copyChannels(channels, length)}, nil
	}

	frameSize := cfg.FrameSize
	if length < frameSize {
		return Result{Channels: copyChannels(channels, length)}, nil
	}

	analysisHop := int(math.Round(float64(cfg.SynthesisHop) * tempo))
	if analysisHop < 1 {
		analysisHop = 1
	}

	frameCount := (length-frameSize)/analysisHop + 1
	if frameCount <= 0 {
		return Result{Channels: copyChannels(channels, length)}, nil
	}

	window := hannWindow(frameSize)
	outLength := (frameCount-1)*cfg.SynthesisHop + frameSize

	numChannels := len(channels)
	out := make([][]float32, numChannels)
	norm := make([]float64, outLength)
	for c := range out {
		out[c] = make([]float32, outLength)
	}

	// reference holds the windowed previous output frame, per channel.
	reference := make([][]float64, numChannels)
	for c := range reference {
		reference[c] = make([]float64, frameSize)
	}

	for k := 0; k < frameCount; k++ {
		if cancel != nil && cancel() {
			return Result{Cancelled: true}, nil
		}

		nominalPos := k * analysisHop
		inputPos := nominalPos

		if k > 0 && cfg.Tolerance > 0 {
			inputPos = bestOffset(reference, channels, nominalPos, cfg.Tolerance, cfg.SynthesisHop, length, frameSize)
		}

		outStart := k * cfg.SynthesisHop
		for c := 0; c < numChannels; c++ {
			src := channels[c]
			for i := 0; i < frameSize; i++ {
				samplePos := inputPos + i
				var sample float64
				if samplePos >= 0 && samplePos < length {
					sample = float64(src[samplePos])
				}
				windowed := sample * window[i]
				reference[c][i] = windowed
				out[c][outStart+i] += float32(windowed)
			}
		}
		for i := 0; i < frameSize; i++ {
			norm[outStart+i] += window[i]
		}
	}

	for c := 0; c < numChannels; c++ {
		for i := range out[c] {
			if norm[i] > 1e-8 {
				out[c][i] = float32(float64(out[c][i]) / norm[i])
			}
		}
	}

	return Result{Channels: out}, nil
}

// bestOffset searches [-tolerance, +tolerance] around nominalPos for the input
// position maximizing normalized cross-correlation against the synthesis-hop
// suffix of the windowed reference frame.
func bestOffset(reference [][]float64, channels [][]float32, nominalPos, tolerance, synthesisHop, length, frameSize int) int {
	refTailLen := synthesisHop
	if refTailLen > frameSize {
		refTailLen = frameSize
	}
	refStart := frameSize - refTailLen

	lo := nominalPos - tolerance
	if lo < 0 {
		lo = 0
	}
	hi := nominalPos + tolerance
	if hi > length-frameSize {
		hi = length - frameSize
	}
	if hi < lo {
		return nominalPos
	}

	bestPos := nominalPos
	bestScore := math.Inf(-1)

	for candidate := lo; candidate <= hi; candidate++ {
		score := ncc(reference, channels, refStart, refTailLen, candidate)
		if score > bestScore {
			bestScore = score
			bestPos = candidate
		}
	}
	return bestPos
}

// ncc computes normalized cross-correlation between the reference tail
// (summed across channels) and the candidate input position.
func ncc(reference [][]float64, channels [][]float32, refStart, tailLen, candidate int) float64 {
	var dot, refNorm, sigNorm float64
	for c := range channels {
		ref := reference[c]
		src := channels[c]
		for i := 0; i < tailLen; i++ {
			r := ref[refStart+i]
			s := float64(src[candidate+i])
			dot += r * s
			refNorm += r * r
			sigNorm += s * s
		}
	}
	if refNorm < 1e-10 || sigNorm < 1e-10 {
		return 0
	}
	return dot / math.Sqrt(refNorm*sigNorm)
}

// hannWindow returns a Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func copyChannels(channels [][]float32, length int) [][]float32 {
	out := make([][]float32, len(channels))
	for c, ch := range channels {
		n := length
		if n > len(ch) {
			n = len(ch)
		}
		dup := make([]float32, n)
		copy(dup, ch[:n])
		out[c] = dup
	}
	return out
}

// Package chunkmodel splits a source PCM buffer into overlapping chunks and
// maps between source-sample positions and chunk indices. Chunk is the shared
// record type threaded through the scheduler, worker pool and player, so this
// package sits at the bottom of the stretch engine's import graph.
package chunkmodel

import (
	"math"

	"github.com/soundstretch/engine/internal/errors"
)

// State is a chunk's position in its conversion lifecycle.
type State int

const (
	StatePending State = iota
	StateQueued
	StateConverting
	StateReady
	StateFailed
	StateSkipped
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateQueued:
		return "queued"
	case StateConverting:
		return "converting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	case StateEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state never transitions again without an
// external trigger (seek, tempo change) restoring it.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateSkipped
}

// Chunk is a segment of the source buffer plus the overlap samples needed for
// WSOLA continuity across chunk boundaries. The control thread is the sole
// mutator; workers only ever see a copy of the input samples.
type Chunk struct {
	Index int

	InputStart int // half-open source-sample range, includes overlap
	InputEnd   int

	OverlapBefore int // overlap sample counts on each side; 0 for first/last
	OverlapAfter  int

	State State

	Output       [][]float32 // per-channel, non-nil iff State == StateReady
	OutputLength int

	Priority   float64
	RetryCount int
}

// NominalStart is the sample offset where this chunk's non-overlap region
// begins, i.e. InputStart + OverlapBefore.
func (c *Chunk) NominalStart() int {
	return c.InputStart + c.OverlapBefore
}

// NominalEnd is the sample offset where this chunk's non-overlap region ends,
// i.e. InputEnd - OverlapAfter.
func (c *Chunk) NominalEnd() int {
	return c.InputEnd - c.OverlapAfter
}

// InputLength is the number of source samples spanned by this chunk,
// including overlap.
func (c *Chunk) InputLength() int {
	return c.InputEnd - c.InputStart
}

// SplitConfig carries the durations used to size chunks, in seconds.
type SplitConfig struct {
	ChunkDurationSeconds float64
	OverlapSeconds       float64
}

// Split partitions a source of sampleCount samples at sampleRate into
// adjacent, non-overlapping nominal ranges that tile [0, sampleCount), each
// padded with an overlap region (clamped to buffer bounds, absent at the
// source's outer edges).
func Split(sampleCount, sampleRate int, cfg SplitConfig) ([]*Chunk, error) {
	if sampleRate <= 0 {
		return nil, errors.Newf("chunkmodel: invalid sample rate %d", sampleRate).
			Component("stretch.chunkmodel").
			Category(errors.CategoryValidation).
			Build()
	}
	if sampleCount <= 0 {
		return nil, nil
	}

	chunkSamples := int(math.Round(cfg.ChunkDurationSeconds * float64(sampleRate)))
	if chunkSamples < 1 {
		chunkSamples = 1
	}
	overlapSamples := int(math.Round(cfg.OverlapSeconds * float64(sampleRate)))
	if overlapSamples < 0 {
		overlapSamples = 0
	}

	var chunks []*Chunk
	for start := 0; start < sampleCount; start += chunkSamples {
		end := start + chunkSamples
		if end > sampleCount {
			end = sampleCount
		}

		overlapBefore := overlapSamples
		if start == 0 {
			overlapBefore = 0
		}
		overlapAfter := overlapSamples
		if end == sampleCount {
			overlapAfter = 0
		}

		inputStart := start - overlapBefore
		if inputStart < 0 {
			inputStart = 0
		}
		inputEnd := end + overlapAfter
		if inputEnd > sampleCount {
			inputEnd = sampleCount
		}

		chunks = append(chunks, &Chunk{
			Index:         len(chunks),
			InputStart:    inputStart,
			InputEnd:      inputEnd,
			OverlapBefore: start - inputStart,
			OverlapAfter:  inputEnd - end,
			State:         StatePending,
		})
	}

	return chunks, nil
}

// IndexForSample returns the index of the chunk whose nominal range contains
// sample s, or the last chunk's index when s is at or beyond the source end.
func IndexForSample(chunks []*Chunk, s int) int {
	if len(chunks) == 0 {
		return -1
	}
	for _, c := range chunks {
		if s >= c.NominalStart() && s < c.NominalEnd() {
			return c.Index
		}
	}
	return chunks[len(chunks)-1].Index
}

// Extract copies the inclusive input range (including overlap) of chunk idx
// into fresh per-channel contiguous slices suitable for transfer to a worker.
func Extract(chunks []*Chunk, idx int, source [][]float32) [][]float32 {
	c := chunks[idx]
	out := make([][]float32, len(source))
	for ch, samples := range source {
		seg := make([]float32, c.InputEnd-c.InputStart)
		copy(seg, samples[c.InputStart:c.InputEnd])
		out[ch] = seg
	}
	return out
}

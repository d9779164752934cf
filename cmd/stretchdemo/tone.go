package main

import "math"

// generateSweep synthesizes a mono-duplicated sine sweep from startHz to
// endHz over durationSeconds, at a constant low amplitude. It stands in for
// a decoded audio source: decoding real media files is out of scope here,
// only the conversion and playback pipeline is under test.
func generateSweep(durationSeconds float64, sampleRate int, startHz, endHz float64) [][]float32 {
	n := int(durationSeconds * float64(sampleRate))
	if n < 1 {
		n = 1
	}
	mono := make([]float32, n)
	const amplitude = 0.2
	var phase float64
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		freq := startHz + (endHz-startHz)*(t/durationSeconds)
		phase += 2 * math.Pi * freq / float64(sampleRate)
		mono[i] = float32(amplitude * math.Sin(phase))
	}
	right := make([]float32, n)
	copy(right, mono)
	return [][]float32{mono, right}
}

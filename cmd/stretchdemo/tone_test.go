package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSweepShape(t *testing.T) {
	buf := generateSweep(2.0, 1000, 100, 200)

	assert.Len(t, buf, 2, "expected stereo output")
	assert.Len(t, buf[0], 2000)
	assert.Equal(t, buf[0], buf[1], "channels should be duplicated")
}

func TestGenerateSweepMinimumLength(t *testing.T) {
	buf := generateSweep(0, 44100, 100, 200)
	assert.Len(t, buf[0], 1, "zero duration still yields at least one sample")
}

func TestGenerateSweepAmplitudeBounded(t *testing.T) {
	buf := generateSweep(1.0, 8000, 50, 4000)
	for _, v := range buf[0] {
		assert.LessOrEqual(t, v, float32(0.2))
		assert.GreaterOrEqual(t, v, float32(-0.2))
	}
}

package chunkmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() SplitConfig {
	return SplitConfig{ChunkDurationSeconds: 8, OverlapSeconds: 0.2}
}

func TestSplitTilesSourceExactly(t *testing.T) {
	sampleRate := 44100
	sampleCount := sampleRate * 3600 // 1 hour

	chunks, err := Split(sampleCount, sampleRate, testConfig())
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	covered := 0
	for i, c := range chunks {
		assert.Equal(t, covered, c.NominalStart(), "chunk %d nominal start", i)
		covered = c.NominalEnd()

		if i == 0 {
			assert.Equal(t, 0, c.OverlapBefore)
		} else {
			assert.Positive(t, c.OverlapBefore)
		}
		if i == len(chunks)-1 {
			assert.Equal(t, 0, c.OverlapAfter)
		}
	}
	assert.Equal(t, sampleCount, covered)
}

func TestSplitSourceShorterThanOneChunkProducesSingleChunk(t *testing.T) {
	sampleRate := 44100
	chunks, err := Split(sampleRate*2, sampleRate, testConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].OverlapBefore)
	assert.Equal(t, 0, chunks[0].OverlapAfter)
}

func TestSplitZeroLengthSourceProducesNoChunks(t *testing.T) {
	chunks, err := Split(0, 44100, testConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitRejectsInvalidSampleRate(t *testing.T) {
	_, err := Split(1000, 0, testConfig())
	require.Error(t, err)
}

func TestIndexForSampleFindsContainingChunk(t *testing.T) {
	sampleRate := 44100
	sampleCount := sampleRate * 100
	chunks, err := Split(sampleCount, sampleRate, testConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, IndexForSample(chunks, 0))
	assert.Equal(t, chunks[len(chunks)-1].Index, IndexForSample(chunks, sampleCount))
	assert.Equal(t, chunks[len(chunks)-1].Index, IndexForSample(chunks, sampleCount*10))

	mid := chunks[1].NominalStart() + 10
	assert.Equal(t, 1, IndexForSample(chunks, mid))
}

func TestExtractCopiesInputRangeIncludingOverlap(t *testing.T) {
	sampleRate := 44100
	sampleCount := sampleRate * 20
	chunks, err := Split(sampleCount, sampleRate, testConfig())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	source := [][]float32{make([]float32, sampleCount)}
	for i := range source[0] {
		source[0][i] = float32(i)
	}

	extracted := Extract(chunks, 1, source)
	c := chunks[1]
	assert.Len(t, extracted[0], c.InputEnd-c.InputStart)
	assert.Equal(t, source[0][c.InputStart], extracted[0][0])

	// mutating the extracted copy must not affect the source buffer
	extracted[0][0] = -1
	assert.NotEqual(t, extracted[0][0], source[0][c.InputStart])
}

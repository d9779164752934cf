package stretch

import (
	"sync"
	"testing"
	"time"

	"github.com/soundstretch/engine/internal/stretch/chunkmodel"
	"github.com/soundstretch/engine/internal/stretch/monitor"
	"github.com/soundstretch/engine/internal/stretch/player"
	"github.com/soundstretch/engine/internal/stretch/scheduler"
	"github.com/soundstretch/engine/internal/stretch/trim"
	"github.com/soundstretch/engine/internal/stretch/worker"
	"github.com/soundstretch/engine/internal/stretch/wsola"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually driven player.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now float64
}

func (c *fakeClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d float64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

type fakeNode struct{}

func (fakeNode) Start(startAt, offsetInBuffer float64)     {}
func (fakeNode) Stop()                                     {}
func (fakeNode) SetGain(value float64)                     {}
func (fakeNode) FadeGain(from, to, startAt, endAt float64) {}

type fakeChain struct{}

func (fakeChain) NewSource(buffer [][]float32, sampleRate int) player.Node { return fakeNode{} }

func testConfig() Config {
	return Config{
		Chunk: chunkmodel.SplitConfig{ChunkDurationSeconds: 1, OverlapSeconds: 0.1},
		WSOLA: wsola.Config{FrameSize: 512, SynthesisHop: 256, Tolerance: 0, IdentityEpsilon: 0.001},
		Scheduler: scheduler.Config{
			ForwardWeight:           1,
			BackwardWeight:          0.5,
			CancelDistanceThreshold: 10,
			MaxChunkRetries:         2,
			KeepAheadChunks:         19,
			KeepBehindChunks:        8,
		},
		Trim:   trim.Config{CrossfadeSeconds: 0.05},
		Worker: worker.Config{PoolSize: 2, MaxWorkerCrashes: 3},
		Buffer: monitor.Thresholds{
			HealthySeconds:  3,
			LowSeconds:      1.5,
			CriticalSeconds: 0.5,
			ResumeSeconds:   2,
		},
		Player: player.Config{
			CrossfadeSeconds:          0.05,
			LookaheadInterval:         time.Hour, // tests drive callbacks directly, not via ticks
			LookaheadThresholdSeconds: 0.3,
			TransitionMarginMillis:    10,
		},
		KeepAheadChunks:                   19,
		KeepBehindChunks:                  8,
		TempoDebounceMillis:               20,
		EstimatorWindowSize:               10,
		ProactiveScheduleThresholdSeconds: 0.5,
	}
}

func sourceOfSeconds(seconds float64, sampleRate int) [][]float32 {
	n := int(seconds * float64(sampleRate))
	return [][]float32{make([]float32, n)}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func TestNewEngineRejectsInvalidTempo(t *testing.T) {
	clock := &fakeClock{}
	_, err := NewEngine(testConfig(), sourceOfSeconds(1, 8000), 8000, 0, fakeChain{}, clock)
	assert.Error(t, err)
}

func TestNewEngineRejectsEmptySource(t *testing.T) {
	clock := &fakeClock{}
	_, err := NewEngine(testConfig(), nil, 8000, 1, fakeChain{}, clock)
	assert.Error(t, err)
}

func TestStartOnEmptySourceEndsImmediately(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(0, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	got := make(chan Event, 1)
	eng.emitter.On(EventEnded, func(e Event) { got <- e })

	eng.Start(0)

	assert.Equal(t, PhaseEnded, eng.Status().Phase)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("expected EventEnded")
	}
}

func TestStartBuffersThenPlaysOnceFirstChunkReady(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(5, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	eng.Start(0)
	assert.Equal(t, PhaseBuffering, eng.Status().Phase)

	waitUntil(t, 2*time.Second, func() bool {
		return eng.Status().Phase == PhasePlaying
	})
}

func TestPauseAndResumePreservesPosition(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(5, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	eng.Start(0)
	waitUntil(t, 2*time.Second, func() bool { return eng.Status().Phase == PhasePlaying })

	eng.Pause()
	assert.Equal(t, PhasePaused, eng.Status().Phase)

	eng.Resume()
	waitUntil(t, 2*time.Second, func() bool { return eng.Status().Phase == PhasePlaying })
}

func TestSeekMovesCurrentChunk(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(10, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	eng.Start(0)
	waitUntil(t, 2*time.Second, func() bool { return eng.Status().Phase == PhasePlaying })

	eng.Seek(7)
	waitUntil(t, 2*time.Second, func() bool {
		s := eng.Status()
		return s.Phase == PhasePlaying && s.Playback.Position >= 6.5
	})
}

func TestSetTempoDebouncesRapidCalls(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(5, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	eng.Start(0)
	waitUntil(t, 2*time.Second, func() bool { return eng.Status().Phase == PhasePlaying })

	eng.SetTempo(1.2)
	eng.SetTempo(1.5)
	eng.SetTempo(1.8)

	waitUntil(t, time.Second, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.tempo == 1.8
	})
}

func TestDisposeIsIdempotent(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(1, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)

	eng.Start(0)
	eng.Dispose()
	assert.NotPanics(t, func() { eng.Dispose() })
}

func TestStopMovesToEndedWithoutDisposing(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(5, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	eng.Start(0)
	waitUntil(t, 2*time.Second, func() bool { return eng.Status().Phase == PhasePlaying })

	eng.Stop()
	assert.Equal(t, PhaseEnded, eng.Status().Phase)
}

func TestEstimatedRemainingMillisIsZeroBeforeAnyConversion(t *testing.T) {
	clock := &fakeClock{}
	eng, err := NewEngine(testConfig(), sourceOfSeconds(1, 8000), 8000, 1, fakeChain{}, clock)
	require.NoError(t, err)
	defer eng.Dispose()

	assert.Equal(t, 0.0, eng.EstimatedRemainingMillis(3))
}

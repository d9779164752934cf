package player

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type fakeNode struct {
	mu      sync.Mutex
	started bool
	stopped bool
	gain    float64
}

func (n *fakeNode) Start(startAt, offset float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
}

func (n *fakeNode) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
}

func (n *fakeNode) SetGain(v float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = v
}

func (n *fakeNode) FadeGain(from, to, startAt, endAt float64) {
	n.SetGain(to)
}

type fakeChain struct {
	mu      sync.Mutex
	created []*fakeNode
}

func (c *fakeChain) NewSource(buffer [][]float32, sampleRate int) Node {
	n := &fakeNode{}
	c.mu.Lock()
	c.created = append(c.created, n)
	c.mu.Unlock()
	return n
}

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

func newTestPlayer(clock *fakeClock, chain *fakeChain, cb Callbacks) (*Player, *fakeTicker) {
	cfg := Config{
		CrossfadeSeconds:          0.1,
		LookaheadInterval:         time.Millisecond,
		LookaheadThresholdSeconds: 3.0,
		TransitionMarginMillis:    50,
	}
	p := New(chain, clock, cfg, cb)
	ft := &fakeTicker{ch: make(chan time.Time, 1)}
	p.newTicker = func(d time.Duration) ticker { return ft }
	return p, ft
}

func TestPlayChunkStartsSourceAndAppliesFadeIn(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	p, _ := newTestPlayer(clock, chain, Callbacks{})

	buf := [][]float32{make([]float32, 1000)} // 1s at 1000 Hz
	p.PlayChunk(buf, 1000, 0, false)

	require.Len(t, chain.created, 1)
	assert.True(t, chain.created[0].started)
	assert.InDelta(t, 1.0, chain.created[0].gain, 1e-9)
}

func TestGetCurrentPositionTracksClock(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	p, _ := newTestPlayer(clock, chain, Callbacks{})

	buf := [][]float32{make([]float32, 2000)}
	p.PlayChunk(buf, 1000, 0.5, true)
	clock.Advance(1.0)

	assert.InDelta(t, 1.5, p.GetCurrentPosition(), 1e-9)
}

func TestPauseCapturesPositionAndResumePlaysFromOffset(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	p, _ := newTestPlayer(clock, chain, Callbacks{})

	buf := [][]float32{make([]float32, 2000)}
	p.PlayChunk(buf, 1000, 0, true)
	clock.Advance(0.75)
	p.Pause()

	assert.InDelta(t, 0.75, p.GetCurrentPosition(), 1e-9)

	p.PlayChunk(buf, 1000, 0.75, true)
	assert.InDelta(t, 0.75, p.GetCurrentPosition(), 1e-9)
}

func TestStopReturnsZeroPosition(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	p, _ := newTestPlayer(clock, chain, Callbacks{})

	buf := [][]float32{make([]float32, 1000)}
	p.PlayChunk(buf, 1000, 0, true)
	p.Stop()

	assert.Equal(t, 0.0, p.GetCurrentPosition())
}

func TestLookaheadTickRequestsNextWhenClose(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	var needNextCalled atomic.Bool
	p, ft := newTestPlayer(clock, chain, Callbacks{
		OnNeedNext: func() { needNextCalled.Store(true) },
	})

	buf := [][]float32{make([]float32, 4000)} // 4s duration
	p.PlayChunk(buf, 1000, 0, true)
	clock.Advance(1.5) // remaining 2.5s <= 3.0s threshold

	ft.ch <- time.Now()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, needNextCalled.Load())
}

func TestLookaheadTickFiresChunkEndedWhenNoNextScheduled(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	var endedCalled atomic.Bool
	p, ft := newTestPlayer(clock, chain, Callbacks{
		OnChunkEnded: func() { endedCalled.Store(true) },
	})

	buf := [][]float32{make([]float32, 1000)} // 1s duration
	p.PlayChunk(buf, 1000, 0, true)
	clock.Advance(1.1)

	ft.ch <- time.Now()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, endedCalled.Load())
}

func TestScheduleNextAppliesCrossfadeAndPromotesOnTimer(t *testing.T) {
	clock := &fakeClock{}
	chain := &fakeChain{}
	var transitioned atomic.Bool
	p, _ := newTestPlayer(clock, chain, Callbacks{
		OnTransition: func() { transitioned.Store(true) },
	})

	buf := [][]float32{make([]float32, 4000)}
	p.PlayChunk(buf, 1000, 0, true)

	next := [][]float32{make([]float32, 4000)}
	p.ScheduleNext(next, 1000, clock.Now()) // start "now" so the timer fires almost immediately

	require.Eventually(t, transitioned.Load, time.Second, time.Millisecond)
}

func TestTransitionDelayNeverNegative(t *testing.T) {
	d := TransitionDelay(1.0, 5.0, 50)
	assert.Equal(t, time.Duration(0), d)

	d2 := TransitionDelay(5.0, 1.0, 50)
	assert.Equal(t, 4050*time.Millisecond, d2)
}

// Package player implements gapless, double-buffered playback of converted
// chunks driven by a hardware audio clock. It owns up to two audio-source
// nodes (current, next) connected through a host-supplied output chain and
// schedules sample-accurate crossfaded transitions between them.
//
// The real audio graph (source nodes, gain ramps, a hardware clock) is an
// external collaborator; this package depends only on the small Clock and
// Chain interfaces below, so it can be driven by an in-memory fake for tests
// and wired to a real audio backend in production.
package player

import (
	"sync"
	"time"
)

// Clock exposes the host's audio clock in seconds. Now must be monotonic for
// the duration of the player's lifetime.
type Clock interface {
	Now() float64
}

// Node is one scheduled audio source plus its gain stage.
type Node interface {
	// Start schedules playback to begin at clock time startAt, offsetInBuffer
	// seconds into the buffer.
	Start(startAt, offsetInBuffer float64)
	Stop()
	SetGain(value float64)
	// FadeGain schedules a linear ramp from `from` to `to` over the clock
	// interval [startAt, endAt].
	FadeGain(from, to, startAt, endAt float64)
}

// Chain creates a new Node for a buffer, wired through the engine's output
// chain to the sink.
type Chain interface {
	NewSource(buffer [][]float32, sampleRate int) Node
}

// Config tunes crossfade length, lookahead cadence and transition safety
// margin.
type Config struct {
	CrossfadeSeconds          float64
	LookaheadInterval         time.Duration
	LookaheadThresholdSeconds float64
	TransitionMarginMillis    int
}

// Callbacks routes player events back to the engine orchestrator.
type Callbacks struct {
	OnChunkEnded func()
	OnNeedNext   func()
	OnTransition func()
}

// ticker abstracts time.Ticker so tests can drive lookahead ticks manually.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Player owns the double-buffered playback state machine: current/next
// source nodes, crossfade scheduling and the lookahead poll that requests the
// next chunk from the orchestrator.
type Player struct {
	chain Chain
	clock Clock
	cfg   Config
	cb    Callbacks

	newTicker func(d time.Duration) ticker

	mu sync.Mutex

	current         Node
	playStartClock  float64
	playStartOffset float64
	chunkDuration   float64
	endedFired      bool

	next          Node
	nextScheduled bool
	nextStartTime float64
	nextDuration  float64

	paused         bool
	pausedPosition float64
	stopped        bool

	lookaheadStop   chan struct{}
	transitionTimer *time.Timer
}

// New constructs a Player. chain and clock must be non-nil.
func New(chain Chain, clock Clock, cfg Config, cb Callbacks) *Player {
	return &Player{
		chain: chain,
		clock: clock,
		cfg:   cfg,
		cb:    cb,
		newTicker: func(d time.Duration) ticker {
			return realTicker{t: time.NewTicker(d)}
		},
		stopped: true,
	}
}

// PlayChunk stops and disconnects any prior sources, starts buffer
// immediately at offsetInChunk seconds in, and applies a fade-in unless
// skipFadeIn is set or the crossfade window is zero.
func (p *Player) PlayChunk(buffer [][]float32, sampleRate int, offsetInChunk float64, skipFadeIn bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()

	now := p.clock.Now()
	node := p.chain.NewSource(buffer, sampleRate)
	node.Start(now, offsetInChunk)

	if !skipFadeIn && p.cfg.CrossfadeSeconds > 0 {
		node.FadeGain(0, 1, now, now+p.cfg.CrossfadeSeconds)
	} else {
		node.SetGain(1)
	}

	p.current = node
	p.playStartClock = now
	p.playStartOffset = offsetInChunk
	p.chunkDuration = bufferDuration(buffer, sampleRate)
	p.endedFired = false
	p.stopped = false
	p.paused = false

	p.startLookaheadLocked()
}

// HandleSeek is equivalent to PlayChunk; it exists to document the caller's
// intent distinctly in the orchestrator.
func (p *Player) HandleSeek(buffer [][]float32, sampleRate int, offsetInChunk float64) {
	p.PlayChunk(buffer, sampleRate, offsetInChunk, false)
}

// ScheduleNext creates a second source scheduled to start at startTimeOnClock
// and arranges the crossfade ramp between it and the current source.
func (p *Player) ScheduleNext(buffer [][]float32, sampleRate int, startTimeOnClock float64) {
	p.mu.Lock()

	node := p.chain.NewSource(buffer, sampleRate)
	node.Start(startTimeOnClock, 0)

	fadeStart := startTimeOnClock - p.cfg.CrossfadeSeconds
	if p.current != nil {
		p.current.FadeGain(1, 0, fadeStart, startTimeOnClock)
	}
	node.FadeGain(0, 1, fadeStart, startTimeOnClock)

	p.next = node
	p.nextScheduled = true
	p.nextStartTime = startTimeOnClock
	p.nextDuration = bufferDuration(buffer, sampleRate)

	delay := TransitionDelay(startTimeOnClock, p.clock.Now(), p.cfg.TransitionMarginMillis)
	p.transitionTimer = time.AfterFunc(delay, p.promoteNext)

	p.mu.Unlock()
}

func (p *Player) promoteNext() {
	p.mu.Lock()
	old := p.current
	p.current = p.next
	p.playStartClock = p.nextStartTime
	p.playStartOffset = 0
	p.chunkDuration = p.nextDuration
	p.endedFired = false
	p.next = nil
	p.nextScheduled = false
	p.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if p.cb.OnTransition != nil {
		p.cb.OnTransition()
	}
}

// Pause captures the elapsed-in-chunk position and stops both sources and
// the lookahead timer. A subsequent PlayChunk with a computed offset resumes.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pausedPosition = p.currentPositionLocked()
	p.paused = true
	p.teardownLocked()
}

// Stop tears down both sources and the lookahead timer.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.stopped = true
}

func (p *Player) teardownLocked() {
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
	if p.next != nil {
		p.next.Stop()
		p.next = nil
	}
	p.nextScheduled = false
	if p.transitionTimer != nil {
		p.transitionTimer.Stop()
		p.transitionTimer = nil
	}
	p.stopLookaheadLocked()
}

// GetCurrentPosition returns the captured position while paused, zero while
// stopped, or the live elapsed position otherwise.
func (p *Player) GetCurrentPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return p.pausedPosition
	}
	if p.stopped {
		return 0
	}
	return p.currentPositionLocked()
}

func (p *Player) currentPositionLocked() float64 {
	return p.clock.Now() - p.playStartClock + p.playStartOffset
}

func (p *Player) startLookaheadLocked() {
	if p.lookaheadStop != nil {
		return
	}
	stop := make(chan struct{})
	p.lookaheadStop = stop
	tk := p.newTicker(p.cfg.LookaheadInterval)
	go p.lookaheadLoop(tk, stop)
}

func (p *Player) stopLookaheadLocked() {
	if p.lookaheadStop != nil {
		close(p.lookaheadStop)
		p.lookaheadStop = nil
	}
}

func (p *Player) lookaheadLoop(tk ticker, stop chan struct{}) {
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C():
			p.tick()
		}
	}
}

// tick implements one lookahead poll: request the next chunk when close to
// the end of the current one, and surface a natural chunk-ended transition
// when no next source was ever scheduled.
func (p *Player) tick() {
	p.mu.Lock()
	if p.paused || p.stopped || p.current == nil {
		p.mu.Unlock()
		return
	}
	pos := p.currentPositionLocked()
	remaining := p.chunkDuration - pos

	if !p.endedFired && !p.nextScheduled && remaining <= 0 {
		p.endedFired = true
		p.mu.Unlock()
		if p.cb.OnChunkEnded != nil {
			p.cb.OnChunkEnded()
		}
		return
	}

	needNext := !p.nextScheduled && remaining <= p.cfg.LookaheadThresholdSeconds
	p.mu.Unlock()

	if needNext && p.cb.OnNeedNext != nil {
		p.cb.OnNeedNext()
	}
}

func bufferDuration(buffer [][]float32, sampleRate int) float64 {
	if len(buffer) == 0 || sampleRate <= 0 {
		return 0
	}
	return float64(len(buffer[0])) / float64(sampleRate)
}

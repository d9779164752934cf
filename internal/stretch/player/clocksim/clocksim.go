// Package clocksim provides an in-memory player.Clock and player.Chain so the
// engine can run end to end without a real hardware audio backend: a wall
// clock for timing and a chain that tracks node state without producing
// sound, suitable for headless demos and integration tests.
package clocksim

import (
	"sync"
	"time"

	"github.com/soundstretch/engine/internal/stretch/player"
)

// WallClock implements player.Clock against the real system clock, anchored
// at the moment it's constructed so Now() starts at (approximately) zero.
type WallClock struct {
	start time.Time
}

// NewWallClock returns a WallClock anchored at the current instant.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns elapsed seconds since the clock was constructed.
func (c *WallClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Chain implements player.Chain with Nodes that record their own state
// instead of driving an audio device.
type Chain struct{}

// NewChain constructs a no-op playback chain.
func NewChain() *Chain { return &Chain{} }

// NewSource returns a Node tracking buffer and sampleRate but producing no
// audio output.
func (c *Chain) NewSource(buffer [][]float32, sampleRate int) player.Node {
	return &Node{buffer: buffer, sampleRate: sampleRate}
}

// Node implements player.Node by recording the schedule it was given. Gain
// and timing calls are no-ops beyond bookkeeping; there is no audio device to
// drive in a headless context.
type Node struct {
	mu         sync.Mutex
	buffer     [][]float32
	sampleRate int
	started    bool
	startAt    float64
	gain       float64
	stopped    bool
}

// Start records the scheduled start time and offset.
func (n *Node) Start(startAt, offsetInBuffer float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	n.startAt = startAt
	n.gain = 1.0
}

// Stop marks the node as stopped.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
}

// SetGain records the current gain value.
func (n *Node) SetGain(value float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = value
}

// FadeGain records the end-of-ramp gain; intermediate ramp values aren't
// simulated since nothing consumes them.
func (n *Node) FadeGain(from, to, startAt, endAt float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gain = to
}

// Gain returns the node's most recently set gain value.
func (n *Node) Gain() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gain
}

// Started reports whether Start has been called.
func (n *Node) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// Stopped reports whether Stop has been called.
func (n *Node) Stopped() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopped
}

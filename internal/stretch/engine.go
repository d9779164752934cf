// Package stretch wires the chunk model, scheduler, worker pool, player and
// buffer monitor into a single stateful orchestrator running a phase state
// machine: waiting, buffering, playing, paused, ended.
package stretch

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soundstretch/engine/internal/errors"
	"github.com/soundstretch/engine/internal/logging"
	"github.com/soundstretch/engine/internal/stretch/chunkmodel"
	"github.com/soundstretch/engine/internal/stretch/estimator"
	"github.com/soundstretch/engine/internal/stretch/monitor"
	"github.com/soundstretch/engine/internal/stretch/player"
	"github.com/soundstretch/engine/internal/stretch/scheduler"
	"github.com/soundstretch/engine/internal/stretch/worker"
	"github.com/soundstretch/engine/internal/stretchmetrics"
)

// Engine is the control-thread orchestrator. All control operations run
// under its mutex; the worker pool and audio clock are the only other
// goroutines touching engine-adjacent state, and they communicate back only
// through the callback methods below.
type Engine struct {
	mu sync.Mutex

	cfg        Config
	chunks     []*chunkmodel.Chunk
	sampleRate int
	source     [][]float32

	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	player    *player.Player
	posCalc   *PositionCalculator
	estimator *estimator.Estimator
	emitter   *Emitter
	clock     player.Clock
	logger    *slog.Logger
	metrics   *stretchmetrics.Collector

	phase             Phase
	currentChunkIndex int
	scheduledNext     int // index of the chunk already ScheduleNext'd, or -1
	currentDuration   float64

	tempo float64

	initialOffset           float64
	bufferingResumePosition float64
	hasResumePosition       bool
	bufferingReason         BufferingReason
	stallStart              time.Time

	pendingTempoChange bool
	pendingTempo       float64
	tempoDebounceTimer *time.Timer

	disposed     bool
	lastPosition float64
	lastStatus   Status
	lastSnapshot Snapshot

	// instanceID distinguishes this engine's log lines and metrics from any
	// other Engine running in the same process.
	instanceID uuid.UUID
}

// NewEngine validates inputs, splits the source into chunks, and wires the
// scheduler, worker pool and player together. The worker pool's goroutines
// are started immediately; no chunk is dispatched until Start is called.
func NewEngine(cfg Config, source [][]float32, sampleRate int, tempo float64, chain player.Chain, clock player.Clock) (*Engine, error) {
	if len(source) == 0 {
		return nil, errors.Newf("stretch: source must have at least one channel").
			Component("stretch.engine").
			Category(errors.CategoryValidation).
			Build()
	}
	if tempo <= 0 || math.IsNaN(tempo) || math.IsInf(tempo, 0) {
		return nil, errors.Newf("stretch: tempo must be a positive finite number, got %v", tempo).
			Component("stretch.engine").
			Category(errors.CategoryValidation).
			Build()
	}

	sampleCount := len(source[0])
	chunks, err := chunkmodel.Split(sampleCount, sampleRate, cfg.Chunk)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		chunks:        chunks,
		sampleRate:    sampleRate,
		source:        source,
		tempo:         tempo,
		clock:         clock,
		logger:        logging.ForService("stretch.engine"),
		phase:         PhaseWaiting,
		scheduledNext: -1,
		posCalc:       NewPositionCalculator(chunks, sampleRate, cfg.Chunk.ChunkDurationSeconds),
		estimator:     estimator.New(cfg.EstimatorWindowSize),
		emitter:       NewEmitter(),
		metrics:       stretchmetrics.Global(),
		instanceID:    uuid.New(),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("engine_id", e.instanceID.String())

	trimCfg := cfg.Trim
	trimCfg.SampleRate = sampleRate

	sched := scheduler.New(chunks, nil, cfg.Scheduler, trimCfg, tempo, sampleRate, scheduler.Callbacks{
		OnChunkReady:  e.onChunkReady,
		OnChunkFailed: e.onChunkFailed,
		OnChunkError:  e.onChunkError,
	})
	sched.SetSource(source)

	pool := worker.New(cfg.Worker, cfg.WSOLA, sched, e.onAllWorkersRetired)
	pool.SetDurationObserver(func(_ int, millis float64) {
		e.estimator.Record(millis)
		e.metrics.RecordConversion("ready", time.Duration(millis*float64(time.Millisecond)))
	})
	pool.SetCrashObserver(func(slot int) { e.metrics.RecordWorkerCrash(slot) })
	sched.SetDispatcher(pool)
	pool.Start()

	e.scheduler = sched
	e.pool = pool
	e.player = player.New(chain, clock, cfg.Player, player.Callbacks{
		OnChunkEnded: e.onChunkEnded,
		OnNeedNext:   e.onNeedNext,
		OnTransition: e.onTransition,
	})

	return e, nil
}

// On registers fn for events of type t, returning a function to unregister
// it. Safe to call at any point in the engine's lifecycle.
func (e *Engine) On(t EventType, fn Listener) Unsubscribe {
	return e.emitter.On(t, fn)
}

// InstanceID returns the engine's unique identifier, used to correlate its
// log lines and worker requests across a process running more than one.
func (e *Engine) InstanceID() uuid.UUID {
	return e.instanceID
}

func (e *Engine) chunkAt(index int) *chunkmodel.Chunk {
	if index < 0 || index >= len(e.chunks) {
		return nil
	}
	return e.chunks[index]
}

// totalDurationLocked is the source buffer's duration in seconds: the
// position space the host's scrubber operates in, independent of tempo.
func (e *Engine) totalDurationLocked() float64 {
	return e.posCalc.TotalSeconds()
}

// crossfadeStart is the offset in output-seconds within a chunk's trimmed
// buffer where its nominal (non-overlap) content begins: the crossfade
// prefix length when the chunk retained one, otherwise zero.
func (e *Engine) crossfadeStart(c *chunkmodel.Chunk) float64 {
	if c == nil || c.OverlapBefore == 0 {
		return 0
	}
	return e.cfg.Trim.CrossfadeSeconds
}

func (e *Engine) outputDurationSeconds(c *chunkmodel.Chunk) float64 {
	if c == nil || c.OutputLength == 0 {
		return 0
	}
	return float64(c.OutputLength) / float64(e.sampleRate)
}

// Start begins playback from offsetSeconds into the source.
func (e *Engine) Start(offsetSeconds float64) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	if len(e.chunks) == 0 {
		e.phase = PhaseEnded
		e.mu.Unlock()
		e.emitter.Emit(Event{Type: EventEnded})
		return
	}

	e.initialOffset = offsetSeconds
	idx := chunkmodel.IndexForSample(e.chunks, int(offsetSeconds*float64(e.sampleRate)))
	e.currentChunkIndex = idx
	e.bufferingResumePosition = offsetSeconds
	e.hasResumePosition = true
	e.phase = PhaseWaiting
	e.enterBufferingLocked(BufferingInitial)
	e.mu.Unlock()

	e.scheduler.Start(idx)
}

// enterBufferingLocked transitions to PhaseBuffering and emits the
// buffering event. Listeners must not call back into the engine
// synchronously; every public entry point takes e.mu, so a reentrant call
// here would deadlock regardless of whether Emit ran before or after
// unlock. Emitting while still holding the lock keeps ordering trivial.
func (e *Engine) enterBufferingLocked(reason BufferingReason) {
	e.phase = PhaseBuffering
	e.bufferingReason = reason
	e.stallStart = clockNow()
	e.metrics.RecordBuffering(string(reason))
	e.emitter.Emit(Event{Type: EventBufferingEnter, Reason: reason})
}

// onChunkReady is the scheduler's readiness callback.
func (e *Engine) onChunkReady(index int) {
	e.mu.Lock()

	e.emitter.Emit(Event{Type: EventChunkReady, ChunkIndex: index})
	e.emitProgressAndHealthLocked()

	if (e.phase == PhaseWaiting || e.phase == PhaseBuffering) && e.shouldExitBufferingLocked() {
		e.exitBufferingLocked()
	}

	if e.phase == PhasePlaying && index == e.currentChunkIndex+1 {
		remaining := e.currentDuration - e.player.GetCurrentPosition()
		if remaining <= e.cfg.ProactiveScheduleThresholdSeconds && e.scheduledNext != index {
			e.tryScheduleNextLocked(index)
		}
	}

	allTerminal := e.allChunksTerminalLocked()
	e.evictDistantLocked()

	if allTerminal {
		e.emitter.Emit(Event{Type: EventComplete})
	}

	e.mu.Unlock()
}

func (e *Engine) onChunkFailed(index int, err error) {
	e.metrics.RecordConversion("error", 0)
	e.emitter.Emit(Event{Type: EventChunkFailed, ChunkIndex: index, Err: err})
}

// onChunkError surfaces every worker conversion failure as an error event,
// recoverable (fatal: false) while the chunk still has retries left and
// terminal (fatal: true) once the scheduler has given up on it.
func (e *Engine) onChunkError(index int, err error, fatal bool) {
	e.emitter.Emit(Event{Type: EventError, ChunkIndex: index, Err: err, Message: err.Error(), Fatal: fatal})
}

func (e *Engine) onAllWorkersRetired() {
	e.logger.Warn("all worker slots retired, running on fallback processor")
	e.metrics.RecordWorkersRetired()
	e.emitter.Emit(Event{Type: EventWorkerDegraded})
}

// onChunkEnded fires when the player's current source reaches its natural
// end without a gapless transition having been scheduled in time: the
// underrun path.
func (e *Engine) onChunkEnded() {
	e.mu.Lock()

	next := e.currentChunkIndex + 1
	if next >= len(e.chunks) {
		e.phase = PhaseEnded
		e.mu.Unlock()
		e.player.Stop()
		e.emitter.Emit(Event{Type: EventEnded})
		return
	}

	e.currentChunkIndex = next
	e.scheduledNext = -1
	e.scheduler.UpdatePriorities(next)
	e.evictDistantLocked()

	c := e.chunkAt(next)
	if c != nil && c.State == chunkmodel.StateReady {
		e.mu.Unlock()
		e.playChunk(c, e.crossfadeStart(c))
		return
	}

	e.bufferingResumePosition = float64(c.NominalStart()) / float64(e.sampleRate)
	e.hasResumePosition = true
	e.enterBufferingLocked(BufferingUnderrun)
	e.mu.Unlock()
}

// onTransition fires when a scheduled next source was promoted to current
// gaplessly; the playhead has already audibly advanced, so this only
// updates bookkeeping and emits telemetry.
func (e *Engine) onTransition() {
	e.mu.Lock()

	idx := e.scheduledNext
	if idx < 0 {
		idx = e.currentChunkIndex + 1
	}
	e.currentChunkIndex = idx
	e.scheduledNext = -1
	if c := e.chunkAt(idx); c != nil {
		e.currentDuration = e.outputDurationSeconds(c)
	}
	e.scheduler.UpdatePriorities(idx)
	allTerminal := e.allChunksTerminalLocked()
	e.evictDistantLocked()

	e.mu.Unlock()

	e.emitter.Emit(Event{Type: EventTransition, ChunkIndex: idx})
	if allTerminal {
		e.emitter.Emit(Event{Type: EventEnded})
	}
}

// onNeedNext fires from the player's lookahead poll.
func (e *Engine) onNeedNext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.currentChunkIndex + 1
	if next >= len(e.chunks) || e.scheduledNext == next {
		return
	}
	e.tryScheduleNextLocked(next)
}

// tryScheduleNextLocked schedules chunk index for gapless transition if it
// is ready. Caller holds e.mu.
func (e *Engine) tryScheduleNextLocked(index int) {
	c := e.chunkAt(index)
	if c == nil || c.State != chunkmodel.StateReady {
		return
	}
	startTime := e.clock.Now() + (e.currentDuration - e.player.GetCurrentPosition())
	e.player.ScheduleNext(c.Output, e.sampleRate, startTime)
	e.scheduledNext = index
}

func (e *Engine) playChunk(c *chunkmodel.Chunk, offsetInOutput float64) {
	e.mu.Lock()
	e.currentDuration = e.outputDurationSeconds(c)
	e.phase = PhasePlaying
	e.hasResumePosition = false
	e.scheduledNext = -1
	e.mu.Unlock()

	e.player.PlayChunk(c.Output, e.sampleRate, offsetInOutput, false)
}

func (e *Engine) shouldExitBufferingLocked() bool {
	return monitor.ShouldExitBuffering(e.chunks, e.currentChunkIndex, e.cfg.Chunk.ChunkDurationSeconds, e.cfg.Buffer)
}

func (e *Engine) shouldEnterBufferingLocked() bool {
	return monitor.ShouldEnterBuffering(e.chunks, e.currentChunkIndex, e.cfg.Chunk.ChunkDurationSeconds, e.cfg.Buffer)
}

// exitBufferingLocked resumes playback after a buffering stall. Caller
// holds e.mu and must not call it again before releasing and reacquiring,
// since it unlocks internally to play the chunk. When the resume position
// lands within 50ms of the current chunk's output end, it advances to the
// next chunk and retries instead of starting a sliver of playback.
func (e *Engine) exitBufferingLocked() {
	c := e.chunkAt(e.currentChunkIndex)
	if c == nil || c.State != chunkmodel.StateReady {
		return
	}

	stallMs := float64(clockNow().Sub(e.stallStart).Milliseconds())

	nominalStartSec := float64(c.NominalStart()) / float64(e.sampleRate)
	offsetInOutput := (e.bufferingResumePosition - nominalStartSec) / e.tempo
	if offsetInOutput < 0 {
		offsetInOutput = 0
	}

	outDur := e.outputDurationSeconds(c)
	finalOffset := e.crossfadeStart(c) + offsetInOutput

	if finalOffset > outDur-0.05 {
		next := e.currentChunkIndex + 1
		if next >= len(e.chunks) {
			e.phase = PhaseEnded
			e.mu.Unlock()
			e.player.Stop()
			e.emitter.Emit(Event{Type: EventEnded})
			e.mu.Lock()
			return
		}
		e.currentChunkIndex = next
		e.bufferingResumePosition = float64(e.chunks[next].NominalStart()) / float64(e.sampleRate)
		e.exitBufferingLocked()
		return
	}

	e.mu.Unlock()
	e.playChunk(c, finalOffset)
	e.emitter.Emit(Event{Type: EventBufferingExit, StallDurationMs: stallMs})
	e.mu.Lock()
}

func (e *Engine) allChunksTerminalLocked() bool {
	for _, c := range e.chunks {
		switch c.State {
		case chunkmodel.StateReady, chunkmodel.StateFailed, chunkmodel.StateSkipped, chunkmodel.StateEvicted:
			continue
		default:
			return false
		}
	}
	return true
}

func (e *Engine) evictDistantLocked() {
	lo := e.currentChunkIndex - e.cfg.KeepBehindChunks
	hi := e.currentChunkIndex + e.cfg.KeepAheadChunks
	for _, c := range e.chunks {
		if c.State != chunkmodel.StateReady {
			continue
		}
		if c.Index < lo || c.Index > hi {
			c.Output = nil
			c.OutputLength = 0
			c.State = chunkmodel.StateEvicted
			e.metrics.RecordEviction()
		}
	}
}

func (e *Engine) emitProgressAndHealthLocked() {
	total, ready, _ := e.conversionCountsLocked()
	ahead := monitor.AheadSeconds(e.chunks, e.currentChunkIndex, e.cfg.Chunk.ChunkDurationSeconds)
	health := monitor.Classify(ahead, e.cfg.Buffer)

	var progress float64
	if total > 0 {
		progress = float64(ready) / float64(total)
	}

	e.metrics.SetBufferHealth(health.String(), ahead)
	e.emitter.Emit(Event{Type: EventProgress, Total: total, Ready: ready, Progress: progress})
	e.emitter.Emit(Event{Type: EventBufferHealth, Health: health, AheadSeconds: ahead})
}

func (e *Engine) conversionCountsLocked() (total, ready, converting int) {
	total = len(e.chunks)
	for _, c := range e.chunks {
		switch c.State {
		case chunkmodel.StateReady:
			ready++
		case chunkmodel.StateConverting:
			converting++
		}
	}
	return
}

// Pause stops playback and captures the current position for Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.phase == PhaseEnded {
		return
	}
	e.phase = PhasePaused
	e.player.Pause()
}

// Resume continues playback from the paused position.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.disposed || e.phase != PhasePaused {
		e.mu.Unlock()
		return
	}

	if e.pendingTempoChange {
		e.tempo = e.pendingTempo
		e.pendingTempoChange = false
		e.scheduler.UpdatePriorities(e.currentChunkIndex)
		e.scheduler.HandleTempoChange(e.tempo, e.cfg.KeepBehindChunks, e.cfg.KeepAheadChunks)
		e.mu.Unlock()
		e.emitter.Emit(Event{Type: EventTempoChanged, Tempo: e.tempo})
		e.mu.Lock()
	}

	c := e.chunkAt(e.currentChunkIndex)
	if c != nil && c.State == chunkmodel.StateReady {
		pos := e.currentPositionLocked()
		nominalStartSec := float64(c.NominalStart()) / float64(e.sampleRate)
		offsetInOutput := (pos - nominalStartSec) / e.tempo
		if offsetInOutput < 0 {
			offsetInOutput = 0
		}
		finalOffset := e.crossfadeStart(c) + offsetInOutput
		e.mu.Unlock()
		e.playChunk(c, finalOffset)
		return
	}

	e.bufferingResumePosition = e.currentPositionLocked()
	e.hasResumePosition = true
	e.enterBufferingLocked(BufferingUnderrun)
	e.mu.Unlock()
}

// Seek moves the playhead to position (clamped to [0, duration]).
func (e *Engine) Seek(position float64) {
	e.mu.Lock()
	if e.disposed || e.phase == PhaseEnded {
		e.mu.Unlock()
		return
	}

	duration := e.totalDurationLocked()
	if position < 0 {
		position = 0
	}
	if position > duration {
		position = duration
	}

	newChunk := chunkmodel.IndexForSample(e.chunks, int(position*float64(e.sampleRate)))
	e.currentChunkIndex = newChunk
	e.scheduledNext = -1
	e.scheduler.HandleSeek(newChunk)

	c := e.chunkAt(newChunk)
	if c != nil && c.State == chunkmodel.StateReady {
		nominalStartSec := float64(c.NominalStart()) / float64(e.sampleRate)
		offsetInOutput := (position - nominalStartSec) / e.tempo
		if offsetInOutput < 0 {
			offsetInOutput = 0
		}
		finalOffset := e.crossfadeStart(c) + offsetInOutput
		e.mu.Unlock()
		e.player.HandleSeek(c.Output, e.sampleRate, finalOffset)
		e.mu.Lock()
		e.phase = PhasePlaying
		e.currentDuration = e.outputDurationSeconds(c)
		e.mu.Unlock()
		e.emitter.Emit(Event{Type: EventSeek, Position: position})
		return
	}

	e.bufferingResumePosition = position
	e.hasResumePosition = true
	e.enterBufferingLocked(BufferingSeek)
	e.mu.Unlock()
}

// SetTempo changes the playback tempo, debouncing rapid successive calls.
func (e *Engine) SetTempo(newTempo float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.phase == PhaseEnded || newTempo == e.tempo {
		return
	}
	if newTempo <= 0 || math.IsNaN(newTempo) || math.IsInf(newTempo, 0) {
		return
	}

	if e.phase == PhasePaused {
		e.bufferingResumePosition = e.currentPositionLocked()
		e.hasResumePosition = true
		e.pendingTempoChange = true
		e.pendingTempo = newTempo
		return
	}

	e.bufferingResumePosition = e.currentPositionLocked()
	e.hasResumePosition = true
	e.pendingTempo = newTempo
	e.enterBufferingLocked(BufferingTempo)

	if e.tempoDebounceTimer != nil {
		e.tempoDebounceTimer.Stop()
	}
	debounce := time.Duration(e.cfg.TempoDebounceMillis) * time.Millisecond
	e.tempoDebounceTimer = time.AfterFunc(debounce, e.commitTempoChange)
}

func (e *Engine) commitTempoChange() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	newTempo := e.pendingTempo
	e.tempo = newTempo
	e.scheduler.UpdatePriorities(e.currentChunkIndex)
	e.scheduler.HandleTempoChange(newTempo, e.cfg.KeepBehindChunks, e.cfg.KeepAheadChunks)
	e.mu.Unlock()

	e.metrics.RecordTempoChange()
	e.emitter.Emit(Event{Type: EventTempoChanged, Tempo: newTempo})
}

// Stop halts playback, disconnects audio sources, and moves to the ended
// phase without disposing the engine's resources.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.phase = PhaseEnded
	e.player.Stop()
}

// currentPositionLocked is the engine's internal position read, used by
// control operations that need the pre-transition position. Callers hold
// e.mu.
func (e *Engine) currentPositionLocked() float64 {
	return CurrentPosition(
		e.phase,
		e.totalDurationLocked(),
		e.initialOffset,
		e.bufferingResumePosition,
		e.hasResumePosition,
		e.tempo,
		e.sampleRate,
		e.cfg.Trim.CrossfadeSeconds,
		e.chunkAt(e.currentChunkIndex),
		e.player.GetCurrentPosition(),
	)
}

// GetCurrentPosition returns the engine's current playback position in
// source-time seconds.
func (e *Engine) GetCurrentPosition() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.lastPosition
	}
	e.lastPosition = e.currentPositionLocked()
	return e.lastPosition
}

// Status returns a summary view of the engine's state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.lastStatus
	}

	total, ready, converting := e.conversionCountsLocked()
	var progress float64
	if total > 0 {
		progress = float64(ready) / float64(total)
	}
	ahead := monitor.AheadSeconds(e.chunks, e.currentChunkIndex, e.cfg.Chunk.ChunkDurationSeconds)

	s := Status{
		Phase: e.phase,
		Conversion: ConversionStatus{
			Total:      total,
			Ready:      ready,
			Converting: converting,
			Progress:   progress,
		},
		Buffer: BufferStatus{
			Health:       monitor.Classify(ahead, e.cfg.Buffer),
			AheadSeconds: ahead,
		},
		Playback: PlaybackStatus{
			Position: e.currentPositionLocked(),
			Duration: e.totalDurationLocked(),
			Tempo:    e.tempo,
		},
	}
	e.lastStatus = s
	return s
}

// Snapshot returns a denser view of chunk state across the active
// retention window, suitable for a UI timeline.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return e.lastSnapshot
	}

	total, ready, converting := e.conversionCountsLocked()
	var progress float64
	if total > 0 {
		progress = float64(ready) / float64(total)
	}
	ahead := monitor.AheadSeconds(e.chunks, e.currentChunkIndex, e.cfg.Chunk.ChunkDurationSeconds)

	winStart := e.currentChunkIndex - e.cfg.KeepBehindChunks
	if winStart < 0 {
		winStart = 0
	}
	winEnd := e.currentChunkIndex + e.cfg.KeepAheadChunks
	if winEnd > total-1 {
		winEnd = total - 1
	}

	states := make([]chunkmodel.State, total)
	var windowReady, windowTotal int
	for i, c := range e.chunks {
		states[i] = c.State
		if i >= winStart && i <= winEnd {
			windowTotal++
			if c.State == chunkmodel.StateReady {
				windowReady++
			}
		}
	}
	var windowProgress float64
	if windowTotal > 0 {
		windowProgress = float64(windowReady) / float64(windowTotal)
	}

	snap := Snapshot{
		Tempo:                    e.tempo,
		Converting:               converting > 0,
		ConversionProgress:       progress,
		BufferHealth:             monitor.Classify(ahead, e.cfg.Buffer),
		AheadSeconds:             ahead,
		Buffering:                e.phase == PhaseBuffering,
		ChunkStates:              states,
		CurrentChunkIndex:        e.currentChunkIndex,
		ActiveWindowStart:        winStart,
		ActiveWindowEnd:          winEnd,
		TotalChunks:              total,
		WindowConversionProgress: windowProgress,
	}
	e.lastSnapshot = snap
	return snap
}

// EstimatedRemainingMillis projects the wall-clock time to convert n more
// chunks at the observed moving-average rate.
func (e *Engine) EstimatedRemainingMillis(n int) float64 {
	return e.estimator.EstimateRemaining(n)
}

// Dispose tears down every owned resource. Idempotent.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	if e.tempoDebounceTimer != nil {
		e.tempoDebounceTimer.Stop()
	}
	e.lastPosition = e.currentPositionLocked()
	e.mu.Unlock()

	e.player.Stop()
	e.pool.Stop()
	e.emitter.Clear("")
}

func clockNow() time.Time { return time.Now() }

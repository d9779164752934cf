// Package scheduler maintains a priority queue of chunks keyed by distance
// from the playhead and dispatches conversion jobs to a worker pool. It
// mirrors the heap-driven dispatch loop of a media scheduler: pop highest
// priority, submit while capacity remains, rebuild on playhead movement.
package scheduler

import (
	"container/heap"
	"strconv"
	"sync"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/soundstretch/engine/internal/errors"
	"github.com/soundstretch/engine/internal/stretch/chunkmodel"
	"github.com/soundstretch/engine/internal/stretch/trim"
)

// Config tunes priority weighting and retry/cancellation thresholds.
type Config struct {
	ForwardWeight           float64 // priority weight for chunks ahead of the playhead
	BackwardWeight          float64 // priority weight for chunks behind the playhead (rewinds rarer)
	CancelDistanceThreshold int     // cancel in-flight conversions farther than this from the playhead
	MaxChunkRetries         int

	// KeepAheadChunks and KeepBehindChunks bound the retention window used
	// to decide which evicted chunks a rebuild may bring back to queued.
	// Chunks evicted outside [playhead-KeepBehindChunks,
	// playhead+KeepAheadChunks] stay evicted until the playhead moves back
	// into range.
	KeepAheadChunks  int
	KeepBehindChunks int
}

// Job is the wire-shaped request submitted to a Dispatcher for one chunk.
// RequestID correlates a job with its eventual result or crash in worker
// logs; it carries no meaning to the conversion itself.
type Job struct {
	ChunkIndex int
	Input      [][]float32
	Tempo      float64
	SampleRate int
	RequestID  string
}

// Dispatcher abstracts the worker pool (or its fallback processor) from the
// scheduler's point of view.
type Dispatcher interface {
	HasCapacity() bool
	Submit(job Job) bool
	CancelChunk(index int)
	CancelAll()
}

// Callbacks routes scheduler events back to the engine orchestrator.
type Callbacks struct {
	OnChunkReady  func(index int)
	OnChunkFailed func(index int, err error)

	// OnChunkError fires on every conversion failure, recoverable or not:
	// fatal is false while the chunk still has retries left and true once
	// it's given up for good (immediately before OnChunkFailed, for the
	// fatal case).
	OnChunkError func(index int, err error, fatal bool)
}

// Scheduler owns chunk priorities and drives dispatch. It does not own the
// chunk slice's lifetime (the engine does) but is the sole writer of
// Chunk.Priority and Chunk.RetryCount, and of Chunk.State except for the
// engine marking ready chunks outside the retention window evicted.
type Scheduler struct {
	mu sync.Mutex

	chunks     []*chunkmodel.Chunk
	dispatcher Dispatcher
	cfg        Config
	trimCfg    trim.Config
	callbacks  Callbacks

	playhead   int
	tempo      float64
	sampleRate int

	// keepBehind and keepAhead are the retention window rebuildLocked last
	// used, initialized from cfg and refreshed by HandleTempoChange to
	// whatever window it was called with.
	keepBehind int
	keepAhead  int

	queue priorityQueue

	// tempoCache holds the one prior tempo's ready chunk outputs, keyed by
	// chunk index as a decimal string, so a tempo change immediately
	// followed by its reverse doesn't force reconversion. No expiration: a
	// new tempo change flushes it outright rather than letting entries age
	// out, since there's never more than one generation worth keeping.
	tempoCache *gocache.Cache

	extractInput func(index int) [][]float32
}

type tempoCacheEntry struct {
	output       [][]float32
	outputLength int
}

// New constructs a Scheduler over chunks (shared with the caller; the
// scheduler mutates chunk state and priority in place). dispatcher may be
// nil and wired later with SetDispatcher, since the worker pool's
// construction typically needs the scheduler as its result sink first.
func New(chunks []*chunkmodel.Chunk, dispatcher Dispatcher, cfg Config, trimCfg trim.Config, tempo float64, sampleRate int, callbacks Callbacks) *Scheduler {
	return &Scheduler{
		chunks:       chunks,
		dispatcher:   dispatcher,
		cfg:          cfg,
		trimCfg:      trimCfg,
		tempo:        tempo,
		sampleRate:   sampleRate,
		callbacks:    callbacks,
		keepBehind:   cfg.KeepBehindChunks,
		keepAhead:    cfg.KeepAheadChunks,
		extractInput: func(index int) [][]float32 { return nil },
		tempoCache:   gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// SetSource wires the scheduler to a source buffer so it can extract chunk
// input for dispatch. Must be called once before Start.
func (s *Scheduler) SetSource(source [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractInput = func(index int) [][]float32 {
		return chunkmodel.Extract(s.chunks, index, source)
	}
}

// SetDispatcher wires the worker pool (or fallback) that submitted jobs are
// dispatched to. Must be called once before Start when New was given a nil
// dispatcher.
func (s *Scheduler) SetDispatcher(dispatcher Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = dispatcher
}

// priorityFor computes dispatch priority: lower numbers dispatch first, and
// any forward chunk at distance k outranks any backward chunk at the same
// distance because BackwardWeight > ForwardWeight by default.
func (s *Scheduler) priorityFor(index int) float64 {
	d := index - s.playhead
	if d >= 0 {
		return float64(d) * s.cfg.ForwardWeight
	}
	return float64(-d) * s.cfg.BackwardWeight
}

// queueable reports whether a chunk's state makes it eligible to be enqueued.
func queueable(state chunkmodel.State) bool {
	switch state {
	case chunkmodel.StatePending, chunkmodel.StateQueued, chunkmodel.StateFailed, chunkmodel.StateEvicted:
		return true
	default:
		return false
	}
}

// Start initializes priorities, enqueues every queueable chunk and dispatches.
func (s *Scheduler) Start(playhead int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playhead = playhead
	s.rebuildLocked()
	s.dispatchNextLocked()
}

// UpdatePriorities rebuilds the heap from current chunk states. Evicted
// chunks inside the retention window are restored to queued with their
// retry count cleared; converting
// chunks far from the playhead are cancelled.
func (s *Scheduler) UpdatePriorities(playhead int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playhead = playhead
	s.cancelDistantConvertingLocked()
	s.rebuildLocked()
}

func (s *Scheduler) cancelDistantConvertingLocked() {
	for _, c := range s.chunks {
		if c.State != chunkmodel.StateConverting {
			continue
		}
		dist := c.Index - s.playhead
		if dist < 0 {
			dist = -dist
		}
		if dist > s.cfg.CancelDistanceThreshold {
			s.dispatcher.CancelChunk(c.Index)
		}
	}
}

// rebuildLocked rebuilds the priority heap from current chunk states.
// Evicted chunks are restored to queued only when they fall within
// [playhead-keepBehind, playhead+keepAhead]; evicted chunks outside that
// window are left evicted rather than being bounced straight back to
// queued, reconverted, and re-evicted on every subsequent rebuild.
func (s *Scheduler) rebuildLocked() {
	s.queue = s.queue[:0]
	heap.Init(&s.queue)

	lo, hi := s.playhead-s.keepBehind, s.playhead+s.keepAhead

	for _, c := range s.chunks {
		if c.State == chunkmodel.StateEvicted {
			if c.Index < lo || c.Index > hi {
				continue
			}
			c.State = chunkmodel.StateQueued
			c.RetryCount = 0
		}
		if !queueable(c.State) {
			continue
		}
		c.State = chunkmodel.StateQueued
		c.Priority = s.priorityFor(c.Index)
		heap.Push(&s.queue, &queueItem{index: c.Index, priority: c.Priority})
	}
}

// DispatchNext pops the highest-priority queued chunk and submits it while
// the dispatcher has free capacity.
func (s *Scheduler) DispatchNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchNextLocked()
}

func (s *Scheduler) dispatchNextLocked() {
	for s.queue.Len() > 0 && s.dispatcher.HasCapacity() {
		item := heap.Pop(&s.queue).(*queueItem)
		c := s.chunks[item.index]
		if c.State != chunkmodel.StateQueued {
			continue
		}

		c.State = chunkmodel.StateConverting

		submitted := s.dispatcher.Submit(Job{
			ChunkIndex: c.Index,
			Input:      s.extractInput(c.Index),
			Tempo:      s.tempo,
			SampleRate: s.sampleRate,
			RequestID:  uuid.NewString(),
		})
		if !submitted {
			c.State = chunkmodel.StateQueued
			heap.Push(&s.queue, item)
			return
		}
	}
}

// HandleSeek cancels far-away conversions, rebuilds priorities around the new
// playhead, and dispatches.
func (s *Scheduler) HandleSeek(newPlayhead int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.playhead = newPlayhead
	s.cancelDistantConvertingLocked()
	s.rebuildLocked()
	s.dispatchNextLocked()
}

// HandleTempoChange snapshots ready chunks inside [playhead-keepBehind,
// playhead+keepAhead] into the single-generation tempo cache, resets every
// non-evicted chunk to pending (evicting those outside the window), cancels
// in-flight conversions, and re-dispatches at the new tempo.
func (s *Scheduler) HandleTempoChange(newTempo float64, keepBehind, keepAhead int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tempoCache.Flush()
	lo, hi := s.playhead-keepBehind, s.playhead+keepAhead

	for _, c := range s.chunks {
		if c.State == chunkmodel.StateReady && c.Index >= lo && c.Index <= hi {
			entry := tempoCacheEntry{output: c.Output, outputLength: c.OutputLength}
			s.tempoCache.Set(strconv.Itoa(c.Index), entry, gocache.NoExpiration)
		}
	}

	s.dispatcher.CancelAll()

	for _, c := range s.chunks {
		if c.State == chunkmodel.StateEvicted {
			continue
		}
		if c.Index < lo || c.Index > hi {
			c.State = chunkmodel.StateEvicted
		} else {
			c.State = chunkmodel.StatePending
		}
		c.Output = nil
		c.OutputLength = 0
		c.RetryCount = 0
	}

	s.tempo = newTempo
	s.keepBehind, s.keepAhead = keepBehind, keepAhead
	s.rebuildLocked()
	s.dispatchNextLocked()
}

// RestorePreviousTempo reassigns the cached outputs to their chunks, marks
// them ready, discards the cache, and cancels any in-flight conversions.
// Returns false when no cache is available.
func (s *Scheduler) RestorePreviousTempo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.tempoCache.Items()
	if len(items) == 0 {
		return false
	}

	for key, item := range items {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(s.chunks) {
			continue
		}
		entry, ok := item.Object.(tempoCacheEntry)
		if !ok {
			continue
		}
		c := s.chunks[idx]
		c.Output = entry.output
		c.OutputLength = entry.outputLength
		c.State = chunkmodel.StateReady
	}
	s.tempoCache.Flush()

	s.dispatcher.CancelAll()
	s.rebuildLocked()
	s.dispatchNextLocked()
	return true
}

// HandleResult processes a worker's successful conversion for chunk index.
// Stale results (the chunk is no longer converting, because a seek or tempo
// change intervened) are discarded.
func (s *Scheduler) HandleResult(index int, raw [][]float32) {
	s.mu.Lock()
	c := s.chunks[index]
	if c.State != chunkmodel.StateConverting {
		s.mu.Unlock()
		return
	}

	trimmed := trim.Trim(raw, c.OverlapBefore, c.OverlapAfter, c.InputLength(), s.trimCfg)
	c.Output = trimmed
	if len(trimmed) > 0 {
		c.OutputLength = len(trimmed[0])
	}
	c.State = chunkmodel.StateReady

	s.dispatchNextLocked()
	s.mu.Unlock()

	if s.callbacks.OnChunkReady != nil {
		s.callbacks.OnChunkReady(index)
	}
}

// HandleError processes a worker's conversion failure. The chunk is requeued
// up to MaxChunkRetries, after which it becomes permanently failed.
func (s *Scheduler) HandleError(index int, convErr error) {
	s.mu.Lock()
	c := s.chunks[index]
	if c.State != chunkmodel.StateConverting {
		s.mu.Unlock()
		return
	}

	c.RetryCount++
	var failed bool
	if c.RetryCount >= s.cfg.MaxChunkRetries {
		c.State = chunkmodel.StateFailed
		failed = true
	} else {
		c.State = chunkmodel.StateQueued
		c.Priority = s.priorityFor(c.Index)
		heap.Push(&s.queue, &queueItem{index: c.Index, priority: c.Priority})
	}
	s.dispatchNextLocked()
	s.mu.Unlock()

	if failed {
		wrapped := errors.Newf("chunk %d exceeded max retries: %w", index, convErr).
			Component("stretch.scheduler").
			Category(errors.CategoryScheduler).
			Context("chunk_index", index).
			Build()
		if s.callbacks.OnChunkError != nil {
			s.callbacks.OnChunkError(index, wrapped, true)
		}
		if s.callbacks.OnChunkFailed != nil {
			s.callbacks.OnChunkFailed(index, wrapped)
		}
	} else if s.callbacks.OnChunkError != nil {
		s.callbacks.OnChunkError(index, convErr, false)
	}
}

// HandleCancelled processes a worker's acknowledgement that an in-flight
// conversion was cancelled (because a seek or tempo change moved the chunk
// out of the window the cancel-distance threshold tolerates). The chunk
// returns to the queue so a later rebuild can pick it up again.
func (s *Scheduler) HandleCancelled(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chunks[index]
	if c.State != chunkmodel.StateConverting {
		return
	}
	c.State = chunkmodel.StateQueued
	c.Priority = s.priorityFor(c.Index)
	heap.Push(&s.queue, &queueItem{index: c.Index, priority: c.Priority})
	s.dispatchNextLocked()
}

// Package worker executes the WSOLA kernel off the engine's control thread.
// It runs a fixed-size pool of slots, each a message loop accepting convert
// and cancel requests, with per-slot crash recovery. When every slot has
// retired, it activates a synchronous fallback processor.
package worker

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/soundstretch/engine/internal/logging"
	"github.com/soundstretch/engine/internal/stretch/scheduler"
	"github.com/soundstretch/engine/internal/stretch/wsola"
)

// Config tunes pool size and crash tolerance.
type Config struct {
	PoolSize         int
	MaxWorkerCrashes int
}

// ResultSink receives conversion outcomes. *scheduler.Scheduler satisfies
// this interface.
type ResultSink interface {
	HandleResult(chunkIndex int, output [][]float32)
	HandleError(chunkIndex int, err error)
	HandleCancelled(chunkIndex int)
}

// Pool is a fixed-size set of conversion slots implementing
// scheduler.Dispatcher. Each slot owns a goroutine and a single in-flight
// job at a time.
type Pool struct {
	mu       sync.Mutex
	slots    []*slot
	cfg      Config
	wsolaCfg wsola.Config
	sink     ResultSink
	logger   *slog.Logger

	onAllRetired  func()
	onJobDuration func(chunkIndex int, millis float64)
	onCrash       func(slot int)
	allRetired    atomic.Bool

	fallback *Fallback
}

type slot struct {
	id         int
	busy       bool
	retired    bool
	currentIdx int
	crashCount int
	jobs       chan scheduler.Job
	cancelled  atomic.Bool
	stop       chan struct{}
}

// New constructs a worker pool. Start must be called before Submit. A
// PoolSize of 0 auto-sizes to the host's logical core count, leaving one core
// free for the control thread and audio callback.
func New(cfg Config, wsolaCfg wsola.Config, sink ResultSink, onAllRetired func()) *Pool {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = autoPoolSize()
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	logger := logging.ForService("stretch.worker")
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:          cfg,
		wsolaCfg:     wsolaCfg,
		sink:         sink,
		logger:       logger,
		onAllRetired: onAllRetired,
		fallback:     NewFallback(wsolaCfg, sink),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		p.slots = append(p.slots, &slot{id: i, jobs: make(chan scheduler.Job, 1), stop: make(chan struct{})})
	}
	return p
}

// autoPoolSize returns the host's logical core count minus one, floored at
// one slot, for hosts where no explicit pool size was configured.
func autoPoolSize() int {
	n := cpuid.CPU.LogicalCores - 1
	if n < 1 {
		return 1
	}
	return n
}

// SetDurationObserver registers a callback invoked with each successfully
// converted chunk's wall-clock conversion time, for ETA estimation. Must be
// called before Start to avoid a race with the first dispatched job.
func (p *Pool) SetDurationObserver(fn func(chunkIndex int, millis float64)) {
	p.onJobDuration = fn
}

// SetCrashObserver registers a callback invoked with the slot index every
// time a slot crashes: the kernel panicked (and was recovered) or returned an
// error. Must be called before Start.
func (p *Pool) SetCrashObserver(fn func(slot int)) {
	p.onCrash = fn
}

// Start spawns the per-slot goroutines.
func (p *Pool) Start() {
	for _, s := range p.slots {
		go p.runSlot(s)
	}
}

// Stop tears down every slot. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if !s.retired {
			close(s.stop)
			s.retired = true
		}
	}
}

// HasCapacity reports whether any live, non-busy slot exists. Once every
// slot retires, the fallback processor reports unbounded capacity (it is
// re-entrant and serializes internally).
func (p *Pool) HasCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allRetired.Load() {
		return true
	}
	for _, s := range p.slots {
		if !s.retired && !s.busy {
			return true
		}
	}
	return false
}

// Submit dispatches job to a free slot, or to the fallback processor once
// every slot has retired. Returns false if no capacity is available.
func (p *Pool) Submit(job scheduler.Job) bool {
	p.mu.Lock()
	if p.allRetired.Load() {
		p.mu.Unlock()
		p.fallback.Submit(job)
		return true
	}
	var target *slot
	for _, s := range p.slots {
		if !s.retired && !s.busy {
			target = s
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		return false
	}
	target.busy = true
	target.currentIdx = job.ChunkIndex
	target.cancelled.Store(false)
	p.mu.Unlock()

	target.jobs <- job
	return true
}

// CancelChunk sets the cooperative cancel flag on whichever slot currently
// holds chunk index.
func (p *Pool) CancelChunk(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.busy && s.currentIdx == index {
			s.cancelled.Store(true)
			return
		}
	}
}

// CancelAll signals every busy slot to cancel its in-flight conversion.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.busy {
			s.cancelled.Store(true)
		}
	}
}

func (p *Pool) runSlot(s *slot) {
	for {
		select {
		case <-s.stop:
			return
		case job := <-s.jobs:
			p.runJob(s, job)
		}
	}
}

func (p *Pool) runJob(s *slot, job scheduler.Job) {
	start := time.Now()
	result, err := p.executeSafely(s, job)
	elapsedMillis := float64(time.Since(start).Microseconds()) / 1000.0

	p.mu.Lock()
	s.busy = false
	p.mu.Unlock()

	if err != nil {
		p.handleCrash(s, job, err)
		return
	}
	if result.Cancelled {
		p.sink.HandleCancelled(job.ChunkIndex)
		return
	}
	if p.onJobDuration != nil {
		p.onJobDuration(job.ChunkIndex, elapsedMillis)
	}
	p.sink.HandleResult(job.ChunkIndex, result.Channels)
}

// executeSafely runs the WSOLA kernel, converting a panic into an error so a
// single bad chunk cannot take down the worker goroutine.
func (p *Pool) executeSafely(s *slot, job scheduler.Job) (res wsola.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker slot %d panicked converting chunk %d: %v", s.id, job.ChunkIndex, r)
		}
	}()
	return wsola.Stretch(job.Input, job.Tempo, p.wsolaCfg, s.cancelled.Load)
}

func (p *Pool) handleCrash(s *slot, job scheduler.Job, crashErr error) {
	p.mu.Lock()
	s.crashCount++
	retireNow := s.crashCount >= p.cfg.MaxWorkerCrashes
	if retireNow {
		s.retired = true
		close(s.stop)
	}
	allRetired := true
	for _, other := range p.slots {
		if !other.retired {
			allRetired = false
			break
		}
	}
	p.mu.Unlock()

	p.logger.Warn("worker slot crashed", "slot", s.id, "chunk_index", job.ChunkIndex, "request_id", job.RequestID, "crash_count", s.crashCount, "retired", retireNow, "error", crashErr)

	if p.onCrash != nil {
		p.onCrash(s.id)
	}

	if allRetired {
		p.allRetired.Store(true)
		if p.onAllRetired != nil {
			p.onAllRetired()
		}
	}

	p.sink.HandleError(job.ChunkIndex, crashErr)
}

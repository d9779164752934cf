package worker

import (
	"sync"

	"github.com/soundstretch/engine/internal/stretch/scheduler"
	"github.com/soundstretch/engine/internal/stretch/wsola"
)

// Fallback executes conversions synchronously on a single goroutine when
// every worker slot has retired. It honors the same result/error contract as
// Pool but drops parallelism to one; correctness is preserved.
type Fallback struct {
	wsolaCfg wsola.Config
	sink     ResultSink

	mu      sync.Mutex
	jobs    chan scheduler.Job
	started bool
}

// NewFallback constructs a fallback processor. It is lazily started on first
// Submit so an engine that never exhausts its worker pool pays no cost.
func NewFallback(cfg wsola.Config, sink ResultSink) *Fallback {
	return &Fallback{wsolaCfg: cfg, sink: sink, jobs: make(chan scheduler.Job, 16)}
}

// Submit queues job for processing on the fallback goroutine. The caller is
// never blocked inside the kernel call.
func (f *Fallback) Submit(job scheduler.Job) {
	f.mu.Lock()
	if !f.started {
		f.started = true
		go f.run()
	}
	f.mu.Unlock()
	f.jobs <- job
}

func (f *Fallback) run() {
	for job := range f.jobs {
		result, err := wsola.Stretch(job.Input, job.Tempo, f.wsolaCfg, nil)
		if err != nil {
			f.sink.HandleError(job.ChunkIndex, err)
			continue
		}
		f.sink.HandleResult(job.ChunkIndex, result.Channels)
	}
}

package scheduler

import (
	"errors"
	"sync"
	"testing"

	"github.com/soundstretch/engine/internal/stretch/chunkmodel"
	"github.com/soundstretch/engine/internal/stretch/trim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	capacity  int
	submitted []Job
	cancelled []int
	cancelAll int
}

func newFakeDispatcher(capacity int) *fakeDispatcher {
	return &fakeDispatcher{capacity: capacity}
}

func (d *fakeDispatcher) HasCapacity() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity > 0
}

func (d *fakeDispatcher) Submit(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capacity <= 0 {
		return false
	}
	d.capacity--
	d.submitted = append(d.submitted, job)
	return true
}

func (d *fakeDispatcher) CancelChunk(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, index)
}

func (d *fakeDispatcher) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelAll++
	d.capacity += len(d.submitted)
	d.submitted = nil
}

func testChunks(n int) []*chunkmodel.Chunk {
	chunks := make([]*chunkmodel.Chunk, n)
	for i := range chunks {
		chunks[i] = &chunkmodel.Chunk{Index: i, InputStart: i * 100, InputEnd: (i + 1) * 100, State: chunkmodel.StatePending}
	}
	return chunks
}

func defaultConfig() Config {
	return Config{ForwardWeight: 1.0, BackwardWeight: 2.5, CancelDistanceThreshold: 6, MaxChunkRetries: 3}
}

func TestPriorityOrderingMonotoneAroundPlayhead(t *testing.T) {
	s := New(testChunks(20), newFakeDispatcher(0), defaultConfig(), trim.Config{}, 1.0, 44100, Callbacks{})
	s.playhead = 10

	assert.Less(t, s.priorityFor(11), s.priorityFor(12))
	assert.Less(t, s.priorityFor(9), s.priorityFor(8))
	// forward beats backward at equal distance
	assert.Less(t, s.priorityFor(11), s.priorityFor(9))
}

func TestStartDispatchesUpToCapacity(t *testing.T) {
	disp := newFakeDispatcher(2)
	s := New(testChunks(10), disp, defaultConfig(), trim.Config{}, 1.0, 44100, Callbacks{})
	s.SetSource([][]float32{make([]float32, 1000)})

	s.Start(0)
	assert.Len(t, disp.submitted, 2)
	assert.Equal(t, chunkmodel.StateConverting, s.chunks[disp.submitted[0].ChunkIndex].State)
}

func TestHandleResultTrimsAndMarksReady(t *testing.T) {
	disp := newFakeDispatcher(1)
	s := New(testChunks(5), disp, defaultConfig(), trim.Config{SampleRate: 1000}, 1.0, 1000, Callbacks{})
	s.SetSource([][]float32{make([]float32, 500)})
	s.Start(0)

	var readyIdx = -1
	s.callbacks.OnChunkReady = func(i int) { readyIdx = i }

	raw := [][]float32{make([]float32, 100)}
	s.HandleResult(0, raw)

	assert.Equal(t, chunkmodel.StateReady, s.chunks[0].State)
	assert.Equal(t, 0, readyIdx)
}

func TestHandleResultDiscardsStaleResult(t *testing.T) {
	disp := newFakeDispatcher(1)
	s := New(testChunks(5), disp, defaultConfig(), trim.Config{}, 1.0, 1000, Callbacks{})
	s.chunks[0].State = chunkmodel.StatePending // not converting

	called := false
	s.callbacks.OnChunkReady = func(i int) { called = true }
	s.HandleResult(0, [][]float32{{1, 2, 3}})

	assert.False(t, called)
	assert.Equal(t, chunkmodel.StatePending, s.chunks[0].State)
}

func TestHandleErrorRetriesThenFails(t *testing.T) {
	disp := newFakeDispatcher(5)
	cfg := defaultConfig()
	cfg.MaxChunkRetries = 2
	s := New(testChunks(5), disp, cfg, trim.Config{}, 1.0, 1000, Callbacks{})
	s.SetSource([][]float32{make([]float32, 500)})
	s.chunks[0].State = chunkmodel.StateConverting

	var failedIdx = -1
	s.callbacks.OnChunkFailed = func(i int, err error) { failedIdx = i }

	var fatalCalls []bool
	s.callbacks.OnChunkError = func(i int, err error, fatal bool) { fatalCalls = append(fatalCalls, fatal) }

	s.HandleError(0, errors.New("boom"))
	// requeued, then immediately redispatched since the dispatcher has capacity
	assert.Equal(t, chunkmodel.StateConverting, s.chunks[0].State)
	assert.Equal(t, 1, s.chunks[0].RetryCount)
	assert.Equal(t, -1, failedIdx)

	s.chunks[0].State = chunkmodel.StateConverting
	s.HandleError(0, errors.New("boom again"))
	assert.Equal(t, chunkmodel.StateFailed, s.chunks[0].State)
	assert.Equal(t, 0, failedIdx)

	require.Equal(t, []bool{false, true}, fatalCalls)
}

func TestHandleTempoChangeSnapshotsWindowAndResets(t *testing.T) {
	disp := newFakeDispatcher(5)
	s := New(testChunks(10), disp, defaultConfig(), trim.Config{}, 1.0, 1000, Callbacks{})
	s.SetSource([][]float32{make([]float32, 1000)})
	s.playhead = 5
	s.chunks[5].State = chunkmodel.StateReady
	s.chunks[5].Output = [][]float32{{1, 2, 3}}
	s.chunks[9].State = chunkmodel.StateReady // outside window below

	s.HandleTempoChange(1.5, 1, 1)

	require.NotNil(t, s.tempoCache)
	_, found := s.tempoCache.Get("5")
	assert.True(t, found)
	assert.Equal(t, chunkmodel.StateEvicted, s.chunks[9].State)
	// reset, requeued and redispatched at the new tempo
	assert.Equal(t, chunkmodel.StateConverting, s.chunks[5].State)
	assert.Equal(t, 1.5, s.tempo)
}

func TestUpdatePrioritiesLeavesOutOfWindowEvictedChunksEvicted(t *testing.T) {
	disp := newFakeDispatcher(5)
	s := New(testChunks(10), disp, defaultConfig(), trim.Config{}, 1.0, 1000, Callbacks{})
	s.playhead = 5
	s.keepBehind, s.keepAhead = 1, 1
	s.chunks[9].State = chunkmodel.StateEvicted // distance 4, outside the window
	s.chunks[5].State = chunkmodel.StateEvicted // distance 0, inside the window

	s.UpdatePriorities(5)

	assert.Equal(t, chunkmodel.StateEvicted, s.chunks[9].State,
		"a rebuild must not un-evict a chunk outside the retention window")
	assert.Equal(t, chunkmodel.StateQueued, s.chunks[5].State)
}

func TestRestorePreviousTempoRestoresExactBuffers(t *testing.T) {
	disp := newFakeDispatcher(5)
	s := New(testChunks(10), disp, defaultConfig(), trim.Config{}, 1.0, 1000, Callbacks{})
	s.SetSource([][]float32{make([]float32, 1000)})
	s.playhead = 5
	original := [][]float32{{1, 2, 3}}
	s.chunks[5].State = chunkmodel.StateReady
	s.chunks[5].Output = original

	s.HandleTempoChange(1.5, 2, 2)

	restored := s.RestorePreviousTempo()
	assert.True(t, restored)
	assert.Equal(t, chunkmodel.StateReady, s.chunks[5].State)
	assert.Equal(t, original, s.chunks[5].Output)
}

func TestRestorePreviousTempoWithoutCacheReturnsFalse(t *testing.T) {
	s := New(testChunks(5), newFakeDispatcher(1), defaultConfig(), trim.Config{}, 1.0, 1000, Callbacks{})
	assert.False(t, s.RestorePreviousTempo())
}

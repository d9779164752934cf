package stretch

import (
	"sync"

	"github.com/soundstretch/engine/internal/stretch/monitor"
)

// EventType names a kind of event the engine can emit.
type EventType string

const (
	EventProgress       EventType = "progress"
	EventBufferHealth   EventType = "buffer_health"
	EventChunkReady     EventType = "chunk_ready"
	EventChunkFailed    EventType = "chunk_failed"
	EventBufferingEnter EventType = "buffering"
	EventBufferingExit  EventType = "buffered"
	EventTransition     EventType = "transition"
	EventTempoChanged   EventType = "tempo_changed"
	EventSeek           EventType = "seek"
	EventComplete       EventType = "complete"
	EventEnded          EventType = "ended"
	EventWorkerDegraded EventType = "worker_degraded"
	EventError          EventType = "error"
)

// Event is the payload delivered to subscribers. Fields not relevant to Type
// are left at their zero value.
type Event struct {
	Type            EventType
	ChunkIndex      int
	Err             error
	Message         string
	Fatal           bool
	Tempo           float64
	Position        float64
	Total           int
	Ready           int
	Progress        float64
	Health          monitor.Health
	AheadSeconds    float64
	Reason          BufferingReason
	StallDurationMs float64
}

// Listener receives a delivered Event.
type Listener func(Event)

// Unsubscribe removes a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// Emitter is a synchronous, typed multicast point. On returns an
// Unsubscribe; Emit fans out to a snapshot of subscribers taken under lock,
// so a listener that unregisters itself or another listener mid-emit cannot
// corrupt the in-flight delivery.
type Emitter struct {
	mu        sync.Mutex
	listeners map[EventType][]*listenerHandle
	nextID    uint64
}

type listenerHandle struct {
	id uint64
	fn Listener
}

// NewEmitter constructs an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventType][]*listenerHandle)}
}

// On registers fn for events of type t and returns a function to remove it.
func (e *Emitter) On(t EventType, fn Listener) Unsubscribe {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	h := &listenerHandle{id: id, fn: fn}
	e.listeners[t] = append(e.listeners[t], h)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			list := e.listeners[t]
			for i, existing := range list {
				if existing.id == id {
					e.listeners[t] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener registered for ev.Type, synchronously,
// on the caller's goroutine.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	list := e.listeners[ev.Type]
	snapshot := make([]*listenerHandle, len(list))
	copy(snapshot, list)
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(ev)
	}
}

// Clear removes every listener for t, or every listener for every type when
// t is the empty string.
func (e *Emitter) Clear(t EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t == "" {
		e.listeners = make(map[EventType][]*listenerHandle)
		return
	}
	delete(e.listeners, t)
}

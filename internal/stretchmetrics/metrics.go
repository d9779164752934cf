// Package stretchmetrics exposes Prometheus counters and gauges for the
// time-stretch engine: chunk conversion outcomes, worker crashes, buffer
// health, and eviction activity. It mirrors audiocore's MetricsCollector
// wrapper shape (an enable/disable flag guarding every recorder so a
// disabled collector costs a nil check, not a label-cardinality allocation).
package stretchmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records engine events as Prometheus metrics. The zero value is a
// disabled no-op collector; use New to register against a registry.
type Collector struct {
	enabled bool

	chunkConversions   *prometheus.CounterVec
	conversionDuration prometheus.Histogram
	workerCrashes      *prometheus.CounterVec
	workersRetired     prometheus.Counter
	bufferHealth       *prometheus.GaugeVec
	aheadSeconds       prometheus.Gauge
	evictions          prometheus.Counter
	bufferingEvents    *prometheus.CounterVec
	tempoChanges       prometheus.Counter
}

// New registers the engine's metric families against reg and returns a
// Collector backed by them. Pass prometheus.NewRegistry() for an isolated
// registry (e.g. in tests) or prometheus.DefaultRegisterer to expose via the
// process-wide /metrics endpoint.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		enabled: true,
		chunkConversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "worker",
			Name:      "chunk_conversions_total",
			Help:      "Chunk conversions processed by the worker pool, by outcome.",
		}, []string{"outcome"}),
		conversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stretch",
			Subsystem: "worker",
			Name:      "chunk_conversion_duration_seconds",
			Help:      "Wall-clock time to convert one chunk.",
			Buckets:   prometheus.DefBuckets,
		}),
		workerCrashes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "worker",
			Name:      "crashes_total",
			Help:      "Worker slot crashes (recovered panics or kernel errors) during conversion, by slot.",
		}, []string{"slot"}),
		workersRetired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "worker",
			Name:      "pool_degraded_total",
			Help:      "Times every worker slot retired and the fallback processor took over.",
		}),
		bufferHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stretch",
			Subsystem: "buffer",
			Name:      "health",
			Help:      "Current buffer health classification (1 for the active level, 0 otherwise).",
		}, []string{"level"}),
		aheadSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "stretch",
			Subsystem: "buffer",
			Name:      "ahead_seconds",
			Help:      "Seconds of ready playback buffered ahead of the playhead.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "buffer",
			Name:      "evictions_total",
			Help:      "Chunk output buffers evicted for falling outside the retention window.",
		}),
		bufferingEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "playback",
			Name:      "buffering_events_total",
			Help:      "Transitions into the buffering phase, by reason.",
		}, []string{"reason"}),
		tempoChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stretch",
			Subsystem: "playback",
			Name:      "tempo_changes_total",
			Help:      "Committed tempo changes (after debounce).",
		}),
	}
}

// RecordConversion records a finished chunk conversion and its duration.
// outcome is "ready", "cancelled", or "error".
func (c *Collector) RecordConversion(outcome string, duration time.Duration) {
	if c == nil || !c.enabled {
		return
	}
	c.chunkConversions.WithLabelValues(outcome).Inc()
	if outcome == "ready" {
		c.conversionDuration.Observe(duration.Seconds())
	}
}

// RecordWorkerCrash records a crash (a recovered panic or a kernel error) in
// the given slot.
func (c *Collector) RecordWorkerCrash(slot int) {
	if c == nil || !c.enabled {
		return
	}
	c.workerCrashes.WithLabelValues(slotLabel(slot)).Inc()
}

// RecordWorkersRetired records the pool falling back to the synchronous
// processor.
func (c *Collector) RecordWorkersRetired() {
	if c == nil || !c.enabled {
		return
	}
	c.workersRetired.Inc()
}

// SetBufferHealth sets the active health gauge and zeroes the others.
func (c *Collector) SetBufferHealth(level string, aheadSeconds float64) {
	if c == nil || !c.enabled {
		return
	}
	for _, l := range []string{"empty", "critical", "low", "healthy"} {
		v := 0.0
		if l == level {
			v = 1.0
		}
		c.bufferHealth.WithLabelValues(l).Set(v)
	}
	c.aheadSeconds.Set(aheadSeconds)
}

// RecordEviction records one chunk's output buffer being evicted.
func (c *Collector) RecordEviction() {
	if c == nil || !c.enabled {
		return
	}
	c.evictions.Inc()
}

// RecordBuffering records entering the buffering phase for reason.
func (c *Collector) RecordBuffering(reason string) {
	if c == nil || !c.enabled {
		return
	}
	c.bufferingEvents.WithLabelValues(reason).Inc()
}

// RecordTempoChange records a committed tempo change.
func (c *Collector) RecordTempoChange() {
	if c == nil || !c.enabled {
		return
	}
	c.tempoChanges.Inc()
}

func slotLabel(slot int) string {
	if slot < 0 {
		return "fallback"
	}
	return strconv.Itoa(slot)
}

var (
	globalOnce sync.Once
	global     *Collector
)

// Global returns a process-wide Collector, creating it against
// prometheus.DefaultRegisterer on first use.
func Global() *Collector {
	globalOnce.Do(func() {
		global = New(prometheus.DefaultRegisterer)
	})
	return global
}

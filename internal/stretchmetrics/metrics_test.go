package stretchmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	count := 0
	for _, f := range families {
		if f.GetName() == name {
			for _, m := range f.Metric {
				if m.Counter != nil {
					count += int(m.Counter.GetValue())
				}
			}
		}
	}
	return count
}

func TestRecordConversionIncrementsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordConversion("ready", 10*time.Millisecond)
	c.RecordConversion("ready", 20*time.Millisecond)
	c.RecordConversion("cancelled", 0)

	assert.Equal(t, 3, gather(t, reg, "stretch_worker_chunk_conversions_total"))
}

func TestRecordWorkerCrashLabelsBySlot(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordWorkerCrash(0)
	c.RecordWorkerCrash(1)

	assert.Equal(t, 2, gather(t, reg, "stretch_worker_crashes_total"))
}

func TestNilCollectorRecordersAreNoOps(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordConversion("ready", time.Millisecond)
		c.RecordWorkerCrash(0)
		c.RecordWorkersRetired()
		c.SetBufferHealth("healthy", 5)
		c.RecordEviction()
		c.RecordBuffering("seek")
		c.RecordTempoChange()
	})
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	assert.Same(t, Global(), Global())
}

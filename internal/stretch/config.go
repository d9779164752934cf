package stretch

import (
	"math"
	"time"

	"github.com/soundstretch/engine/internal/conf"
	"github.com/soundstretch/engine/internal/stretch/chunkmodel"
	"github.com/soundstretch/engine/internal/stretch/monitor"
	"github.com/soundstretch/engine/internal/stretch/player"
	"github.com/soundstretch/engine/internal/stretch/scheduler"
	"github.com/soundstretch/engine/internal/stretch/trim"
	"github.com/soundstretch/engine/internal/stretch/worker"
	"github.com/soundstretch/engine/internal/stretch/wsola"
)

// Config bundles every tunable consumed by a new Engine, split by the
// subsystem that owns it. NewConfigFromSettings builds one from the
// process-wide viper-backed settings; tests typically construct Config
// literals directly instead.
type Config struct {
	Chunk     chunkmodel.SplitConfig
	WSOLA     wsola.Config
	Scheduler scheduler.Config
	Trim      trim.Config
	Worker    worker.Config
	Buffer    monitor.Thresholds
	Player    player.Config

	KeepAheadChunks  int
	KeepBehindChunks int

	TempoDebounceMillis               int
	EstimatorWindowSize               int
	ProactiveScheduleThresholdSeconds float64
}

// NewConfigFromSettings derives an engine Config from the loaded settings.
func NewConfigFromSettings(s *conf.Settings) Config {
	keepAhead := keepBound(s.Buffer.KeepAheadChunks, 150, s.Chunk.DurationSeconds)
	keepBehind := keepBound(s.Buffer.KeepBehindChunks, 60, s.Chunk.DurationSeconds)

	return Config{
		Chunk: chunkmodel.SplitConfig{
			ChunkDurationSeconds: s.Chunk.DurationSeconds,
			OverlapSeconds:       s.Chunk.OverlapSeconds,
		},
		WSOLA: wsola.Config{
			FrameSize:       s.WSOLA.FrameSize,
			SynthesisHop:    s.WSOLA.SynthesisHop,
			Tolerance:       s.WSOLA.Tolerance,
			IdentityEpsilon: s.WSOLA.IdentityEpsilon,
		},
		Scheduler: scheduler.Config{
			ForwardWeight:           s.Scheduler.ForwardWeight,
			BackwardWeight:          s.Scheduler.BackwardWeight,
			CancelDistanceThreshold: s.Scheduler.CancelDistanceThreshold,
			MaxChunkRetries:         s.Scheduler.MaxChunkRetries,
			KeepAheadChunks:         keepAhead,
			KeepBehindChunks:        keepBehind,
		},
		Trim: trim.Config{
			CrossfadeSeconds: s.Chunk.CrossfadeSeconds,
		},
		Worker: worker.Config{
			PoolSize:         s.Worker.PoolSize,
			MaxWorkerCrashes: s.Worker.MaxWorkerCrashes,
		},
		Buffer: monitor.Thresholds{
			HealthySeconds:  s.Buffer.HealthySeconds,
			LowSeconds:      s.Buffer.LowSeconds,
			CriticalSeconds: s.Buffer.CriticalSeconds,
			ResumeSeconds:   s.Buffer.ResumeSeconds,
		},
		Player: player.Config{
			CrossfadeSeconds:          s.Chunk.CrossfadeSeconds,
			LookaheadInterval:         millis(s.Player.LookaheadIntervalMillis),
			LookaheadThresholdSeconds: s.Player.LookaheadThresholdSeconds,
			TransitionMarginMillis:    s.Player.TransitionMarginMillis,
		},
		KeepAheadChunks:                   keepAhead,
		KeepBehindChunks:                  keepBehind,
		TempoDebounceMillis:               s.Tempo.DebounceMillis,
		EstimatorWindowSize:               s.Estimator.WindowSize,
		ProactiveScheduleThresholdSeconds: s.Player.ProactiveScheduleThresholdSeconds,
	}
}

// keepBound computes the retention window in chunks:
// max(chunkCountBound, ceil(secondsBound / chunkDuration)).
func keepBound(chunkCountBound int, secondsBound, chunkDurationSeconds float64) int {
	if chunkDurationSeconds <= 0 {
		return chunkCountBound
	}
	bySeconds := int(math.Ceil(secondsBound / chunkDurationSeconds))
	if bySeconds > chunkCountBound {
		return bySeconds
	}
	return chunkCountBound
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

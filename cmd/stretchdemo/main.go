// Package main provides a headless demo harness for the time-stretch
// playback engine: it synthesizes a tone in place of a decoded audio file,
// drives the engine through an in-memory clock and output chain, and prints
// status as it plays, converts, seeks and changes tempo.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundstretch/engine/internal/buildinfo"
	"github.com/soundstretch/engine/internal/conf"
	"github.com/soundstretch/engine/internal/logging"
	"github.com/soundstretch/engine/internal/stretch"
	"github.com/soundstretch/engine/internal/stretch/player/clocksim"
)

// build metadata, overridden via -ldflags at build time.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading settings: %v\n", err)
		os.Exit(1)
	}

	root := rootCommand(settings)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand(settings *conf.Settings) *cobra.Command {
	info := buildinfo.NewContext(version, buildDate, "")

	cmd := &cobra.Command{
		Use:     "stretchdemo",
		Short:   "Demo harness for the pitch-preserving time-stretch playback engine",
		Version: fmt.Sprintf("%s (built %s)", info.Version(), info.BuildDate()),
	}
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug logging")

	cmd.AddCommand(playCommand(settings))
	return cmd
}

func playCommand(settings *conf.Settings) *cobra.Command {
	var (
		tempo         float64
		seek          float64
		toneHz        float64
		toneSweep     float64
		durSeconds    float64
		sampleRate    int
		pauseAfter    float64
		resumeAfter   float64
		newTempo      float64
		tempoChangeAt float64
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Synthesize a tone and play it back through the engine at a given tempo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(settings, demoParams{
				tempo:         tempo,
				seekSeconds:   seek,
				toneHz:        toneHz,
				toneSweepHz:   toneSweep,
				durationSecs:  durSeconds,
				sampleRate:    sampleRate,
				pauseAfter:    pauseAfter,
				resumeAfter:   resumeAfter,
				newTempo:      newTempo,
				tempoChangeAt: tempoChangeAt,
			})
		},
	}

	cmd.Flags().Float64Var(&tempo, "tempo", 1.0, "Initial playback tempo (1.0 = normal speed)")
	cmd.Flags().Float64Var(&seek, "seek", 0, "Seek position in seconds once playback starts")
	cmd.Flags().Float64Var(&toneHz, "tone-hz", 220.0, "Starting frequency of the synthesized tone")
	cmd.Flags().Float64Var(&toneSweep, "sweep-hz", 440.0, "Ending frequency of the synthesized tone")
	cmd.Flags().Float64Var(&durSeconds, "duration", 60.0, "Length of the synthesized source, in seconds")
	cmd.Flags().IntVar(&sampleRate, "sample-rate", 44100, "Sample rate of the synthesized source")
	cmd.Flags().Float64Var(&pauseAfter, "pause-after", 0, "Pause playback this many wall-clock seconds after start (0 disables)")
	cmd.Flags().Float64Var(&resumeAfter, "resume-after", 0, "Resume this many wall-clock seconds after pausing (0 disables)")
	cmd.Flags().Float64Var(&tempoChangeAt, "tempo-change-at", 0, "Change tempo this many wall-clock seconds after start (0 disables)")
	cmd.Flags().Float64Var(&newTempo, "new-tempo", 1.0, "Tempo to switch to at --tempo-change-at")

	return cmd
}

type demoParams struct {
	tempo         float64
	seekSeconds   float64
	toneHz        float64
	toneSweepHz   float64
	durationSecs  float64
	sampleRate    int
	pauseAfter    float64
	resumeAfter   float64
	newTempo      float64
	tempoChangeAt float64
}

func runDemo(settings *conf.Settings, p demoParams) error {
	logging.Init()
	logger := logging.ForService("stretchdemo")

	if settings.Metrics.Enabled && settings.Metrics.Listen != "" {
		go serveMetrics(settings.Metrics.Listen, logger)
	}

	cfg := stretch.NewConfigFromSettings(settings)
	source := generateSweep(p.durationSecs, p.sampleRate, p.toneHz, p.toneSweepHz)

	chain := clocksim.NewChain()
	clock := clocksim.NewWallClock()

	engine, err := stretch.NewEngine(cfg, source, p.sampleRate, p.tempo, chain, clock)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Dispose()

	printEvents(engine, logger)

	engine.Start(0)
	if p.seekSeconds > 0 {
		engine.Seek(p.seekSeconds)
	}
	if p.pauseAfter > 0 {
		time.AfterFunc(time.Duration(p.pauseAfter*float64(time.Second)), func() {
			logger.Info("pausing")
			engine.Pause()
			if p.resumeAfter > 0 {
				time.AfterFunc(time.Duration(p.resumeAfter*float64(time.Second)), func() {
					logger.Info("resuming")
					engine.Resume()
				})
			}
		})
	}
	if p.tempoChangeAt > 0 {
		time.AfterFunc(time.Duration(p.tempoChangeAt*float64(time.Second)), func() {
			logger.Info("changing tempo", "new_tempo", p.newTempo)
			engine.SetTempo(p.newTempo)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			return nil
		case <-ticker.C:
			status := engine.Status()
			logger.Info("status",
				"phase", status.Phase,
				"progress", status.Conversion.Progress,
				"buffer_health", status.Buffer.Health,
				"position", status.Playback.Position,
				"tempo", status.Playback.Tempo,
			)
			if status.Phase == stretch.PhaseEnded {
				logger.Info("playback complete")
				return nil
			}
		}
	}
}

func printEvents(engine *stretch.Engine, logger *slog.Logger) {
	engine.On(stretch.EventBufferingEnter, func(ev stretch.Event) {
		logger.Warn("buffering", "reason", ev.Reason)
	})
	engine.On(stretch.EventBufferingExit, func(ev stretch.Event) {
		logger.Info("buffering resolved", "stall_ms", ev.StallDurationMs)
	})
	engine.On(stretch.EventTempoChanged, func(ev stretch.Event) {
		logger.Info("tempo changed", "tempo", ev.Tempo)
	})
	engine.On(stretch.EventWorkerDegraded, func(ev stretch.Event) {
		logger.Error("all conversion workers retired, falling back to inline conversion")
	})
	engine.On(stretch.EventChunkFailed, func(ev stretch.Event) {
		logger.Error("chunk conversion failed", "chunk", ev.ChunkIndex, "error", ev.Err)
	})
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings holds every tunable of the time-stretch engine, unmarshaled from
// YAML via viper into nested structs mirroring the engine's components.
type Settings struct {
	Debug bool // true to enable debug logging

	Log LogConfig

	Chunk struct {
		DurationSeconds  float64 // nominal chunk length
		OverlapSeconds   float64 // overlap on each side
		CrossfadeSeconds float64 // crossfade kept from overlap
	}

	WSOLA struct {
		FrameSize     int     // analysis/synthesis frame length in samples
		SynthesisHop  int     // fixed output advance per frame
		Tolerance     int     // NCC search radius in samples
		IdentityEpsilon float64 // |tempo-1| below this bypasses NCC entirely
	}

	Scheduler struct {
		ForwardWeight            float64 // priority weight for chunks ahead of the playhead
		BackwardWeight            float64 // priority weight for chunks behind the playhead
		CancelDistanceThreshold int     // cancel in-flight conversions farther than this
		MaxChunkRetries           int     // retries before a chunk is marked failed
	}

	Worker struct {
		PoolSize         int // number of parallel conversion workers, 0 = auto-detect from cpuid
		MaxWorkerCrashes int // crashes before a slot is permanently retired
	}

	Buffer struct {
		HealthySeconds  float64 // ahead-seconds at/above which health is "healthy"
		LowSeconds      float64 // ahead-seconds at/above which health is "low"
		CriticalSeconds float64 // ahead-seconds at/above which health is "critical" (else "empty")
		ResumeSeconds   float64 // ahead-seconds at/above which buffering may exit
		KeepAheadChunks  int     // retention window, chunks ahead of playhead
		KeepBehindChunks int     // retention window, chunks behind playhead
	}

	Player struct {
		LookaheadIntervalMillis         int     // how often the lookahead timer polls
		LookaheadThresholdSeconds        float64 // schedule next chunk when this close to chunk end
		ProactiveScheduleThresholdSeconds float64 // proactively schedule next chunk this close to end
		TransitionMarginMillis           int     // safety margin added to scheduled transition callbacks
	}

	Tempo struct {
		DebounceMillis int // coalesce rapid set_tempo calls within this window
	}

	Estimator struct {
		WindowSize int // ring buffer size for the conversion-time moving average
	}

	Metrics struct {
		Enabled bool
		Listen  string
	}
}

// LogConfig defines the configuration for the engine's log file.
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // path to the log file
	Rotation RotationType // type of log rotation
	MaxSize  int64        // max size in bytes for RotationSize
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// settingsInstance is the process-wide settings instance, lazily loaded.
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a fresh Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("STRETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config.yaml to the first default
// config path so subsequent runs have a file to edit.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// getDefaultConfig reads the embedded default configuration.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance, or nil if never loaded.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the process-wide settings, loading defaults on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

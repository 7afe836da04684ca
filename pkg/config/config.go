// Package config loads WARP's runtime configuration from environment
// variables and an optional YAML file, via a LoadFromEnv/getEnv*-family
// of helpers covering WARP's storage/checkpoint/GC/sync knobs (spec.md
// §2).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob a running WARP replica needs, one struct
// section per subsystem.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Storage    StorageConfig    `yaml:"storage"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	GC         GCConfig         `yaml:"gc"`
	Sync       SyncConfig       `yaml:"sync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GraphConfig names the graph and this replica's writer identity.
type GraphConfig struct {
	Name   string `yaml:"name"`
	Writer string `yaml:"writer"`
}

// StorageConfig selects and configures the store.Adapter backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "badger"
	DataDir  string `yaml:"data_dir"`
	ReadOnly bool   `yaml:"read_only"`
}

// CheckpointConfig governs auto-checkpoint behavior.
type CheckpointConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"` // patches since last checkpoint
}

// GCConfig governs tombstone compaction policy.
type GCConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MinTombstoneCount  int           `yaml:"min_tombstone_count"`
	MinTombstoneRatio  float64       `yaml:"min_tombstone_ratio"`
	MinPatchesSinceRun uint64        `yaml:"min_patches_since_run"`
	MinTimeSinceRun    time.Duration `yaml:"min_time_since_run"`
}

// SyncConfig governs remote-peer sync retry budgets.
type SyncConfig struct {
	PeerURL        string        `yaml:"peer_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// LoggingConfig controls the stdlib logger's verbosity and output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// Default returns WARP's built-in defaults, the same values LoadFromEnv
// falls back to when a variable is unset.
func Default() *Config {
	return &Config{
		Graph: GraphConfig{Name: "default", Writer: "w1"},
		Storage: StorageConfig{
			Backend: "memory",
			DataDir: "./data",
		},
		Checkpoint: CheckpointConfig{Enabled: true, Threshold: 500},
		GC: GCConfig{
			Enabled:            true,
			MinTombstoneCount:  1000,
			MinTombstoneRatio:  0.5,
			MinPatchesSinceRun: 500,
			MinTimeSinceRun:    time.Hour,
		},
		Sync: SyncConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Logging: LoggingConfig{Level: "INFO", Output: "stdout"},
	}
}

// LoadFromEnv loads configuration from environment variables, using
// WARP_ prefixed names, layering over Default()'s values.
func LoadFromEnv() *Config {
	return applyEnvOverrides(Default())
}

// applyEnvOverrides mutates c in place, letting any set WARP_* variable
// win over whatever c already holds. Shared by LoadFromEnv (starting
// from Default()) and LoadFromYAML (starting from the parsed file), so
// environment variables are always the final, highest-priority layer.
func applyEnvOverrides(c *Config) *Config {
	c.Graph.Name = getEnv("WARP_GRAPH_NAME", c.Graph.Name)
	c.Graph.Writer = getEnv("WARP_WRITER_ID", c.Graph.Writer)

	c.Storage.Backend = getEnv("WARP_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = getEnv("WARP_STORAGE_DATA_DIR", c.Storage.DataDir)
	c.Storage.ReadOnly = getEnvBool("WARP_STORAGE_READ_ONLY", c.Storage.ReadOnly)

	c.Checkpoint.Enabled = getEnvBool("WARP_CHECKPOINT_ENABLED", c.Checkpoint.Enabled)
	c.Checkpoint.Threshold = getEnvInt("WARP_CHECKPOINT_THRESHOLD", c.Checkpoint.Threshold)

	c.GC.Enabled = getEnvBool("WARP_GC_ENABLED", c.GC.Enabled)
	c.GC.MinTombstoneCount = getEnvInt("WARP_GC_MIN_TOMBSTONE_COUNT", c.GC.MinTombstoneCount)
	c.GC.MinTombstoneRatio = getEnvFloat("WARP_GC_MIN_TOMBSTONE_RATIO", c.GC.MinTombstoneRatio)
	c.GC.MinPatchesSinceRun = getEnvUint64("WARP_GC_MIN_PATCHES_SINCE_RUN", c.GC.MinPatchesSinceRun)
	c.GC.MinTimeSinceRun = getEnvDuration("WARP_GC_MIN_TIME_SINCE_RUN", c.GC.MinTimeSinceRun)

	c.Sync.PeerURL = getEnv("WARP_SYNC_PEER_URL", c.Sync.PeerURL)
	c.Sync.RequestTimeout = getEnvDuration("WARP_SYNC_REQUEST_TIMEOUT", c.Sync.RequestTimeout)
	c.Sync.MaxRetries = getEnvInt("WARP_SYNC_MAX_RETRIES", c.Sync.MaxRetries)
	c.Sync.InitialBackoff = getEnvDuration("WARP_SYNC_INITIAL_BACKOFF", c.Sync.InitialBackoff)
	c.Sync.MaxBackoff = getEnvDuration("WARP_SYNC_MAX_BACKOFF", c.Sync.MaxBackoff)

	c.Logging.Level = getEnv("WARP_LOG_LEVEL", c.Logging.Level)
	c.Logging.Output = getEnv("WARP_LOG_OUTPUT", c.Logging.Output)

	return c
}

// LoadFromYAML reads and unmarshals a YAML config file on top of
// Default(), then lets environment variables (LoadFromEnv's same
// variables, re-applied) override any YAML-set value — env vars are
// process-global and always take highest priority.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return applyEnvOverrides(c), nil
}

// Validate checks the configuration for invalid values before use.
func (c *Config) Validate() error {
	if c.Graph.Name == "" {
		return fmt.Errorf("config: graph name must not be empty")
	}
	if c.Graph.Writer == "" {
		return fmt.Errorf("config: writer id must not be empty")
	}
	switch c.Storage.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Threshold <= 0 {
		return fmt.Errorf("config: checkpoint threshold must be positive when enabled")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("config: sync max retries must not be negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvUint64(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

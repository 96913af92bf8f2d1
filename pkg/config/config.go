// Package config loads the scripting runtime's ambient configuration:
// pool sizing, sandbox defaults, and logging, from environment variables,
// an optional .env file, and an optional YAML defaults file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// PoolConfig controls StatePool sizing and recycling policy (spec §4.9).
type PoolConfig struct {
	Min           int `json:"min" yaml:"min" env:"SCRIPT_POOL_MIN"`
	Max           int `json:"max" yaml:"max" env:"SCRIPT_POOL_MAX"`
	MaxAgeSeconds int `json:"max_age_seconds" yaml:"max_age_seconds" env:"SCRIPT_POOL_MAX_AGE_SECONDS"`
	MaxUses       int `json:"max_uses" yaml:"max_uses" env:"SCRIPT_POOL_MAX_USES"`
	IdleTimeoutMS int `json:"idle_timeout_ms" yaml:"idle_timeout_ms" env:"SCRIPT_POOL_IDLE_TIMEOUT_MS"`
	WarmupEnabled bool `json:"warmup_enabled" yaml:"warmup_enabled" env:"SCRIPT_POOL_WARMUP_ENABLED"`
	SweepInterval string `json:"sweep_interval" yaml:"sweep_interval" env:"SCRIPT_POOL_SWEEP_INTERVAL"`
}

// EngineDefaults controls the default EngineConfig applied when a caller
// does not supply one explicitly.
type EngineDefaults struct {
	MaxMemoryBytes       int64  `json:"max_memory_bytes" yaml:"max_memory_bytes" env:"SCRIPT_MAX_MEMORY_BYTES"`
	MaxExecutionTimeMS   int64  `json:"max_execution_time_ms" yaml:"max_execution_time_ms" env:"SCRIPT_MAX_EXEC_MS"`
	SandboxLevel         string `json:"sandbox_level" yaml:"sandbox_level" env:"SCRIPT_SANDBOX_LEVEL"`
	EnableSnapshots      bool   `json:"enable_snapshots" yaml:"enable_snapshots" env:"SCRIPT_ENABLE_SNAPSHOTS"`
	MaxSnapshots         int    `json:"max_snapshots" yaml:"max_snapshots" env:"SCRIPT_MAX_SNAPSHOTS"`
	MaxSnapshotSizeBytes int64  `json:"max_snapshot_size_bytes" yaml:"max_snapshot_size_bytes" env:"SCRIPT_MAX_SNAPSHOT_SIZE_BYTES"`
	PanicRecoveryStrategy string `json:"panic_recovery_strategy" yaml:"panic_recovery_strategy" env:"SCRIPT_PANIC_RECOVERY_STRATEGY"`
}

// Config is the top-level configuration structure for the runtime.
type Config struct {
	Logging LoggingConfig  `json:"logging" yaml:"logging"`
	Pool    PoolConfig     `json:"pool" yaml:"pool"`
	Engine  EngineDefaults `json:"engine" yaml:"engine"`
}

// New returns a configuration populated with conservative defaults.
func New() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "scriptcore",
		},
		Pool: PoolConfig{
			Min:           1,
			Max:           16,
			MaxAgeSeconds: 600,
			MaxUses:       1000,
			IdleTimeoutMS: 30_000,
			WarmupEnabled: true,
			SweepInterval: "@every 10s",
		},
		Engine: EngineDefaults{
			MaxMemoryBytes:        64 << 20,
			MaxExecutionTimeMS:    5_000,
			SandboxLevel:          "Restricted",
			EnableSnapshots:       true,
			MaxSnapshots:          16,
			MaxSnapshotSizeBytes:  8 << 20,
			PanicRecoveryStrategy: "ResetState",
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

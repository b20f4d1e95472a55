// Package config loads logsync configuration and the model pricing table.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all logsync configuration.
type Config struct {
	General   GeneralConfig    `toml:"general"`
	Sync      SyncConfig       `toml:"sync"`
	Session   SessionConfig    `toml:"session"`
	Retention RetentionConfig  `toml:"retention"`
	Pricing   PricingOverrides `toml:"pricing"`
}

// GeneralConfig holds paths and general preferences.
type GeneralConfig struct {
	LogsDir string `toml:"logs_dir,omitempty"`
	DBPath  string `toml:"db_path,omitempty"`
}

// SyncConfig controls the sync pipeline.
type SyncConfig struct {
	MessageBatchSize int  `toml:"message_batch_size"`
	ExtendedSchema   bool `toml:"extended_schema"`
	SkipExisting     bool `toml:"skip_existing"`
}

// SessionConfig holds session classification thresholds.
type SessionConfig struct {
	ExtendedThresholdHours int `toml:"extended_threshold_hours"`
	AutonomyThreshold      int `toml:"autonomy_threshold"`
}

// RetentionConfig controls batched data retention sweeps.
type RetentionConfig struct {
	Days      int `toml:"days"`
	BatchSize int `toml:"batch_size"`
	PauseMs   int `toml:"pause_ms"`
}

// Pause returns the inter-batch pause as a duration.
func (r RetentionConfig) Pause() time.Duration {
	return time.Duration(r.PauseMs) * time.Millisecond
}

// PricingOverrides allows user-defined pricing for specific models.
type PricingOverrides struct {
	Overrides map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPerMTok  *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok *float64 `toml:"output_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		General: GeneralConfig{
			LogsDir: filepath.Join(home, ".claude", "projects"),
			DBPath:  filepath.Join(DataDir(), "sessions.db"),
		},
		Sync: SyncConfig{
			MessageBatchSize: 100,
			ExtendedSchema:   true,
		},
		Session: SessionConfig{
			ExtendedThresholdHours: 30,
			AutonomyThreshold:      7,
		},
		Retention: RetentionConfig{
			Days:      90,
			BatchSize: 500,
			PauseMs:   50,
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "logsync")
}

// DataDir returns the XDG-compliant data directory for the database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "logsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "logsync")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file at path, returning defaults when it doesn't
// exist. An empty path means the default location. The LOGSYNC_LOGS_DIR
// environment variable overrides the configured logs directory.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if dir := os.Getenv("LOGSYNC_LOGS_DIR"); dir != "" {
		cfg.General.LogsDir = dir
	}
}

// Save writes the config to disk at the default location.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

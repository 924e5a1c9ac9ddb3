// Package config loads engine configuration and validates job configs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultListenAddr        = "127.0.0.1:8787"
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultStreamBuffer      = 10000
	DefaultRetentionInterval = time.Hour
	DefaultRetentionBatch    = 500
	DefaultVacuumPages       = 1000
	DefaultDebugTTL          = 24 * time.Hour
	DefaultInfoTTL           = 24 * time.Hour
	DefaultWarnTTL           = 7 * 24 * time.Hour
)

// Duration wraps time.Duration for YAML parsing of values like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Retention controls event log pruning.
type Retention struct {
	// DebugTTL and InfoTTL bound job.log events at those levels.
	DebugTTL Duration `yaml:"debug_ttl"`
	InfoTTL  Duration `yaml:"info_ttl"`
	// WarnTTL bounds job.log events at warn level.
	WarnTTL Duration `yaml:"warn_ttl"`
	// Interval is how often the compactor runs.
	Interval Duration `yaml:"interval"`
	// BatchSize bounds rows deleted per transaction.
	BatchSize int `yaml:"batch_size"`
	// VacuumPages bounds pages reclaimed per compaction pass.
	VacuumPages int `yaml:"vacuum_pages"`
}

// Config is the engine configuration, loaded from YAML.
type Config struct {
	// DataDir holds the database and derived state.
	DataDir string `yaml:"data_dir"`
	// WorkspaceDir is where job workspaces are created.
	WorkspaceDir string `yaml:"workspace_dir"`
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// SafeMode disables job execution while keeping the API and stream up.
	SafeMode bool `yaml:"safe_mode"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	// StreamBuffer is the per-subscriber live buffer capacity.
	StreamBuffer int `yaml:"stream_buffer"`

	Retention Retention `yaml:"retention"`
}

// DBPath returns the SQLite database path under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "scribe.db")
}

// Default returns a config with every field set to its default,
// rooted at the given base directory.
func Default(baseDir string) *Config {
	return &Config{
		DataDir:           filepath.Join(baseDir, "data"),
		WorkspaceDir:      filepath.Join(baseDir, "workspaces"),
		ListenAddr:        DefaultListenAddr,
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		StreamBuffer:      DefaultStreamBuffer,
		Retention: Retention{
			DebugTTL:    Duration(DefaultDebugTTL),
			InfoTTL:     Duration(DefaultInfoTTL),
			WarnTTL:     Duration(DefaultWarnTTL),
			Interval:    Duration(DefaultRetentionInterval),
			BatchSize:   DefaultRetentionBatch,
			VacuumPages: DefaultVacuumPages,
		},
	}
}

// Load reads a YAML config file, filling omitted fields with defaults
// relative to the file's directory. A missing file yields pure defaults
// rooted at baseDir.
func Load(path, baseDir string) (*Config, error) {
	cfg := Default(baseDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.WorkspaceDir == "" {
		return fmt.Errorf("workspace_dir must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.HeartbeatInterval.Std() <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("stream_buffer must be positive")
	}
	if c.Retention.BatchSize <= 0 {
		return fmt.Errorf("retention.batch_size must be positive")
	}
	if c.Retention.Interval.Std() <= 0 {
		return fmt.Errorf("retention.interval must be positive")
	}
	return nil
}

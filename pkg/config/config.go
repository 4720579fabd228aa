// Package config loads Vifei's workspace configuration: where the EventLog,
// blob tree, checkpoints, and derived cache live.
//
// Configuration resolves in order: defaults, then vifei.yaml in the data
// directory (when present), then environment variables. All derived paths
// are relative to DataDir unless set absolutely.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds workspace paths and optional telemetry settings.
type Config struct {
	// DataDir is the workspace root. Default ".vifei".
	DataDir string `yaml:"data_dir"`
	// EventLogPath is the JSONL truth file. Default <DataDir>/eventlog.jsonl.
	EventLogPath string `yaml:"eventlog_path"`
	// BlobDir is the content-addressed blob root. Default <DataDir>/blobs.
	BlobDir string `yaml:"blob_dir"`
	// CheckpointDir holds reducer checkpoints. Default <DataDir>/checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`
	// CachePath is the SQLite derived cache. Default <DataDir>/cache.db.
	CachePath string `yaml:"cache_path"`
	// LogLevel for slog: DEBUG, INFO, WARN, ERROR. Default INFO.
	LogLevel string `yaml:"log_level"`
	// OTLPEndpoint enables OpenTelemetry export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{DataDir: ".vifei", LogLevel: "INFO"}
	c.fillDerived()
	return c
}

// Load reads vifei.yaml under dataDir when it exists, then applies
// environment overrides (VIFEI_DATA_DIR, VIFEI_EVENTLOG, VIFEI_LOG_LEVEL,
// VIFEI_OTLP_ENDPOINT).
func Load(dataDir string) (*Config, error) {
	c := &Config{DataDir: ".vifei", LogLevel: "INFO"}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if env := os.Getenv("VIFEI_DATA_DIR"); env != "" {
		c.DataDir = env
	}

	path := filepath.Join(c.DataDir, "vifei.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if env := os.Getenv("VIFEI_EVENTLOG"); env != "" {
		c.EventLogPath = env
	}
	if env := os.Getenv("VIFEI_LOG_LEVEL"); env != "" {
		c.LogLevel = env
	}
	if env := os.Getenv("VIFEI_OTLP_ENDPOINT"); env != "" {
		c.OTLPEndpoint = env
	}

	c.fillDerived()
	return c, nil
}

func (c *Config) fillDerived() {
	if c.EventLogPath == "" {
		c.EventLogPath = filepath.Join(c.DataDir, "eventlog.jsonl")
	}
	if c.BlobDir == "" {
		c.BlobDir = filepath.Join(c.DataDir, "blobs")
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = filepath.Join(c.DataDir, "checkpoints")
	}
	if c.CachePath == "" {
		c.CachePath = filepath.Join(c.DataDir, "cache.db")
	}
}

// EnsureDirs creates the workspace directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.BlobDir, c.CheckpointDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

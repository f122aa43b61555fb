// Package config loads a worker's layered configuration: built-in
// defaults, overlaid by an optional YAML file, overlaid by command-line
// flags (SPEC_FULL.md C11). It follows the same partial-overlay merge
// grove.yaml uses over a project registration: a zero field in the file
// never clobbers a default, and a flag the user actually set always wins.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerConfig controls the socket a worker listens on, its logging
// verbosity, how often metrics are flushed, where the audit log lives, and
// the send-failure threshold before the worker gives up on a connection.
type WorkerConfig struct {
	SocketPath          string `yaml:"socketPath"`
	LogLevel            string `yaml:"logLevel"`
	MetricsFlushEvery   int    `yaml:"metricsFlushEvery"`
	AuditDBPath         string `yaml:"auditDbPath"`
	MaxFailureThreshold int    `yaml:"maxFailureThreshold"`
}

// Default returns the built-in configuration every worker starts from
// before any file or flag overlay is applied.
func Default() WorkerConfig {
	return WorkerConfig{
		SocketPath:          "/tmp/modelworker.sock",
		LogLevel:            "info",
		MetricsFlushEvery:   1,
		AuditDBPath:         "modelworker-audit.db",
		MaxFailureThreshold: 10,
	}
}

// Load reads path (if non-empty) and overlays its fields onto the
// defaults. A missing file is not an error: workers with no config file
// run on defaults alone. A present-but-unparseable file is.
func Load(path string) (WorkerConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	var overlay WorkerConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyOverlay(&cfg, overlay)
	return cfg, nil
}

// applyOverlay merges overlay onto cfg field by field: a zero-valued
// overlay field leaves cfg's existing value (default or previously
// overlaid) untouched, matching loadInRepoConfig's merge semantics.
func applyOverlay(cfg *WorkerConfig, overlay WorkerConfig) {
	if overlay.SocketPath != "" {
		cfg.SocketPath = overlay.SocketPath
	}
	if overlay.LogLevel != "" {
		cfg.LogLevel = overlay.LogLevel
	}
	if overlay.MetricsFlushEvery != 0 {
		cfg.MetricsFlushEvery = overlay.MetricsFlushEvery
	}
	if overlay.AuditDBPath != "" {
		cfg.AuditDBPath = overlay.AuditDBPath
	}
	if overlay.MaxFailureThreshold != 0 {
		cfg.MaxFailureThreshold = overlay.MaxFailureThreshold
	}
}

// ApplyFlagOverrides overlays any non-zero-value flag override onto cfg.
// Command-line flags always take precedence over both the built-in
// defaults and the config file.
func ApplyFlagOverrides(cfg *WorkerConfig, socketPath, logLevel, auditDBPath string, maxFailureThreshold int) {
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if auditDBPath != "" {
		cfg.AuditDBPath = auditDBPath
	}
	if maxFailureThreshold != 0 {
		cfg.MaxFailureThreshold = maxFailureThreshold
	}
}

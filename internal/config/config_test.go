package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\nmetricsFlushEvery: 5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.MetricsFlushEvery)
	assert.Equal(t, Default().SocketPath, cfg.SocketPath)
}

func TestLoadMalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::not yaml::"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyFlagOverridesTakesPrecedence(t *testing.T) {
	cfg := Default()
	ApplyFlagOverrides(&cfg, "/tmp/other.sock", "", "", 25)
	assert.Equal(t, "/tmp/other.sock", cfg.SocketPath)
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
	assert.Equal(t, 25, cfg.MaxFailureThreshold)
}

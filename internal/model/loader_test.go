package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/modelworker/internal/protocol"
)

func writeManifest(t *testing.T, dir string, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(contents), 0o644))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestLoadManifestReadFailure(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir, "h.py")
	require.NotNil(t, err)
	assert.Equal(t, protocol.ValueErrorWhileLoading, err.Code)
}

func TestLoadMissingParametersFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{},"engine":{"engineName":"MxNet"}}`)

	_, _, err := Load(dir, "h.py")
	require.NotNil(t, err)
	assert.Equal(t, "parameterFile not defined in MANIFEST.json.", err.Message)
}

func TestLoadParametersFileNotFound(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)

	_, _, err := Load(dir, "h.py")
	require.NotNil(t, err)
	assert.Equal(t, "parameterFile not found: params1.", err.Message)
}

func TestLoadMissingSymbolFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))

	_, _, err := Load(dir, "h.py")
	require.NotNil(t, err)
	assert.Equal(t, "symbolFile not defined in MANIFEST.json.", err.Message)
}

func TestLoadSymbolFileNotFound(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))

	_, _, err := Load(dir, "h.py")
	require.NotNil(t, err)
	assert.Equal(t, "symbolFile not found: symbol.json.", err.Message)
}

func TestLoadHandlerIsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))
	touch(t, filepath.Join(dir, "symbol.json"))

	_, _, err := Load(dir, "")
	require.NotNil(t, err)
	assert.Equal(t, "No handler is provided.", err.Message)
}

func TestLoadHandlerFileNotFound(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))
	touch(t, filepath.Join(dir, "symbol.json"))

	_, _, err := Load(dir, "handler.py")
	require.NotNil(t, err)
	assert.Equal(t, "handler file not not found: "+filepath.Join(dir, "handler.py")+".", err.Message)
}

func TestLoadReturnsManifestAndHandlerPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))
	touch(t, filepath.Join(dir, "symbol.json"))
	touch(t, filepath.Join(dir, "handler.py"))

	manifest, handlerPath, err := Load(dir, "handler.py")
	require.Nil(t, err)
	assert.Equal(t, "params1", manifest.Model.ParametersFile)
	assert.Equal(t, "MxNet", manifest.Engine.EngineName)
	assert.Equal(t, filepath.Join(dir, "handler.py"), handlerPath)
}

func TestLoadNativeHandlerSkipsFileExistenceCheck(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `{"model":{"parametersFile":"params1","symbolFile":"symbol.json"},"engine":{"engineName":"MxNet"}}`)
	touch(t, filepath.Join(dir, "params1"))
	touch(t, filepath.Join(dir, "symbol.json"))

	_, handlerPath, err := Load(dir, "native:echo")
	require.Nil(t, err)
	assert.Equal(t, "native:echo", handlerPath)
}

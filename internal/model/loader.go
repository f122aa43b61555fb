// Package model resolves a model directory, parses its manifest, and
// locates the weight and handler files it names (spec.md §4.4). The loader
// never executes handler code; it only validates that the on-disk layout
// the manifest promises actually exists.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/ianremillard/modelworker/internal/protocol"
)

// ManifestFilename is the name of the metadata document every model
// directory must contain.
const ManifestFilename = "MANIFEST.json"

// ModelSection is the required `model` substructure of MANIFEST.json.
type ModelSection struct {
	ParametersFile string `json:"parametersFile"`
	SymbolFile     string `json:"symbolFile"`
}

// EngineSection is the required `engine` substructure of MANIFEST.json.
type EngineSection struct {
	EngineName string `json:"engineName"`
}

// HandlerSection is the optional `handler` substructure of MANIFEST.json,
// carrying handler-invocation settings that aren't about locating files.
type HandlerSection struct {
	// TimeoutMs bounds how long the subprocess bridge waits for a reply to
	// any single preprocess/inference/postprocess/signature call before
	// declaring the handler unresponsive. Zero (the field's absence) means
	// the caller's default applies.
	TimeoutMs int `json:"timeoutMs"`
}

// Manifest is the parsed contents of a model directory's MANIFEST.json.
type Manifest struct {
	Model   ModelSection   `json:"model"`
	Engine  EngineSection  `json:"engine"`
	Handler HandlerSection `json:"handler"`
}

// Load resolves modelDir/MANIFEST.json, validates that the parameters file,
// symbol file, and handler file it names all exist on disk, and returns the
// parsed manifest plus the handler file's absolute path.
//
// Every failure mode below is a VALUE_ERROR_WHILE_LOADING protocol error
// carrying the exact message text spec.md §4.4 specifies, preserved
// bug-for-bug including the doubled "not" in the handler-missing message
// (see DESIGN.md for why this is intentional, not a typo).
func Load(modelDir, handlerFile string) (*Manifest, string, *protocol.Error) {
	manifestPath := filepath.Join(modelDir, ManifestFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "%v", err)
	}

	var manifest Manifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "%v", err)
	}

	if manifest.Model.ParametersFile == "" {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "parameterFile not defined in MANIFEST.json.")
	}
	paramsPath := resolvePath(modelDir, manifest.Model.ParametersFile)
	if !exists(paramsPath) {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "parameterFile not found: %s.", manifest.Model.ParametersFile)
	}

	if manifest.Model.SymbolFile == "" {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "symbolFile not defined in MANIFEST.json.")
	}
	symbolPath := resolvePath(modelDir, manifest.Model.SymbolFile)
	if !exists(symbolPath) {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "symbolFile not found: %s.", manifest.Model.SymbolFile)
	}

	if handlerFile == "" {
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "No handler is provided.")
	}

	// A "native:<name>" handler names a built-in in-process handler rather
	// than a file on disk; it is never resolved against modelDir or checked
	// for existence.
	if strings.HasPrefix(handlerFile, "native:") {
		return &manifest, handlerFile, nil
	}

	handlerPath := filepath.Join(modelDir, handlerFile)
	if !exists(handlerPath) {
		// The doubled "not" is preserved for wire/log compatibility with
		// existing dispatchers that key off this exact string.
		return nil, "", protocol.NewError(protocol.ValueErrorWhileLoading, "handler file not not found: %s.", handlerPath)
	}

	return &manifest, handlerPath, nil
}

// resolvePath resolves a manifest-relative path against modelDir, per
// spec.md §6: "Paths inside the manifest are resolved relative to the model
// directory."
func resolvePath(modelDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(modelDir, p)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// String implements fmt.Stringer so manifests print readably in logs.
func (m *Manifest) String() string {
	return fmt.Sprintf("Manifest{engine=%s, params=%s, symbol=%s}", m.Engine.EngineName, m.Model.ParametersFile, m.Model.SymbolFile)
}

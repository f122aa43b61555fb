// Package service instantiates handlers, tracks loaded services by name,
// and dispatches inference calls (spec.md §4.5). A Handler is the
// polymorphic capability set spec.md §9 recommends in place of dynamically
// loading and invoking methods on a user module at runtime.
package service

import (
	"context"

	"github.com/ianremillard/modelworker/internal/model"
	"github.com/ianremillard/modelworker/internal/protocol"
)

// InputSignature describes one declared input a service expects.
type InputSignature struct {
	Name        string `json:"name"`
	DataType    string `json:"dataType"`
	ContentType string `json:"contentType,omitempty"`
}

// Signature is a service's declared input/output schema.
type Signature struct {
	Inputs  []InputSignature `json:"inputs"`
	Outputs []InputSignature `json:"outputs"`
}

// Handler is the capability set a loaded service binds to: init,
// preprocess, inference, postprocess, and signature, plus Close for
// releasing whatever resources the adapter holds (a child process, a
// native buffer pool, ...).
type Handler interface {
	Init(name, modelDir string, manifest *model.Manifest, gpuID, batchSize int) error
	Preprocess(ctx context.Context, inputs []protocol.ModelInput) ([]any, error)
	Inference(ctx context.Context, data []any) ([]any, error)
	Postprocess(ctx context.Context, data []any) ([]protocol.Value, error)
	Signature() (Signature, error)
	Close() error
}

// Factory builds a Handler for a given handler path. Two built-in
// factories are registered by default: the native echo handler (for
// handler paths of the form "native:<name>") and the subprocess bridge
// (everything else).
type Factory func(handlerPath string) (Handler, error)

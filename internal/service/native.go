package service

import (
	"context"
	"strings"

	"github.com/ianremillard/modelworker/internal/model"
	"github.com/ianremillard/modelworker/internal/protocol"
)

// nativeEchoHandler is an in-process handler used for protocol-conformance
// testing without a real model: it passes every input's raw bytes straight
// through preprocess/inference/postprocess as a text value. It serves a
// load request whose handler field is "native:echo".
type nativeEchoHandler struct {
	name      string
	batchSize int
}

func newNativeEchoHandler(string) (Handler, error) {
	return &nativeEchoHandler{}, nil
}

func (h *nativeEchoHandler) Init(name, modelDir string, manifest *model.Manifest, gpuID, batchSize int) error {
	h.name = name
	h.batchSize = batchSize
	return nil
}

func (h *nativeEchoHandler) Preprocess(ctx context.Context, inputs []protocol.ModelInput) ([]any, error) {
	out := make([]any, len(inputs))
	for i, in := range inputs {
		out[i] = in.Value
	}
	return out, nil
}

func (h *nativeEchoHandler) Inference(ctx context.Context, data []any) ([]any, error) {
	return data, nil
}

func (h *nativeEchoHandler) Postprocess(ctx context.Context, data []any) ([]protocol.Value, error) {
	out := make([]protocol.Value, len(data))
	for i, d := range data {
		b, _ := d.([]byte)
		out[i] = protocol.NewTextValue(string(b))
	}
	return out, nil
}

func (h *nativeEchoHandler) Signature() (Signature, error) {
	return Signature{
		Inputs:  []InputSignature{{Name: "data", DataType: "bytes"}},
		Outputs: []InputSignature{{Name: "data", DataType: "string"}},
	}, nil
}

func (h *nativeEchoHandler) Close() error { return nil }

// isNativeHandlerPath reports whether handlerPath names a built-in native
// handler (load request form "native:<name>") rather than an on-disk script.
func isNativeHandlerPath(handlerPath string) bool {
	return strings.HasPrefix(handlerPath, "native:")
}

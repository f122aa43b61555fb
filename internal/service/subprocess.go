package service

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/creack/pty"

	"github.com/ianremillard/modelworker/internal/model"
	"github.com/ianremillard/modelworker/internal/protocol"
)

// defaultCallTimeout bounds how long the subprocess bridge waits for a
// response to any single preprocess/inference/postprocess/signature call
// before declaring the handler unresponsive.
const defaultCallTimeout = 2 * time.Minute

// subprocessCall is one JSON line sent to the handler process's stdin (via
// its PTY). Op selects which handler method to invoke; Inputs carries
// base64-encoded byte payloads for preprocess, opaque JSON values otherwise.
type subprocessCall struct {
	Op     string `json:"op"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	GPUID  int    `json:"gpuId,omitempty"`
	Batch  int    `json:"batchSize,omitempty"`
	Inputs []any  `json:"inputs,omitempty"`
}

// subprocessReply is one JSON line read back from the handler process.
type subprocessReply struct {
	Results []any  `json:"results"`
	Error   string `json:"error,omitempty"`
	Sig     *Signature `json:"signature,omitempty"`
}

// subprocessHandler bridges the Handler interface to a child process
// speaking newline-delimited JSON over a pseudo-terminal. This is the
// systems-language rendition of dynamically importing and invoking a user's
// Python handler module: instead of loading foreign code into our address
// space, we exec it and talk to it over a well-defined line protocol.
type subprocessHandler struct {
	mu          sync.Mutex
	handlerPath string
	cmd         *exec.Cmd
	ptm         *os.File
	scanner     *bufio.Scanner
	timeout     time.Duration
}

func newSubprocessHandler(handlerPath string) (Handler, error) {
	return &subprocessHandler{
		handlerPath: handlerPath,
		timeout:     defaultCallTimeout,
	}, nil
}

// Init launches the handler process attached to a new PTY and performs the
// initial handshake call.
//
// cmd.Start is replaced with pty.Start, which sets Setsid:true on the
// child. We do not additionally call Setpgid: doing so after Setsid on the
// session leader returns EPERM on some platforms, and the new session group
// already gives us kill(-pid, SIGKILL) semantics for Close.
func (h *subprocessHandler) Init(name, modelDir string, manifest *model.Manifest, gpuID, batchSize int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if manifest != nil && manifest.Handler.TimeoutMs > 0 {
		h.timeout = time.Duration(manifest.Handler.TimeoutMs) * time.Millisecond
	}

	cmd := exec.Command(h.handlerPath)
	cmd.Dir = modelDir
	cmd.Env = append(os.Environ(), "MODELWORKER_SERVICE="+name)

	ptm, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty.Start: %w", err)
	}

	h.cmd = cmd
	h.ptm = ptm
	h.scanner = bufio.NewScanner(ptm)
	h.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	_, err = h.call(context.Background(), subprocessCall{
		Op:    "init",
		Name:  name,
		Model: modelDir,
		GPUID: gpuID,
		Batch: batchSize,
	})
	return err
}

func (h *subprocessHandler) Preprocess(ctx context.Context, inputs []protocol.ModelInput) ([]any, error) {
	encoded := make([]any, len(inputs))
	for i, in := range inputs {
		encoded[i] = base64.StdEncoding.EncodeToString(in.Value)
	}
	reply, err := h.call(ctx, subprocessCall{Op: "preprocess", Inputs: encoded})
	if err != nil {
		return nil, err
	}
	return reply.Results, nil
}

func (h *subprocessHandler) Inference(ctx context.Context, data []any) ([]any, error) {
	reply, err := h.call(ctx, subprocessCall{Op: "inference", Inputs: data})
	if err != nil {
		return nil, err
	}
	return reply.Results, nil
}

func (h *subprocessHandler) Postprocess(ctx context.Context, data []any) ([]protocol.Value, error) {
	reply, err := h.call(ctx, subprocessCall{Op: "postprocess", Inputs: data})
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Value, len(reply.Results))
	for i, r := range reply.Results {
		out[i] = protocol.NewJSONValue(r)
	}
	return out, nil
}

func (h *subprocessHandler) Signature() (Signature, error) {
	reply, err := h.call(context.Background(), subprocessCall{Op: "signature"})
	if err != nil {
		return Signature{}, err
	}
	if reply.Sig == nil {
		return Signature{}, nil
	}
	return *reply.Sig, nil
}

// Close kills the handler process's entire process group and releases the
// PTY. Killing by group, not just the PID, ensures any grandchildren the
// handler spawned go down with it.
func (h *subprocessHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(h.cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = h.cmd.Process.Kill()
	}
	if h.ptm != nil {
		h.ptm.Close()
	}
	_ = h.cmd.Wait()
	return nil
}

// call sends one request line and blocks for the matching response line, or
// until ctx is done or the configured timeout elapses, whichever is first.
func (h *subprocessHandler) call(ctx context.Context, req subprocessCall) (*subprocessReply, error) {
	line, err := sonic.Marshal(req)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	ptm := h.ptm
	scanner := h.scanner
	h.mu.Unlock()
	if ptm == nil || scanner == nil {
		return nil, fmt.Errorf("subprocess handler not initialized")
	}

	if _, err := ptm.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write to handler: %w", err)
	}

	type result struct {
		reply *subprocessReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if !scanner.Scan() {
			done <- result{err: fmt.Errorf("handler closed connection: %w", scanner.Err())}
			return
		}
		var reply subprocessReply
		if err := sonic.Unmarshal(scanner.Bytes(), &reply); err != nil {
			done <- result{err: fmt.Errorf("decode handler reply: %w", err)}
			return
		}
		done <- result{reply: &reply}
	}()

	callCtx := ctx
	var cancel context.CancelFunc
	if h.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.reply.Error != "" {
			return nil, fmt.Errorf("%s", r.reply.Error)
		}
		return r.reply, nil
	case <-callCtx.Done():
		return nil, fmt.Errorf("handler call timed out: %w", callCtx.Err())
	}
}

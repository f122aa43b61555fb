// Package worker implements the model worker's Unix domain socket server
// loop (spec.md §4.6/SPEC_FULL.md C7): the state machine that binds the
// socket, accepts one client connection at a time, decodes each inbound
// frame, dispatches it to the service manager, and writes back an encoded
// response — single-threaded and request-serial throughout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/ianremillard/modelworker/internal/audit"
	"github.com/ianremillard/modelworker/internal/config"
	"github.com/ianremillard/modelworker/internal/logging"
	"github.com/ianremillard/modelworker/internal/metrics"
	"github.com/ianremillard/modelworker/internal/protocol"
	"github.com/ianremillard/modelworker/internal/service"
)

// recvBufferSize bounds a single read from the client connection. A
// request batch is assumed to arrive in one read, matching the dispatcher's
// one-send-per-frame discipline; see decode's own truncated-buffer handling
// for what happens when that assumption doesn't hold.
const recvBufferSize = 16 * 1024 * 1024

// Worker owns the listening socket, the service manager, the metrics
// store, and (optionally) an audit log. Exactly one Worker runs per
// process.
type Worker struct {
	socketPath string
	cfg        config.WorkerConfig
	log        *logging.Logger
	manager    *service.Manager
	metrics    *metrics.Store
	audit      *audit.Log

	sendFailures int
	predictCount int
}

// New constructs a Worker bound to cfg.SocketPath. It does not touch the
// filesystem or network until Run is called.
func New(cfg config.WorkerConfig, log *logging.Logger) *Worker {
	store := metrics.New()
	return &Worker{
		socketPath: cfg.SocketPath,
		cfg:        cfg,
		log:        log,
		manager:    service.NewManager(store),
		metrics:    store,
	}
}

// WithAuditLog attaches an audit log the worker records load/unload events
// to. A nil or unset log means events are simply not recorded.
func (w *Worker) WithAuditLog(a *audit.Log) *Worker {
	w.audit = a
	return w
}

// Run executes the INIT → BOUND → LISTENING state transitions and then
// blocks accepting client connections until the listener is closed or a
// fatal error occurs. Its return value is the process exit status per
// spec.md §6: 0 for a clean shutdown, 1 for a peer disconnect or fatal
// receive, and protocol.SendFailsExceedsLimits when repeated sends fail.
func (w *Worker) Run() int {
	if err := w.initSocket(); err != nil {
		w.log.Errorf("%v", err)
		return int(protocol.SocketError)
	}

	l, err := net.Listen("unix", w.socketPath)
	if err != nil {
		w.log.Errorf("bind %s: %v", w.socketPath, err)
		return int(protocol.SocketBindError)
	}
	defer l.Close()
	defer os.Remove(w.socketPath)

	for {
		w.log.Infof("Waiting for a connection")
		conn, err := l.Accept()
		if err != nil {
			w.log.Infof("listener closed, exiting")
			return 0
		}

		status, fatal := w.handleConn(conn)
		conn.Close()
		if fatal {
			return status
		}
	}
}

// initSocket unlinks a stale socket file at the configured path, matching
// the INIT transition in spec.md §4.6.
func (w *Worker) initSocket() error {
	if _, err := os.Stat(w.socketPath); err == nil {
		if err := os.Remove(w.socketPath); err != nil {
			return fmt.Errorf("socket already in use: %s.", w.socketPath)
		}
	}
	return nil
}

// handleConn processes frames from one client connection until the peer
// disconnects or a send-failure threshold is exceeded. It returns the
// process exit status to use if fatal is true. A peer disconnect is fatal
// with status 1; fatal is false only when the read fails with
// net.ErrClosed, and the worker then goes back to accepting.
func (w *Worker) handleConn(conn net.Conn) (status int, fatal bool) {
	buf := make([]byte, recvBufferSize)
	for {
		n, err := conn.Read(buf)
		if n == 0 && err != nil {
			if errors.Is(err, net.ErrClosed) {
				return 0, false
			}
			w.log.Infof("peer disconnected")
			return 1, true
		}
		if n == 0 {
			// Zero-length read with no error: treat as graceful shutdown.
			return 1, true
		}

		frame := buf[:n]
		resp := w.handleFrame(frame)

		encoded := protocol.EncodeGeneralResponse(resp)
		if _, writeErr := conn.Write(encoded); writeErr != nil {
			w.sendFailures++
			w.log.Errorf("send failed (%d/%d): %v", w.sendFailures, w.cfg.MaxFailureThreshold, writeErr)
			if w.sendFailures >= w.cfg.MaxFailureThreshold {
				return int(protocol.SendFailsExceedsLimits), true
			}
			continue
		}
		w.sendFailures = 0
	}
}

// handleFrame decodes and dispatches a single frame, catching any
// protocol-level failure and converting it to a response envelope. This is
// the single catch-and-encode boundary spec.md §4.7 describes.
func (w *Worker) handleFrame(frame []byte) protocol.GeneralResponse {
	if protocol.IsLegacyFrame(frame) {
		return w.handleLegacyFrame(frame)
	}

	tag, payload, _, decErr := protocol.Decode(frame)
	if decErr != nil {
		return protocol.GeneralResponse{Code: int(decErr.Code), Message: decErr.Message}
	}

	switch tag {
	case "load":
		req := payload.(*protocol.LoadRequest)
		return w.handleLoad(req)
	case "predict":
		req := payload.(*protocol.PredictRequest)
		return w.handlePredict(req)
	default:
		return protocol.GeneralResponse{
			Code:    int(protocol.UnknownCommand),
			Message: fmt.Sprintf("Received unknown command: %v", payload),
		}
	}
}

func (w *Worker) handleLoad(req *protocol.LoadRequest) protocol.GeneralResponse {
	if vErr := protocol.ValidateLoadMessage(req); vErr != nil {
		return protocol.GeneralResponse{Code: int(vErr.Code), Message: vErr.Message}
	}

	handlerPath, lErr := w.manager.RegisterAndLoad(context.Background(), *req)
	if lErr != nil {
		w.recordAudit(func() error { return w.audit.RecordLoad(req.ModelName, req.ModelPath, lErr.Message) })
		return protocol.GeneralResponse{Code: int(lErr.Code), Message: lErr.Message}
	}

	w.recordAudit(func() error { return w.audit.RecordLoad(req.ModelName, req.ModelPath, "") })
	return protocol.GeneralResponse{Code: 200, Message: fmt.Sprintf("loaded model %s", handlerPath)}
}

func (w *Worker) handlePredict(req *protocol.PredictRequest) protocol.GeneralResponse {
	if vErr := protocol.ValidatePredictMessage(req); vErr != nil {
		return protocol.GeneralResponse{Code: int(vErr.Code), Message: vErr.Message}
	}

	svc, ok := w.manager.GetLoaded(req.ModelName)
	if !ok {
		return protocol.GeneralResponse{
			Code:    int(protocol.ModelServiceNotLoaded),
			Message: fmt.Sprintf("Model %s is currently not loaded", req.ModelName),
		}
	}
	if len(req.RequestBatch) != svc.BatchSize {
		return protocol.GeneralResponse{
			Code:    int(protocol.UnsupportedPredictOperation),
			Message: fmt.Sprintf("Invalid batch size %d", len(req.RequestBatch)),
		}
	}

	records, infErr := w.manager.Inference(context.Background(), req.ModelName, req.RequestBatch)
	if infErr != nil {
		return protocol.GeneralResponse{Code: int(infErr.Code), Message: infErr.Message}
	}

	// Metrics are flushed every MetricsFlushEvery predicts, not every one:
	// a cadence of 1 flushes after each call, a higher cadence batches
	// samples across several predicts before writing them out.
	w.predictCount++
	if w.cfg.MetricsFlushEvery > 0 && w.predictCount%w.cfg.MetricsFlushEvery == 0 {
		_ = w.metrics.Emit(os.Stdout)
	}

	return protocol.GeneralResponse{
		Code:        200,
		Message:     "Prediction success",
		Predictions: protocol.EncodePredictResponse(records),
	}
}

func (w *Worker) handleLegacyFrame(frame []byte) protocol.GeneralResponse {
	tag, payload, decErr := protocol.DecodeLegacy(frame)
	if decErr != nil {
		return protocol.GeneralResponse{Code: int(decErr.Code), Message: decErr.Message}
	}

	if tag != "unload" {
		return protocol.GeneralResponse{Code: int(protocol.UnknownCommand), Message: fmt.Sprintf("unknown legacy command: %v", payload)}
	}

	req := payload.(*protocol.UnloadRequest)
	if vErr := protocol.ValidateUnloadMessage(req); vErr != nil {
		return protocol.GeneralResponse{Code: int(vErr.Code), Message: vErr.Message}
	}

	if uErr := w.manager.Unload(req.ModelName); uErr != nil {
		w.recordAudit(func() error { return w.audit.RecordUnload(req.ModelName, uErr.Message) })
		return protocol.GeneralResponse{Code: int(uErr.Code), Message: uErr.Message}
	}

	w.recordAudit(func() error { return w.audit.RecordUnload(req.ModelName, "") })
	return protocol.GeneralResponse{Code: 200, Message: fmt.Sprintf("Unloaded model %s", req.ModelName)}
}

// recordAudit runs fn against the worker's audit log if one is attached.
// Audit failures are logged and never surface to the client: the log is
// a best-effort history, not part of the request/response contract.
func (w *Worker) recordAudit(fn func() error) {
	if w.audit == nil {
		return
	}
	if err := fn(); err != nil {
		w.log.Errorf("audit record failed: %v", err)
	}
}

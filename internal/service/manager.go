package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ianremillard/modelworker/internal/metrics"
	"github.com/ianremillard/modelworker/internal/model"
	"github.com/ianremillard/modelworker/internal/protocol"
)

// LoadedService is one named model bound to a running Handler.
type LoadedService struct {
	Name      string
	ModelDir  string
	BatchSize int
	GPUID     int
	Manifest  *model.Manifest
	Handler   Handler
}

// Manager tracks the set of currently loaded services by name and
// dispatches predict calls to the right handler. Exactly one Manager
// backs a worker process (spec.md §4.5): services are served one at a time,
// so no additional locking is needed around a single service's Handler
// calls beyond the map mutex guarding registration.
type Manager struct {
	mu       sync.RWMutex
	services map[string]*LoadedService
	factory  func(handlerPath string) (Handler, error)
	metrics  *metrics.Store
}

// NewManager builds a Manager. Its factory resolves a load request's
// handler field to a concrete Handler implementation: paths of the form "native:<name>"
// go to the in-process built-ins, everything else goes to the subprocess
// bridge.
func NewManager(metricsStore *metrics.Store) *Manager {
	return &Manager{
		services: make(map[string]*LoadedService),
		factory:  defaultFactory,
		metrics:  metricsStore,
	}
}

func defaultFactory(handlerPath string) (Handler, error) {
	if isNativeHandlerPath(handlerPath) {
		return newNativeEchoHandler(handlerPath)
	}
	return newSubprocessHandler(handlerPath)
}

// RegisterAndLoad resolves modelDir's manifest, instantiates the handler it
// names, calls Init, and registers the resulting service under name. A
// second registration under a name already in use replaces the prior
// service, matching spec.md §4.5's "loading a model name a second
// time replaces rather than stacks" rule: the new handler is initialized
// first, then swapped into the map, and only then is the prior handler
// closed.
func (m *Manager) RegisterAndLoad(ctx context.Context, req protocol.LoadRequest) (string, *protocol.Error) {
	manifest, handlerPath, mErr := model.Load(req.ModelPath, req.Handler)
	if mErr != nil {
		return "", mErr
	}

	h, err := m.factory(handlerPath)
	if err != nil {
		return "", protocol.NewError(protocol.UnknownExceptionWhileLoading, "%v", err)
	}

	gpuID := req.GPUID
	if gpuID < 0 {
		gpuID = -1
	}

	if initErr := h.Init(req.ModelName, req.ModelPath, manifest, gpuID, int(req.BatchSize)); initErr != nil {
		return "", protocol.NewError(protocol.UnknownExceptionWhileLoading, "%v", initErr)
	}

	svc := &LoadedService{
		Name:      req.ModelName,
		ModelDir:  req.ModelPath,
		BatchSize: int(req.BatchSize),
		GPUID:     gpuID,
		Manifest:  manifest,
		Handler:   h,
	}

	m.mu.Lock()
	prior := m.services[req.ModelName]
	m.services[req.ModelName] = svc
	m.mu.Unlock()

	if prior != nil {
		_ = prior.Handler.Close()
	}
	return handlerPath, nil
}

// GetLoaded returns the service registered under name, or false if no such
// service is currently loaded.
func (m *Manager) GetLoaded(name string) (*LoadedService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	return svc, ok
}

// Unload closes and removes the service registered under name. Unloading a
// name that is not loaded is a MODEL_CURRENTLY_NOT_LOADED error, per
// spec.md §4.6.
func (m *Manager) Unload(name string) *protocol.Error {
	m.mu.Lock()
	svc, ok := m.services[name]
	if ok {
		delete(m.services, name)
	}
	m.mu.Unlock()

	if !ok {
		return protocol.NewError(protocol.ModelCurrentlyNotLoaded, "Model %s is currently not loaded.", name)
	}
	if err := svc.Handler.Close(); err != nil {
		return protocol.NewError(protocol.UnknownException, "%v", err)
	}
	return nil
}

// Inference runs one request batch through a loaded service's
// preprocess/inference/postprocess pipeline, emitting the three stage-time
// metrics spec.md §4.3 names. It returns one PredictionRecord per batch
// entry, in request order; per-entry failures are reflected in that
// entry's record rather than aborting the whole batch.
func (m *Manager) Inference(ctx context.Context, name string, batch []protocol.RequestBatchEntry) ([]protocol.PredictionRecord, *protocol.Error) {
	svc, ok := m.GetLoaded(name)
	if !ok {
		return nil, protocol.NewError(protocol.ModelServiceNotLoaded, "Model %s is not loaded.", name)
	}

	// Per-entry input validation (spec.md §8 scenario 5): an entry with a
	// missing name/contentType/value never reaches the handler at all. It
	// gets its own record with the validator's code and the fixed
	// "Invalid input provided" message; the overall predict call still
	// succeeds (code 200) as long as decoding and dispatch succeeded.
	invalid := protocol.ValidatePredictInputs(batch)

	records := make([]protocol.PredictionRecord, len(batch))
	validEntries := make([]protocol.RequestBatchEntry, 0, len(batch))
	validIdx := make([]int, 0, len(batch))
	for i, entry := range batch {
		if code, bad := invalid[entry.RequestID]; bad {
			records[i] = protocol.PredictionRecord{RequestID: entry.RequestID, Code: int(code), Message: protocol.InvalidInputMessage}
			continue
		}
		validEntries = append(validEntries, entry)
		validIdx = append(validIdx, i)
	}

	if len(validEntries) == 0 {
		return records, nil
	}

	// One ModelInput per request entry is the common case this pipeline
	// optimizes for: flatten to a single input list and zip handler outputs
	// back against request entries by index below.
	flatInputs := make([]protocol.ModelInput, 0, len(validEntries))
	for _, entry := range validEntries {
		flatInputs = append(flatInputs, entry.ModelInputs...)
	}

	start := time.Now()
	preData, err := svc.Handler.Preprocess(ctx, flatInputs)
	m.observeTime(metrics.PreprocessMetric, start)
	if err != nil {
		fillFailures(records, validEntries, validIdx, fmt.Sprintf("preprocess failed: %v", err))
		return records, nil
	}

	start = time.Now()
	infData, err := svc.Handler.Inference(ctx, preData)
	m.observeTime(metrics.InferenceMetric, start)
	if err != nil {
		fillFailures(records, validEntries, validIdx, fmt.Sprintf("inference failed: %v", err))
		return records, nil
	}

	start = time.Now()
	values, err := svc.Handler.Postprocess(ctx, infData)
	m.observeTime(metrics.PostprocessMetric, start)
	if err != nil {
		fillFailures(records, validEntries, validIdx, fmt.Sprintf("postprocess failed: %v", err))
		return records, nil
	}

	for j, entry := range validEntries {
		i := validIdx[j]
		if j < len(values) {
			records[i] = protocol.PredictionRecord{RequestID: entry.RequestID, Code: 200, Value: values[j]}
		} else {
			records[i] = protocol.PredictionRecord{RequestID: entry.RequestID, Code: int(protocol.CustomServiceError), Message: "handler returned fewer results than requests"}
		}
	}
	return records, nil
}

func (m *Manager) observeTime(name string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.AddTime(name, float64(time.Since(start).Microseconds())/1000.0)
}

// fillFailures writes a CustomServiceError record for every entry that made
// it past input validation, at its original batch position, after a handler
// stage fails partway through the pipeline.
func fillFailures(records []protocol.PredictionRecord, validEntries []protocol.RequestBatchEntry, validIdx []int, message string) {
	for j, entry := range validEntries {
		records[validIdx[j]] = protocol.PredictionRecord{RequestID: entry.RequestID, Code: int(protocol.CustomServiceError), Message: message}
	}
}

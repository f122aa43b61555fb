package protocol

// Validate* are pure structural predicates on a decoded command payload,
// applied by the worker loop before the payload reaches service dispatch.
// They never touch the socket or the service map — only shape-checking.

// ValidateMessageVersion confirms the version double at the head of a raw
// frame equals the protocol sentinel. Decode already enforces this during
// parsing; this is a standalone check of the header alone, without a full
// decode. Nothing in the worker or the legacy codec calls it.
func ValidateMessageVersion(data []byte) bool {
	c := newCursor(data)
	v, ok := c.readFloat64()
	return ok && v == VersionSentinel
}

// ValidateLoadMessage requires modelPath, modelName, and handler to be
// present and non-empty, and batchSize to be at least 1.
func ValidateLoadMessage(req *LoadRequest) *Error {
	if req.ModelName == "" {
		return NewError(InvalidLoadMessage, "modelName is required")
	}
	if req.ModelPath == "" {
		return NewError(InvalidLoadMessage, "modelPath is required")
	}
	if req.Handler == "" {
		return NewError(InvalidLoadMessage, "handler is required")
	}
	if req.BatchSize < 1 {
		return NewError(InvalidLoadMessage, "batchSize must be at least 1")
	}
	return nil
}

// ValidatePredictMessage requires a non-empty modelName and a non-empty
// requestBatch list.
func ValidatePredictMessage(req *PredictRequest) *Error {
	if req.ModelName == "" {
		return NewError(InvalidPredictMessage, "modelName is required")
	}
	if len(req.RequestBatch) == 0 {
		return NewError(InvalidPredictMessage, "requestBatch must not be empty")
	}
	return nil
}

// ValidateUnloadMessage requires a non-empty modelName.
func ValidateUnloadMessage(req *UnloadRequest) *Error {
	if req.ModelName == "" {
		return NewError(InvalidUnloadMessage, "model-name is required")
	}
	return nil
}

// InvalidInputMessage is the fixed message attached to every
// validator-rejected input record (spec.md §3/§8).
const InvalidInputMessage = "Invalid input provided"

// ValidatePredictInputs checks every input of every batch entry for the
// required name/contentType("encoding")/value triple. Entries that fail are
// returned keyed by requestId -> error code; the codec folds these into the
// response instead of dispatching them to the handler.
func ValidatePredictInputs(batch []RequestBatchEntry) map[string]Code {
	invalid := make(map[string]Code)
	for _, entry := range batch {
		if len(entry.ModelInputs) == 0 {
			invalid[entry.RequestID] = InvalidPredictMessage
			continue
		}
		for _, in := range entry.ModelInputs {
			if in.Name == "" || in.ContentType == "" || in.Value == nil {
				invalid[entry.RequestID] = InvalidPredictMessage
				break
			}
		}
	}
	return invalid
}

package protocol

import (
	"strings"

	"github.com/bytedance/sonic"
)

// Decode reads one binary OTF frame from the front of data and returns a
// command tag ("load", "predict", or "unknown") together with the decoded
// payload, plus the number of bytes consumed. For "unknown" the payload is
// the raw int32 command code, matching spec.md's description of what the
// worker does with an unrecognized command.
//
// Decode only ever looks at the prefix of data it needs: per the frame
// self-delimitation invariant (spec.md §8), calling Decode again on
// data[consumed:] recovers the next frame unchanged.
func Decode(data []byte) (tag string, payload any, consumed int, err *Error) {
	c := newCursor(data)

	version, ok := c.readFloat64()
	if !ok {
		return "", nil, 0, NewError(InvalidMessage, "truncated frame: missing version header")
	}
	if version != VersionSentinel {
		return "", nil, 0, NewError(InvalidMessage, "unsupported protocol version %v", version)
	}

	cmd, ok := c.readInt32()
	if !ok {
		return "", nil, 0, NewError(InvalidMessage, "truncated frame: missing command code")
	}

	switch cmd {
	case CmdLoad:
		req, derr := decodeLoad(c)
		if derr != nil {
			return "", nil, 0, derr
		}
		return "load", req, c.off, nil
	case CmdPredict:
		req, derr := decodePredict(c)
		if derr != nil {
			return "", nil, 0, derr
		}
		return "predict", req, c.off, nil
	default:
		return "unknown", cmd, c.off, nil
	}
}

func decodeLoad(c *cursor) (*LoadRequest, *Error) {
	req := &LoadRequest{}

	nameLen, ok := c.readLength()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: modelName length")
	}
	req.ModelName, ok = c.readString(nameLen)
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: modelName value")
	}

	pathLen, ok := c.readLength()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: modelPath length")
	}
	req.ModelPath, ok = c.readString(pathLen)
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: modelPath value")
	}

	batchSize, ok := c.readInt32()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: batchSize")
	}
	req.BatchSize = int(batchSize)

	handlerLen, ok := c.readLength()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: handler length")
	}
	req.Handler, ok = c.readString(handlerLen)
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: handler value")
	}

	gpuID, ok := c.readInt32()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated load message: gpuId")
	}
	req.GPUID = int(gpuID)

	return req, nil
}

func decodePredict(c *cursor) (*PredictRequest, *Error) {
	req := &PredictRequest{}

	nameLen, ok := c.readLength()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated predict message: modelName length")
	}
	req.ModelName, ok = c.readString(nameLen)
	if !ok {
		return nil, NewError(InvalidMessage, "truncated predict message: modelName value")
	}

	listOpen, ok := c.readLength()
	if !ok {
		return nil, NewError(InvalidMessage, "truncated predict message: request batch marker")
	}
	if listOpen != startOfList {
		return nil, NewError(InvalidMessage, "malformed predict message: expected start-of-list marker")
	}

	batch, err := decodeRequestBatch(c)
	if err != nil {
		return nil, err
	}
	req.RequestBatch = batch

	return req, nil
}

func decodeRequestBatch(c *cursor) ([]RequestBatchEntry, *Error) {
	var entries []RequestBatchEntry
	for {
		idLen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated request batch: requestId length")
		}
		if idLen == endOfList {
			return entries, nil
		}
		requestID, ok := c.readString(idLen)
		if !ok {
			return nil, NewError(InvalidMessage, "truncated request batch: requestId value")
		}

		ctLen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated request batch: contentType length")
		}
		var contentType string
		if ctLen > 0 {
			contentType, ok = c.readString(ctLen)
			if !ok {
				return nil, NewError(InvalidMessage, "truncated request batch: contentType value")
			}
		}

		listOpen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated request batch: model inputs marker")
		}
		if listOpen != startOfList {
			return nil, NewError(InvalidMessage, "malformed request batch: expected start-of-list marker")
		}

		inputs, err := decodeModelInputs(c, contentType)
		if err != nil {
			return nil, err
		}

		entries = append(entries, RequestBatchEntry{
			RequestID:   requestID,
			ContentType: contentType,
			ModelInputs: inputs,
		})
	}
}

func decodeModelInputs(c *cursor, batchContentType string) ([]ModelInput, *Error) {
	var inputs []ModelInput
	for {
		nameLen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated model input: name length")
		}
		if nameLen == endOfList {
			return inputs, nil
		}
		var name string
		if nameLen > 0 {
			name, ok = c.readString(nameLen)
			if !ok {
				return nil, NewError(InvalidMessage, "truncated model input: name value")
			}
		}

		ctLen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated model input: contentType length")
		}
		var contentType string
		if ctLen > 0 {
			contentType, ok = c.readString(ctLen)
			if !ok {
				return nil, NewError(InvalidMessage, "truncated model input: contentType value")
			}
		}

		valLen, ok := c.readLength()
		if !ok {
			return nil, NewError(InvalidMessage, "truncated model input: value length")
		}
		var value []byte
		if valLen > 0 {
			effective := contentType
			if effective == "" {
				effective = batchContentType
			}
			if !isKnownContentType(effective) {
				return nil, NewError(UnknownContentType, "unknown contentType given for the data")
			}
			value, ok = c.readBytes(valLen)
			if !ok {
				return nil, NewError(InvalidMessage, "truncated model input: value bytes")
			}
		} else if valLen == 0 {
			value = []byte{}
		}

		inputs = append(inputs, ModelInput{Name: name, ContentType: contentType, Value: value})
	}
}

// isKnownContentType mirrors the original worker's policy: an unspecified
// content type is fine (it defers to the batch-level hint), and anything
// naming a textual/JSON or image encoding is accepted; everything else is
// UNKNOWN_CONTENT_TYPE.
func isKnownContentType(ct string) bool {
	if ct == "" {
		return true
	}
	lower := strings.ToLower(ct)
	for _, known := range []string{"json", "jpeg", "jpg", "png", "image", "text", "binary", "octet-stream"} {
		if strings.Contains(lower, known) {
			return true
		}
	}
	return false
}

// EncodeLoadRequest renders a binary load command frame, the client-side
// counterpart to decodeLoad. workerctl and tests use this to build requests
// the worker accepts.
func EncodeLoadRequest(req LoadRequest) []byte {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(CmdLoad)
	e.writeString(req.ModelName)
	e.writeString(req.ModelPath)
	e.writeInt32(int32(req.BatchSize))
	e.writeString(req.Handler)
	e.writeInt32(int32(req.GPUID))
	return e.bytes()
}

// EncodePredictRequest renders a binary predict command frame, the
// client-side counterpart to decodePredict.
func EncodePredictRequest(req PredictRequest) []byte {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(CmdPredict)
	e.writeString(req.ModelName)
	e.writeInt32(startOfList)
	for _, entry := range req.RequestBatch {
		e.writeString(entry.RequestID)
		e.writeString(entry.ContentType)
		e.writeInt32(startOfList)
		for _, in := range entry.ModelInputs {
			e.writeString(in.Name)
			e.writeString(in.ContentType)
			e.writeLengthPrefixed(in.Value)
		}
		e.writeInt32(endOfList)
	}
	e.writeInt32(endOfList)
	return e.bytes()
}

// EncodeUnloadRequest renders a legacy CRLF-terminated JSON unload command,
// the only inbound command the text-mode protocol still carries.
func EncodeUnloadRequest(modelName string) []byte {
	body, err := sonic.Marshal(legacyEnvelope{Command: "unload", ModelName: modelName})
	if err != nil {
		body = []byte(`{"command":"unload"}`)
	}
	return append(body, '\r', '\n')
}

// EncodePredictResponse renders a predict command's prediction list:
// -1, one record per entry in the order given, -2. It does not regroup
// records: rejected entries stay wherever they appear in records.
func EncodePredictResponse(records []PredictionRecord) []byte {
	e := &encBuf{}
	e.writeInt32(startOfList)
	for _, r := range records {
		e.writeString(r.RequestID)
		e.writeInt32(int32(r.Code))

		if r.Code == 200 {
			e.writeString(r.Value.Kind.String())
			e.writeLengthPrefixed(valueBytes(r.Value))
		} else {
			e.writeString(KindText.String())
			e.writeString(r.Message)
		}
	}
	e.writeInt32(endOfList)
	return e.bytes()
}

func valueBytes(v Value) []byte {
	switch v.Kind {
	case KindText:
		return []byte(v.Text)
	case KindBinary:
		return v.Binary
	case KindJSON:
		b, err := sonic.Marshal(v.JSON)
		if err != nil {
			return []byte("null")
		}
		return b
	default:
		return nil
	}
}

// EncodeGeneralResponse renders the envelope every command response rides
// in: version · code · message · predictions (or bare 0) · CRLF.
func EncodeGeneralResponse(resp GeneralResponse) []byte {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(int32(resp.Code))
	e.writeString(resp.Message)
	if resp.Predictions != nil {
		e.writeRaw(resp.Predictions)
	} else {
		e.writeInt32(0)
	}
	e.writeRaw([]byte("\r\n"))
	return e.bytes()
}

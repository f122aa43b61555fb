package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLoadFrame constructs a raw binary load frame the way a front-end
// dispatcher would, for use as Decode test input.
func buildLoadFrame(modelName, modelPath string, batchSize int, handler string, gpuID int) []byte {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(CmdLoad)
	e.writeString(modelName)
	e.writeString(modelPath)
	e.writeInt32(int32(batchSize))
	e.writeString(handler)
	e.writeInt32(int32(gpuID))
	return e.bytes()
}

func buildPredictFrame(modelName string, entries []RequestBatchEntry) []byte {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(CmdPredict)
	e.writeString(modelName)
	e.writeInt32(startOfList)
	for _, entry := range entries {
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

func TestDecodeVersionMismatch(t *testing.T) {
	e := &encBuf{}
	e.writeFloat64(2.0)
	e.writeInt32(CmdLoad)
	_, _, _, err := Decode(e.bytes())
	require.NotNil(t, err)
	assert.Equal(t, InvalidMessage, err.Code)
}

func TestDecodeLoadHappyPath(t *testing.T) {
	frame := buildLoadFrame("m", "/tmp/m", 1, "h.py", -1)
	tag, payload, consumed, err := Decode(frame)
	require.Nil(t, err)
	assert.Equal(t, "load", tag)
	assert.Equal(t, len(frame), consumed)

	req, ok := payload.(*LoadRequest)
	require.True(t, ok)
	assert.Equal(t, "m", req.ModelName)
	assert.Equal(t, "/tmp/m", req.ModelPath)
	assert.Equal(t, 1, req.BatchSize)
	assert.Equal(t, "h.py", req.Handler)
	assert.Equal(t, -1, req.GPUID)
}

func TestDecodeUnknownCommand(t *testing.T) {
	e := &encBuf{}
	e.writeFloat64(VersionSentinel)
	e.writeInt32(99)
	tag, payload, _, err := Decode(e.bytes())
	require.Nil(t, err)
	assert.Equal(t, "unknown", tag)
	assert.Equal(t, int32(99), payload)
}

func TestDecodePredictHappyPath(t *testing.T) {
	entries := []RequestBatchEntry{
		{RequestID: "r1", ContentType: "application/json", ModelInputs: []ModelInput{
			{Name: "data", ContentType: "application/json", Value: []byte(`{"x":1}`)},
		}},
		{RequestID: "r2", ContentType: "", ModelInputs: []ModelInput{
			{Name: "", ContentType: "", Value: []byte{}},
		}},
	}
	frame := buildPredictFrame("m", entries)
	tag, payload, consumed, err := Decode(frame)
	require.Nil(t, err)
	assert.Equal(t, "predict", tag)
	assert.Equal(t, len(frame), consumed)

	req, ok := payload.(*PredictRequest)
	require.True(t, ok)
	assert.Equal(t, "m", req.ModelName)
	require.Len(t, req.RequestBatch, 2)
	assert.Equal(t, "r1", req.RequestBatch[0].RequestID)
	assert.Equal(t, []byte(`{"x":1}`), req.RequestBatch[0].ModelInputs[0].Value)
	assert.Equal(t, "r2", req.RequestBatch[1].RequestID)
}

func TestDecodeEmptyBatchIsLegal(t *testing.T) {
	frame := buildPredictFrame("m", nil)
	tag, payload, _, err := Decode(frame)
	require.Nil(t, err)
	assert.Equal(t, "predict", tag)
	req := payload.(*PredictRequest)
	assert.Empty(t, req.RequestBatch)
}

func TestDecodeUnknownContentType(t *testing.T) {
	entries := []RequestBatchEntry{
		{RequestID: "r1", ContentType: "application/x-unknown-blob", ModelInputs: []ModelInput{
			{Name: "data", ContentType: "application/x-unknown-blob", Value: []byte("blob")},
		}},
	}
	frame := buildPredictFrame("m", entries)
	_, _, _, err := Decode(frame)
	require.NotNil(t, err)
	assert.Equal(t, UnknownContentType, err.Code)
}

func TestDecodeTruncatedBufferIsInvalidMessage(t *testing.T) {
	frame := buildLoadFrame("m", "/tmp/m", 1, "h.py", -1)
	truncated := frame[:len(frame)-2]
	_, _, _, err := Decode(truncated)
	require.NotNil(t, err)
	assert.Equal(t, InvalidMessage, err.Code)
}

func TestFrameSelfDelimitation(t *testing.T) {
	frame1 := buildLoadFrame("m1", "/tmp/m1", 1, "h1.py", -1)
	frame2 := buildLoadFrame("m2", "/tmp/m2", 2, "h2.py", 0)
	combined := append(append([]byte{}, frame1...), frame2...)

	tag1, payload1, consumed1, err1 := Decode(combined)
	require.Nil(t, err1)
	assert.Equal(t, "load", tag1)
	assert.Equal(t, len(frame1), consumed1)
	assert.Equal(t, "m1", payload1.(*LoadRequest).ModelName)

	rest := combined[consumed1:]
	assert.Equal(t, frame2, rest)

	tag2, payload2, consumed2, err2 := Decode(rest)
	require.Nil(t, err2)
	assert.Equal(t, "load", tag2)
	assert.Equal(t, len(frame2), consumed2)
	assert.Equal(t, "m2", payload2.(*LoadRequest).ModelName)
}

func TestEncodePredictResponseRoundTrip(t *testing.T) {
	records := []PredictionRecord{
		{RequestID: "r1", Code: 200, Value: NewTextValue("hello")},
		{RequestID: "r2", Code: 200, Value: NewBinaryValue([]byte{0xde, 0xad, 0xbe, 0xef})},
		{RequestID: "r3", Code: 200, Value: NewJSONValue(map[string]int{"a": 1})},
		{RequestID: "r4", Code: int(InvalidPredictMessage), Message: InvalidInputMessage},
	}
	encoded := EncodePredictResponse(records)

	c := newCursor(encoded)
	marker, ok := c.readInt32()
	require.True(t, ok)
	assert.Equal(t, startOfList, marker)

	for _, want := range records {
		idLen, ok := c.readLength()
		require.True(t, ok)
		id, ok := c.readString(idLen)
		require.True(t, ok)
		assert.Equal(t, want.RequestID, id)

		code, ok := c.readInt32()
		require.True(t, ok)
		assert.Equal(t, int32(want.Code), code)

		encLen, ok := c.readLength()
		require.True(t, ok)
		encoding, ok := c.readString(encLen)
		require.True(t, ok)

		valLen, ok := c.readLength()
		require.True(t, ok)
		val, ok := c.readBytes(valLen)
		require.True(t, ok)

		if want.Code == 200 {
			assert.Equal(t, want.Value.Kind.String(), encoding)
			assert.Equal(t, valueBytes(want.Value), val)
		} else {
			assert.Equal(t, "text", encoding)
			assert.Equal(t, InvalidInputMessage, string(val))
		}
	}

	end, ok := c.readInt32()
	require.True(t, ok)
	assert.Equal(t, endOfList, end)
}

func TestEncodeGeneralResponseNoPredictions(t *testing.T) {
	resp := GeneralResponse{Code: 200, Message: "loaded model /tmp/m/h.py"}
	out := EncodeGeneralResponse(resp)

	c := newCursor(out)
	v, ok := c.readFloat64()
	require.True(t, ok)
	assert.Equal(t, VersionSentinel, v)

	code, ok := c.readInt32()
	require.True(t, ok)
	assert.Equal(t, int32(200), code)

	msgLen, ok := c.readLength()
	require.True(t, ok)
	msg, ok := c.readString(msgLen)
	require.True(t, ok)
	assert.Equal(t, resp.Message, msg)

	zero, ok := c.readInt32()
	require.True(t, ok)
	assert.Equal(t, int32(0), zero)

	assert.Equal(t, []byte("\r\n"), out[len(out)-2:])
}

func TestEncodeGeneralResponseWithPredictions(t *testing.T) {
	preds := EncodePredictResponse([]PredictionRecord{{RequestID: "r1", Code: 200, Value: NewTextValue("ok")}})
	resp := GeneralResponse{Code: 200, Message: "Prediction success", Predictions: preds}
	out := EncodeGeneralResponse(resp)

	assert.Equal(t, []byte("\r\n"), out[len(out)-2:])

	// The predictions blob should appear verbatim before the CRLF terminator.
	assert.Contains(t, string(out), string(preds))
}

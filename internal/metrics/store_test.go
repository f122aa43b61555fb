package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndEmit(t *testing.T) {
	s := New()
	s.AddTime(PreprocessMetric, 1.5)
	s.AddTime(InferenceMetric, 2.5)
	s.AddTime(PostprocessMetric, 3.5)
	s.AddCounter("requests", 1)

	assert.Equal(t, 4, s.Len())

	var buf bytes.Buffer
	require.NoError(t, s.Emit(&buf))

	assert.Equal(t, 0, s.Len(), "emit must clear the buffer")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, PreprocessMetric, first["MetricName"])
	assert.Equal(t, "ms", first["Unit"])
}

func TestEmitOnEmptyStoreIsNoop(t *testing.T) {
	s := New()
	var buf bytes.Buffer
	require.NoError(t, s.Emit(&buf))
	assert.Empty(t, buf.String())
}

func TestAddTimeForRequestTagsRequestID(t *testing.T) {
	s := New()
	s.AddTimeForRequest("customTimer", "req-1", 9.9)

	var buf bytes.Buffer
	require.NoError(t, s.Emit(&buf))

	var sample map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &sample))
	assert.Equal(t, "req-1", sample["RequestId"])
}

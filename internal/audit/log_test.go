package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	log, err := Open(":memory:")
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.RecordLoad("densenet", "/models/densenet", ""))
	require.NoError(t, log.RecordUnload("densenet", ""))
	require.NoError(t, log.RecordLoad("resnet", "/models/resnet", "boom"))

	events, err := log.Recent("densenet", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindUnload, events[0].Kind)
	assert.Equal(t, KindLoad, events[1].Kind)
	assert.Equal(t, "/models/densenet", events[1].ModelPath)
}

func TestRecentOnUnknownServiceIsEmpty(t *testing.T) {
	log, err := Open(":memory:")
	require.NoError(t, err)
	defer log.Close()

	events, err := log.Recent("nope", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

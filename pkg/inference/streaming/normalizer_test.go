package streaming

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

func testMeta() events.EventMetadata {
	return events.EventMetadata{RunID: "run-1", StepID: "step-1"}
}

func TestNormalizeBlockLifecycle(t *testing.T) {
	n := NewNormalizer(testMeta())

	ev, err := n.Normalize(engine.RawEvent{
		Kind:      engine.RawKindBlockStart,
		BlockID:   "b1",
		BlockType: engine.RawBlockText,
	})
	require.NoError(t, err)
	start, ok := ev.(*events.EventBlockStart)
	require.True(t, ok)
	assert.Equal(t, "b1", start.BlockID)
	assert.Equal(t, engine.RawBlockText, start.Kind)
	assert.Equal(t, "run-1", start.Metadata().RunID)
	assert.NotZero(t, start.Metadata().ID)

	ev, err = n.Normalize(engine.RawEvent{
		Kind:      engine.RawKindBlockDelta,
		BlockID:   "b1",
		BlockType: engine.RawBlockText,
		Delta:     "hi",
	})
	require.NoError(t, err)
	delta, ok := ev.(*events.EventBlockDelta)
	require.True(t, ok)
	assert.Equal(t, "hi", delta.Delta)

	ev, err = n.Normalize(engine.RawEvent{Kind: engine.RawKindBlockStop, BlockID: "b1"})
	require.NoError(t, err)
	_, ok = ev.(*events.EventBlockStop)
	require.True(t, ok)
}

func TestNormalizeSynthesizesMissingBlockID(t *testing.T) {
	n := NewNormalizer(testMeta())

	ev, err := n.Normalize(engine.RawEvent{Kind: engine.RawKindBlockStart, BlockType: engine.RawBlockText})
	require.NoError(t, err)
	start := ev.(*events.EventBlockStart)
	require.NotEmpty(t, start.BlockID)

	ev, err = n.Normalize(engine.RawEvent{Kind: engine.RawKindBlockDelta, Delta: "x"})
	require.NoError(t, err)
	delta := ev.(*events.EventBlockDelta)
	assert.Equal(t, start.BlockID, delta.BlockID)
}

func TestNormalizeMetaAndFinishYieldNoEvent(t *testing.T) {
	n := NewNormalizer(testMeta())

	ev, err := n.Normalize(engine.RawEvent{Kind: engine.RawKindResponseMeta})
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = n.Normalize(engine.RawEvent{
		Kind:       engine.RawKindFinish,
		StopReason: events.StopReasonStop,
	})
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNormalizeStreamError(t *testing.T) {
	n := NewNormalizer(testMeta())

	ev, err := n.Normalize(engine.RawEvent{Kind: engine.RawKindError, Err: errors.New("boom")})
	assert.Nil(t, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNormalizeProviderExecutedToolResult(t *testing.T) {
	n := NewNormalizer(testMeta())

	ev, err := n.Normalize(engine.RawEvent{
		Kind:       engine.RawKindToolResult,
		ToolCallID: "call-1",
		Result:     json.RawMessage(`{"temp":12}`),
	})
	require.NoError(t, err)
	tr, ok := ev.(*events.EventToolResult)
	require.True(t, ok)
	assert.Equal(t, "call-1", tr.ToolResult.ID)
	assert.Equal(t, `{"temp":12}`, tr.ToolResult.Result)
}

func TestResponseMetaDefaults(t *testing.T) {
	rm := ResponseMetaDefaults(nil, "gpt-4o")
	assert.Equal(t, "gpt-4o", rm.Model)
	assert.False(t, rm.Timestamp.IsZero())
	assert.NotEmpty(t, rm.ResponseID)

	given := &turns.ResponseMeta{ResponseID: "resp-1", Model: "served-model"}
	rm = ResponseMetaDefaults(given, "gpt-4o")
	assert.Equal(t, "resp-1", rm.ResponseID)
	assert.Equal(t, "served-model", rm.Model)
	assert.False(t, rm.Timestamp.IsZero())
}

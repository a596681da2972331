package streaming

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/stromboli/pkg/turns"
)

func TestDeltasConcatenateInArrivalOrder(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("b1", BlockInfo{Kind: turns.BlockKindText}))

	parts := []string{"Hello", ", ", "wor", "ld", "!"}
	for _, p := range parts {
		_, err := tr.Delta("b1", p)
		require.NoError(t, err)
	}

	cb, err := tr.Close("b1")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world!", cb.Text)
}

func TestInterleavedBlocksKeepPerBlockOrder(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("text", BlockInfo{Kind: turns.BlockKindText}))
	require.NoError(t, tr.Open("think", BlockInfo{Kind: turns.BlockKindReasoning}))

	_, err := tr.Delta("think", "step 1. ")
	require.NoError(t, err)
	_, err = tr.Delta("text", "The answer ")
	require.NoError(t, err)
	_, err = tr.Delta("think", "step 2.")
	require.NoError(t, err)
	_, err = tr.Delta("text", "is 42.")
	require.NoError(t, err)

	think, err := tr.Close("think")
	require.NoError(t, err)
	text, err := tr.Close("text")
	require.NoError(t, err)

	assert.Equal(t, "step 1. step 2.", think.Text)
	assert.Equal(t, "The answer is 42.", text.Text)
}

func TestDuplicateOpenIsProtocolViolation(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("b1", BlockInfo{Kind: turns.BlockKindText}))

	err := tr.Open("b1", BlockInfo{Kind: turns.BlockKindText})
	require.Error(t, err)
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "open", pv.Op)
	assert.Equal(t, "b1", pv.BlockID)
}

func TestDeltaAndCloseOnUnknownIDAreProtocolViolations(t *testing.T) {
	tr := NewBlockTracker()

	_, err := tr.Delta("nope", "x")
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "delta", pv.Op)

	_, err = tr.Close("nope")
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "close", pv.Op)
}

func TestDeltaAfterCloseIsRejected(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("b1", BlockInfo{Kind: turns.BlockKindText}))
	_, err := tr.Close("b1")
	require.NoError(t, err)

	_, err = tr.Delta("b1", "late")
	var pv *ProtocolViolationError
	require.ErrorAs(t, err, &pv)
}

func TestFinishFlattensInCloseOrder(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("a", BlockInfo{Kind: turns.BlockKindText}))
	require.NoError(t, tr.Open("b", BlockInfo{Kind: turns.BlockKindReasoning}))
	require.NoError(t, tr.Open("c", BlockInfo{Kind: turns.BlockKindText}))

	_, err := tr.Delta("a", "opened first")
	require.NoError(t, err)
	_, err = tr.Delta("b", "closed first")
	require.NoError(t, err)
	_, err = tr.Delta("c", "closed second")
	require.NoError(t, err)

	_, err = tr.Close("b")
	require.NoError(t, err)
	_, err = tr.Close("c")
	require.NoError(t, err)
	_, err = tr.Close("a")
	require.NoError(t, err)

	blocks := tr.Finish()
	require.Len(t, blocks, 3)
	assert.Equal(t, "b", blocks[0].ID)
	assert.Equal(t, "c", blocks[1].ID)
	assert.Equal(t, "a", blocks[2].ID)
}

func TestFinishClosesLeftoverOpenBlocks(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("open-1", BlockInfo{Kind: turns.BlockKindText}))
	require.NoError(t, tr.Open("open-2", BlockInfo{Kind: turns.BlockKindText}))
	_, err := tr.Delta("open-2", "dangling")
	require.NoError(t, err)
	require.NoError(t, tr.Open("done", BlockInfo{Kind: turns.BlockKindText}))
	_, err = tr.Close("done")
	require.NoError(t, err)

	blocks := tr.Finish()
	require.Len(t, blocks, 3)
	assert.Equal(t, "done", blocks[0].ID)
	assert.Equal(t, "open-1", blocks[1].ID)
	assert.Equal(t, "open-2", blocks[2].ID)
	assert.Equal(t, "dangling", turns.BlockText(blocks[2]))
	assert.Zero(t, tr.OpenCount())
}

func TestManyConcurrentlyOpenBlocks(t *testing.T) {
	tr := NewBlockTracker()
	const n = 48
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Open(fmt.Sprintf("b%02d", i), BlockInfo{Kind: turns.BlockKindText}))
	}
	assert.Equal(t, n, tr.OpenCount())

	// Interleave deltas round-robin, then close in reverse order.
	for round := 0; round < 3; round++ {
		for i := 0; i < n; i++ {
			_, err := tr.Delta(fmt.Sprintf("b%02d", i), fmt.Sprintf("r%d;", round))
			require.NoError(t, err)
		}
	}
	for i := n - 1; i >= 0; i-- {
		cb, err := tr.Close(fmt.Sprintf("b%02d", i))
		require.NoError(t, err)
		assert.Equal(t, "r0;r1;r2;", cb.Text)
	}

	blocks := tr.Finish()
	require.Len(t, blocks, n)
	assert.Equal(t, fmt.Sprintf("b%02d", n-1), blocks[0].ID)
	assert.Equal(t, "b00", blocks[n-1].ID)
}

func TestToolCallBlockCarriesCallMetadata(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("blk-7", BlockInfo{
		Kind:             turns.BlockKindToolCall,
		ToolCallID:       "call-7",
		ToolName:         "get_weather",
		ProviderExecuted: true,
	}))
	_, err := tr.Delta("blk-7", `{"city":"Paris"}`)
	require.NoError(t, err)
	_, err = tr.Close("blk-7")
	require.NoError(t, err)

	blocks := tr.Finish()
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, turns.BlockKindToolCall, b.Kind)
	assert.Equal(t, "call-7", b.Payload[turns.PayloadKeyID])
	assert.Equal(t, "get_weather", b.Payload[turns.PayloadKeyName])
	assert.Equal(t, `{"city":"Paris"}`, b.Payload[turns.PayloadKeyArgs])
	assert.Equal(t, true, b.Metadata[turns.MetaKeyProviderExecuted])
}

func TestAppendCompleteBlockKeepsArrivalPosition(t *testing.T) {
	tr := NewBlockTracker()
	require.NoError(t, tr.Open("text", BlockInfo{Kind: turns.BlockKindText}))
	_, err := tr.Close("text")
	require.NoError(t, err)
	tr.Append(turns.NewSourceBlock("src-1", "Docs", "https://example.com/docs"))

	blocks := tr.Finish()
	require.Len(t, blocks, 2)
	assert.Equal(t, turns.BlockKindSource, blocks[1].Kind)
}

package streaming

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/stromboli/pkg/turns"
)

// ProtocolViolationError reports a malformed provider stream: a duplicate
// open, or a delta/close targeting an id that is not live. It terminates the
// current turn with an error finish reason but never the whole run.
type ProtocolViolationError struct {
	Op      string
	BlockID string
	Reason  string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s on block %q: %s", e.Op, e.BlockID, e.Reason)
}

// BlockInfo describes an open block beyond its id.
type BlockInfo struct {
	Kind turns.BlockKind

	// Tool-call blocks only.
	ToolCallID       string
	ToolName         string
	ProviderExecuted bool
	Dynamic          bool
}

// ClosedBlock is what Close hands back to the caller: the block's identity
// plus its fully accumulated text (for tool calls, the raw argument JSON).
type ClosedBlock struct {
	ID   string
	Info BlockInfo
	Text string
}

type trackedBlock struct {
	id   string
	info BlockInfo
	buf  strings.Builder
}

// BlockTracker maintains the set of concurrently open content blocks of one
// turn. Deltas for different blocks may interleave freely; deltas carrying
// the same id stay strictly ordered because each block owns its own buffer.
// The tracker is scoped to a single turn and discarded after Finish.
type BlockTracker struct {
	open      map[string]*trackedBlock
	openOrder []string
	closed    []turns.Block
}

func NewBlockTracker() *BlockTracker {
	return &BlockTracker{open: map[string]*trackedBlock{}}
}

// Open registers a new live block. Opening an id that is already live is a
// protocol violation.
func (t *BlockTracker) Open(id string, info BlockInfo) error {
	if _, ok := t.open[id]; ok {
		return &ProtocolViolationError{Op: "open", BlockID: id, Reason: "id is already open"}
	}
	t.open[id] = &trackedBlock{id: id, info: info}
	t.openOrder = append(t.openOrder, id)
	return nil
}

// Delta appends a payload fragment to a live block and returns the block's
// accumulated text so far.
func (t *BlockTracker) Delta(id string, payload string) (string, error) {
	b, ok := t.open[id]
	if !ok {
		return "", &ProtocolViolationError{Op: "delta", BlockID: id, Reason: "no open block with this id"}
	}
	b.buf.WriteString(payload)
	return b.buf.String(), nil
}

// Close settles a live block. Subsequent deltas for the same id are rejected
// as unknown.
func (t *BlockTracker) Close(id string) (ClosedBlock, error) {
	b, ok := t.open[id]
	if !ok {
		return ClosedBlock{}, &ProtocolViolationError{Op: "close", BlockID: id, Reason: "no open block with this id"}
	}
	delete(t.open, id)
	for i, oid := range t.openOrder {
		if oid == id {
			t.openOrder = append(t.openOrder[:i], t.openOrder[i+1:]...)
			break
		}
	}
	cb := ClosedBlock{ID: id, Info: b.info, Text: b.buf.String()}
	t.closed = append(t.closed, cb.toBlock())
	return cb, nil
}

// Append records an already-complete block (sources and files arrive whole,
// not as open/delta/close) into the closed sequence at its arrival position.
func (t *BlockTracker) Append(block turns.Block) {
	t.closed = append(t.closed, block)
}

// OpenCount reports how many blocks are currently live.
func (t *BlockTracker) OpenCount() int { return len(t.open) }

// Finish flattens the turn's blocks in the order they were closed, not
// opened, matching how a consumer reads finished thoughts first. Blocks a
// provider left open at stream end are closed implicitly, in open order,
// after all explicitly closed ones.
func (t *BlockTracker) Finish() []turns.Block {
	for _, id := range t.openOrder {
		b := t.open[id]
		cb := ClosedBlock{ID: id, Info: b.info, Text: b.buf.String()}
		t.closed = append(t.closed, cb.toBlock())
	}
	t.open = map[string]*trackedBlock{}
	t.openOrder = nil
	out := t.closed
	t.closed = nil
	return out
}

func (cb ClosedBlock) toBlock() turns.Block {
	switch cb.Info.Kind {
	case turns.BlockKindReasoning:
		b := turns.NewReasoningBlock(cb.Text)
		b.ID = cb.ID
		return b
	case turns.BlockKindToolCall:
		callID := cb.Info.ToolCallID
		if callID == "" {
			callID = cb.ID
		}
		b := turns.NewToolCallBlock(callID, cb.Info.ToolName, cb.Text)
		if cb.Info.ProviderExecuted || cb.Info.Dynamic {
			b = turns.WithBlockMetadata(b, map[string]any{
				turns.MetaKeyProviderExecuted: cb.Info.ProviderExecuted,
				turns.MetaKeyDynamic:          cb.Info.Dynamic,
			})
		}
		return b
	default:
		b := turns.NewAssistantTextBlock(cb.Text)
		b.ID = cb.ID
		return b
	}
}

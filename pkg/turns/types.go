package turns

import (
	"time"

	"github.com/go-go-golems/stromboli/pkg/events"
)

// BlockKind identifies the type of a content block.
type BlockKind string

const (
	BlockKindUser       BlockKind = "user"
	BlockKindSystem     BlockKind = "system"
	BlockKindText       BlockKind = "text"
	BlockKindReasoning  BlockKind = "reasoning"
	BlockKindToolCall   BlockKind = "tool_call"
	BlockKindToolResult BlockKind = "tool_result"
	BlockKindToolError  BlockKind = "tool_error"
	BlockKindSource     BlockKind = "source"
	BlockKindFile       BlockKind = "file"
)

// Block represents a single closed unit of content within a Turn. Blocks are
// immutable once appended; open blocks live inside the stream tracker and only
// reach a Turn after they are closed.
type Block struct {
	ID      string         `yaml:"id,omitempty" json:"id,omitempty"`
	Kind    BlockKind      `yaml:"kind" json:"kind"`
	Role    string         `yaml:"role,omitempty" json:"role,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty" json:"payload,omitempty"`
	// Metadata stores arbitrary metadata about the block
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Clone returns a deep-ish copy of the block (payload and metadata maps are
// copied; reference-typed values inside remain shared).
func (b Block) Clone() Block {
	if b.Payload != nil {
		cp := make(map[string]any, len(b.Payload))
		for k, v := range b.Payload {
			cp[k] = v
		}
		b.Payload = cp
	}
	if b.Metadata != nil {
		cp := make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			cp[k] = v
		}
		b.Metadata = cp
	}
	return b
}

// ResponseMeta captures provider response metadata for one turn. Providers may
// omit any of these; the normalizer fills defined defaults.
type ResponseMeta struct {
	ResponseID string            `yaml:"response_id,omitempty" json:"response_id,omitempty"`
	Model      string            `yaml:"model,omitempty" json:"model,omitempty"`
	Timestamp  time.Time         `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Turn is one request/response step of a run. Turns are append-only once
// finalized.
type Turn struct {
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Index int    `yaml:"index" json:"index"`

	// Blocks holds the turn's closed blocks in the order they were closed.
	Blocks []Block `yaml:"blocks" json:"blocks"`

	Response    ResponseMeta      `yaml:"response,omitempty" json:"response,omitempty"`
	Usage       events.Usage      `yaml:"usage" json:"usage"`
	StopReason  events.StopReason `yaml:"stop_reason,omitempty" json:"stop_reason,omitempty"`
	IsContinued bool              `yaml:"is_continued,omitempty" json:"is_continued,omitempty"`

	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Clone returns a deep copy of the Turn suitable for mutation without
// affecting the original.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := &Turn{
		ID:          t.ID,
		Index:       t.Index,
		Response:    t.Response,
		Usage:       t.Usage,
		StopReason:  t.StopReason,
		IsContinued: t.IsContinued,
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	if len(t.Blocks) > 0 {
		out.Blocks = make([]Block, len(t.Blocks))
		for i := range t.Blocks {
			out.Blocks[i] = t.Blocks[i].Clone()
		}
	}
	return out
}

// Run captures a whole invocation of the loop: the append-only message log,
// the ordered turns, cumulative usage, and the fallback position. It is
// mutated exclusively by the run loop (single writer).
type Run struct {
	ID string `yaml:"id" json:"id"`

	// Messages is the ordered, append-only, role-tagged message log. Tool
	// results are copied in, never shared by reference with the caller.
	Messages []Block `yaml:"messages" json:"messages"`

	Turns []*Turn `yaml:"turns" json:"turns"`

	Usage events.Usage `yaml:"usage" json:"usage"`

	// ModelIndex is the position in the fallback chain currently in use.
	ModelIndex int `yaml:"model_index" json:"model_index"`

	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// AppendMessages appends copies of the given blocks to the run's message log.
func (r *Run) AppendMessages(blocks ...Block) {
	for _, b := range blocks {
		r.Messages = append(r.Messages, b.Clone())
	}
}

// AppendTurn finalizes a turn: its blocks are copied into the message log and
// its usage is folded into the run's cumulative counters.
func (r *Run) AppendTurn(t *Turn) {
	if t == nil {
		return
	}
	t.Index = len(r.Turns)
	r.Turns = append(r.Turns, t)
	r.AppendMessages(t.Blocks...)
	r.Usage.Add(t.Usage)
}

// LastTurn returns the most recent turn, or nil.
func (r *Run) LastTurn() *Turn {
	if len(r.Turns) == 0 {
		return nil
	}
	return r.Turns[len(r.Turns)-1]
}

// AppendBlock appends a Block to a Turn.
func AppendBlock(t *Turn, b Block) {
	t.Blocks = append(t.Blocks, b)
}

// AppendBlocks appends multiple Blocks preserving order.
func AppendBlocks(t *Turn, blocks ...Block) {
	for _, b := range blocks {
		AppendBlock(t, b)
	}
}

// FindBlocksByKind returns blocks of the requested kinds in turn order.
func FindBlocksByKind(t *Turn, kinds ...BlockKind) []Block {
	lookup := map[BlockKind]bool{}
	for _, k := range kinds {
		lookup[k] = true
	}
	ret := make([]Block, 0, len(t.Blocks))
	for _, b := range t.Blocks {
		if lookup[b.Kind] {
			ret = append(ret, b)
		}
	}
	return ret
}

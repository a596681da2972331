package engine

import (
	"encoding/json"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// RawEventKind discriminates the provider-agnostic raw stream events an
// Engine emits. The normalizer turns these into typed events; nothing above
// the engine layer should have to know which provider produced them.
type RawEventKind string

const (
	// RawKindResponseMeta carries response-level metadata (response id,
	// served model, provider headers). Providers that send it do so before
	// any content.
	RawKindResponseMeta RawEventKind = "response-meta"

	// RawKindBlockStart opens a content block. BlockID must be unique for
	// the lifetime of the stream.
	RawKindBlockStart RawEventKind = "block-start"

	// RawKindBlockDelta appends a fragment to an open block. For tool-call
	// blocks the fragment is a piece of the JSON arguments.
	RawKindBlockDelta RawEventKind = "block-delta"

	// RawKindBlockStop closes an open block.
	RawKindBlockStop RawEventKind = "block-stop"

	// RawKindToolResult reports the result of a provider-executed tool
	// call. The local tool executor never runs these.
	RawKindToolResult RawEventKind = "tool-result"

	// RawKindSource reports a citation or grounding source.
	RawKindSource RawEventKind = "source"

	// RawKindFile reports a generated file (base64 payload).
	RawKindFile RawEventKind = "file"

	// RawKindFinish terminates a successful stream with usage and a stop
	// reason.
	RawKindFinish RawEventKind = "finish"

	// RawKindError terminates a failed stream.
	RawKindError RawEventKind = "error"

	// RawKindPassthrough carries only a raw provider frame, for frames that
	// translate to no other event.
	RawKindPassthrough RawEventKind = "passthrough"
)

// Block types a RawKindBlockStart may announce.
const (
	RawBlockText      = "text"
	RawBlockReasoning = "reasoning"
	RawBlockToolCall  = "tool_call"
)

// RawEvent is the tagged union an Engine produces. Kind selects which fields
// are meaningful; unused fields stay zero. Payload, when set, holds the
// untouched provider frame for raw passthrough.
type RawEvent struct {
	Kind RawEventKind

	// Block fields (block-start, block-delta, block-stop).
	BlockID   string
	BlockType string
	Delta     string

	// Tool-call fields (block-start of a tool_call block, tool-result).
	ToolCallID       string
	ToolName         string
	ProviderExecuted bool
	Dynamic          bool
	Result           json.RawMessage

	// Source and file fields.
	SourceID  string
	Title     string
	URL       string
	MediaType string
	FileName  string
	Data      string

	// Response metadata (response-meta).
	Response *turns.ResponseMeta

	// Finish fields.
	Usage      *events.Usage
	StopReason events.StopReason

	// Error field (error).
	Err error

	// Payload is the raw provider frame, forwarded verbatim when raw
	// passthrough is enabled.
	Payload json.RawMessage
}

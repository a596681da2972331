package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// Run lifecycle
	EventTypeRunStart   EventType = "run-start"
	EventTypeRunFinish  EventType = "run-finish"
	EventTypeRunAbort   EventType = "run-abort"
	EventTypeRunSuspend EventType = "run-suspend"

	// Step (one request/response turn) lifecycle
	EventTypeStepStart  EventType = "step-start"
	EventTypeStepFinish EventType = "step-finish"

	// Content block lifecycle within a step
	EventTypeBlockStart EventType = "block-start"
	EventTypeBlockDelta EventType = "block-delta"
	EventTypeBlockStop  EventType = "block-stop"

	// Tool activity
	EventTypeToolCall        EventType = "tool-call"
	EventTypeToolCallExecute EventType = "tool-call-execute"
	EventTypeToolResult      EventType = "tool-result"
	EventTypeToolError       EventType = "tool-error"

	// References attached to output
	EventTypeSource EventType = "source"
	EventTypeFile   EventType = "file"

	// Structured output partial snapshots
	EventTypeObjectSnapshot EventType = "object-snapshot"

	EventTypeError EventType = "error"

	// Passthrough of the pre-normalization provider payload (opt-in)
	EventTypeRaw EventType = "raw"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata carries correlation identifiers and inference data shared by
// every event of a run.
type EventMetadata struct {
	LLMInferenceData
	ID        uuid.UUID `json:"event_id" yaml:"event_id"`
	RunID     string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty" yaml:"step_id,omitempty"`
	StepIndex int       `json:"step_index" yaml:"step_index"`
	// Extra carries provider-specific/context values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	if em.RunID != "" {
		e.Str("run_id", em.RunID)
	}
	if em.StepID != "" {
		e.Str("step_id", em.StepID)
	}
	e.Int("step_index", em.StepIndex)
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.StopReason != "" {
		e.Str("stop_reason", string(em.StopReason))
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw JSON payload when the event was decoded from the wire
	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }

// SetPayload stores the raw JSON payload on the event implementation.
func (e *EventImpl) SetPayload(b []byte) { e.payload = b }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

// --- run lifecycle ---

type EventRunStart struct {
	EventImpl
	ModelIDs []string `json:"model_ids,omitempty"`
}

func NewRunStartEvent(metadata EventMetadata, modelIDs []string) *EventRunStart {
	return &EventRunStart{
		EventImpl: EventImpl{Type_: EventTypeRunStart, Metadata_: metadata},
		ModelIDs:  modelIDs,
	}
}

type EventRunFinish struct {
	EventImpl
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Text       string     `json:"text"`
}

func NewRunFinishEvent(metadata EventMetadata, stopReason StopReason, usage Usage, text string) *EventRunFinish {
	return &EventRunFinish{
		EventImpl:  EventImpl{Type_: EventTypeRunFinish, Metadata_: metadata},
		StopReason: stopReason,
		Usage:      usage,
		Text:       text,
	}
}

// EventRunAbort is emitted exactly once when a run is cancelled.
type EventRunAbort struct {
	EventImpl
}

func NewRunAbortEvent(metadata EventMetadata) *EventRunAbort {
	return &EventRunAbort{EventImpl: EventImpl{Type_: EventTypeRunAbort, Metadata_: metadata}}
}

// EventRunSuspend is emitted when at least one tool call of the current step
// awaits external approval and the loop bails out.
type EventRunSuspend struct {
	EventImpl
	PendingToolCallIDs []string `json:"pending_tool_call_ids"`
}

func NewRunSuspendEvent(metadata EventMetadata, pending []string) *EventRunSuspend {
	return &EventRunSuspend{
		EventImpl:          EventImpl{Type_: EventTypeRunSuspend, Metadata_: metadata},
		PendingToolCallIDs: pending,
	}
}

// --- step lifecycle ---

type EventStepStart struct {
	EventImpl
}

func NewStepStartEvent(metadata EventMetadata) *EventStepStart {
	return &EventStepStart{EventImpl: EventImpl{Type_: EventTypeStepStart, Metadata_: metadata}}
}

type EventStepFinish struct {
	EventImpl
	StopReason  StopReason `json:"stop_reason"`
	Usage       Usage      `json:"usage"`
	IsContinued bool       `json:"is_continued"`
}

func NewStepFinishEvent(metadata EventMetadata, stopReason StopReason, usage Usage, isContinued bool) *EventStepFinish {
	return &EventStepFinish{
		EventImpl:   EventImpl{Type_: EventTypeStepFinish, Metadata_: metadata},
		StopReason:  stopReason,
		Usage:       usage,
		IsContinued: isContinued,
	}
}

// --- content blocks ---

type EventBlockStart struct {
	EventImpl
	BlockID string `json:"block_id"`
	Kind    string `json:"kind"`
}

func NewBlockStartEvent(metadata EventMetadata, blockID, kind string) *EventBlockStart {
	return &EventBlockStart{
		EventImpl: EventImpl{Type_: EventTypeBlockStart, Metadata_: metadata},
		BlockID:   blockID,
		Kind:      kind,
	}
}

type EventBlockDelta struct {
	EventImpl
	BlockID string `json:"block_id"`
	Kind    string `json:"kind"`
	Delta   string `json:"delta"`
	// Completion is the accumulated text of this block so far
	Completion string `json:"completion"`
}

func NewBlockDeltaEvent(metadata EventMetadata, blockID, kind, delta, completion string) *EventBlockDelta {
	return &EventBlockDelta{
		EventImpl:  EventImpl{Type_: EventTypeBlockDelta, Metadata_: metadata},
		BlockID:    blockID,
		Kind:       kind,
		Delta:      delta,
		Completion: completion,
	}
}

type EventBlockStop struct {
	EventImpl
	BlockID string `json:"block_id"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
}

func NewBlockStopEvent(metadata EventMetadata, blockID, kind, text string) *EventBlockStop {
	return &EventBlockStop{
		EventImpl: EventImpl{Type_: EventTypeBlockStop, Metadata_: metadata},
		BlockID:   blockID,
		Kind:      kind,
		Text:      text,
	}
}

// --- tools ---

type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
	// ProviderExecuted marks calls whose result arrives from the provider
	// and must never be re-invoked locally.
	ProviderExecuted bool `json:"provider_executed,omitempty"`
	// Dynamic marks calls for tools that were not statically declared.
	Dynamic bool `json:"dynamic,omitempty"`
}

func (tc ToolCall) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", tc.ID).Str("name", tc.Name).Str("input", tc.Input).
		Bool("provider_executed", tc.ProviderExecuted).Bool("dynamic", tc.Dynamic)
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCall {
	return &EventToolCall{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

// EventToolCallExecute captures the intent to execute a tool locally.
type EventToolCallExecute struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallExecuteEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCallExecute {
	return &EventToolCallExecute{
		EventImpl: EventImpl{Type_: EventTypeToolCallExecute, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

type ToolResult struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

func (tr ToolResult) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("id", tr.ID).Str("result", tr.Result)
}

type EventToolResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolResult {
	return &EventToolResult{
		EventImpl:  EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		ToolResult: toolResult,
	}
}

type EventToolError struct {
	EventImpl
	ToolCallID  string `json:"tool_call_id"`
	ToolName    string `json:"tool_name"`
	ErrorString string `json:"error_string"`
}

func NewToolErrorEvent(metadata EventMetadata, toolCallID, toolName string, err error) *EventToolError {
	return &EventToolError{
		EventImpl:   EventImpl{Type_: EventTypeToolError, Metadata_: metadata},
		ToolCallID:  toolCallID,
		ToolName:    toolName,
		ErrorString: err.Error(),
	}
}

// --- references ---

type EventSource struct {
	EventImpl
	SourceID string `json:"source_id,omitempty"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
}

func NewSourceEvent(metadata EventMetadata, sourceID, title, url string) *EventSource {
	return &EventSource{
		EventImpl: EventImpl{Type_: EventTypeSource, Metadata_: metadata},
		SourceID:  sourceID,
		Title:     title,
		URL:       url,
	}
}

type EventFile struct {
	EventImpl
	MediaType string `json:"media_type,omitempty"`
	Name      string `json:"name,omitempty"`
	Base64    string `json:"base64,omitempty"`
}

func NewFileEvent(metadata EventMetadata, mediaType, name, base64Data string) *EventFile {
	return &EventFile{
		EventImpl: EventImpl{Type_: EventTypeFile, Metadata_: metadata},
		MediaType: mediaType,
		Name:      name,
		Base64:    base64Data,
	}
}

// --- structured output ---

// EventObjectSnapshot carries a validated partial value of the structured
// output stream. Snapshots are coalesced: one is only emitted when the value
// meaningfully changed.
type EventObjectSnapshot struct {
	EventImpl
	Snapshot json.RawMessage `json:"snapshot"`
	// Final is set on the snapshot emitted after schema validation succeeded.
	Final bool `json:"final,omitempty"`
}

func NewObjectSnapshotEvent(metadata EventMetadata, snapshot json.RawMessage, final bool) *EventObjectSnapshot {
	return &EventObjectSnapshot{
		EventImpl: EventImpl{Type_: EventTypeObjectSnapshot, Metadata_: metadata},
		Snapshot:  snapshot,
		Final:     final,
	}
}

// --- errors and passthrough ---

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

// EventRaw mirrors the original provider payload that normalization mapped
// away. Only emitted when the run opts in.
type EventRaw struct {
	EventImpl
	Raw json.RawMessage `json:"raw"`
}

func NewRawEvent(metadata EventMetadata, raw json.RawMessage) *EventRaw {
	return &EventRaw{EventImpl: EventImpl{Type_: EventTypeRaw, Metadata_: metadata}, Raw: raw}
}

// --- wire decoding ---

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	if err := json.Unmarshal(e.Payload(), &ret); err != nil {
		return nil, false
	}
	return ret, true
}

// NewEventFromJson decodes a serialized event back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}
	e.payload = b

	decode := func(target Event, ok bool) (Event, error) {
		if !ok {
			return nil, errors.Errorf("could not cast event to %T", target)
		}
		// The unexported payload does not survive json.Unmarshal; restamp it
		// so ToTypedEvent keeps working on the decoded event.
		if impl, hasPayload := target.(interface{ SetPayload([]byte) }); hasPayload {
			impl.SetPayload(b)
		}
		return target, nil
	}

	switch e.Type_ {
	case EventTypeRunStart:
		ret, ok := ToTypedEvent[EventRunStart](e)
		return decode(ret, ok)
	case EventTypeRunFinish:
		ret, ok := ToTypedEvent[EventRunFinish](e)
		return decode(ret, ok)
	case EventTypeRunAbort:
		ret, ok := ToTypedEvent[EventRunAbort](e)
		return decode(ret, ok)
	case EventTypeRunSuspend:
		ret, ok := ToTypedEvent[EventRunSuspend](e)
		return decode(ret, ok)
	case EventTypeStepStart:
		ret, ok := ToTypedEvent[EventStepStart](e)
		return decode(ret, ok)
	case EventTypeStepFinish:
		ret, ok := ToTypedEvent[EventStepFinish](e)
		return decode(ret, ok)
	case EventTypeBlockStart:
		ret, ok := ToTypedEvent[EventBlockStart](e)
		return decode(ret, ok)
	case EventTypeBlockDelta:
		ret, ok := ToTypedEvent[EventBlockDelta](e)
		return decode(ret, ok)
	case EventTypeBlockStop:
		ret, ok := ToTypedEvent[EventBlockStop](e)
		return decode(ret, ok)
	case EventTypeToolCall:
		ret, ok := ToTypedEvent[EventToolCall](e)
		return decode(ret, ok)
	case EventTypeToolCallExecute:
		ret, ok := ToTypedEvent[EventToolCallExecute](e)
		return decode(ret, ok)
	case EventTypeToolResult:
		ret, ok := ToTypedEvent[EventToolResult](e)
		return decode(ret, ok)
	case EventTypeToolError:
		ret, ok := ToTypedEvent[EventToolError](e)
		return decode(ret, ok)
	case EventTypeSource:
		ret, ok := ToTypedEvent[EventSource](e)
		return decode(ret, ok)
	case EventTypeFile:
		ret, ok := ToTypedEvent[EventFile](e)
		return decode(ret, ok)
	case EventTypeObjectSnapshot:
		ret, ok := ToTypedEvent[EventObjectSnapshot](e)
		return decode(ret, ok)
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		return decode(ret, ok)
	case EventTypeRaw:
		ret, ok := ToTypedEvent[EventRaw](e)
		return decode(ret, ok)
	}

	return e, nil
}

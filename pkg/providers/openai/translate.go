package openai

import (
	"encoding/json"
	"fmt"
	"time"

	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// translator maps chat completion stream chunks onto raw events. Tool call
// fragments arrive keyed by index and are stitched back into per-call blocks;
// text arrives as one logical block.
type translator struct {
	model       string
	passthrough bool

	sentMeta  bool
	openOrder []string
	textOpen  bool
	toolOpen  map[int]string

	finishReason go_openai.FinishReason
}

const textBlockID = "text-0"

func newTranslator(model string, passthrough bool) *translator {
	return &translator{model: model, passthrough: passthrough, toolOpen: map[int]string{}}
}

func (t *translator) feed(chunk *go_openai.ChatCompletionStreamResponse) []engine.RawEvent {
	var out []engine.RawEvent

	if t.passthrough {
		if payload, err := json.Marshal(chunk); err == nil {
			out = append(out, engine.RawEvent{Kind: engine.RawKindPassthrough, Payload: payload})
		}
	}

	if !t.sentMeta {
		t.sentMeta = true
		out = append(out, engine.RawEvent{
			Kind: engine.RawKindResponseMeta,
			Response: &turns.ResponseMeta{
				ResponseID: chunk.ID,
				Model:      servedModel(chunk.Model, t.model),
				Timestamp:  time.Unix(chunk.Created, 0),
			},
		})
	}

	if len(chunk.Choices) == 0 {
		return out
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !t.textOpen {
			t.textOpen = true
			t.openOrder = append(t.openOrder, textBlockID)
			out = append(out, engine.RawEvent{
				Kind:      engine.RawKindBlockStart,
				BlockID:   textBlockID,
				BlockType: engine.RawBlockText,
			})
		}
		out = append(out, engine.RawEvent{
			Kind:    engine.RawKindBlockDelta,
			BlockID: textBlockID,
			Delta:   choice.Delta.Content,
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index
		}
		blockID, open := t.toolOpen[idx]
		if !open {
			blockID = fmt.Sprintf("tool-%d", idx)
			t.toolOpen[idx] = blockID
			t.openOrder = append(t.openOrder, blockID)
			out = append(out, engine.RawEvent{
				Kind:       engine.RawKindBlockStart,
				BlockID:    blockID,
				BlockType:  engine.RawBlockToolCall,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			})
		}
		if tc.Function.Arguments != "" {
			out = append(out, engine.RawEvent{
				Kind:    engine.RawKindBlockDelta,
				BlockID: blockID,
				Delta:   tc.Function.Arguments,
			})
		}
	}

	if choice.FinishReason != "" && choice.FinishReason != go_openai.FinishReasonNull {
		t.finishReason = choice.FinishReason
	}
	return out
}

// finish closes every open block in open order and terminates the stream.
func (t *translator) finish() []engine.RawEvent {
	var out []engine.RawEvent
	for _, blockID := range t.openOrder {
		out = append(out, engine.RawEvent{Kind: engine.RawKindBlockStop, BlockID: blockID})
	}
	return append(out, engine.RawEvent{
		Kind:       engine.RawKindFinish,
		StopReason: mapFinishReason(t.finishReason),
	})
}

func mapFinishReason(fr go_openai.FinishReason) events.StopReason {
	switch fr {
	case go_openai.FinishReasonStop:
		return events.StopReasonStop
	case go_openai.FinishReasonLength:
		return events.StopReasonLength
	case go_openai.FinishReasonToolCalls, go_openai.FinishReasonFunctionCall:
		return events.StopReasonToolUse
	case go_openai.FinishReasonContentFilter:
		return events.StopReasonError
	default:
		return events.StopReasonUnknown
	}
}

func servedModel(reported, requested string) string {
	if reported != "" {
		return reported
	}
	return requested
}

package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

func makeRequest(model string, req *engine.Request) (go_openai.ChatCompletionRequest, error) {
	msgs, err := blocksToMessages(req.Messages)
	if err != nil {
		return go_openai.ChatCompletionRequest{}, err
	}

	oreq := go_openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if req.Temperature != nil {
		oreq.Temperature = float32(*req.Temperature)
	}

	for _, decl := range req.Tools {
		oreq.Tools = append(oreq.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: go_openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Parameters,
			},
		})
	}
	if len(oreq.Tools) > 0 {
		switch req.ToolChoice {
		case engine.ToolChoiceNone:
			oreq.ToolChoice = "none"
		case engine.ToolChoiceRequired:
			oreq.ToolChoice = "required"
		case engine.ToolChoiceTool:
			oreq.ToolChoice = go_openai.ToolChoice{
				Type:     go_openai.ToolTypeFunction,
				Function: go_openai.ToolFunction{Name: req.ForcedTool},
			}
		default:
			oreq.ToolChoice = "auto"
		}
	}

	if req.Structured != nil {
		// The chat completions API of this client version only constrains
		// output to be JSON; the schema itself travels as an instruction.
		oreq.ResponseFormat = &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONObject,
		}
		schemaJSON, merr := json.Marshal(req.Structured.Schema)
		if merr != nil {
			return go_openai.ChatCompletionRequest{}, errors.Wrap(merr, "openai: marshal structured schema")
		}
		instruction := fmt.Sprintf(
			"Respond with a single JSON document matching this JSON schema, with no surrounding prose:\n%s",
			schemaJSON,
		)
		oreq.Messages = append([]go_openai.ChatCompletionMessage{{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: instruction,
		}}, oreq.Messages...)
	}

	if err := applyProviderOptions(&oreq, req.ProviderOptions); err != nil {
		return go_openai.ChatCompletionRequest{}, err
	}
	return oreq, nil
}

// blocksToMessages renders the message log as chat messages. Consecutive
// tool_call blocks collapse into one assistant message, and their results
// must follow immediately to satisfy the API's adjacency rule.
func blocksToMessages(blocks []turns.Block) ([]go_openai.ChatCompletionMessage, error) {
	var msgs []go_openai.ChatCompletionMessage
	var pendingCalls []go_openai.ToolCall

	flushCalls := func() {
		if len(pendingCalls) == 0 {
			return
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:      go_openai.ChatMessageRoleAssistant,
			ToolCalls: pendingCalls,
		})
		pendingCalls = nil
	}

	for _, b := range blocks {
		switch b.Kind {
		case turns.BlockKindReasoning, turns.BlockKindSource, turns.BlockKindFile:
			// Not representable in chat completion requests.
			continue

		case turns.BlockKindUser, turns.BlockKindSystem, turns.BlockKindText:
			flushCalls()
			text := strings.TrimSpace(turns.BlockText(b))
			if text == "" {
				continue
			}
			role := go_openai.ChatMessageRoleAssistant
			switch b.Kind {
			case turns.BlockKindUser:
				role = go_openai.ChatMessageRoleUser
			case turns.BlockKindSystem:
				role = go_openai.ChatMessageRoleSystem
			}
			msgs = append(msgs, go_openai.ChatCompletionMessage{Role: role, Content: text})

		case turns.BlockKindToolCall:
			id, _ := b.Payload[turns.PayloadKeyID].(string)
			name, _ := b.Payload[turns.PayloadKeyName].(string)
			pendingCalls = append(pendingCalls, go_openai.ToolCall{
				ID:   id,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      name,
					Arguments: payloadJSON(b.Payload[turns.PayloadKeyArgs]),
				},
			})

		case turns.BlockKindToolResult:
			flushCalls()
			id, _ := b.Payload[turns.PayloadKeyID].(string)
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				ToolCallID: id,
				Content:    payloadJSON(b.Payload[turns.PayloadKeyResult]),
			})

		case turns.BlockKindToolError:
			flushCalls()
			id, _ := b.Payload[turns.PayloadKeyID].(string)
			errText, _ := b.Payload[turns.PayloadKeyError].(string)
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				ToolCallID: id,
				Content:    fmt.Sprintf(`{"error":%q}`, errText),
			})

		default:
			return nil, errors.Errorf("openai: unsupported block kind %q", b.Kind)
		}
	}
	flushCalls()
	return msgs, nil
}

func payloadJSON(v any) string {
	switch tv := v.(type) {
	case nil:
		return "{}"
	case string:
		if strings.TrimSpace(tv) == "" {
			return "{}"
		}
		return tv
	case json.RawMessage:
		return string(tv)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// applyProviderOptions maps the generic option keys onto request fields.
// Unknown keys are rejected so typos do not silently vanish.
func applyProviderOptions(oreq *go_openai.ChatCompletionRequest, opts map[string]any) error {
	for key, val := range opts {
		switch key {
		case "top_p":
			f, err := toFloat(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			oreq.TopP = float32(f)
		case "presence_penalty":
			f, err := toFloat(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			oreq.PresencePenalty = float32(f)
		case "frequency_penalty":
			f, err := toFloat(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			oreq.FrequencyPenalty = float32(f)
		case "seed":
			f, err := toFloat(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			seed := int(f)
			oreq.Seed = &seed
		case "user":
			s, ok := val.(string)
			if !ok {
				return errors.Errorf("openai: option user wants a string, got %T", val)
			}
			oreq.User = s
		case "stop":
			stops, err := toStringSlice(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			oreq.Stop = stops
		case "n":
			f, err := toFloat(val)
			if err != nil {
				return errors.Wrapf(err, "openai: option %s", key)
			}
			oreq.N = int(f)
		default:
			return errors.Errorf("openai: unknown provider option %q", key)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case float32:
		return float64(tv), nil
	case int:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case json.Number:
		return tv.Float64()
	default:
		return 0, errors.Errorf("wants a number, got %T", v)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch tv := v.(type) {
	case []string:
		return tv, nil
	case []any:
		out := make([]string, 0, len(tv))
		for _, e := range tv {
			s, ok := e.(string)
			if !ok {
				return nil, errors.Errorf("wants strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.Errorf("wants a string list, got %T", v)
	}
}

package engine

import (
	"github.com/invopop/jsonschema"

	"github.com/go-go-golems/stromboli/pkg/turns"
)

// ToolChoice constrains how the model may use the declared tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
	// ToolChoiceTool forces the specific tool named in Request.ForcedTool.
	ToolChoiceTool ToolChoice = "tool"
)

// ToolDeclaration is the model-facing description of a tool. It carries no
// handler; execution stays on the caller's side of the wire.
type ToolDeclaration struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// StructuredOutput asks the provider to shape its answer to a JSON schema.
// Schema is the plain-map rendering sent on the wire.
type StructuredOutput struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

// Request is a single model invocation. Messages is the full conversation
// history in provider-neutral block form; the engine translates it to the
// provider's wire format.
type Request struct {
	Messages   []turns.Block
	Tools      []ToolDeclaration
	ToolChoice ToolChoice
	ForcedTool string

	Structured *StructuredOutput

	// MaxTokens of zero lets the provider default apply.
	MaxTokens   int
	Temperature *float64

	// Headers and ProviderOptions are the merged per-call configuration,
	// see ModelSpec.MergedHeaders and MergedOptions.
	Headers         map[string]string
	ProviderOptions map[string]any

	// RawPassthrough asks the engine to attach the unmodified provider
	// frame to every RawEvent it emits.
	RawPassthrough bool
}

// ModelSpec is one entry in a fallback chain: a model id plus the headers and
// provider options that apply when this particular model is used.
type ModelSpec struct {
	ModelID         string            `json:"model_id" yaml:"model_id"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	ProviderOptions map[string]any    `json:"provider_options,omitempty" yaml:"provider_options,omitempty"`
}

// Model binds a spec to the engine that can serve it.
type Model struct {
	Spec   ModelSpec
	Engine Engine
}

// MergedHeaders combines the model's headers with run-level overrides.
// Run-level keys win on conflict.
func (s ModelSpec) MergedHeaders(runHeaders map[string]string) map[string]string {
	if len(s.Headers) == 0 && len(runHeaders) == 0 {
		return nil
	}
	merged := make(map[string]string, len(s.Headers)+len(runHeaders))
	for k, v := range s.Headers {
		merged[k] = v
	}
	for k, v := range runHeaders {
		merged[k] = v
	}
	return merged
}

// MergedOptions combines the model's provider options with run-level
// overrides. Run-level keys win on conflict.
func (s ModelSpec) MergedOptions(runOptions map[string]any) map[string]any {
	if len(s.ProviderOptions) == 0 && len(runOptions) == 0 {
		return nil
	}
	merged := make(map[string]any, len(s.ProviderOptions)+len(runOptions))
	for k, v := range s.ProviderOptions {
		merged[k] = v
	}
	for k, v := range runOptions {
		merged[k] = v
	}
	return merged
}

package events

// Usage represents token usage information common across LLM providers.
type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
	// CachedTokens is used by providers like OpenAI to report prompt caching
	CachedTokens int `json:"cached_tokens,omitempty" yaml:"cached_tokens,omitempty"`
	// ReasoningTokens counts hidden reasoning output where the provider reports it
	ReasoningTokens int `json:"reasoning_tokens,omitempty" yaml:"reasoning_tokens,omitempty"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// StopReason describes why a step (or the run) stopped producing output.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonLength    StopReason = "length"
	StopReasonToolUse   StopReason = "tool-use"
	StopReasonSuspended StopReason = "suspended"
	StopReasonMaxSteps  StopReason = "max-steps"
	StopReasonError     StopReason = "error"
	// StopReasonTripwire marks cancellation; aborts are deliberately not
	// reported as errors.
	StopReasonTripwire StopReason = "tripwire"
	StopReasonUnknown  StopReason = "unknown"
)

// LLMInferenceData consolidates common inference metadata for UI/storage/aggregation.
type LLMInferenceData struct {
	Model      string     `json:"model,omitempty" yaml:"model,omitempty"`
	StopReason StopReason `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty" yaml:"usage,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

package runloop

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/inference/structured"
	"github.com/go-go-golems/stromboli/pkg/inference/tools"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

const (
	// DefaultMaxSteps is the hard cap on request/response turns per run.
	DefaultMaxSteps = 5
)

// StepPlan is what the PrepareStep hook may rewrite before the next request
// goes out: the message list, the active tool set, and the tool-choice
// policy.
type StepPlan struct {
	Index      int
	Messages   []turns.Block
	Tools      []engine.ToolDeclaration
	ToolChoice engine.ToolChoice
	ForcedTool string
}

// PrepareStepFunc runs before each step.
type PrepareStepFunc func(ctx context.Context, plan *StepPlan) error

// Config assembles one run of the loop.
type Config struct {
	// Models is the fallback chain; the first entry is tried first. A model
	// whose stream fails before producing any content hands the turn to the
	// next entry.
	Models []engine.Model

	Registry   tools.ToolRegistry
	ToolChoice engine.ToolChoice
	ForcedTool string
	// MaxParallelTools bounds concurrent tool execution within a turn.
	MaxParallelTools int

	// MaxSteps caps the number of turns even when no stop condition fires.
	MaxSteps int
	StopWhen []StopCondition
	// PrepareStep may rewrite the next request before it goes out.
	PrepareStep PrepareStepFunc

	// RetriesPerModel is how often one model is retried before the chain
	// falls through to the next entry.
	RetriesPerModel int

	// Structured, when set, turns the run into a structured-output run.
	Structured *structured.Config

	// Headers and ProviderOptions are run-level overrides; they win over
	// the per-model configuration on conflicting keys.
	Headers         map[string]string
	ProviderOptions map[string]any

	MaxTokens   int
	Temperature *float64

	// RawPassthrough opts into mirroring the original provider payloads as
	// raw events.
	RawPassthrough bool

	Sinks []events.EventSink

	// OnError is invoked for errors distinct from cancellation; an abort is
	// never reported here.
	OnError func(err error)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxSteps <= 0 {
		out.MaxSteps = DefaultMaxSteps
	}
	if out.RetriesPerModel <= 0 {
		out.RetriesPerModel = 1
	}
	if out.MaxParallelTools <= 0 {
		out.MaxParallelTools = tools.DefaultConcurrency
	}
	if out.ToolChoice == "" {
		out.ToolChoice = engine.ToolChoiceAuto
	}
	return out
}

func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return errors.New("run loop needs at least one model")
	}
	for i, m := range c.Models {
		if m.Engine == nil {
			return errors.Errorf("model %d (%s) has no engine", i, m.Spec.ModelID)
		}
	}
	return nil
}

package runloop

import (
	"encoding/json"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// Result aggregates everything a caller may want once the run has settled.
// All fields are final; a Result is never mutated after the handle resolves.
type Result struct {
	RunID string

	// Text is the concatenated text of the final step.
	Text       string
	StopReason events.StopReason
	Usage      events.Usage

	// Object is the validated structured-output value; ObjectErr its
	// rejection. Observing the rejection is optional.
	Object    json.RawMessage
	ObjectErr error

	ToolCalls   []events.ToolCall
	ToolResults []events.ToolResult

	// Suspended is set when the run bailed out awaiting tool approval.
	Suspended  bool
	Pending    []string
	Resumption *ResumptionRecord

	Run *turns.Run
}

func finalText(run *turns.Run) string {
	t := run.LastTurn()
	if t == nil {
		return ""
	}
	out := ""
	for _, b := range turns.FindBlocksByKind(t, turns.BlockKindText) {
		out += turns.BlockText(b)
	}
	return out
}

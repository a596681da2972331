package tools

import (
	"encoding/json"
	"fmt"
)

// ToolNotFoundError marks a call to a tool name that was never declared.
// It is fed back to the model as a tool-error part so the model can pick a
// valid name; it never aborts the run.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// SuspendError is returned by a tool handler that needs human input before
// it can continue. The executor parks the call as awaiting approval and the
// run bails out of the step loop.
type SuspendError struct {
	Reason  string
	Payload json.RawMessage
}

func (e *SuspendError) Error() string {
	if e.Reason != "" {
		return "tool suspended: " + e.Reason
	}
	return "tool suspended"
}

package tools

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ExecutionState tracks a tool call through its lifecycle.
type ExecutionState string

const (
	StateAccumulating     ExecutionState = "accumulating"
	StateReady            ExecutionState = "ready"
	StateRunning          ExecutionState = "running"
	StateSucceeded        ExecutionState = "succeeded"
	StateFailed           ExecutionState = "failed"
	StateAwaitingApproval ExecutionState = "awaiting-approval"
)

// legalTransitions is the whole state machine: accumulating → ready →
// {running → succeeded|failed} or ready → awaiting-approval. Suspension can
// also happen mid-run, and an approved record goes back to running (or is
// settled directly with caller-supplied data).
var legalTransitions = map[ExecutionState][]ExecutionState{
	StateAccumulating:     {StateReady, StateFailed},
	StateReady:            {StateRunning, StateAwaitingApproval, StateFailed, StateSucceeded},
	StateRunning:          {StateSucceeded, StateFailed, StateAwaitingApproval},
	StateAwaitingApproval: {StateRunning, StateSucceeded, StateFailed},
}

// ToolCallRecord is one tool invocation reconstructed from streamed deltas.
// A record is owned by a single goroutine at any point in time: the stream
// consumer while accumulating, then one executor worker.
type ToolCallRecord struct {
	ToolCallID       string
	ToolName         string
	ProviderExecuted bool
	Dynamic          bool

	argsBuffer strings.Builder
	ParsedArgs json.RawMessage

	state  ExecutionState
	Result any
	Err    error

	// SuspendPayload carries what the tool handed over when it suspended,
	// serialized into the resumption record.
	SuspendPayload json.RawMessage
}

func NewToolCallRecord(id, name string, providerExecuted, dynamic bool) *ToolCallRecord {
	return &ToolCallRecord{
		ToolCallID:       id,
		ToolName:         name,
		ProviderExecuted: providerExecuted,
		Dynamic:          dynamic,
		state:            StateAccumulating,
	}
}

func (r *ToolCallRecord) State() ExecutionState { return r.state }

// AppendArgs adds a streamed fragment to the raw argument buffer.
func (r *ToolCallRecord) AppendArgs(delta string) error {
	if r.state != StateAccumulating {
		return errors.Errorf("tool call %s: args delta in state %s", r.ToolCallID, r.state)
	}
	r.argsBuffer.WriteString(delta)
	return nil
}

// ArgsText returns the raw accumulated argument text.
func (r *ToolCallRecord) ArgsText() string { return r.argsBuffer.String() }

// Seal marks the argument stream complete. Empty arguments become an empty
// object; anything else must be valid JSON, otherwise the record fails and
// the parse error is fed back to the model.
func (r *ToolCallRecord) Seal() error {
	if r.state != StateAccumulating {
		return errors.Errorf("tool call %s: seal in state %s", r.ToolCallID, r.state)
	}
	raw := strings.TrimSpace(r.argsBuffer.String())
	if raw == "" {
		raw = "{}"
	}
	if !gjson.Valid(raw) {
		err := errors.Errorf("tool call %s: arguments are not valid JSON", r.ToolCallID)
		r.state = StateFailed
		r.Err = err
		return err
	}
	r.ParsedArgs = json.RawMessage(raw)
	r.state = StateReady
	return nil
}

// Begin moves the record into running.
func (r *ToolCallRecord) Begin() error {
	return r.transition(StateRunning)
}

// Succeed settles the record with its result.
func (r *ToolCallRecord) Succeed(result any) error {
	if err := r.transition(StateSucceeded); err != nil {
		return err
	}
	r.Result = result
	return nil
}

// Fail settles the record with an error.
func (r *ToolCallRecord) Fail(err error) error {
	if terr := r.transition(StateFailed); terr != nil {
		return terr
	}
	r.Err = err
	return nil
}

// Await parks the record until external approval resolves it.
func (r *ToolCallRecord) Await(payload json.RawMessage) error {
	if err := r.transition(StateAwaitingApproval); err != nil {
		return err
	}
	r.SuspendPayload = payload
	return nil
}

func (r *ToolCallRecord) transition(to ExecutionState) error {
	for _, allowed := range legalTransitions[r.state] {
		if allowed == to {
			r.state = to
			return nil
		}
	}
	return errors.Errorf("tool call %s: illegal transition %s -> %s", r.ToolCallID, r.state, to)
}

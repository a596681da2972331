package tools

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/stromboli/pkg/turns"
)

type ctxKey struct{}
type execInfoKey struct{}

// WithRegistry attaches a ToolRegistry to the context for downstream
// consumers.
func WithRegistry(ctx context.Context, reg ToolRegistry) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if reg == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, reg)
}

// RegistryFrom extracts the ToolRegistry from context.
func RegistryFrom(ctx context.Context) (ToolRegistry, bool) {
	if ctx == nil {
		return nil, false
	}
	reg, ok := ctx.Value(ctxKey{}).(ToolRegistry)
	if !ok || reg == nil {
		return nil, false
	}
	return reg, true
}

// ExecInfo is what a tool handler can reach during execution: a snapshot of
// the run's message log, and the resolution data supplied when a suspended
// run is resumed.
type ExecInfo struct {
	ToolCallID string
	Messages   []turns.Block
	ResumeData json.RawMessage
}

// WithExecInfo attaches per-invocation execution info to the handler's
// context.
func WithExecInfo(ctx context.Context, info ExecInfo) context.Context {
	return context.WithValue(ctx, execInfoKey{}, info)
}

// ExecInfoFrom extracts the execution info inside a tool handler.
func ExecInfoFrom(ctx context.Context) (ExecInfo, bool) {
	info, ok := ctx.Value(execInfoKey{}).(ExecInfo)
	return info, ok
}

// Suspend is returned (wrapped or bare) by a tool handler that needs human
// input before it can finish. Payload is serialized into the resumption
// record and handed back to the tool on resume.
func Suspend(reason string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return &SuspendError{Reason: reason, Payload: raw}
}

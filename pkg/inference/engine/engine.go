package engine

import (
	"context"
)

// Engine is the model capability: given a request it returns a stream of raw
// provider events. Engines handle provider-specific transport and marshaling;
// everything downstream of the returned channel is provider-agnostic.
//
// The returned channel is closed when the provider stream ends. A stream that
// fails mid-flight emits a RawKindError event before closing; a request that
// cannot be issued at all returns an error directly. Cancellation of ctx must
// terminate the stream promptly.
type Engine interface {
	Stream(ctx context.Context, req *Request) (<-chan RawEvent, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, req *Request) (<-chan RawEvent, error)

func (f EngineFunc) Stream(ctx context.Context, req *Request) (<-chan RawEvent, error) {
	return f(ctx, req)
}

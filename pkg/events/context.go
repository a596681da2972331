package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ctxKey is an unexported type for keys defined in this package.
type ctxKey int

const (
	ctxKeyEventSinks ctxKey = iota
)

// WithSinks attaches one or more EventSink instances to the context so that
// downstream code (tool handlers, extractors) can publish events without
// access to the run configuration.
func WithSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := SinksFromContext(ctx)
	combined := append([]EventSink{}, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, ctxKeyEventSinks, combined)
}

// SinksFromContext returns the list of EventSinks attached to the context.
func SinksFromContext(ctx context.Context) []EventSink {
	if v := ctx.Value(ctxKeyEventSinks); v != nil {
		if sinks, ok := v.([]EventSink); ok {
			return sinks
		}
	}
	return nil
}

// PublishToContext publishes the event to all sinks stored in the context.
// Best-effort: individual sink errors are ignored to avoid disrupting the run.
func PublishToContext(ctx context.Context, event Event) {
	sinks := SinksFromContext(ctx)
	if len(sinks) == 0 {
		log.Trace().Str("event_type", string(event.Type())).Msg("events: no sinks in context")
		return
	}
	for _, sink := range sinks {
		_ = sink.PublishEvent(event)
	}
}

package streaming

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// Normalizer maps raw provider events onto typed events, one at a time. Each
// raw event yields zero or one typed event; a raw error event is reported as
// a stream failure instead. The only state a Normalizer keeps is the fallback
// block id it synthesizes for providers that omit block identifiers, so one
// Normalizer serves exactly one turn.
type Normalizer struct {
	meta    events.EventMetadata
	synthID string
}

func NewNormalizer(meta events.EventMetadata) *Normalizer {
	return &Normalizer{meta: meta}
}

// Normalize maps one raw event. A nil event with nil error means the raw
// event carries no consumer-facing information (response metadata, finish);
// the caller reads those off the raw event itself.
func (n *Normalizer) Normalize(raw engine.RawEvent) (events.Event, error) {
	switch raw.Kind {
	case engine.RawKindError:
		err := raw.Err
		if err == nil {
			err = errors.New("provider stream failed without detail")
		}
		return nil, errors.Wrap(err, "provider stream failed")

	case engine.RawKindResponseMeta, engine.RawKindFinish:
		return nil, nil

	case engine.RawKindBlockStart:
		id := raw.BlockID
		if id == "" {
			id = uuid.NewString()
			n.synthID = id
		}
		return events.NewBlockStartEvent(n.eventMeta(), id, raw.BlockType), nil

	case engine.RawKindBlockDelta:
		return events.NewBlockDeltaEvent(n.eventMeta(), n.blockID(raw), raw.BlockType, raw.Delta, ""), nil

	case engine.RawKindBlockStop:
		return events.NewBlockStopEvent(n.eventMeta(), n.blockID(raw), raw.BlockType, ""), nil

	case engine.RawKindToolResult:
		return events.NewToolResultEvent(n.eventMeta(), events.ToolResult{
			ID:     raw.ToolCallID,
			Result: string(raw.Result),
		}), nil

	case engine.RawKindSource:
		return events.NewSourceEvent(n.eventMeta(), raw.SourceID, raw.Title, raw.URL), nil

	case engine.RawKindFile:
		return events.NewFileEvent(n.eventMeta(), raw.MediaType, raw.FileName, raw.Data), nil
	}

	return nil, errors.Errorf("unknown raw event kind %q", raw.Kind)
}

// BlockID resolves the id a block event targets, falling back to the last
// synthesized id for providers that omit identifiers.
func (n *Normalizer) blockID(raw engine.RawEvent) string {
	if raw.BlockID != "" {
		return raw.BlockID
	}
	return n.synthID
}

func (n *Normalizer) eventMeta() events.EventMetadata {
	m := n.meta
	m.ID = uuid.New()
	return m
}

// ResponseMetaDefaults fills the fields optional in provider streams:
// a missing timestamp becomes the current time, a missing model id falls back
// to the requested one, a missing response id gets generated.
func ResponseMetaDefaults(rm *turns.ResponseMeta, requestedModel string) turns.ResponseMeta {
	out := turns.ResponseMeta{}
	if rm != nil {
		out = *rm
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	if out.Model == "" {
		out.Model = requestedModel
	}
	if out.ResponseID == "" {
		out.ResponseID = uuid.NewString()
	}
	return out
}

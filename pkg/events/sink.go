package events

import (
	"sync"
)

// EventSink receives typed events during a run. Implementations must be safe
// for concurrent use; PublishEvent is called from the run goroutine and from
// tool execution goroutines.
type EventSink interface {
	PublishEvent(ev Event) error
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(ev Event) error

func (f SinkFunc) PublishEvent(ev Event) error { return f(ev) }

// NullSink discards all events.
type NullSink struct{}

func (NullSink) PublishEvent(Event) error { return nil }

// ChannelSink forwards events into a buffered channel. Close the sink once
// the producing run has finished; the channel is then closed exactly once.
type ChannelSink struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// PublishEvent never blocks: when the buffer is full the oldest event is
// dropped, so a subscriber that stops reading cannot stall the run.
func (s *ChannelSink) PublishEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for {
		select {
		case s.ch <- ev:
			return nil
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *ChannelSink) Events() <-chan Event { return s.ch }

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// MultiSink fans one event out to several sinks, ignoring individual sink
// errors so a slow or broken consumer cannot stall the run.
type MultiSink struct {
	sinks []EventSink
}

func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) PublishEvent(ev Event) error {
	for _, sink := range s.sinks {
		_ = sink.PublishEvent(ev)
	}
	return nil
}

package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill Publishers.
// You "subscribe" a publisher to a topic; every published event is then
// distributed to all publishers on the topic they were subscribed with.
//
// The manager stamps each outgoing message with a sequence number in the
// order Publish handled it, which lets consumers re-establish the exact
// stream order after transport.
type PublisherManager struct {
	publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mu             sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishers[topic] = append(s.publishers[topic], pub)
}

// PublishEvent implements EventSink by serializing the event to JSON and
// distributing it across all subscribed publishers.
func (s *PublisherManager) PublishEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	msg.Metadata.Set("event_type", string(ev.Type()))
	s.sequenceNumber++

	for topic, pubs := range s.publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

var _ EventSink = (*PublisherManager)(nil)

package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherManagerStampsSequenceNumbers(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 8}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := pubsub.Subscribe(ctx, "runs")
	require.NoError(t, err)

	mgr := NewPublisherManager()
	mgr.SubscribePublisher("runs", pubsub)

	meta := testMeta()
	require.NoError(t, mgr.PublishEvent(NewStepStartEvent(meta)))
	require.NoError(t, mgr.PublishEvent(NewStepFinishEvent(meta, StopReasonStop, Usage{}, false)))

	// GoChannel delivers each message in its own goroutine, so arrival order
	// is not fixed; the stamped sequence numbers carry the publish order.
	bySeq := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			msg.Ack()
			bySeq[msg.Metadata.Get("sequence_number")] = msg.Metadata.Get("event_type")
			ev, err := NewEventFromJson(msg.Payload)
			require.NoError(t, err)
			assert.Equal(t, msg.Metadata.Get("event_type"), string(ev.Type()))
		case <-ctx.Done():
			t.Fatal("message not delivered")
		}
	}
	assert.Equal(t, map[string]string{
		"0": string(EventTypeStepStart),
		"1": string(EventTypeStepFinish),
	}, bySeq)
}

func TestEventRouterDeliversTypedEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	received := make(chan Event, 1)
	router.AddEventHandler("collect", "runs", func(ctx context.Context, ev Event) error {
		select {
		case received <- ev:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	mgr := NewPublisherManager()
	mgr.SubscribePublisher("runs", router.Publisher)
	require.NoError(t, mgr.PublishEvent(NewRunStartEvent(testMeta(), []string{"m1"})))

	select {
	case ev := <-received:
		assert.Equal(t, EventTypeRunStart, ev.Type())
		typed, ok := ToTypedEvent[EventRunStart](ev)
		require.True(t, ok)
		assert.Equal(t, []string{"m1"}, typed.ModelIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.NoError(t, router.Close())
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(HandshakeCompleted{PeerID: "p1"})
	require.Equal(t, "handshake_completed", (<-a).EventName())
	require.Equal(t, "handshake_completed", (<-b).EventName())

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	bus.Publish(InitCompleted{PeerID: "p1"})
	got := <-b
	assert.Equal(t, InitCompleted{PeerID: "p1"}, got)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(NodeAnnouncementObserved{Timestamp: 1})
	bus.Publish(NodeAnnouncementObserved{Timestamp: 2})
	assert.Equal(t, uint64(1), bus.Dropped())
	assert.Equal(t, uint32(1), (<-ch).(NodeAnnouncementObserved).Timestamp)
}

func TestEventNames(t *testing.T) {
	names := map[string]Event{
		"channel_announcement_observed": ChannelAnnouncementObserved{},
		"channel_update_observed":       ChannelUpdateObserved{},
		"node_announcement_observed":    NodeAnnouncementObserved{},
	}
	for want, e := range names {
		assert.Equal(t, want, e.EventName())
	}
	Discard{}.Publish(InitCompleted{})
}

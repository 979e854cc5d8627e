// Package events fans out observations made by peers and gossip processors
// to in-process subscribers. Delivery is best effort: a subscriber whose
// buffer is full misses the event rather than stalling the publisher.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
)

// Event is any published observation.
type Event interface {
	EventName() string
}

// HandshakeCompleted is published when a BOLT 8 handshake reaches Done.
type HandshakeCompleted struct {
	PeerID   string
	NodeID   lnwire.PubKey
	Outbound bool
}

// InitCompleted is published once init has been both sent and received.
type InitCompleted struct {
	PeerID   string
	NodeID   lnwire.PubKey
	Features lnwire.FeatureVector
}

// NodeAnnouncementObserved is published for every accepted node_announcement.
type NodeAnnouncementObserved struct {
	PeerID    string
	NodeID    lnwire.PubKey
	Timestamp uint32
}

// ChannelAnnouncementObserved is published for every accepted
// channel_announcement.
type ChannelAnnouncementObserved struct {
	PeerID         string
	ShortChannelID lnwire.ShortChannelID
	NodeID1        lnwire.PubKey
	NodeID2        lnwire.PubKey
}

// ChannelUpdateObserved is published for every accepted channel_update.
type ChannelUpdateObserved struct {
	PeerID         string
	ShortChannelID lnwire.ShortChannelID
	Direction      int
	Timestamp      uint32
}

func (HandshakeCompleted) EventName() string          { return "handshake_completed" }
func (InitCompleted) EventName() string               { return "init_completed" }
func (NodeAnnouncementObserved) EventName() string    { return "node_announcement_observed" }
func (ChannelAnnouncementObserved) EventName() string { return "channel_announcement_observed" }
func (ChannelUpdateObserved) EventName() string       { return "channel_update_observed" }

// Publisher accepts events.
type Publisher interface {
	Publish(e Event)
}

// Bus delivers every published event to every current subscriber.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Publish",
				"package":  "events",
				"event":    e.EventName(),
			}).Debug("Subscriber buffer full, event dropped")
		}
	}
}

// Dropped returns how many deliveries were skipped.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Discard is a Publisher that drops everything.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(Event) {}

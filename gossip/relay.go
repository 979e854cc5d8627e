package gossip

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
)

// PeerSet lists the running peers. *peer.Manager implements it.
type PeerSet interface {
	Peers() []*peer.Peer
}

// Relay forwards accepted gossip to the peers that asked for it with a
// gossip_timestamp_filter.
type Relay struct {
	peers  PeerSet
	repo   Repository
	chains lnwire.ChainSet
}

// NewRelay creates a relay over peers. repo holds the peers' filters.
func NewRelay(peers PeerSet, repo Repository, chains lnwire.ChainSet) *Relay {
	return &Relay{peers: peers, repo: repo, chains: chains}
}

// Broadcast queues msg on every other initialized peer whose filter
// selects it and returns how many peers it was queued for. Peers with a
// full send queue miss the message.
func (r *Relay) Broadcast(source *peer.Peer, msg lnwire.Message) int {
	sent, skipped := 0, 0
	for _, p := range r.peers.Peers() {
		if source != nil && p.ID() == source.ID() {
			continue
		}
		if !p.InitComplete() || !r.wants(p, msg) {
			continue
		}
		if p.TrySend(msg) {
			sent++
		} else {
			skipped++
		}
	}

	if skipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Broadcast",
			"package":  "gossip",
			"type":     msg.MsgType().String(),
			"sent":     sent,
			"skipped":  skipped,
		}).Debug("Relay skipped peers with full send queues")
	}
	return sent
}

// wants applies p's filters to msg. Channel announcements carry no
// timestamp, so any filter for their chain selects them; node
// announcements are not tied to a chain and pass any filter whose window
// holds their timestamp.
func (r *Relay) wants(p *peer.Peer, msg lnwire.Message) bool {
	nodeID, ok := p.NodeID()
	if !ok {
		return false
	}

	switch m := msg.(type) {
	case *lnwire.ChannelAnnouncement:
		_, ok := r.repo.TimestampFilter(nodeID, m.ChainHash)
		return ok
	case *lnwire.ChannelUpdate:
		f, ok := r.repo.TimestampFilter(nodeID, m.ChainHash)
		return ok && f.Allows(m.Timestamp)
	case *lnwire.NodeAnnouncement:
		for _, chain := range r.chains.Hashes() {
			if f, ok := r.repo.TimestampFilter(nodeID, chain); ok && f.Allows(m.Timestamp) {
				return true
			}
		}
	}
	return false
}

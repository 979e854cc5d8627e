package gossip

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/events"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
)

// NodeAnnouncementProcessor validates node_announcement and keeps the
// newest record per node.
type NodeAnnouncementProcessor struct {
	svc *Service
}

func (np *NodeAnnouncementProcessor) Name() string           { return NodeAnnouncementProcessorName }
func (np *NodeAnnouncementProcessor) IsHandshakeAware() bool { return true }

// Handle stores a valid, newer announcement, publishes it and relays it.
// Announcements no newer than the stored record are ignored before the
// signature is checked.
func (np *NodeAnnouncementProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	m, ok := msg.(*lnwire.NodeAnnouncement)
	if !ok {
		return peer.Continue, nil
	}
	repo := np.svc.cfg.Repository

	if cur, ok := repo.Node(m.NodeID); ok && cur.Timestamp >= m.Timestamp {
		p.Log().WithFields(logrus.Fields{
			"function":  "Handle",
			"node_id":   m.NodeID.String(),
			"timestamp": m.Timestamp,
			"stored":    cur.Timestamp,
		}).Debug("Ignoring node announcement that is not newer")
		return peer.Stop, nil
	}

	if err := np.svc.validator.NodeAnnouncement(m); err != nil {
		return np.svc.reject(ctx, p, m, err)
	}
	if !repo.AddNodeIfNewer(NodeFromAnnouncement(m)) {
		return peer.Stop, nil
	}

	np.svc.cfg.Events.Publish(events.NodeAnnouncementObserved{
		PeerID:    p.ID(),
		NodeID:    m.NodeID,
		Timestamp: m.Timestamp,
	})
	np.svc.broadcast(p, m)
	return peer.Stop, nil
}

// ChannelAnnouncementProcessor validates channel_announcement and resolves
// short channel id conflicts.
type ChannelAnnouncementProcessor struct {
	svc *Service
}

func (cp *ChannelAnnouncementProcessor) Name() string           { return ChannelAnnouncementProcessorName }
func (cp *ChannelAnnouncementProcessor) IsHandshakeAware() bool { return true }

// Handle stores a valid announcement. A short id already bound to other
// nodes blacklists all four nodes and drops their channels.
func (cp *ChannelAnnouncementProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	m, ok := msg.(*lnwire.ChannelAnnouncement)
	if !ok {
		return peer.Continue, nil
	}
	repo := cp.svc.cfg.Repository

	if cur, ok := repo.Channel(m.ShortChannelID); ok && cur.NodeID1 == m.NodeID1 && cur.NodeID2 == m.NodeID2 {
		return peer.Stop, nil
	}

	if err := cp.svc.validator.ChannelAnnouncement(m); err != nil {
		return cp.svc.reject(ctx, p, m, err)
	}

	conflict, err := repo.AddChannel(ChannelFromAnnouncement(m))
	if err != nil {
		// an endpoint was blacklisted after validation passed
		return cp.svc.reject(ctx, p, m, invalid(Reply, m.MsgType(), err))
	}
	if len(conflict) > 0 {
		ids := make([]string, len(conflict))
		for i, id := range conflict {
			ids[i] = id.String()
		}
		p.Log().WithFields(logrus.Fields{
			"function":         "Handle",
			"short_channel_id": m.ShortChannelID.String(),
			"blacklisted":      ids,
		}).Warn("Conflicting channel announcement, blacklisting both node pairs")
		return peer.Stop, nil
	}

	cp.svc.cfg.Events.Publish(events.ChannelAnnouncementObserved{
		PeerID:         p.ID(),
		ShortChannelID: m.ShortChannelID,
		NodeID1:        m.NodeID1,
		NodeID2:        m.NodeID2,
	})
	cp.svc.broadcast(p, m)
	return peer.Stop, nil
}

// ChannelUpdateProcessor validates channel_update and keeps the newest
// policy per direction.
type ChannelUpdateProcessor struct {
	svc *Service
}

func (up *ChannelUpdateProcessor) Name() string           { return ChannelUpdateProcessorName }
func (up *ChannelUpdateProcessor) IsHandshakeAware() bool { return true }

// Handle stores a valid update that is newer than its direction's policy.
func (up *ChannelUpdateProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	m, ok := msg.(*lnwire.ChannelUpdate)
	if !ok {
		return peer.Continue, nil
	}

	if _, err := up.svc.validator.ChannelUpdate(m); err != nil {
		return up.svc.reject(ctx, p, m, err)
	}
	if !up.svc.cfg.Repository.UpdateChannelPolicy(m) {
		return peer.Stop, nil
	}

	up.svc.cfg.Events.Publish(events.ChannelUpdateObserved{
		PeerID:         p.ID(),
		ShortChannelID: m.ShortChannelID,
		Direction:      m.Direction(),
		Timestamp:      m.Timestamp,
	})
	up.svc.broadcast(p, m)
	return peer.Stop, nil
}

// TimestampFilterProcessor records a peer's gossip_timestamp_filter and
// replays the stored gossip it selects.
type TimestampFilterProcessor struct {
	svc *Service
}

func (fp *TimestampFilterProcessor) Name() string           { return TimestampFilterProcessorName }
func (fp *TimestampFilterProcessor) IsHandshakeAware() bool { return true }

// Handle stores the filter. Filters for chains we do not follow are
// dropped.
func (fp *TimestampFilterProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	m, ok := msg.(*lnwire.GossipTimestampFilter)
	if !ok {
		return peer.Continue, nil
	}
	if err := fp.svc.validator.TimestampFilter(m); err != nil {
		return fp.svc.reject(ctx, p, m, err)
	}

	nodeID, _ := p.NodeID()
	filter := TimestampFilter{FirstTimestamp: m.FirstTimestamp, TimestampRange: m.TimestampRange}
	fp.svc.cfg.Repository.SetTimestampFilter(nodeID, m.ChainHash, filter)

	p.Log().WithFields(logrus.Fields{
		"function":        "Handle",
		"chain":           m.ChainHash.String(),
		"first_timestamp": m.FirstTimestamp,
		"timestamp_range": m.TimestampRange,
	}).Debug("Stored gossip timestamp filter")

	return peer.Stop, fp.replay(ctx, p, m.ChainHash, filter)
}

// replay sends the stored announcements whose timestamps pass filter.
// Channel announcements have no timestamp of their own and go out when
// one of their updates does.
func (fp *TimestampFilterProcessor) replay(ctx context.Context, p *peer.Peer, chain lnwire.ChainHash, filter TimestampFilter) error {
	repo := fp.svc.cfg.Repository
	nodes := make(map[lnwire.PubKey]struct{})

	for _, ch := range repo.Channels() {
		if ch.ChainHash != chain || ch.Announcement == nil {
			continue
		}
		var updates []lnwire.Message
		for _, u := range ch.Policies {
			if u != nil && filter.Allows(u.Timestamp) {
				updates = append(updates, u)
			}
		}
		if len(updates) == 0 {
			continue
		}
		if err := p.SendContext(ctx, ch.Announcement); err != nil {
			return err
		}
		for _, u := range updates {
			if err := p.SendContext(ctx, u); err != nil {
				return err
			}
		}
		nodes[ch.NodeID1] = struct{}{}
		nodes[ch.NodeID2] = struct{}{}
	}

	for id := range nodes {
		n, ok := repo.Node(id)
		if !ok || n.Announcement == nil || !filter.Allows(n.Timestamp) {
			continue
		}
		if err := p.SendContext(ctx, n.Announcement); err != nil {
			return err
		}
	}
	return nil
}

package gossip

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
)

// SyncProcessor pulls gossip from peers that negotiated gossip queries. It
// observes the peer's init, asks for the channel ranges of every shared
// chain with a timestamp filter, and queries the ids it does not know.
type SyncProcessor struct {
	svc *Service
}

func (sp *SyncProcessor) Name() string           { return SyncProcessorName }
func (sp *SyncProcessor) IsHandshakeAware() bool { return true }

// Handle reacts to init and to the replies of our own queries. Init is
// passed on so later processors still see it.
func (sp *SyncProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	switch m := msg.(type) {
	case *lnwire.Init:
		return peer.Continue, sp.start(ctx, p)
	case *lnwire.ReplyChannelRange:
		return peer.Stop, sp.handleRange(ctx, p, m)
	case *lnwire.ReplyShortChanIDsEnd:
		p.Log().WithFields(logrus.Fields{
			"function": "Handle",
			"chain":    m.ChainHash.String(),
			"complete": m.Complete,
		}).Debug("Short channel id query answered")
		return peer.Stop, nil
	}
	return peer.Continue, nil
}

func supportsQueries(f lnwire.FeatureVector) bool {
	return f.IsSet(lnwire.GossipQueriesOptional) || f.IsSet(lnwire.GossipQueriesRequired)
}

// start runs after the handshake processor accepted init, so the remote
// features are known and our own init is already queued ahead of these.
func (sp *SyncProcessor) start(ctx context.Context, p *peer.Peer) error {
	if !supportsQueries(p.RemoteFeatures()) {
		return nil
	}

	backlog := sp.svc.cfg.Clock.Now().Add(-sp.svc.cfg.SyncBacklog).Unix()
	first := uint32(max(backlog, 0))

	for _, chain := range sharedChains(sp.svc.cfg.Chains, p.RemoteChains()) {
		filter := &lnwire.GossipTimestampFilter{
			ChainHash:      chain,
			FirstTimestamp: first,
			TimestampRange: math.MaxUint32 - first,
		}
		if err := p.SendContext(ctx, filter); err != nil {
			return err
		}
		query := &lnwire.QueryChannelRange{
			ChainHash: chain,
			NumBlocks: math.MaxUint32,
		}
		if err := p.SendContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// sharedChains returns our chains the peer also follows. A peer without a
// networks record follows every chain.
func sharedChains(ours lnwire.ChainSet, theirs []lnwire.ChainHash) []lnwire.ChainHash {
	if theirs == nil {
		return ours.Hashes()
	}
	var out []lnwire.ChainHash
	for _, h := range theirs {
		if ours.Contains(h) {
			out = append(out, h)
		}
	}
	return out
}

// handleRange queries the channels of a range reply that we do not know.
func (sp *SyncProcessor) handleRange(ctx context.Context, p *peer.Peer, m *lnwire.ReplyChannelRange) error {
	if !sp.svc.cfg.Chains.Contains(m.ChainHash) || m.EncodingType != lnwire.EncodingSortedPlain {
		return nil
	}

	repo := sp.svc.cfg.Repository
	var missing []lnwire.ShortChannelID
	for _, id := range m.ShortChanIDs {
		if _, ok := repo.Channel(id); !ok {
			missing = append(missing, id)
		}
	}

	p.Log().WithFields(logrus.Fields{
		"function": "handleRange",
		"received": len(m.ShortChanIDs),
		"missing":  len(missing),
	}).Debug("Channel range reply")

	for len(missing) > 0 {
		n := min(len(missing), maxShortIDsPerMessage)
		query := &lnwire.QueryShortChanIDs{
			ChainHash:    m.ChainHash,
			EncodingType: lnwire.EncodingSortedPlain,
			ShortChanIDs: missing[:n],
		}
		if err := p.SendContext(ctx, query); err != nil {
			return err
		}
		missing = missing[n:]
	}
	return nil
}

package gossip

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
)

// maxShortIDsPerMessage keeps a plain encoded id list well inside the
// message size limit.
const maxShortIDsPerMessage = 8000

// QueryProcessor answers query_short_channel_ids and query_channel_range.
type QueryProcessor struct {
	svc *Service
}

func (qp *QueryProcessor) Name() string           { return QueryProcessorName }
func (qp *QueryProcessor) IsHandshakeAware() bool { return true }

// Handle answers a gossip query.
func (qp *QueryProcessor) Handle(ctx context.Context, p *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	switch m := msg.(type) {
	case *lnwire.QueryShortChanIDs:
		return qp.handleShortChanIDs(ctx, p, m)
	case *lnwire.QueryChannelRange:
		return peer.Stop, qp.handleChannelRange(ctx, p, m)
	}
	return peer.Continue, nil
}

// handleShortChanIDs replies with the announcement and updates of every
// known queried channel, then the announcements of their nodes, then
// reply_short_channel_ids_end.
func (qp *QueryProcessor) handleShortChanIDs(ctx context.Context, p *peer.Peer, m *lnwire.QueryShortChanIDs) (peer.Result, error) {
	if !qp.svc.cfg.Chains.Contains(m.ChainHash) {
		return peer.Stop, p.SendContext(ctx, &lnwire.ReplyShortChanIDsEnd{ChainHash: m.ChainHash})
	}
	if m.EncodingType != lnwire.EncodingSortedPlain {
		err := invalid(Reply, m.MsgType(), fmt.Errorf("unsupported short id encoding %d", m.EncodingType))
		return qp.svc.reject(ctx, p, m, err)
	}

	repo := qp.svc.cfg.Repository
	var nodeOrder []lnwire.PubKey
	nodes := make(map[lnwire.PubKey]struct{})
	found := 0

	for _, id := range m.ShortChanIDs {
		ch, ok := repo.Channel(id)
		if !ok || ch.ChainHash != m.ChainHash || ch.Announcement == nil {
			continue
		}
		found++
		if err := p.SendContext(ctx, ch.Announcement); err != nil {
			return peer.Stop, err
		}
		for _, u := range ch.Policies {
			if u == nil {
				continue
			}
			if err := p.SendContext(ctx, u); err != nil {
				return peer.Stop, err
			}
		}
		for _, n := range []lnwire.PubKey{ch.NodeID1, ch.NodeID2} {
			if _, seen := nodes[n]; !seen {
				nodes[n] = struct{}{}
				nodeOrder = append(nodeOrder, n)
			}
		}
	}

	for _, id := range nodeOrder {
		n, ok := repo.Node(id)
		if !ok || n.Announcement == nil {
			continue
		}
		if err := p.SendContext(ctx, n.Announcement); err != nil {
			return peer.Stop, err
		}
	}

	p.Log().WithFields(logrus.Fields{
		"function": "handleShortChanIDs",
		"queried":  len(m.ShortChanIDs),
		"found":    found,
	}).Debug("Answered short channel id query")

	return peer.Stop, p.SendContext(ctx, &lnwire.ReplyShortChanIDsEnd{ChainHash: m.ChainHash, Complete: true})
}

// handleChannelRange replies with the sorted ids of the chain's channels in
// the queried block range. Long lists are split over several replies whose
// block ranges follow the ids they carry.
func (qp *QueryProcessor) handleChannelRange(ctx context.Context, p *peer.Peer, m *lnwire.QueryChannelRange) error {
	if !qp.svc.cfg.Chains.Contains(m.ChainHash) {
		return p.SendContext(ctx, &lnwire.ReplyChannelRange{
			ChainHash:        m.ChainHash,
			FirstBlockHeight: m.FirstBlockHeight,
			NumBlocks:        m.NumBlocks,
		})
	}

	last := m.LastBlockHeight()
	ids := qp.svc.cfg.Repository.ChannelsInRange(m.ChainHash, m.FirstBlockHeight, last)
	for _, reply := range splitRange(m.ChainHash, m.FirstBlockHeight, last, ids) {
		if err := p.SendContext(ctx, reply); err != nil {
			return err
		}
	}

	p.Log().WithFields(logrus.Fields{
		"function":    "handleChannelRange",
		"first_block": m.FirstBlockHeight,
		"num_blocks":  m.NumBlocks,
		"channel_ids": len(ids),
	}).Debug("Answered channel range query")
	return nil
}

// splitRange builds the reply_channel_range messages for sorted ids in
// [first, last]. One reply covers the whole range unless the ids do not
// fit a single message.
func splitRange(chain lnwire.ChainHash, first, last uint32, ids []lnwire.ShortChannelID) []*lnwire.ReplyChannelRange {
	numBlocks := func(from, to uint32) uint32 {
		return uint32(min(uint64(to)-uint64(from)+1, math.MaxUint32))
	}

	if len(ids) <= maxShortIDsPerMessage {
		return []*lnwire.ReplyChannelRange{{
			ChainHash:        chain,
			FirstBlockHeight: first,
			NumBlocks:        numBlocks(first, last),
			SyncComplete:     true,
			EncodingType:     lnwire.EncodingSortedPlain,
			ShortChanIDs:     ids,
		}}
	}

	var replies []*lnwire.ReplyChannelRange
	from := first
	for len(ids) > 0 {
		n := min(len(ids), maxShortIDsPerMessage)
		chunk := ids[:n]
		ids = ids[n:]

		to := last
		if len(ids) > 0 {
			to = chunk[len(chunk)-1].BlockHeight
		}
		replies = append(replies, &lnwire.ReplyChannelRange{
			ChainHash:        chain,
			FirstBlockHeight: from,
			NumBlocks:        numBlocks(from, to),
			SyncComplete:     true,
			EncodingType:     lnwire.EncodingSortedPlain,
			ShortChanIDs:     chunk,
		})
		from = to
	}
	return replies
}

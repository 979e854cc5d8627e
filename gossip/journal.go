package gossip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/store"
)

// Journal key prefixes. Values are encoded wire messages, so a reload runs
// the same decoders as the network path.
var (
	nodePrefix      = []byte("node/")
	channelPrefix   = []byte("chan/")
	updatePrefix    = []byte("upd/")
	blacklistPrefix = []byte("black/")
)

// ErrJournalWrite is returned by Flush when staging a mutation failed since
// the previous flush. The in-memory repository kept the mutation.
var ErrJournalWrite = errors.New("gossip journal write failed")

// Journal is a Repository that records every mutation in a store.Store.
// Writes are staged; Flush makes them durable. Timestamp filters are
// connection state and are not journaled.
type Journal struct {
	Repository
	store store.Store
	log   *logrus.Entry

	mu       sync.Mutex
	failures int
	firstErr error
}

// NewJournal wraps repo so its mutations are persisted in st.
func NewJournal(repo Repository, st store.Store) *Journal {
	return &Journal{
		Repository: repo,
		store:      st,
		log:        logrus.WithFields(logrus.Fields{"package": "gossip", "component": "journal"}),
	}
}

func nodeKey(id lnwire.PubKey) []byte {
	return append(append([]byte{}, nodePrefix...), id[:]...)
}

func channelKey(id lnwire.ShortChannelID) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, channelPrefix...), id.ToUint64())
}

func updateKey(id lnwire.ShortChannelID, direction int) []byte {
	k := binary.BigEndian.AppendUint64(append([]byte{}, updatePrefix...), id.ToUint64())
	return append(k, byte(direction))
}

func blacklistKey(id lnwire.PubKey) []byte {
	return append(append([]byte{}, blacklistPrefix...), id[:]...)
}

// fail records a write failure for the next Flush.
func (j *Journal) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failures == 0 {
		j.firstErr = err
	}
	j.failures++
}

func (j *Journal) put(function string, key []byte, msg lnwire.Message) {
	raw, err := lnwire.EncodeMessage(msg)
	if err == nil {
		err = j.store.Add(key, raw)
	}
	if err != nil {
		j.fail(err)
		j.log.WithFields(logrus.Fields{
			"function": function,
			"type":     msg.MsgType().String(),
			"error":    err.Error(),
		}).Error("Failed to journal gossip")
	}
}

func (j *Journal) del(function string, key []byte) {
	if err := j.store.Delete(key); err != nil {
		j.fail(err)
		j.log.WithFields(logrus.Fields{
			"function": function,
			"error":    err.Error(),
		}).Error("Failed to journal removal")
	}
}

// UpsertNode stores and journals n.
func (j *Journal) UpsertNode(n *Node) {
	j.Repository.UpsertNode(n)
	if n.Announcement != nil {
		j.put("UpsertNode", nodeKey(n.NodeID), n.Announcement)
	}
}

// AddNodeIfNewer stores and journals n when it is accepted.
func (j *Journal) AddNodeIfNewer(n *Node) bool {
	if !j.Repository.AddNodeIfNewer(n) {
		return false
	}
	if n.Announcement != nil {
		j.put("AddNodeIfNewer", nodeKey(n.NodeID), n.Announcement)
	}
	return true
}

// UpsertChannel stores and journals c.
func (j *Journal) UpsertChannel(c *Channel) {
	j.Repository.UpsertChannel(c)
	j.journalChannel("UpsertChannel", c)
}

func (j *Journal) journalChannel(function string, c *Channel) {
	if c.Announcement != nil {
		j.put(function, channelKey(c.ShortChannelID), c.Announcement)
	}
	for dir, u := range c.Policies {
		if u != nil {
			j.put(function, updateKey(c.ShortChannelID, dir), u)
		}
	}
}

// AddChannel stores c and journals the result, including the blacklist
// and removals of a conflict.
func (j *Journal) AddChannel(c *Channel) ([]lnwire.PubKey, error) {
	// the channels a conflict would remove are gone after the call
	var affected []lnwire.ShortChannelID
	if cur, ok := j.Repository.Channel(c.ShortChannelID); ok && (cur.NodeID1 != c.NodeID1 || cur.NodeID2 != c.NodeID2) {
		for _, id := range uniqueKeys(cur.NodeID1, cur.NodeID2, c.NodeID1, c.NodeID2) {
			affected = append(affected, j.Repository.ChannelsOf(id)...)
		}
	}

	conflict, err := j.Repository.AddChannel(c)
	if err != nil {
		return nil, err
	}
	if len(conflict) == 0 {
		j.journalChannel("AddChannel", c)
		return nil, nil
	}

	j.journalBlacklist("AddChannel", conflict)
	for _, id := range affected {
		j.forgetChannel("AddChannel", id)
	}
	return conflict, nil
}

func (j *Journal) forgetChannel(function string, id lnwire.ShortChannelID) {
	j.del(function, channelKey(id))
	j.del(function, updateKey(id, 0))
	j.del(function, updateKey(id, 1))
}

// RemoveGossipChannels removes and forgets a batch of channels.
func (j *Journal) RemoveGossipChannels(ids ...lnwire.ShortChannelID) int {
	n := j.Repository.RemoveGossipChannels(ids...)
	for _, id := range ids {
		j.forgetChannel("RemoveGossipChannels", id)
	}
	return n
}

// UpdateChannelPolicy stores and journals an accepted update.
func (j *Journal) UpdateChannelPolicy(u *lnwire.ChannelUpdate) bool {
	if !j.Repository.UpdateChannelPolicy(u) {
		return false
	}
	j.put("UpdateChannelPolicy", updateKey(u.ShortChannelID, u.Direction()), u)
	return true
}

// Blacklist adds and journals ids.
func (j *Journal) Blacklist(ids ...lnwire.PubKey) {
	j.Repository.Blacklist(ids...)
	j.journalBlacklist("Blacklist", ids)
}

func (j *Journal) journalBlacklist(function string, ids []lnwire.PubKey) {
	for _, id := range ids {
		if err := j.store.Add(blacklistKey(id), []byte{1}); err != nil {
			j.fail(err)
			j.log.WithFields(logrus.Fields{
				"function": function,
				"node_id":  id.String(),
				"error":    err.Error(),
			}).Error("Failed to journal blacklist entry")
		}
	}
}

// Flush makes the staged journal entries durable. Writes that failed to
// stage since the last Flush are reported with ErrJournalWrite after the
// rest has been committed.
func (j *Journal) Flush() error {
	j.mu.Lock()
	failures, firstErr := j.failures, j.firstErr
	j.failures, j.firstErr = 0, nil
	j.mu.Unlock()

	if err := j.store.SaveChanges(); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%w: %d writes lost, first: %v", ErrJournalWrite, failures, firstErr)
	}
	return nil
}

// Load replays the journal into the wrapped repository without journaling
// again. Blacklist entries load first, then channels, their updates and
// nodes. A channel journaled while a conflict was blacklisting one of its
// endpoints is skipped.
func (j *Journal) Load() error {
	repo := j.Repository
	counts := map[string]int{}

	err := j.store.ForEach(blacklistPrefix, func(key, _ []byte) error {
		id, err := lnwire.NewPubKey(key[len(blacklistPrefix):])
		if err != nil {
			return err
		}
		repo.Blacklist(id)
		counts["blacklist"]++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	err = j.store.ForEach(channelPrefix, func(_, value []byte) error {
		m, err := decodeAs[*lnwire.ChannelAnnouncement](value)
		if err != nil {
			return err
		}
		if repo.IsBlacklisted(m.NodeID1) || repo.IsBlacklisted(m.NodeID2) {
			counts["skipped"]++
			return nil
		}
		repo.UpsertChannel(ChannelFromAnnouncement(m))
		counts["channels"]++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	err = j.store.ForEach(updatePrefix, func(_, value []byte) error {
		m, err := decodeAs[*lnwire.ChannelUpdate](value)
		if err != nil {
			return err
		}
		if repo.UpdateChannelPolicy(m) {
			counts["updates"]++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load updates: %w", err)
	}

	err = j.store.ForEach(nodePrefix, func(_, value []byte) error {
		m, err := decodeAs[*lnwire.NodeAnnouncement](value)
		if err != nil {
			return err
		}
		repo.UpsertNode(NodeFromAnnouncement(m))
		counts["nodes"]++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}

	j.log.WithFields(logrus.Fields{
		"function":  "Load",
		"nodes":     counts["nodes"],
		"channels":  counts["channels"],
		"updates":   counts["updates"],
		"blacklist": counts["blacklist"],
		"skipped":   counts["skipped"],
	}).Info("Loaded gossip journal")
	return nil
}

var errUnexpectedType = errors.New("unexpected message type in journal")

func decodeAs[T lnwire.Message](raw []byte) (T, error) {
	var zero T
	msg, err := lnwire.DecodeMessage(raw)
	if err != nil {
		return zero, err
	}
	m, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", errUnexpectedType, msg.MsgType())
	}
	return m, nil
}

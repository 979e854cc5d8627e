package gossip

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/opd-ai/lnpeer/lnwire"
)

// shardCount is the number of independently locked partitions per map.
const shardCount = 32

// Node is a gossip node record.
type Node struct {
	NodeID    lnwire.PubKey
	Features  lnwire.FeatureVector
	Timestamp uint32
	RGBColor  lnwire.RGB
	Alias     lnwire.Alias
	// Addresses is the raw address list as signed.
	Addresses []byte

	// Announcement is the message the record came from, kept for replay.
	Announcement *lnwire.NodeAnnouncement
}

// NodeFromAnnouncement builds a node record from a validated announcement.
func NodeFromAnnouncement(m *lnwire.NodeAnnouncement) *Node {
	return &Node{
		NodeID:       m.NodeID,
		Features:     m.Features,
		Timestamp:    m.Timestamp,
		RGBColor:     m.RGBColor,
		Alias:        m.Alias,
		Addresses:    m.Addresses,
		Announcement: m,
	}
}

// AddrLen returns the length of the raw address list.
func (n *Node) AddrLen() uint16 { return uint16(len(n.Addresses)) }

// NetAddresses parses the address list.
func (n *Node) NetAddresses() ([]lnwire.NetAddress, error) {
	return lnwire.ParseAddresses(n.Addresses)
}

// Channel is a gossip channel record. Policies holds the latest
// channel_update per direction, nil until one arrives.
type Channel struct {
	ShortChannelID lnwire.ShortChannelID
	ChainHash      lnwire.ChainHash
	NodeID1        lnwire.PubKey
	NodeID2        lnwire.PubKey
	BitcoinKey1    lnwire.PubKey
	BitcoinKey2    lnwire.PubKey
	Features       lnwire.FeatureVector

	Announcement *lnwire.ChannelAnnouncement
	Policies     [2]*lnwire.ChannelUpdate
}

// ChannelFromAnnouncement builds a channel record from a validated
// announcement.
func ChannelFromAnnouncement(m *lnwire.ChannelAnnouncement) *Channel {
	return &Channel{
		ShortChannelID: m.ShortChannelID,
		ChainHash:      m.ChainHash,
		NodeID1:        m.NodeID1,
		NodeID2:        m.NodeID2,
		BitcoinKey1:    m.BitcoinKey1,
		BitcoinKey2:    m.BitcoinKey2,
		Features:       m.Features,
		Announcement:   m,
	}
}

// HasNode reports whether id is one of the channel's endpoints.
func (c *Channel) HasNode(id lnwire.PubKey) bool {
	return c.NodeID1 == id || c.NodeID2 == id
}

// NodeFor returns the node that signs updates for direction.
func (c *Channel) NodeFor(direction int) lnwire.PubKey {
	if direction == 1 {
		return c.NodeID2
	}
	return c.NodeID1
}

// TimestampFilter is a peer's gossip_timestamp_filter for one chain.
type TimestampFilter struct {
	FirstTimestamp uint32
	TimestampRange uint32
}

// Allows reports whether timestamp falls in the filter window.
func (f TimestampFilter) Allows(timestamp uint32) bool {
	end := uint64(f.FirstTimestamp) + uint64(f.TimestampRange)
	return timestamp >= f.FirstTimestamp && uint64(timestamp) < end
}

// Stats counts repository contents.
type Stats struct {
	Nodes       int
	Channels    int
	Blacklisted int
}

// Repository is the gossip state shared by every peer. Implementations are
// safe for concurrent use and return copies, never internal records.
type Repository interface {
	// UpsertNode stores n unconditionally.
	UpsertNode(n *Node)
	// AddNodeIfNewer stores n when no record exists or the stored one is
	// older. An equal timestamp is accepted so replays stay idempotent.
	AddNodeIfNewer(n *Node) bool
	Node(id lnwire.PubKey) (*Node, bool)
	Nodes() []*Node

	// UpsertChannel stores c unconditionally.
	UpsertChannel(c *Channel)
	// AddChannel stores c unless another channel with the same short id
	// but different endpoints exists. In that case the union of both
	// endpoint pairs is blacklisted, every channel of those nodes is
	// removed and the blacklisted ids are returned. A channel with a
	// blacklisted endpoint is refused with ErrBlacklisted.
	AddChannel(c *Channel) (conflict []lnwire.PubKey, err error)
	Channel(id lnwire.ShortChannelID) (*Channel, bool)
	Channels() []*Channel
	// ChannelsOf returns the short ids of every channel with node id as an
	// endpoint.
	ChannelsOf(id lnwire.PubKey) []lnwire.ShortChannelID
	// ChannelsInRange returns the sorted short ids of the chain's channels
	// funded in blocks [first, last].
	ChannelsInRange(chain lnwire.ChainHash, first, last uint32) []lnwire.ShortChannelID
	// RemoveGossipChannels deletes the given channels and returns how many
	// existed.
	RemoveGossipChannels(ids ...lnwire.ShortChannelID) int
	// UpdateChannelPolicy stores u as its direction's policy when the
	// channel exists and u is newer than the stored update.
	UpdateChannelPolicy(u *lnwire.ChannelUpdate) bool

	Blacklist(ids ...lnwire.PubKey)
	IsBlacklisted(id lnwire.PubKey) bool
	Blacklisted() []lnwire.PubKey

	SetTimestampFilter(peer lnwire.PubKey, chain lnwire.ChainHash, f TimestampFilter)
	TimestampFilter(peer lnwire.PubKey, chain lnwire.ChainHash) (TimestampFilter, bool)
	ClearTimestampFilters(peer lnwire.PubKey)

	Stats() Stats
}

type nodeShard struct {
	mu    sync.RWMutex
	nodes map[lnwire.PubKey]*Node
}

type channelShard struct {
	mu       sync.RWMutex
	channels map[lnwire.ShortChannelID]*Channel
}

type blacklistShard struct {
	mu  sync.RWMutex
	ids map[lnwire.PubKey]struct{}
}

type filterShard struct {
	mu      sync.RWMutex
	filters map[lnwire.PubKey]map[lnwire.ChainHash]TimestampFilter
}

// Memory is the in-memory Repository. Each map is split into shards with
// their own lock so peers touching unrelated keys never contend.
// Conflict resolution additionally holds conflictMu so two conflicting
// announcements cannot interleave their blacklist and removal steps.
type Memory struct {
	nodes     [shardCount]nodeShard
	channels  [shardCount]channelShard
	blacklist [shardCount]blacklistShard
	filters   [shardCount]filterShard

	conflictMu sync.Mutex
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty repository.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range shardCount {
		m.nodes[i].nodes = make(map[lnwire.PubKey]*Node)
		m.channels[i].channels = make(map[lnwire.ShortChannelID]*Channel)
		m.blacklist[i].ids = make(map[lnwire.PubKey]struct{})
		m.filters[i].filters = make(map[lnwire.PubKey]map[lnwire.ChainHash]TimestampFilter)
	}
	return m
}

func keyShard(id lnwire.PubKey) uint64 {
	return xxhash.Sum64(id[:]) % shardCount
}

func scidShard(id lnwire.ShortChannelID) uint64 {
	var b [8]byte
	v := id.ToUint64()
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return xxhash.Sum64(b[:]) % shardCount
}

func copyNode(n *Node) *Node {
	c := *n
	return &c
}

func copyChannel(ch *Channel) *Channel {
	c := *ch
	return &c
}

// UpsertNode stores n unconditionally.
func (m *Memory) UpsertNode(n *Node) {
	s := &m.nodes[keyShard(n.NodeID)]
	s.mu.Lock()
	s.nodes[n.NodeID] = copyNode(n)
	s.mu.Unlock()
}

// AddNodeIfNewer stores n unless a newer record exists.
func (m *Memory) AddNodeIfNewer(n *Node) bool {
	s := &m.nodes[keyShard(n.NodeID)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.nodes[n.NodeID]; ok && cur.Timestamp > n.Timestamp {
		return false
	}
	s.nodes[n.NodeID] = copyNode(n)
	return true
}

// Node returns a copy of the node record.
func (m *Memory) Node(id lnwire.PubKey) (*Node, bool) {
	s := &m.nodes[keyShard(id)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return copyNode(n), true
}

// Nodes returns copies of every node record.
func (m *Memory) Nodes() []*Node {
	var out []*Node
	for i := range m.nodes {
		s := &m.nodes[i]
		s.mu.RLock()
		for _, n := range s.nodes {
			out = append(out, copyNode(n))
		}
		s.mu.RUnlock()
	}
	return out
}

// UpsertChannel stores c unconditionally.
func (m *Memory) UpsertChannel(c *Channel) {
	s := &m.channels[scidShard(c.ShortChannelID)]
	s.mu.Lock()
	s.channels[c.ShortChannelID] = copyChannel(c)
	s.mu.Unlock()
}

// AddChannel stores c or resolves a short id conflict. The blacklist is
// read under the channel shard lock: a conflict blacklists before it
// scans the shards, so it either sees c stored or c sees the blacklist.
func (m *Memory) AddChannel(c *Channel) ([]lnwire.PubKey, error) {
	s := &m.channels[scidShard(c.ShortChannelID)]
	s.mu.Lock()
	for _, id := range []lnwire.PubKey{c.NodeID1, c.NodeID2} {
		if m.IsBlacklisted(id) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w %s", ErrBlacklisted, id)
		}
	}
	cur, ok := s.channels[c.ShortChannelID]
	if !ok || (cur.NodeID1 == c.NodeID1 && cur.NodeID2 == c.NodeID2) {
		stored := copyChannel(c)
		if ok {
			// a re-announcement keeps the policies already learned
			stored.Policies = cur.Policies
		}
		s.channels[c.ShortChannelID] = stored
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	return m.resolveConflict(cur, c), nil
}

func (m *Memory) resolveConflict(old, incoming *Channel) []lnwire.PubKey {
	m.conflictMu.Lock()
	defer m.conflictMu.Unlock()

	ids := uniqueKeys(old.NodeID1, old.NodeID2, incoming.NodeID1, incoming.NodeID2)
	m.Blacklist(ids...)

	var doomed []lnwire.ShortChannelID
	for _, id := range ids {
		doomed = append(doomed, m.ChannelsOf(id)...)
	}
	m.RemoveGossipChannels(doomed...)
	return ids
}

func uniqueKeys(keys ...lnwire.PubKey) []lnwire.PubKey {
	seen := make(map[lnwire.PubKey]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Channel returns a copy of the channel record.
func (m *Memory) Channel(id lnwire.ShortChannelID) (*Channel, bool) {
	s := &m.channels[scidShard(id)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, false
	}
	return copyChannel(c), true
}

// Channels returns copies of every channel record.
func (m *Memory) Channels() []*Channel {
	var out []*Channel
	m.eachChannel(func(c *Channel) {
		out = append(out, copyChannel(c))
	})
	return out
}

func (m *Memory) eachChannel(fn func(c *Channel)) {
	for i := range m.channels {
		s := &m.channels[i]
		s.mu.RLock()
		for _, c := range s.channels {
			fn(c)
		}
		s.mu.RUnlock()
	}
}

// ChannelsOf returns the channels with id as an endpoint.
func (m *Memory) ChannelsOf(id lnwire.PubKey) []lnwire.ShortChannelID {
	var out []lnwire.ShortChannelID
	m.eachChannel(func(c *Channel) {
		if c.HasNode(id) {
			out = append(out, c.ShortChannelID)
		}
	})
	return out
}

// ChannelsInRange returns the sorted short ids funded in [first, last].
func (m *Memory) ChannelsInRange(chain lnwire.ChainHash, first, last uint32) []lnwire.ShortChannelID {
	var out []lnwire.ShortChannelID
	m.eachChannel(func(c *Channel) {
		h := c.ShortChannelID.BlockHeight
		if c.ChainHash == chain && h >= first && h <= last {
			out = append(out, c.ShortChannelID)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ToUint64() < out[j].ToUint64() })
	return out
}

// RemoveGossipChannels deletes a batch of channels.
func (m *Memory) RemoveGossipChannels(ids ...lnwire.ShortChannelID) int {
	removed := 0
	for _, id := range ids {
		s := &m.channels[scidShard(id)]
		s.mu.Lock()
		if _, ok := s.channels[id]; ok {
			delete(s.channels, id)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// UpdateChannelPolicy stores u when it is the newest for its direction.
func (m *Memory) UpdateChannelPolicy(u *lnwire.ChannelUpdate) bool {
	s := &m.channels[scidShard(u.ShortChannelID)]
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[u.ShortChannelID]
	if !ok {
		return false
	}
	dir := u.Direction()
	if cur := c.Policies[dir]; cur != nil && cur.Timestamp >= u.Timestamp {
		return false
	}
	// copy on write so readers holding an older copy see a stable record
	updated := copyChannel(c)
	updated.Policies[dir] = u
	s.channels[u.ShortChannelID] = updated
	return true
}

// Blacklist adds ids to the blacklist.
func (m *Memory) Blacklist(ids ...lnwire.PubKey) {
	for _, id := range ids {
		s := &m.blacklist[keyShard(id)]
		s.mu.Lock()
		s.ids[id] = struct{}{}
		s.mu.Unlock()
	}
}

// IsBlacklisted reports whether id is blacklisted.
func (m *Memory) IsBlacklisted(id lnwire.PubKey) bool {
	s := &m.blacklist[keyShard(id)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Blacklisted returns every blacklisted id.
func (m *Memory) Blacklisted() []lnwire.PubKey {
	var out []lnwire.PubKey
	for i := range m.blacklist {
		s := &m.blacklist[i]
		s.mu.RLock()
		for id := range s.ids {
			out = append(out, id)
		}
		s.mu.RUnlock()
	}
	return out
}

// SetTimestampFilter records a peer's filter for chain, replacing any
// previous one.
func (m *Memory) SetTimestampFilter(peer lnwire.PubKey, chain lnwire.ChainHash, f TimestampFilter) {
	s := &m.filters[keyShard(peer)]
	s.mu.Lock()
	defer s.mu.Unlock()
	byChain, ok := s.filters[peer]
	if !ok {
		byChain = make(map[lnwire.ChainHash]TimestampFilter)
		s.filters[peer] = byChain
	}
	byChain[chain] = f
}

// TimestampFilter returns a peer's filter for chain.
func (m *Memory) TimestampFilter(peer lnwire.PubKey, chain lnwire.ChainHash) (TimestampFilter, bool) {
	s := &m.filters[keyShard(peer)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.filters[peer][chain]
	return f, ok
}

// ClearTimestampFilters forgets every filter of peer.
func (m *Memory) ClearTimestampFilters(peer lnwire.PubKey) {
	s := &m.filters[keyShard(peer)]
	s.mu.Lock()
	delete(s.filters, peer)
	s.mu.Unlock()
}

// Stats counts the repository contents.
func (m *Memory) Stats() Stats {
	var st Stats
	for i := range shardCount {
		m.nodes[i].mu.RLock()
		st.Nodes += len(m.nodes[i].nodes)
		m.nodes[i].mu.RUnlock()

		m.channels[i].mu.RLock()
		st.Channels += len(m.channels[i].channels)
		m.channels[i].mu.RUnlock()

		m.blacklist[i].mu.RLock()
		st.Blacklisted += len(m.blacklist[i].ids)
		m.blacklist[i].mu.RUnlock()
	}
	return st
}

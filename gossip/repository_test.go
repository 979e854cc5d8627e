package gossip

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/lnwire"
)

func TestChannelConflictBlacklistsBothPairs(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)

	ab := newChannelKeys(t)
	cd := newChannelKeys(t)
	x := scid(700000, 1)

	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, x, ab)))

	// other channels of A and C that must go too
	aOther := ab
	aOther.node2 = newKey(t)
	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, scid(700001, 1), aOther)))
	cOther := cd
	cOther.node2 = newKey(t)
	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, scid(700002, 1), cOther)))
	// an unrelated channel survives
	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, scid(700003, 1), newChannelKeys(t))))

	conflict, err := repo.AddChannel(ChannelFromAnnouncement(signChannel(t, chain, x, cd)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []lnwire.PubKey{
		ab.node1.PubKey(), ab.node2.PubKey(), cd.node1.PubKey(), cd.node2.PubKey(),
	}, conflict)

	for _, id := range conflict {
		assert.True(t, repo.IsBlacklisted(id), id.String())
		assert.Empty(t, repo.ChannelsOf(id), id.String())
	}
	_, ok := repo.Channel(x)
	assert.False(t, ok)

	st := repo.Stats()
	assert.Equal(t, 1, st.Channels)
	assert.Equal(t, 4, st.Blacklisted)
}

func TestAddChannelRefusesBlacklistedEndpoint(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)
	v := NewValidator(mainnetSet(t), repo)

	ab, cd := newChannelKeys(t), newChannelKeys(t)
	ae := ab
	ae.node2 = newKey(t)

	// validated before A is blacklisted, stored after
	pending := signChannel(t, chain, scid(700, 2), ae)
	require.NoError(t, v.ChannelAnnouncement(pending))

	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, scid(700, 1), ab)))
	conflict, err := repo.AddChannel(ChannelFromAnnouncement(signChannel(t, chain, scid(700, 1), cd)))
	require.NoError(t, err)
	require.Len(t, conflict, 4)
	require.True(t, repo.IsBlacklisted(ab.node1.PubKey()))

	conflict, err = repo.AddChannel(ChannelFromAnnouncement(pending))
	assert.ErrorIs(t, err, ErrBlacklisted)
	assert.Empty(t, conflict)
	assert.Empty(t, repo.ChannelsOf(ab.node1.PubKey()))
	assert.Empty(t, repo.ChannelsOf(ae.node2.PubKey()))
}

func TestConflictRacingAddsLeavesNoBlacklistedChannel(t *testing.T) {
	chain := mainnet(t)
	for round := 0; round < 20; round++ {
		repo := NewMemory()
		ab, cd := newChannelKeys(t), newChannelKeys(t)
		storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, scid(1, 1), ab)))

		others := make([]*Channel, 16)
		for i := range others {
			k := newChannelKeys(t)
			k.node1 = ab.node1
			others[i] = ChannelFromAnnouncement(signChannel(t, chain, scid(uint32(10+i), 1), k))
		}

		conflicting := ChannelFromAnnouncement(signChannel(t, chain, scid(1, 1), cd))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = repo.AddChannel(conflicting)
		}()
		go func() {
			defer wg.Done()
			for _, c := range others {
				_, _ = repo.AddChannel(c)
			}
		}()
		wg.Wait()

		require.True(t, repo.IsBlacklisted(ab.node1.PubKey()))
		require.Empty(t, repo.ChannelsOf(ab.node1.PubKey()), "round %d", round)
	}
}

func TestSameChannelReannouncedKeepsPolicies(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)
	keys := newChannelKeys(t)
	id := scid(600000, 5)

	ann := signChannel(t, chain, id, keys)
	storeChannel(t, repo, ChannelFromAnnouncement(ann))
	require.True(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 0, 100, keys.node1)))

	storeChannel(t, repo, ChannelFromAnnouncement(ann))
	ch, ok := repo.Channel(id)
	require.True(t, ok)
	assert.NotNil(t, ch.Policies[0])
	assert.Empty(t, repo.Blacklisted())
}

func TestNodeUpsertIdempotent(t *testing.T) {
	repo := NewMemory()
	kp := newKey(t)
	ann := signNode(t, kp, 1000)

	repo.UpsertNode(NodeFromAnnouncement(ann))
	repo.UpsertNode(NodeFromAnnouncement(ann))
	assert.True(t, repo.AddNodeIfNewer(NodeFromAnnouncement(ann)))

	assert.Len(t, repo.Nodes(), 1)
	n, ok := repo.Node(kp.PubKey())
	require.True(t, ok)
	assert.Equal(t, uint32(1000), n.Timestamp)
	assert.Equal(t, ann.Addresses, n.Addresses)
	assert.Equal(t, ann.AddrLen(), n.AddrLen())
}

func TestAddNodeIfNewer(t *testing.T) {
	repo := NewMemory()
	kp := newKey(t)

	require.True(t, repo.AddNodeIfNewer(NodeFromAnnouncement(signNode(t, kp, 2000))))
	assert.False(t, repo.AddNodeIfNewer(NodeFromAnnouncement(signNode(t, kp, 1999))))
	assert.True(t, repo.AddNodeIfNewer(NodeFromAnnouncement(signNode(t, kp, 2001))))

	n, ok := repo.Node(kp.PubKey())
	require.True(t, ok)
	assert.Equal(t, uint32(2001), n.Timestamp)

	// unconditional upsert still overwrites
	repo.UpsertNode(NodeFromAnnouncement(signNode(t, kp, 5)))
	n, _ = repo.Node(kp.PubKey())
	assert.Equal(t, uint32(5), n.Timestamp)
}

func TestUpdateChannelPolicy(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)
	keys := newChannelKeys(t)
	id := scid(650000, 2)

	assert.False(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 0, 10, keys.node1)), "unknown channel")
	storeChannel(t, repo, ChannelFromAnnouncement(signChannel(t, chain, id, keys)))

	before, _ := repo.Channel(id)

	assert.True(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 0, 10, keys.node1)))
	assert.False(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 0, 10, keys.node1)), "same timestamp")
	assert.False(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 0, 9, keys.node1)), "older")
	assert.True(t, repo.UpdateChannelPolicy(signUpdate(t, chain, id, 1, 3, keys.node2)), "other direction")

	ch, ok := repo.Channel(id)
	require.True(t, ok)
	assert.Equal(t, uint32(10), ch.Policies[0].Timestamp)
	assert.Equal(t, uint32(3), ch.Policies[1].Timestamp)
	assert.Nil(t, before.Policies[0], "earlier copies are not mutated")
}

func TestChannelsInRange(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)
	testnet, ok := lnwire.ChainHashFor(lnwire.Testnet)
	require.True(t, ok)

	for _, id := range []lnwire.ShortChannelID{scid(120, 3), scid(100, 9), scid(100, 2), scid(300, 1), scid(99, 1)} {
		repo.UpsertChannel(ChannelFromAnnouncement(signChannel(t, chain, id, newChannelKeys(t))))
	}
	repo.UpsertChannel(ChannelFromAnnouncement(signChannel(t, testnet, scid(110, 1), newChannelKeys(t))))

	got := repo.ChannelsInRange(chain, 100, 200)
	assert.Equal(t, []lnwire.ShortChannelID{scid(100, 2), scid(100, 9), scid(120, 3)}, got)

	assert.Len(t, repo.ChannelsInRange(testnet, 0, 1000), 1)
	assert.Empty(t, repo.ChannelsInRange(chain, 301, 400))
}

func TestRemoveGossipChannels(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)
	a, b := scid(1, 1), scid(2, 2)
	repo.UpsertChannel(ChannelFromAnnouncement(signChannel(t, chain, a, newChannelKeys(t))))
	repo.UpsertChannel(ChannelFromAnnouncement(signChannel(t, chain, b, newChannelKeys(t))))

	assert.Equal(t, 1, repo.RemoveGossipChannels(a, scid(3, 3)))
	assert.Len(t, repo.Channels(), 1)
}

func TestTimestampFilters(t *testing.T) {
	repo := NewMemory()
	peerID := newKey(t).PubKey()
	chain := mainnet(t)

	_, ok := repo.TimestampFilter(peerID, chain)
	assert.False(t, ok)

	repo.SetTimestampFilter(peerID, chain, TimestampFilter{FirstTimestamp: 100, TimestampRange: 50})
	f, ok := repo.TimestampFilter(peerID, chain)
	require.True(t, ok)
	assert.True(t, f.Allows(100))
	assert.True(t, f.Allows(149))
	assert.False(t, f.Allows(150))
	assert.False(t, f.Allows(99))

	repo.ClearTimestampFilters(peerID)
	_, ok = repo.TimestampFilter(peerID, chain)
	assert.False(t, ok)
}

func TestTimestampFilterFullRange(t *testing.T) {
	f := TimestampFilter{FirstTimestamp: 0, TimestampRange: ^uint32(0)}
	assert.True(t, f.Allows(1_700_000_000))
}

func TestRepositoryConcurrentAccess(t *testing.T) {
	repo := NewMemory()
	chain := mainnet(t)

	keys := make([]channelKeys, 8)
	for i := range keys {
		keys[i] = newChannelKeys(t)
	}
	anns := make([]*lnwire.ChannelAnnouncement, len(keys))
	for i, k := range keys {
		anns[i] = signChannel(t, chain, scid(uint32(500000+i), 1), k)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, ann := range anns {
				repo.AddChannel(ChannelFromAnnouncement(ann))
				repo.UpsertNode(&Node{NodeID: keys[i].node1.PubKey(), Timestamp: uint32(w)})
				repo.Channels()
				repo.Stats()
			}
		}()
	}
	wg.Wait()

	st := repo.Stats()
	assert.Equal(t, len(anns), st.Channels)
	assert.Equal(t, len(anns), st.Nodes)
	assert.Zero(t, st.Blacklisted)
}

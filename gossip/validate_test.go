package gossip

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/lnwire"
)

func requireOutcome(t *testing.T, err error, outcome Outcome, cause error) {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "not a ValidationError: %v", err)
	assert.Equal(t, outcome, ve.Outcome)
	assert.ErrorIs(t, err, cause)
}

func TestValidateNodeAnnouncement(t *testing.T) {
	kp := newKey(t)
	blacklisted := newKey(t)

	tests := []struct {
		name    string
		build   func() *lnwire.NodeAnnouncement
		outcome Outcome
		cause   error
	}{
		{
			name:  "valid",
			build: func() *lnwire.NodeAnnouncement { return signNode(t, kp, 1) },
		},
		{
			name: "bad signature",
			build: func() *lnwire.NodeAnnouncement {
				m := signNode(t, kp, 1)
				m.Timestamp++
				return m
			},
			outcome: Reply,
			cause:   ErrInvalidSignature,
		},
		{
			name: "signed by another key",
			build: func() *lnwire.NodeAnnouncement {
				m := signNode(t, kp, 1)
				m.NodeID = newKey(t).PubKey()
				return m
			},
			outcome: Reply,
			cause:   ErrInvalidSignature,
		},
		{
			name: "not a curve point",
			build: func() *lnwire.NodeAnnouncement {
				m := signNode(t, kp, 1)
				m.NodeID = lnwire.PubKey{0x05}
				return m
			},
			outcome: Reply,
			cause:   ErrInvalidPubKey,
		},
		{
			name:    "blacklisted",
			build:   func() *lnwire.NodeAnnouncement { return signNode(t, blacklisted, 1) },
			outcome: Reply,
			cause:   ErrBlacklisted,
		},
		{
			name: "truncated address",
			build: func() *lnwire.NodeAnnouncement {
				m := signNode(t, kp, 1)
				m.Addresses = []byte{1, 10, 0}
				resignNode(t, kp, m)
				return m
			},
			outcome: Fatal,
			cause:   ErrMalformedAddresses,
		},
	}

	repo := NewMemory()
	repo.Blacklist(blacklisted.PubKey())
	v := NewValidator(mainnetSet(t), repo)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.NodeAnnouncement(tt.build())
			if tt.cause == nil {
				assert.NoError(t, err)
				return
			}
			requireOutcome(t, err, tt.outcome, tt.cause)
		})
	}
}

func TestValidateChannelAnnouncement(t *testing.T) {
	chain := mainnet(t)
	testnet, ok := lnwire.ChainHashFor(lnwire.Testnet)
	require.True(t, ok)

	repo := NewMemory()
	v := NewValidator(mainnetSet(t), repo)

	keys := newChannelKeys(t)
	require.NoError(t, v.ChannelAnnouncement(signChannel(t, chain, scid(1, 1), keys)))

	t.Run("bitcoin signature swapped", func(t *testing.T) {
		m := signChannel(t, chain, scid(1, 1), keys)
		m.BitcoinSig1, m.BitcoinSig2 = m.BitcoinSig2, m.BitcoinSig1
		requireOutcome(t, v.ChannelAnnouncement(m), Reply, ErrInvalidSignature)
	})

	t.Run("unknown chain", func(t *testing.T) {
		m := signChannel(t, testnet, scid(1, 1), keys)
		requireOutcome(t, v.ChannelAnnouncement(m), Reply, ErrUnknownChain)
	})

	t.Run("bad bitcoin key", func(t *testing.T) {
		m := signChannel(t, chain, scid(1, 1), keys)
		m.BitcoinKey2 = lnwire.PubKey{0x05}
		requireOutcome(t, v.ChannelAnnouncement(m), Reply, ErrInvalidPubKey)
	})

	t.Run("blacklisted endpoint", func(t *testing.T) {
		other := newChannelKeys(t)
		repo.Blacklist(other.node2.PubKey())
		m := signChannel(t, chain, scid(2, 1), other)
		requireOutcome(t, v.ChannelAnnouncement(m), Reply, ErrBlacklisted)
	})
}

func TestValidateChannelUpdate(t *testing.T) {
	chain := mainnet(t)
	repo := NewMemory()
	v := NewValidator(mainnetSet(t), repo)

	keys := newChannelKeys(t)
	id := scid(42, 7)
	repo.UpsertChannel(ChannelFromAnnouncement(signChannel(t, chain, id, keys)))

	ch, err := v.ChannelUpdate(signUpdate(t, chain, id, 0, 1, keys.node1))
	require.NoError(t, err)
	assert.Equal(t, id, ch.ShortChannelID)

	_, err = v.ChannelUpdate(signUpdate(t, chain, id, 1, 1, keys.node2))
	require.NoError(t, err)

	_, err = v.ChannelUpdate(signUpdate(t, chain, id, 1, 1, keys.node1))
	requireOutcome(t, err, Reply, ErrInvalidSignature)

	_, err = v.ChannelUpdate(signUpdate(t, chain, scid(43, 1), 0, 1, keys.node1))
	requireOutcome(t, err, Drop, ErrUnknownChannel)

	signet, ok := lnwire.ChainHashFor(lnwire.Signet)
	require.True(t, ok)
	_, err = v.ChannelUpdate(signUpdate(t, signet, id, 0, 1, keys.node1))
	requireOutcome(t, err, Reply, ErrUnknownChain)
}

func TestValidateTimestampFilter(t *testing.T) {
	v := NewValidator(mainnetSet(t), NewMemory())
	assert.NoError(t, v.TimestampFilter(&lnwire.GossipTimestampFilter{ChainHash: mainnet(t)}))

	regtest, ok := lnwire.ChainHashFor(lnwire.Regtest)
	require.True(t, ok)
	requireOutcome(t, v.TimestampFilter(&lnwire.GossipTimestampFilter{ChainHash: regtest}), Drop, ErrUnknownChain)
}

func TestValidationErrorMessage(t *testing.T) {
	err := invalid(Fatal, lnwire.MsgNodeAnnouncement, ErrMalformedAddresses)
	assert.Equal(t, "invalid node_announcement: malformed address list", err.Error())
	assert.Equal(t, "fatal", err.Outcome.String())
}

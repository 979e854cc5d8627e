package gossip

import (
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/peer"
	"github.com/opd-ai/lnpeer/transport"
)

func newKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func mainnet(t *testing.T) lnwire.ChainHash {
	t.Helper()
	h, ok := lnwire.ChainHashFor(lnwire.Mainnet)
	require.True(t, ok)
	return h
}

func mainnetSet(t *testing.T) lnwire.ChainSet {
	t.Helper()
	set, err := lnwire.NewChainSet(lnwire.Mainnet)
	require.NoError(t, err)
	return set
}

func signNode(t *testing.T, kp *crypto.KeyPair, timestamp uint32) *lnwire.NodeAnnouncement {
	t.Helper()
	addr, err := lnwire.NewNetAddress("203.0.113.7:9735")
	require.NoError(t, err)
	raw, err := lnwire.EncodeAddresses([]lnwire.NetAddress{addr})
	require.NoError(t, err)
	alias, err := lnwire.NewAlias("test-node")
	require.NoError(t, err)

	m := &lnwire.NodeAnnouncement{
		Timestamp: timestamp,
		NodeID:    kp.PubKey(),
		RGBColor:  lnwire.RGB{0x10, 0x20, 0x30},
		Alias:     alias,
		Addresses: raw,
	}
	resignNode(t, kp, m)
	return m
}

func resignNode(t *testing.T, kp *crypto.KeyPair, m *lnwire.NodeAnnouncement) {
	t.Helper()
	data, err := m.DataToSign()
	require.NoError(t, err)
	m.Signature, err = crypto.SignMessage(kp.Private, data)
	require.NoError(t, err)
}

// channelKeys are the four keys behind one channel announcement.
type channelKeys struct {
	node1, node2, btc1, btc2 *crypto.KeyPair
}

func newChannelKeys(t *testing.T) channelKeys {
	return channelKeys{node1: newKey(t), node2: newKey(t), btc1: newKey(t), btc2: newKey(t)}
}

func signChannel(t *testing.T, chain lnwire.ChainHash, scid lnwire.ShortChannelID, k channelKeys) *lnwire.ChannelAnnouncement {
	t.Helper()
	m := &lnwire.ChannelAnnouncement{
		ChainHash:      chain,
		ShortChannelID: scid,
		NodeID1:        k.node1.PubKey(),
		NodeID2:        k.node2.PubKey(),
		BitcoinKey1:    k.btc1.PubKey(),
		BitcoinKey2:    k.btc2.PubKey(),
	}
	data, err := m.DataToSign()
	require.NoError(t, err)
	for _, s := range []struct {
		sig *lnwire.Sig
		kp  *crypto.KeyPair
	}{
		{&m.NodeSig1, k.node1}, {&m.NodeSig2, k.node2},
		{&m.BitcoinSig1, k.btc1}, {&m.BitcoinSig2, k.btc2},
	} {
		*s.sig, err = crypto.SignMessage(s.kp.Private, data)
		require.NoError(t, err)
	}
	return m
}

func signUpdate(t *testing.T, chain lnwire.ChainHash, scid lnwire.ShortChannelID, direction uint8, timestamp uint32, signer *crypto.KeyPair) *lnwire.ChannelUpdate {
	t.Helper()
	m := &lnwire.ChannelUpdate{
		ChainHash:                 chain,
		ShortChannelID:            scid,
		Timestamp:                 timestamp,
		ChannelFlags:              direction & lnwire.ChanUpdateDirection,
		CltvExpiryDelta:           40,
		HtlcMinimumMsat:           1000,
		FeeBaseMsat:               1000,
		FeeProportionalMillionths: 1,
	}
	data, err := m.DataToSign()
	require.NoError(t, err)
	m.Signature, err = crypto.SignMessage(signer.Private, data)
	require.NoError(t, err)
	return m
}

// storeChannel adds c and requires it to be stored without a conflict.
func storeChannel(t *testing.T, repo Repository, c *Channel) {
	t.Helper()
	conflict, err := repo.AddChannel(c)
	require.NoError(t, err)
	require.Empty(t, conflict)
}

func scid(block uint32, tx uint32) lnwire.ShortChannelID {
	return lnwire.ShortChannelID{BlockHeight: block, TxIndex: tx}
}

// recorder is a processor that collects messages for assertions.
type recorder struct {
	name string
	seen chan lnwire.Message
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, seen: make(chan lnwire.Message, 64)}
}

func (r *recorder) Name() string           { return r.name }
func (r *recorder) IsHandshakeAware() bool { return true }

func (r *recorder) Handle(_ context.Context, _ *peer.Peer, msg lnwire.Message) (peer.Result, error) {
	select {
	case r.seen <- msg:
	default:
	}
	return peer.Stop, nil
}

func (r *recorder) register(reg *peer.Registry, types ...lnwire.MessageType) {
	reg.Register(r.name, func() peer.Processor { return r }, types...)
}

func (r *recorder) next(t *testing.T) lnwire.Message {
	t.Helper()
	select {
	case msg := <-r.seen:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (r *recorder) requireQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-r.seen:
		t.Fatalf("unexpected %s", msg.MsgType())
	case <-time.After(d):
	}
}

func coreRegistry() *peer.Registry {
	reg := peer.NewRegistry()
	peer.RegisterCore(reg, peer.PingConfig{Interval: time.Hour})
	return reg
}

// link is an outbound peer a connected to an inbound peer b over net.Pipe.
type link struct {
	a, b *peer.Peer
}

func connect(t *testing.T, cfgA, cfgB peer.Config, regA, regB *peer.Registry) *link {
	t.Helper()
	if cfgA.LocalKey == nil {
		cfgA.LocalKey = newKey(t)
	}
	if cfgB.LocalKey == nil {
		cfgB.LocalKey = newKey(t)
	}
	if cfgA.Chains == nil {
		cfgA.Chains = mainnetSet(t)
	}
	if cfgB.Chains == nil {
		cfgB.Chains = mainnetSet(t)
	}

	left, right := net.Pipe()
	a, err := peer.New(transport.NewConn(left), peer.Outbound, cfgB.LocalKey.Public, cfgA, regA)
	require.NoError(t, err)
	b, err := peer.New(transport.NewConn(right), peer.Inbound, nil, cfgB, regB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-a.Done()
		<-b.Done()
	})

	require.Eventually(t, func() bool {
		return a.InitComplete() && b.InitComplete()
	}, 5*time.Second, 5*time.Millisecond)
	return &link{a: a, b: b}
}

// staticPeers is a PeerSet over a fixed slice.
type staticPeers []*peer.Peer

func (s staticPeers) Peers() []*peer.Peer { return s }

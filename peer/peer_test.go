package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/events"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/tlv"
	"github.com/opd-ai/lnpeer/transport"
)

func TestHandshakeAndInitOverPipe(t *testing.T) {
	bus := events.NewBus()
	sub, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	keyA, keyB := newKey(t), newKey(t)
	features := lnwire.NewFeatureVector(lnwire.GossipQueriesOptional)
	cfgA := Config{LocalKey: keyA, Chains: mainnetChains(t), Features: features, Events: bus}
	cfgB := Config{LocalKey: keyB, Chains: mainnetChains(t), Events: bus}

	pr := runPair(t, cfgA, cfgB, coreRegistry(), coreRegistry())
	pr.waitInit(t)

	idOnA, ok := pr.a.NodeID()
	require.True(t, ok)
	assert.Equal(t, keyB.PubKey(), idOnA)
	idOnB, ok := pr.b.NodeID()
	require.True(t, ok)
	assert.Equal(t, keyA.PubKey(), idOnB)

	assert.True(t, pr.b.RemoteFeatures().IsSet(lnwire.GossipQueriesOptional))
	assert.Equal(t, mainnetChains(t).Hashes(), pr.a.RemoteChains())

	seen := map[string]int{}
	timeout := time.After(5 * time.Second)
	for seen["init_completed"] < 2 {
		select {
		case e := <-sub:
			seen[e.EventName()]++
		case <-timeout:
			t.Fatalf("events seen: %v", seen)
		}
	}
	assert.Equal(t, 2, seen["handshake_completed"])
}

func TestPingPongOverPipe(t *testing.T) {
	pongs := newRecorder("pongs", Stop)
	pr := runPair(t, Config{}, Config{}, handshakeOnly(pongs, lnwire.MsgPong), coreRegistry())
	pr.waitInit(t)

	require.NoError(t, pr.a.Send(&lnwire.Ping{NumPongBytes: 10, PaddingBytes: make([]byte, 3)}))
	pong, ok := waitMessage(t, pongs.seen).(*lnwire.Pong)
	require.True(t, ok)
	assert.Equal(t, make([]byte, 10), pong.PongBytes)
}

func TestPeriodicPingOverPipe(t *testing.T) {
	pings := newRecorder("pings", Stop)
	regA := NewRegistry()
	RegisterCore(regA, PingConfig{Interval: 20 * time.Millisecond})

	pr := runPair(t, Config{}, Config{}, regA, handshakeOnly(pings, lnwire.MsgPing))
	pr.waitInit(t)

	ping, ok := waitMessage(t, pings.seen).(*lnwire.Ping)
	require.True(t, ok)
	assert.Less(t, int(ping.NumPongBytes), 65531)

	var pp *PingProcessor
	for _, proc := range pr.a.procs.all {
		if p, ok := proc.(*PingProcessor); ok {
			pp = p
		}
	}
	require.NotNil(t, pp)
	assert.GreaterOrEqual(t, pp.Outstanding(), 1)
}

func TestHandshakeTimeout(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	p, err := New(transport.NewConn(left), Inbound, nil,
		Config{LocalKey: newKey(t), HandshakeTimeout: 50 * time.Millisecond}, coreRegistry())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrHandshakeTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not fire")
	}
	assert.False(t, p.HandshakeComplete())
}

func TestHandshakeGarbageIsFatal(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()

	p, err := New(transport.NewConn(left), Inbound, nil, Config{LocalKey: newKey(t)}, coreRegistry())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	_, err = right.Write(make([]byte, 50))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.False(t, p.HandshakeComplete())
	case <-time.After(5 * time.Second):
		t.Fatal("peer kept running after a bad act")
	}
}

func TestIncompatibleChainsDisconnect(t *testing.T) {
	testnet, err := lnwire.NewChainSet(lnwire.Testnet)
	require.NoError(t, err)

	pr := runPair(t, Config{Chains: mainnetChains(t)}, Config{Chains: testnet}, coreRegistry(), coreRegistry())

	select {
	case err := <-pr.aErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer a kept running")
	}
	select {
	case err := <-pr.bErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer b kept running")
	}
}

func TestDispatchGating(t *testing.T) {
	t.Run("message before handshake", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		err := p.dispatch(context.Background(), &lnwire.Ping{})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("message before init", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		p.completeHandshake(newKey(t).PubKey())
		err := p.dispatch(context.Background(), &lnwire.Ping{})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("handshake act after handshake", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		established(t, p)
		err := p.dispatch(context.Background(), &lnwire.HandshakeAct{Data: []byte{0}})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("unknown even type", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		established(t, p)
		err := p.dispatch(context.Background(), &lnwire.Unknown{Type: 32768})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})

	t.Run("unknown odd type", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		established(t, p)
		assert.NoError(t, p.dispatch(context.Background(), &lnwire.Unknown{Type: 32769}))
	})

	t.Run("known type without processor", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		established(t, p)
		assert.NoError(t, p.dispatch(context.Background(), &lnwire.AnnouncementSignatures{}))
	})

	t.Run("duplicate init", func(t *testing.T) {
		p := newTestPeer(t, coreRegistry())
		established(t, p)
		err := p.dispatch(context.Background(), &lnwire.Init{})
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestDispatchStopAndContinue(t *testing.T) {
	first := newRecorder("first", Continue)
	second := newRecorder("second", Stop)
	third := newRecorder("third", Continue)

	reg := NewRegistry()
	reg.Register(first.name, first.factory(), lnwire.MsgGossipTimestampFilter)
	reg.Register(second.name, second.factory(), lnwire.MsgGossipTimestampFilter)
	reg.Register(third.name, third.factory(), lnwire.MsgGossipTimestampFilter)
	assert.Equal(t, []string{"first", "second", "third"}, reg.Names())

	p := newTestPeer(t, reg)
	established(t, p)

	msg := &lnwire.GossipTimestampFilter{}
	require.NoError(t, p.dispatch(context.Background(), msg))
	assert.Same(t, msg, <-first.seen)
	assert.Same(t, msg, <-second.seen)
	assert.Empty(t, third.seen)
}

func TestHandshakeAwareSkippedBeforeHandshake(t *testing.T) {
	rec := newRecorder("aware", Continue)
	reg := NewRegistry()
	reg.Register(rec.name, rec.factory(), lnwire.MsgHandshakeAct)

	p := newTestPeer(t, reg)
	require.NoError(t, p.dispatch(context.Background(), &lnwire.HandshakeAct{Data: []byte{0}}))
	assert.Empty(t, rec.seen)
}

func TestInitNegotiation(t *testing.T) {
	t.Run("unknown required feature", func(t *testing.T) {
		p := newTestPeer(t, nil)
		p.completeHandshake(newKey(t).PubKey())
		h := NewHandshakeProcessor()
		_, err := h.Handle(context.Background(), p, &lnwire.Init{Features: lnwire.NewFeatureVector(100)})
		assert.ErrorIs(t, err, ErrIncompatiblePeer)
	})

	t.Run("unknown optional feature", func(t *testing.T) {
		p := newTestPeer(t, nil)
		p.completeHandshake(newKey(t).PubKey())
		h := NewHandshakeProcessor()
		res, err := h.Handle(context.Background(), p, &lnwire.Init{Features: lnwire.NewFeatureVector(101)})
		require.NoError(t, err)
		assert.Equal(t, Continue, res)
		assert.True(t, p.initReceived.Load())
	})

	t.Run("no common chain", func(t *testing.T) {
		p := newTestPeer(t, nil)
		p.completeHandshake(newKey(t).PubKey())
		testnet, ok := lnwire.ChainHashFor(lnwire.Testnet)
		require.True(t, ok)

		msg := &lnwire.Init{Extension: tlv.NewStream(lnwire.NewNetworksRecord(testnet))}
		_, err := NewHandshakeProcessor().Handle(context.Background(), p, msg)
		assert.ErrorIs(t, err, ErrIncompatiblePeer)
	})

	t.Run("connection error", func(t *testing.T) {
		p := newTestPeer(t, nil)
		res, err := NewHandshakeProcessor().Handle(context.Background(), p, lnwire.NewConnectionError("bye"))
		assert.NoError(t, err)
		assert.Equal(t, Stop, res)
	})

	t.Run("channel error", func(t *testing.T) {
		p := newTestPeer(t, nil)
		_, err := NewHandshakeProcessor().Handle(context.Background(), p, &lnwire.Error{ChannelID: lnwire.ChannelID{1}})
		assert.NoError(t, err)
	})
}

func TestLocalInit(t *testing.T) {
	p := newTestPeer(t, nil)
	msg := localInit(p)

	chains, ok := msg.Networks()
	require.True(t, ok)
	assert.Equal(t, mainnetChains(t).Hashes(), chains)

	addr, ok := msg.RemoteAddr()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:40000", addr.String())

	raw, err := lnwire.EncodeMessage(msg)
	require.NoError(t, err)
	decoded, err := lnwire.DecodeMessage(raw)
	require.NoError(t, err)
	again, err := lnwire.EncodeMessage(decoded)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestSendAfterStop(t *testing.T) {
	p := newTestPeer(t, nil)
	close(p.done)
	assert.ErrorIs(t, p.Send(&lnwire.Ping{}), ErrPeerClosed)
	// the outbox has room, so a select over both cases would pick at random
	for i := 0; i < 100; i++ {
		require.False(t, p.TrySend(&lnwire.Ping{}))
	}
	assert.Empty(t, p.outbox)
}

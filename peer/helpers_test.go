package peer

import (
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/noise"
	"github.com/opd-ai/lnpeer/transport"
)

// nopConn satisfies Conn for processor unit tests that never run the peer.
type nopConn struct{}

func (nopConn) ReadAct(int) ([]byte, error)     { return nil, net.ErrClosed }
func (nopConn) WriteRaw([]byte) error           { return nil }
func (nopConn) ReadMessage() ([]byte, error)    { return nil, net.ErrClosed }
func (nopConn) WriteMessage([]byte) error       { return nil }
func (nopConn) SetSession(*noise.Session) error { return nil }
func (nopConn) Close() error                    { return nil }
func (nopConn) LocalAddr() net.Addr             { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9735} }
func (nopConn) RemoteAddr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 40000} }

func newKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func mainnetChains(t *testing.T) lnwire.ChainSet {
	t.Helper()
	set, err := lnwire.NewChainSet(lnwire.Mainnet)
	require.NoError(t, err)
	return set
}

// newTestPeer builds an inbound peer over nopConn whose outbox can be read
// directly.
func newTestPeer(t *testing.T, reg *Registry) *Peer {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	p, err := New(nopConn{}, Inbound, nil, Config{LocalKey: newKey(t), Chains: mainnetChains(t)}, reg)
	require.NoError(t, err)
	return p
}

// established marks a test peer as past handshake and init.
func established(t *testing.T, p *Peer) lnwire.PubKey {
	t.Helper()
	id := newKey(t).PubKey()
	p.completeHandshake(id)
	p.markInitReceived(nil, nil)
	return id
}

func nextSent(t *testing.T, p *Peer) lnwire.Message {
	t.Helper()
	select {
	case item := <-p.outbox:
		require.NotNil(t, item.msg)
		return item.msg
	default:
		t.Fatal("nothing queued")
		return nil
	}
}

func requireNothingSent(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case item := <-p.outbox:
		t.Fatalf("unexpected %v queued", item.msg)
	default:
	}
}

// recorder is a handshake aware processor that forwards what it sees.
type recorder struct {
	name   string
	result Result
	seen   chan lnwire.Message
}

func newRecorder(name string, result Result) *recorder {
	return &recorder{name: name, result: result, seen: make(chan lnwire.Message, 16)}
}

func (r *recorder) Name() string           { return r.name }
func (r *recorder) IsHandshakeAware() bool { return true }

func (r *recorder) Handle(_ context.Context, _ *Peer, msg lnwire.Message) (Result, error) {
	select {
	case r.seen <- msg:
	default:
	}
	return r.result, nil
}

func (r *recorder) factory() Factory {
	return func() Processor { return r }
}

func waitMessage(t *testing.T, ch <-chan lnwire.Message) lnwire.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// pair connects an outbound peer a to an inbound peer b over net.Pipe and
// runs both until the test ends.
type pair struct {
	a, b       *Peer
	aErr, bErr chan error
}

func runPair(t *testing.T, cfgA, cfgB Config, regA, regB *Registry) *pair {
	t.Helper()
	left, right := net.Pipe()

	if cfgA.LocalKey == nil {
		cfgA.LocalKey = newKey(t)
	}
	if cfgB.LocalKey == nil {
		cfgB.LocalKey = newKey(t)
	}

	a, err := New(transport.NewConn(left), Outbound, cfgB.LocalKey.Public, cfgA, regA)
	require.NoError(t, err)
	b, err := New(transport.NewConn(right), Inbound, nil, cfgB, regB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pr := &pair{a: a, b: b, aErr: make(chan error, 1), bErr: make(chan error, 1)}
	go func() { pr.aErr <- a.Run(ctx) }()
	go func() { pr.bErr <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-a.Done()
		<-b.Done()
	})
	return pr
}

func (pr *pair) waitInit(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return pr.a.InitComplete() && pr.b.InitComplete()
	}, 5*time.Second, 5*time.Millisecond)
}

// handshakeOnly registers the handshake processor followed by rec.
func handshakeOnly(rec *recorder, types ...lnwire.MessageType) *Registry {
	reg := NewRegistry()
	reg.Register(HandshakeProcessorName, func() Processor { return NewHandshakeProcessor() },
		lnwire.MsgHandshakeAct, lnwire.MsgInit, lnwire.MsgError, lnwire.MsgWarning)
	reg.Register(rec.name, rec.factory(), types...)
	return reg
}

func coreRegistry() *Registry {
	reg := NewRegistry()
	RegisterCore(reg, PingConfig{Interval: time.Hour})
	return reg
}

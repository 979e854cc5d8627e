package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/lnpeer/clock"
	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/events"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/metrics"
	"github.com/opd-ai/lnpeer/noise"
)

// Default timing and sizing.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultSendQueueSize    = 64

	// errorSendTimeout bounds the final error write before a disconnect.
	errorSendTimeout = 2 * time.Second
)

// Direction records which side opened the connection.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Conn is the byte pipe a peer runs over. *transport.Conn implements it.
type Conn interface {
	ReadAct(n int) ([]byte, error)
	WriteRaw(b []byte) error
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	SetSession(s *noise.Session) error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Close() error
}

// Config is shared by every peer of a node.
type Config struct {
	LocalKey *crypto.KeyPair
	Features lnwire.FeatureVector
	// Chains are the chains we gossip about, sent in init networks.
	Chains           lnwire.ChainSet
	HandshakeTimeout time.Duration
	SendQueueSize    int
	// Admit is consulted with the authenticated node id once the handshake
	// completes. A non-nil error disconnects the peer.
	Admit   func(nodeID lnwire.PubKey) error
	Events  events.Publisher
	Metrics *metrics.Metrics
	Clock   clock.TimeProvider
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.Events == nil {
		c.Events = events.Discard{}
	}
	if c.Clock == nil {
		c.Clock = clock.Default{}
	}
	return c
}

// outbound is one queued write. act items are written raw; session, when
// set, keys the transport right after the act is on the wire.
type outbound struct {
	msg     lnwire.Message
	act     []byte
	session *noise.Session
	written func()
	done    chan error
}

// Peer is the context of one connection: direction, endpoints, handshake
// and init progress and the authenticated node id.
type Peer struct {
	id        string
	direction Direction
	conn      Conn
	cfg       Config
	// remoteKey is the responder's static key, known up front when dialing.
	remoteKey *btcec.PublicKey

	procs table

	handshakeComplete atomic.Bool
	initSent          atomic.Bool
	initReceived      atomic.Bool
	initOnce          sync.Once

	mu             sync.RWMutex
	nodeID         lnwire.PubKey
	remoteFeatures lnwire.FeatureVector
	remoteChains   []lnwire.ChainHash

	// actSize is the length of the next handshake act to read. It is set
	// by the handshake processor on the read goroutine.
	actSize int

	outbox        chan outbound
	handshakeDone chan struct{}
	done          chan struct{}

	runMu   sync.Mutex
	runCtx  context.Context
	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool

	log *logrus.Entry
}

// New creates a peer over conn. remoteKey is required for outbound peers.
func New(conn Conn, dir Direction, remoteKey *btcec.PublicKey, cfg Config, reg *Registry) (*Peer, error) {
	if cfg.LocalKey == nil {
		return nil, errors.New("local key required")
	}
	if dir == Outbound && remoteKey == nil {
		return nil, errors.New("outbound peer requires the remote static key")
	}
	cfg = cfg.withDefaults()

	p := &Peer{
		id:            uuid.NewString(),
		direction:     dir,
		conn:          conn,
		cfg:           cfg,
		remoteKey:     remoteKey,
		procs:         reg.instantiate(),
		outbox:        make(chan outbound, cfg.SendQueueSize),
		handshakeDone: make(chan struct{}),
		done:          make(chan struct{}),
	}
	p.log = logrus.WithFields(logrus.Fields{
		"package":   "peer",
		"peer":      p.id,
		"direction": dir.String(),
		"remote":    addrString(conn.RemoteAddr()),
	})
	return p, nil
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ID returns the connection id.
func (p *Peer) ID() string { return p.id }

// Direction returns who opened the connection.
func (p *Peer) Direction() Direction { return p.direction }

// RemoteAddr returns the peer's endpoint.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// LocalAddr returns our endpoint.
func (p *Peer) LocalAddr() net.Addr { return p.conn.LocalAddr() }

// Config returns the node-wide peer configuration.
func (p *Peer) Config() Config { return p.cfg }

// Log returns the peer's log entry.
func (p *Peer) Log() *logrus.Entry { return p.log }

// HandshakeComplete reports whether the transport is keyed.
func (p *Peer) HandshakeComplete() bool { return p.handshakeComplete.Load() }

// InitComplete reports whether init was both sent and received.
func (p *Peer) InitComplete() bool { return p.initSent.Load() && p.initReceived.Load() }

// NodeID returns the authenticated node id, available once the handshake
// completed.
func (p *Peer) NodeID() (lnwire.PubKey, bool) {
	if !p.HandshakeComplete() {
		return lnwire.PubKey{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nodeID, true
}

// RemoteFeatures returns the combined feature vector from the peer's init.
func (p *Peer) RemoteFeatures() lnwire.FeatureVector {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteFeatures
}

// RemoteChains returns the chains the peer listed in init networks. Nil
// means the peer stated no preference.
func (p *Peer) RemoteChains() []lnwire.ChainHash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remoteChains
}

// Done is closed when the peer has stopped.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Send queues msg for the writer. It blocks while the queue is full.
func (p *Peer) Send(msg lnwire.Message) error {
	return p.enqueue(context.Background(), outbound{msg: msg})
}

// TrySend queues msg only if the queue has room.
func (p *Peer) TrySend(msg lnwire.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.outbox <- outbound{msg: msg}:
		return true
	default:
		return false
	}
}

// SendContext is Send bounded by ctx.
func (p *Peer) SendContext(ctx context.Context, msg lnwire.Message) error {
	return p.enqueue(ctx, outbound{msg: msg})
}

func (p *Peer) enqueue(ctx context.Context, item outbound) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.outbox <- item:
		return nil
	case <-p.done:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendSync queues item and waits until the writer has handled it.
func (p *Peer) sendSync(ctx context.Context, item outbound) error {
	item.done = make(chan error, 1)
	if err := p.enqueue(ctx, item); err != nil {
		return err
	}
	select {
	case err := <-item.done:
		return err
	case <-p.done:
		return ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect stops the peer. It is safe to call at any time.
func (p *Peer) Disconnect() {
	p.runMu.Lock()
	cancel := p.cancel
	p.runMu.Unlock()
	if cancel != nil {
		cancel()
		return
	}
	_ = p.conn.Close()
}

// Run drives the connection until it fails or ctx is cancelled. The read
// loop, the writer, the handshake watchdog and every runner share one
// errgroup; the first failure cancels the rest and closes the connection.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	p.runMu.Lock()
	if p.started {
		p.runMu.Unlock()
		return errors.New("peer already running")
	}
	p.started = true
	p.runCtx, p.group, p.cancel = gctx, g, cancel
	p.runMu.Unlock()

	p.cfg.Metrics.PeerConnected(1)
	defer p.cfg.Metrics.PeerConnected(-1)

	p.log.WithField("function", "Run").Info("Peer connected")

	g.Go(func() error {
		<-gctx.Done()
		return p.conn.Close()
	})
	g.Go(func() error { return p.writeLoop(gctx) })
	g.Go(func() error { return p.watchdog(gctx) })
	g.Go(func() error { return p.readLoop(gctx) })

	err := g.Wait()
	close(p.done)

	fields := logrus.Fields{"function": "Run"}
	if err != nil {
		fields["error"] = err.Error()
	}
	if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrHandshakeTimeout) {
		p.cfg.Metrics.RecordViolation(ViolationReason(err))
	}
	p.log.WithFields(fields).Info("Peer disconnected")
	return err
}

// watchdog fails the connection if the handshake does not finish in time.
func (p *Peer) watchdog(ctx context.Context) error {
	timer := time.NewTimer(p.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-p.handshakeDone:
		return nil
	case <-ctx.Done():
		return nil
	case <-timer.C:
		p.cfg.Metrics.RecordHandshake(false)
		return fmt.Errorf("%w after %s", ErrHandshakeTimeout, p.cfg.HandshakeTimeout)
	}
}

func (p *Peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-p.outbox:
			err := p.write(item)
			if item.done != nil {
				item.done <- err
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (p *Peer) write(item outbound) error {
	if item.msg == nil {
		if err := p.conn.WriteRaw(item.act); err != nil {
			return err
		}
		if item.session != nil {
			return p.conn.SetSession(item.session)
		}
		return nil
	}

	raw, err := lnwire.EncodeMessage(item.msg)
	if err != nil {
		// a message we cannot encode is our bug, not the connection's
		p.log.WithFields(logrus.Fields{
			"function": "write",
			"type":     item.msg.MsgType().String(),
			"error":    err.Error(),
		}).Error("Dropping unencodable message")
		return nil
	}
	if err := p.conn.WriteMessage(raw); err != nil {
		return err
	}
	p.cfg.Metrics.RecordSent(item.msg.MsgType().String())
	if item.written != nil {
		item.written()
	}
	return nil
}

func (p *Peer) readLoop(ctx context.Context) error {
	if err := p.start(ctx); err != nil {
		return p.fail(ctx, err)
	}

	for {
		msg, err := p.readNext()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return p.fail(ctx, err)
		}
		if err := p.dispatch(ctx, msg); err != nil {
			return p.fail(ctx, err)
		}
	}
}

// start runs every Starter that does not wait for the handshake.
func (p *Peer) start(ctx context.Context) error {
	for _, proc := range p.procs.all {
		s, ok := proc.(Starter)
		if !ok || proc.IsHandshakeAware() {
			continue
		}
		if err := s.Start(ctx, p); err != nil {
			return fmt.Errorf("start %s: %w", proc.Name(), err)
		}
	}
	return nil
}

func (p *Peer) readNext() (lnwire.Message, error) {
	if !p.HandshakeComplete() {
		if p.actSize == 0 {
			return nil, violation("no handshake act expected")
		}
		act, err := p.conn.ReadAct(p.actSize)
		if err != nil {
			return nil, err
		}
		return &lnwire.HandshakeAct{Data: act}, nil
	}

	raw, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg, err := lnwire.DecodeMessage(raw)
	if err != nil {
		return nil, violation("decode: %v", err)
	}
	p.cfg.Metrics.RecordReceived(msg.MsgType().String())
	return msg, nil
}

// dispatch gates msg on the connection state and hands it to the
// processors registered for its type, in registration order.
func (p *Peer) dispatch(ctx context.Context, msg lnwire.Message) error {
	t := msg.MsgType()
	switch {
	case !p.HandshakeComplete() && t != lnwire.MsgHandshakeAct:
		return violation("%s before handshake completed", t)
	case p.HandshakeComplete() && t == lnwire.MsgHandshakeAct:
		return violation("handshake act after handshake completed")
	case p.HandshakeComplete() && !p.initReceived.Load() && !allowedBeforeInit(t):
		return violation("%s before init", t)
	}

	procs := p.procs.byType[t]
	if len(procs) == 0 {
		if _, unknown := msg.(*lnwire.Unknown); unknown && !t.IsOdd() {
			return violation("unknown even message type %d", uint16(t))
		}
		p.log.WithFields(logrus.Fields{
			"function": "dispatch",
			"type":     t.String(),
		}).Debug("No processor for message, ignoring")
		return nil
	}

	for _, proc := range procs {
		if proc.IsHandshakeAware() && !p.HandshakeComplete() {
			continue
		}
		res, err := proc.Handle(ctx, p, msg)
		if err != nil {
			return fmt.Errorf("%s: %w", proc.Name(), err)
		}
		if res == Stop {
			break
		}
	}
	return nil
}

func allowedBeforeInit(t lnwire.MessageType) bool {
	return t == lnwire.MsgInit || t == lnwire.MsgError || t == lnwire.MsgWarning
}

// fail sends a connection-level error for protocol violations and
// incompatible peers, when the transport allows it, and returns err for the
// errgroup.
func (p *Peer) fail(ctx context.Context, err error) error {
	notify := errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrIncompatiblePeer)
	if notify && p.HandshakeComplete() {
		sendCtx, cancel := context.WithTimeout(ctx, errorSendTimeout)
		defer cancel()
		_ = p.sendSync(sendCtx, outbound{msg: lnwire.NewConnectionError("%v", err)})
	}
	return err
}

// completeHandshake records the authenticated node id and starts the
// runners. It is called on the read goroutine.
func (p *Peer) completeHandshake(nodeID lnwire.PubKey) {
	p.mu.Lock()
	p.nodeID = nodeID
	p.mu.Unlock()
	p.handshakeComplete.Store(true)
	close(p.handshakeDone)

	p.cfg.Metrics.RecordHandshake(true)
	p.cfg.Events.Publish(events.HandshakeCompleted{
		PeerID:   p.id,
		NodeID:   nodeID,
		Outbound: p.direction == Outbound,
	})

	p.runMu.Lock()
	ctx, g := p.runCtx, p.group
	p.runMu.Unlock()
	if g == nil {
		return
	}
	for _, proc := range p.procs.all {
		r, ok := proc.(Runner)
		if !ok || !proc.IsHandshakeAware() {
			continue
		}
		g.Go(func() error { return r.Run(ctx, p) })
	}
}

// markInitSent and markInitReceived publish InitCompleted once both are set.
// markInitSent runs on the writer goroutine.
func (p *Peer) markInitSent() {
	p.initSent.Store(true)
	p.maybeInitCompleted()
}

func (p *Peer) markInitReceived(features lnwire.FeatureVector, chains []lnwire.ChainHash) {
	p.mu.Lock()
	p.remoteFeatures = features
	p.remoteChains = chains
	p.mu.Unlock()
	p.initReceived.Store(true)
	p.maybeInitCompleted()
}

func (p *Peer) maybeInitCompleted() {
	if !p.InitComplete() {
		return
	}
	p.initOnce.Do(func() {
		nodeID, _ := p.NodeID()
		p.log.WithFields(logrus.Fields{
			"function": "maybeInitCompleted",
			"node_id":  nodeID.String(),
		}).Info("Init exchange complete")
		p.cfg.Events.Publish(events.InitCompleted{
			PeerID:   p.id,
			NodeID:   nodeID,
			Features: p.RemoteFeatures(),
		})
	})
}

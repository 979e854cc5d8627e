// Package node wires the peer engine into a daemon: it accepts and dials
// connections, runs every peer under a shared manager, persists gossip
// through a journal and exposes metrics.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/lnpeer/config"
	"github.com/opd-ai/lnpeer/crypto"
	"github.com/opd-ai/lnpeer/events"
	"github.com/opd-ai/lnpeer/gossip"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/metrics"
	"github.com/opd-ai/lnpeer/peer"
	"github.com/opd-ai/lnpeer/store"
	"github.com/opd-ai/lnpeer/transport"
)

// ErrAlreadyListening is returned by a second call to Listen.
var ErrAlreadyListening = errors.New("node already listening")

// Node is a running Lightning peer endpoint.
type Node struct {
	cfg       *config.Config
	key       *crypto.KeyPair
	chains    lnwire.ChainSet
	bootstrap []config.BootstrapPeer

	store    store.Store
	journal  *gossip.Journal
	gossip   *gossip.Service
	manager  *peer.Manager
	registry *peer.Registry
	peerCfg  peer.Config
	events   *events.Bus
	metrics  *metrics.Metrics

	mu       sync.Mutex
	listener *transport.Listener
	peers    errgroup.Group

	log *logrus.Entry
}

// Open loads or creates the node key and opens the Badger store under
// cfg.DataDir.
func Open(cfg *config.Config) (*Node, error) {
	key, err := config.LoadOrGenerateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenBadger(filepath.Join(cfg.DataDir, "gossip"))
	if err != nil {
		return nil, err
	}
	n, err := New(cfg, key, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return n, nil
}

// New builds a node over st and replays the persisted gossip into memory.
// The node owns st from here on.
func New(cfg *config.Config, key *crypto.KeyPair, st store.Store) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chains, err := cfg.ChainSet()
	if err != nil {
		return nil, err
	}
	bootstrap, err := cfg.Bootstrap()
	if err != nil {
		return nil, err
	}

	journal := gossip.NewJournal(gossip.NewMemory(), st)
	if err := journal.Load(); err != nil {
		return nil, fmt.Errorf("load gossip: %w", err)
	}

	m := metrics.New()
	bus := events.NewBus()
	manager := peer.NewManager(cfg.MaxViolations, m)

	svc := gossip.NewService(gossip.Config{
		Chains:      chains,
		Repository:  journal,
		Peers:       manager,
		Events:      bus,
		Metrics:     m,
		Sync:        cfg.Gossip.Sync,
		SyncBacklog: cfg.Gossip.SyncBacklog,
	})

	reg := peer.NewRegistry()
	peer.RegisterCore(reg, peer.PingConfig{Interval: cfg.PingInterval})
	svc.Register(reg)

	n := &Node{
		cfg:       cfg,
		key:       key,
		chains:    chains,
		bootstrap: bootstrap,
		store:     st,
		journal:   journal,
		gossip:    svc,
		manager:   manager,
		registry:  reg,
		events:    bus,
		metrics:   m,
		peerCfg: peer.Config{
			LocalKey:         key,
			Features:         lnwire.NewFeatureVector(lnwire.GossipQueriesOptional),
			Chains:           chains,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Admit:            manager.Admit,
			Events:           bus,
			Metrics:          m,
		},
		log: logrus.WithFields(logrus.Fields{
			"package": "node",
			"node_id": key.PubKey().String(),
		}),
	}
	n.updateGauges()

	stats := journal.Stats()
	n.log.WithFields(logrus.Fields{
		"function":    "New",
		"nodes":       stats.Nodes,
		"channels":    stats.Channels,
		"blacklisted": stats.Blacklisted,
	}).Info("Loaded gossip")
	return n, nil
}

// NodeID is our public key.
func (n *Node) NodeID() lnwire.PubKey { return n.key.PubKey() }

// Manager returns the peer manager.
func (n *Node) Manager() *peer.Manager { return n.manager }

// Gossip returns the gossip service.
func (n *Node) Gossip() *gossip.Service { return n.gossip }

// Events returns the event bus.
func (n *Node) Events() *events.Bus { return n.events }

// Metrics returns the node metrics.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Listen opens the peer listener. Run calls it when it was not called
// before; calling it first reveals the bound address.
func (n *Node) Listen() (net.Addr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		return nil, ErrAlreadyListening
	}
	ln, err := transport.Listen(n.cfg.Listen)
	if err != nil {
		return nil, err
	}
	n.listener = ln
	return ln.Addr(), nil
}

// Run serves peers until ctx is cancelled, then disconnects every peer
// and flushes the journal.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	ln := n.listener
	n.mu.Unlock()
	if ln == nil {
		if _, err := n.Listen(); err != nil {
			return err
		}
		n.mu.Lock()
		ln = n.listener
		n.mu.Unlock()
	}

	n.log.WithFields(logrus.Fields{
		"function":  "Run",
		"listen":    ln.Addr().String(),
		"chains":    len(n.chains),
		"bootstrap": len(n.bootstrap),
	}).Info("Node starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.acceptLoop(gctx, ln) })
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	g.Go(func() error { return n.flushLoop(gctx) })
	g.Go(func() error { return n.logEvents(gctx) })
	if n.cfg.MetricsAddr != "" {
		srv := metrics.NewServer(n.cfg.MetricsAddr, n.metrics)
		g.Go(func() error { return srv.Run(gctx) })
	}
	for _, bp := range n.bootstrap {
		g.Go(func() error {
			n.keepConnected(gctx, bp)
			return nil
		})
	}

	err := g.Wait()
	n.manager.DisconnectAll()
	_ = n.peers.Wait()

	if ferr := n.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	n.log.WithField("function", "Run").Info("Node stopped")
	return err
}

func (n *Node) acceptLoop(ctx context.Context, ln *transport.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if _, err := n.serve(ctx, conn, peer.Inbound, nil); err != nil {
			n.log.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"remote":   conn.RemoteAddr().String(),
				"error":    err.Error(),
			}).Warn("Dropping inbound connection")
		}
	}
}

// Connect dials a peer and runs it in the background.
func (n *Node) Connect(ctx context.Context, target config.BootstrapPeer) (*peer.Peer, error) {
	if err := n.manager.Admit(target.NodeID); err != nil {
		return nil, err
	}
	remote, err := target.NodeID.Key()
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, target.Addr, n.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	return n.serve(ctx, conn, peer.Outbound, remote)
}

func (n *Node) serve(ctx context.Context, conn *transport.Conn, dir peer.Direction, remote *btcec.PublicKey) (*peer.Peer, error) {
	p, err := peer.New(conn, dir, remote, n.peerCfg, n.registry)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	n.manager.Add(p)
	n.peers.Go(func() error {
		err := p.Run(ctx)
		// filters are per node id; another connection of the node keeps them
		if last := n.manager.Remove(p, err); last {
			id, _ := p.NodeID()
			n.gossip.Repository().ClearTimestampFilters(id)
		}
		return nil
	})
	return p, nil
}

// Flush commits journaled gossip and refreshes the repository gauges.
func (n *Node) Flush() error {
	n.updateGauges()
	if err := n.journal.Flush(); err != nil {
		return fmt.Errorf("flush gossip: %w", err)
	}
	return nil
}

func (n *Node) updateGauges() {
	st := n.journal.Stats()
	n.metrics.UpdateGossip(st.Nodes, st.Channels, st.Blacklisted)
}

func (n *Node) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.Flush(); err != nil {
				n.log.WithFields(logrus.Fields{
					"function": "flushLoop",
					"error":    err.Error(),
				}).Error("Gossip flush failed")
			}
		}
	}
}

func (n *Node) logEvents(ctx context.Context) error {
	sub, unsubscribe := n.events.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-sub:
			n.log.WithFields(logrus.Fields{
				"function": "logEvents",
				"event":    e.EventName(),
			}).Debug("Event")
		}
	}
}

// Close releases the store. Call it after Run returned.
func (n *Node) Close() error {
	return n.store.Close()
}

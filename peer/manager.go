package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/metrics"
)

// DefaultMaxViolations is how many protocol violations a node id may commit
// before it is refused.
const DefaultMaxViolations = 3

// Manager tracks running peers and the violation history of node ids.
type Manager struct {
	maxViolations int
	metrics       *metrics.Metrics

	mu         sync.RWMutex
	peers      map[string]*Peer
	violations map[lnwire.PubKey]int
	banned     map[lnwire.PubKey]struct{}
}

// NewManager creates a manager. maxViolations <= 0 uses the default.
func NewManager(maxViolations int, m *metrics.Metrics) *Manager {
	if maxViolations <= 0 {
		maxViolations = DefaultMaxViolations
	}
	return &Manager{
		maxViolations: maxViolations,
		metrics:       m,
		peers:         make(map[string]*Peer),
		violations:    make(map[lnwire.PubKey]int),
		banned:        make(map[lnwire.PubKey]struct{}),
	}
}

// Admit refuses banned node ids. It is meant for Config.Admit.
func (m *Manager) Admit(nodeID lnwire.PubKey) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.banned[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrBanned, nodeID)
	}
	return nil
}

// Add registers a peer that is about to run.
func (m *Manager) Add(p *Peer) {
	m.mu.Lock()
	m.peers[p.ID()] = p
	m.mu.Unlock()
}

// Remove forgets a stopped peer and records its exit error. Protocol
// violations count against the node id; reaching the limit bans it.
// last reports whether p was the only running connection of its node id,
// and is false for a peer that never completed the handshake.
func (m *Manager) Remove(p *Peer, runErr error) (last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, p.ID())

	nodeID, ok := p.NodeID()
	if !ok {
		return false
	}
	last = true
	for _, other := range m.peers {
		if id, ok := other.NodeID(); ok && id == nodeID {
			last = false
			break
		}
	}

	if !errors.Is(runErr, ErrProtocolViolation) {
		return last
	}
	m.violations[nodeID]++
	count := m.violations[nodeID]
	if count < m.maxViolations {
		return last
	}
	if _, already := m.banned[nodeID]; already {
		return last
	}
	m.banned[nodeID] = struct{}{}
	m.metrics.RecordBan()

	logrus.WithFields(logrus.Fields{
		"function":   "Remove",
		"package":    "peer",
		"node_id":    nodeID.String(),
		"violations": count,
	}).Warn("Banning peer after repeated protocol violations")
	return last
}

// IsBanned reports whether nodeID is refused.
func (m *Manager) IsBanned(nodeID lnwire.PubKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.banned[nodeID]
	return ok
}

// Violations returns the recorded violation count of nodeID.
func (m *Manager) Violations(nodeID lnwire.PubKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.violations[nodeID]
}

// Peers returns a snapshot of the running peers.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// PeerByNodeID finds a running peer with a completed handshake.
func (m *Manager) PeerByNodeID(nodeID lnwire.PubKey) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		if id, ok := p.NodeID(); ok && id == nodeID {
			return p, true
		}
	}
	return nil, false
}

// Count returns the number of running peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// DisconnectAll stops every running peer.
func (m *Manager) DisconnectAll() {
	for _, p := range m.Peers() {
		p.Disconnect()
	}
}

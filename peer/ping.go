package peer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/clock"
	"github.com/opd-ai/lnpeer/limits"
	"github.com/opd-ai/lnpeer/lnwire"
)

// PingProcessorName is the registry name of the ping processor.
const PingProcessorName = "ping"

// PingConfig tunes the ping processor.
type PingConfig struct {
	// Interval between our unsolicited pings.
	Interval time.Duration
	// FloodWindow is the minimum spacing of pings from the peer.
	FloodWindow time.Duration
	Clock       clock.TimeProvider
	// IntN picks the pong size of our pings; nil uses math/rand.
	IntN func(n int) int
}

// PingProcessor answers pings, rejects ping floods and keeps the link
// alive with its own pings, tracking each by the pong size it asked for.
type PingProcessor struct {
	cfg PingConfig

	// lastPing is only touched by Handle, which the peer serializes.
	lastPing time.Time

	mu          sync.Mutex
	outstanding map[uint16]struct{}
}

// NewPingProcessor creates a per-peer ping processor.
func NewPingProcessor(cfg PingConfig) *PingProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPingInterval
	}
	if cfg.FloodWindow <= 0 {
		cfg.FloodWindow = DefaultPingInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default{}
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	return &PingProcessor{cfg: cfg, outstanding: make(map[uint16]struct{})}
}

// Name returns PingProcessorName.
func (pp *PingProcessor) Name() string { return PingProcessorName }

// IsHandshakeAware is true.
func (pp *PingProcessor) IsHandshakeAware() bool { return true }

// Handle answers a ping or settles an outstanding one.
func (pp *PingProcessor) Handle(ctx context.Context, p *Peer, msg lnwire.Message) (Result, error) {
	switch m := msg.(type) {
	case *lnwire.Ping:
		return Stop, pp.handlePing(ctx, p, m)
	case *lnwire.Pong:
		pp.handlePong(p, m)
		return Stop, nil
	}
	return Continue, nil
}

func (pp *PingProcessor) handlePing(ctx context.Context, p *Peer, m *lnwire.Ping) error {
	now := pp.cfg.Clock.Now()
	if !pp.lastPing.IsZero() && now.Sub(pp.lastPing) < pp.cfg.FloodWindow {
		return violation("ping %s after previous ping", now.Sub(pp.lastPing))
	}
	pp.lastPing = now

	if m.NumPongBytes > limits.MaxPongBytes {
		p.log.WithFields(logrus.Fields{
			"function":       "handlePing",
			"num_pong_bytes": m.NumPongBytes,
		}).Debug("Ping asks for oversized pong, not answering")
		return nil
	}
	return p.SendContext(ctx, lnwire.NewPong(m.NumPongBytes))
}

func (pp *PingProcessor) handlePong(p *Peer, m *lnwire.Pong) {
	n := uint16(m.BytesLen())

	pp.mu.Lock()
	_, ok := pp.outstanding[n]
	delete(pp.outstanding, n)
	pp.mu.Unlock()

	if !ok {
		p.log.WithFields(logrus.Fields{
			"function":  "handlePong",
			"bytes_len": n,
		}).Debug("Unsolicited pong")
	}
}

// Run sends a ping every interval until ctx is cancelled.
func (pp *PingProcessor) Run(ctx context.Context, p *Peer) error {
	ticker := time.NewTicker(pp.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ping, ok := pp.nextPing()
			if !ok {
				continue
			}
			if err := p.SendContext(ctx, ping); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// nextPing picks a pong size in [0, MaxPongBytes) that no outstanding ping
// already expects.
func (pp *PingProcessor) nextPing() (*lnwire.Ping, bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if len(pp.outstanding) >= limits.MaxPongBytes {
		return nil, false
	}
	for {
		n := uint16(pp.cfg.IntN(limits.MaxPongBytes))
		if _, taken := pp.outstanding[n]; taken {
			continue
		}
		pp.outstanding[n] = struct{}{}
		return &lnwire.Ping{NumPongBytes: n}, true
	}
}

// Outstanding returns how many of our pings are still waiting for a pong.
func (pp *PingProcessor) Outstanding() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.outstanding)
}

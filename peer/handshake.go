package peer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/noise"
	"github.com/opd-ai/lnpeer/tlv"
)

// HandshakeProcessorName is the registry name of the handshake processor.
const HandshakeProcessorName = "handshake"

// HandshakeProcessor drives the BOLT 8 handshake for its peer and then
// runs the init exchange. It also handles connection-level error and
// warning messages.
type HandshakeProcessor struct {
	machine *noise.Machine
	opts    []noise.Option
}

// NewHandshakeProcessor creates a per-peer handshake processor. opts are
// passed to the noise machine; tests use them to pin ephemeral keys.
func NewHandshakeProcessor(opts ...noise.Option) *HandshakeProcessor {
	return &HandshakeProcessor{opts: opts}
}

// Name returns HandshakeProcessorName.
func (h *HandshakeProcessor) Name() string { return HandshakeProcessorName }

// IsHandshakeAware is false: this processor runs the handshake.
func (h *HandshakeProcessor) IsHandshakeAware() bool { return false }

// Start creates the handshake state. The initiator writes act one.
func (h *HandshakeProcessor) Start(ctx context.Context, p *Peer) error {
	role := noise.Responder
	if p.direction == Outbound {
		role = noise.Initiator
	}
	m, err := noise.NewMachine(role, p.cfg.LocalKey, p.remoteKey, h.opts...)
	if err != nil {
		return err
	}
	h.machine = m

	if role == noise.Initiator {
		actOne, err := m.Step(nil)
		if err != nil {
			return err
		}
		if err := p.sendSync(ctx, outbound{act: actOne}); err != nil {
			return fmt.Errorf("send act one: %w", err)
		}
	}
	p.actSize = m.ExpectedInput()
	return nil
}

// Handle advances the handshake or processes init, error and warning.
func (h *HandshakeProcessor) Handle(ctx context.Context, p *Peer, msg lnwire.Message) (Result, error) {
	switch m := msg.(type) {
	case *lnwire.HandshakeAct:
		return Stop, h.handleAct(ctx, p, m)
	case *lnwire.Init:
		return Continue, h.handleInit(p, m)
	case *lnwire.Error:
		return Stop, h.handleError(p, m)
	case *lnwire.Warning:
		p.log.WithFields(logrus.Fields{
			"function":   "Handle",
			"channel_id": m.ChannelID.String(),
			"warning":    m.Text(),
		}).Warn("Peer sent warning")
		return Stop, nil
	}
	return Continue, nil
}

func (h *HandshakeProcessor) handleAct(ctx context.Context, p *Peer, act *lnwire.HandshakeAct) error {
	if h.machine == nil {
		return violation("handshake act before handshake started")
	}

	out, err := h.machine.Step(act.Data)
	if err != nil {
		p.cfg.Metrics.RecordHandshake(false)
		return err
	}

	var session *noise.Session
	if h.machine.IsComplete() {
		if session, err = h.machine.Session(); err != nil {
			return err
		}
	}

	switch {
	case out != nil:
		// the initiator keys the transport once act three is written
		if err := p.sendSync(ctx, outbound{act: out, session: session}); err != nil {
			return fmt.Errorf("send %s: %w", h.machine.Act(), err)
		}
	case session != nil:
		if err := p.conn.SetSession(session); err != nil {
			return err
		}
	}

	if session == nil {
		p.actSize = h.machine.ExpectedInput()
		return nil
	}

	remote := session.RemoteStatic
	h.machine = nil
	p.actSize = 0

	if p.cfg.Admit != nil {
		if err := p.cfg.Admit(remote); err != nil {
			return fmt.Errorf("admit %s: %w", remote, err)
		}
	}
	p.completeHandshake(remote)

	return p.enqueue(ctx, outbound{msg: localInit(p), written: p.markInitSent})
}

// localInit builds our init: configured features, our chains and the
// address we see the peer connecting from.
func localInit(p *Peer) *lnwire.Init {
	var records []tlv.Record
	if len(p.cfg.Chains) > 0 {
		records = append(records, lnwire.NewNetworksRecord(p.cfg.Chains.Hashes()...))
	}
	if a, err := lnwire.NewNetAddress(addrString(p.conn.RemoteAddr())); err == nil && a.IP.IsValid() {
		if rec, err := lnwire.NewRemoteAddrRecord(a); err == nil {
			records = append(records, rec)
		}
	}

	msg := &lnwire.Init{Features: p.cfg.Features}
	if len(records) > 0 {
		msg.Extension = tlv.NewStream(records...)
	}
	return msg
}

func (h *HandshakeProcessor) handleInit(p *Peer, m *lnwire.Init) error {
	if p.initReceived.Load() {
		return violation("duplicate init")
	}

	features := m.CombinedFeatures()
	if unknown := features.UnknownRequired(lnwire.KnownFeatures); len(unknown) > 0 {
		return fmt.Errorf("%w: unknown required features %v", ErrIncompatiblePeer, unknown)
	}

	chains, stated := m.Networks()
	if stated && len(p.cfg.Chains) > 0 && !sharesChain(p.cfg.Chains, chains) {
		return fmt.Errorf("%w: no common chain", ErrIncompatiblePeer)
	}

	fields := logrus.Fields{
		"function": "handleInit",
		"features": fmt.Sprintf("%x", []byte(features)),
		"chains":   len(chains),
	}
	if addr, ok := m.RemoteAddr(); ok {
		fields["seen_as"] = addr.String()
	}
	p.log.WithFields(fields).Debug("Init received")

	p.markInitReceived(features, chains)
	return nil
}

// handleError logs the error and keeps the connection, whatever the
// channel id. Gossip rejections arrive as connection-level errors.
func (h *HandshakeProcessor) handleError(p *Peer, m *lnwire.Error) error {
	p.log.WithFields(logrus.Fields{
		"function":         "handleError",
		"channel_id":       m.ChannelID.String(),
		"connection_level": m.ChannelID.IsConnectionLevel(),
		"error":            m.Text(),
	}).Warn("Peer sent error")
	return nil
}

func sharesChain(ours lnwire.ChainSet, theirs []lnwire.ChainHash) bool {
	for _, c := range theirs {
		if ours.Contains(c) {
			return true
		}
	}
	return false
}
